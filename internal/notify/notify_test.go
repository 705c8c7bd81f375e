package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotify(t *testing.T) {
	t.Run("posts message with auth", func(t *testing.T) {
		var got messageRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/messages", r.URL.Path)
			assert.Equal(t, "Bearer chat-token", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		n, err := New(Config{BaseURL: srv.URL, Token: "chat-token"})
		require.NoError(t, err)

		require.NoError(t, n.Notify(context.Background(), "u1", "all good"))
		assert.Equal(t, "u1", got.RecipientID)
		assert.Equal(t, "all good", got.Text)
	})

	t.Run("non-2xx surfaces as error for the caller to log", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "user blocked the bot", http.StatusForbidden)
		}))
		defer srv.Close()

		n, err := New(Config{BaseURL: srv.URL, Token: "chat-token"})
		require.NoError(t, err)

		assert.Error(t, n.Notify(context.Background(), "u1", "hello"))
	})

	t.Run("missing settings rejected", func(t *testing.T) {
		_, err := New(Config{Token: "x"})
		assert.Error(t, err)
		_, err = New(Config{BaseURL: "http://chat.local"})
		assert.Error(t, err)
	})
}
