// Package notify delivers user-facing messages through the chat platform's
// messaging API. Delivery is best effort: callers log failures and never let
// them block the verification flow.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	dErrors "veriflow/pkg/domain-errors"
)

const defaultTimeout = 10 * time.Second

// Config carries the chat messaging settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type ChatNotifier struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*ChatNotifier)

func WithLogger(logger *slog.Logger) Option {
	return func(n *ChatNotifier) {
		n.logger = logger
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(n *ChatNotifier) {
		n.http = h
	}
}

func New(cfg Config, opts ...Option) (*ChatNotifier, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("chat base URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("chat token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	n := &ChatNotifier{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(n)
	}

	return n, nil
}

type messageRequest struct {
	RecipientID string `json:"recipientId"`
	Text        string `json:"text"`
}

// Notify sends a direct message to the subject.
func (n *ChatNotifier) Notify(ctx context.Context, subjectID, message string) error {
	payload, err := json.Marshal(messageRequest{RecipientID: subjectID, Text: message})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build message request")
	}
	req.Header.Set("Authorization", "Bearer "+n.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "deliver message")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return dErrors.Newf(dErrors.CodeInternal, "deliver message: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
