package httpserver

import (
	"net/http"
	"time"
)

// New builds the HTTP server used for callbacks and the admin API.
// Write timeout is generous because APPROVED callbacks submit to the
// backend record store before the response is written.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
