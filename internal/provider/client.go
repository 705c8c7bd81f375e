// Package provider implements the HTTP client for the identity-verification
// provider: session creation, status polling and personal-data deletion.
package provider

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

	"veriflow/internal/verification/models"
	dErrors "veriflow/pkg/domain-errors"
	"veriflow/pkg/platform/sentinel"
)

const defaultTimeout = 10 * time.Second

// Config carries the provider connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type createSessionRequest struct {
	SubjectID   string `json:"subjectId"`
	ExternalKey string `json:"externalKey"`
}

type createSessionResponse struct {
	SessionKey          string `json:"sessionKey"`
	SessionToken        string `json:"sessionToken"`
	RedirectURL         string `json:"redirectUrl"`
	ClientCorrelationID string `json:"clientCorrelationId"`
}

// CreateSession opens a provider session for the subject.
func (c *Client) CreateSession(ctx context.Context, subjectID, externalKey string) (models.ProviderSession, error) {
	var resp createSessionResponse
	err := c.do(ctx, http.MethodPost, "/v1/sessions", createSessionRequest{
		SubjectID:   subjectID,
		ExternalKey: externalKey,
	}, &resp)
	if err != nil {
		return models.ProviderSession{}, err
	}
	if resp.SessionKey == "" {
		return models.ProviderSession{}, dErrors.New(dErrors.CodeProvider, "provider returned no session key")
	}
	return models.ProviderSession{
		SessionKey:          resp.SessionKey,
		SessionToken:        resp.SessionToken,
		RedirectURL:         resp.RedirectURL,
		ClientCorrelationID: resp.ClientCorrelationID,
	}, nil
}

type sessionStatusResponse struct {
	Status struct {
		Overall          string   `json:"overall"`
		DenyReasons      []string `json:"denyReasons"`
		SuspicionReasons []string `json:"suspicionReasons"`
	} `json:"status"`
	Final bool `json:"final"`
}

// SessionStatus polls the provider's current disposition for a session.
func (c *Client) SessionStatus(ctx context.Context, sessionKey string) (models.SessionStatus, error) {
	var resp sessionStatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/sessions/"+sessionKey+"/decision", nil, &resp)
	if err != nil {
		return models.SessionStatus{}, err
	}
	return models.SessionStatus{
		Overall:          models.OverallStatus(resp.Status.Overall),
		Final:            resp.Final,
		DenyReasons:      resp.Status.DenyReasons,
		SuspicionReasons: resp.Status.SuspicionReasons,
	}, nil
}

// DeleteSessionData purges provider-held personal data for a session. A 409
// response, or an error body mentioning that the verification is still being
// processed, is surfaced as a retryable still_processing error; everything
// else is a plain provider error.
func (c *Client) DeleteSessionData(ctx context.Context, sessionKey string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/sessions/"+sessionKey, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err), dErrors.CodeProvider, "delete session data")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusConflict || stillProcessingBody(body) {
		return dErrors.Newf(dErrors.CodeStillProcessing, "session %s still being processed", sessionKey)
	}
	return dErrors.Newf(dErrors.CodeProvider, "delete session data: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func stillProcessingBody(body []byte) bool {
	return bytes.Contains(bytes.ToLower(body), []byte("still being processed")) ||
		bytes.Contains(bytes.ToLower(body), []byte("still processing"))
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeProvider, "marshal request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProvider, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Auth-Client", c.apiKey)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err), dErrors.CodeProvider, method+" "+path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeProvider, method+" "+path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return dErrors.Newf(dErrors.CodeProvider, "%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return dErrors.Wrap(err, dErrors.CodeProvider, "decode response")
		}
	}
	return nil
}
