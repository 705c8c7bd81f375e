// Package backend implements the HTTP client for the backend record store.
// The client owns its auth session state: it authenticates lazily, parses the
// bearer token's expiry to re-authenticate proactively, and retries exactly
// once on an auth-expiry signal from any call.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"veriflow/internal/verification/models"
	dErrors "veriflow/pkg/domain-errors"
	"veriflow/pkg/platform/sentinel"
)

const (
	defaultTimeout = 10 * time.Second

	// expiryLeeway re-authenticates slightly before the token actually
	// expires so in-flight calls do not race the deadline.
	expiryLeeway = 30 * time.Second
)

// Config carries the backend connection settings.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   *slog.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time
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
		return nil, fmt.Errorf("backend base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Authenticate obtains a fresh bearer token and records its expiry.
func (c *Client) Authenticate(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBackend, "marshal credentials")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/login", bytes.NewReader(payload))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBackend, "build login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err), dErrors.CodeBackend, "login")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return dErrors.Newf(dErrors.CodeBackend, "login: status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBackend, "decode login response")
	}
	if body.Token == "" {
		return dErrors.New(dErrors.CodeBackend, "login returned no token")
	}

	c.mu.Lock()
	c.token = body.Token
	c.tokenExp = tokenExpiry(body.Token)
	c.mu.Unlock()
	return nil
}

// tokenExpiry extracts the exp claim without verifying the signature; the
// client only uses it to refresh early. Opaque tokens yield a zero time and
// fall back to 401-driven refresh.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// RecentVerificationCount returns the count the admission gate compares to
// its daily ceiling.
func (c *Client) RecentVerificationCount(ctx context.Context) (int, error) {
	var body struct {
		Count int `json:"count"`
	}
	_, err := c.do(ctx, http.MethodGet, "/api/verifications/recent-count", nil, &body)
	if err != nil {
		return 0, err
	}
	return body.Count, nil
}

type submitRequest struct {
	SubjectID   string `json:"subjectId"`
	ExternalKey string `json:"externalKey"`
	IsDebug     bool   `json:"isDebug"`
	ProviderRef string `json:"providerRef"`
}

// SubmitVerification records an approved attempt downstream.
func (c *Client) SubmitVerification(ctx context.Context, sub models.Submission) error {
	_, err := c.do(ctx, http.MethodPost, "/api/verifications", submitRequest{
		SubjectID:   sub.SubjectID,
		ExternalKey: sub.ExternalKey,
		IsDebug:     sub.IsDebug,
		ProviderRef: sub.ProviderRef,
	}, nil)
	return err
}

// GetVerification returns the subject's terminal mapping, or (nil, nil) when
// the backend has none. Absence is a fact, not an error.
func (c *Client) GetVerification(ctx context.Context, subjectID string) (*models.VerifiedMapping, error) {
	var mapping models.VerifiedMapping
	status, err := c.do(ctx, http.MethodGet, "/api/verifications/"+subjectID, nil, &mapping, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return &mapping, nil
}

// do performs one authenticated call. It authenticates lazily, refreshes a
// near-expiry token up front, and on a 401 re-authenticates once and retries.
// Statuses listed in okStatus are returned to the caller instead of becoming
// errors; out is only decoded on 2xx.
func (c *Client) do(ctx context.Context, method, path string, payload, out any, okStatus ...int) (int, error) {
	if err := c.ensureToken(ctx); err != nil {
		return 0, err
	}

	status, retry, err := c.attempt(ctx, method, path, payload, out, okStatus)
	if retry {
		c.logger.DebugContext(ctx, "backend session expired, re-authenticating",
			"method", method,
			"path", path,
		)
		if err := c.Authenticate(ctx); err != nil {
			return 0, err
		}
		status, _, err = c.attempt(ctx, method, path, payload, out, okStatus)
		return status, err
	}
	return status, err
}

func (c *Client) attempt(ctx context.Context, method, path string, payload, out any, okStatus []int) (status int, authExpired bool, err error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, false, dErrors.Wrap(err, dErrors.CodeBackend, "marshal request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, false, dErrors.Wrap(err, dErrors.CodeBackend, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, false, dErrors.Wrap(fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err), dErrors.CodeBackend, method+" "+path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return resp.StatusCode, true, dErrors.Newf(dErrors.CodeBackend, "%s %s: unauthorized", method, path)
	}

	for _, ok := range okStatus {
		if resp.StatusCode == ok {
			return resp.StatusCode, false, nil
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, false, dErrors.Newf(dErrors.CodeBackend, "%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, false, dErrors.Wrap(err, dErrors.CodeBackend, "decode response")
		}
	}
	return resp.StatusCode, false, nil
}

func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	exp := c.tokenExp
	c.mu.Unlock()

	if token == "" || (!exp.IsZero() && time.Until(exp) < expiryLeeway) {
		return c.Authenticate(ctx)
	}
	return nil
}
