// Package authapi implements the client side of the signed-URL issuing
// service: one API key plus a database selection in, a mapping of database
// name to time-limited download URL out.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/geoipdb/geoipsync/internal/catalog"
	"github.com/geoipdb/geoipsync/internal/logctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxElapsed = 2 * time.Minute

	// errBodyLimit caps how much of an error response is carried into the
	// error message; failure bodies have no guaranteed schema.
	errBodyLimit = 2048
)

// Client talks to the auth endpoint with bounded exponential-backoff retries.
type Client struct {
	endpoint   string
	apiKey     string
	userAgent  string
	maxTries   uint
	maxElapsed time.Duration
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithMaxTries bounds the attempt count (default 3).
func WithMaxTries(n uint) Option {
	return func(c *Client) { c.maxTries = n }
}

// WithMaxElapsed bounds the total wall-clock budget of the authentication
// phase including backoff sleeps.
func WithMaxElapsed(d time.Duration) Option {
	return func(c *Client) { c.maxElapsed = d }
}

// WithUserAgent sets the User-Agent header on auth requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithHTTPClient replaces the underlying HTTP client, used by tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		maxTries:   3,
		maxElapsed: defaultMaxElapsed,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Authenticate exchanges the API key and requested database names for a
// mapping of name to signed download URL.
//
// Failure classification: 401/403 is fatal and not retried; 429 is retried
// honoring Retry-After; network errors and other non-2xx statuses are
// retried with exponential backoff up to the attempt and wall-clock budgets.
func (c *Client) Authenticate(ctx context.Context, requested []catalog.DatabaseSpec) (map[string]string, error) {
	logger := logctx.LoggerFromContext(ctx)

	body, err := json.Marshal(authRequest(requested))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal auth request: %w", err)
	}

	logger.Info("authenticating with auth endpoint", "endpoint", c.endpoint, "database_count", len(requested))

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	expo.MaxInterval = 30 * time.Second

	urls, err := backoff.Retry(ctx,
		func() (map[string]string, error) {
			return c.authenticateOnce(ctx, body)
		},
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithMaxElapsedTime(c.maxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("auth attempt failed, retrying", "err", err, "next_attempt_in", next)
		}),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("received signed URLs", "url_count", len(urls))

	return urls, nil
}

func (c *Client) authenticateOnce(ctx context.Context, body []byte) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create auth request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, backoff.Permanent(&InvalidKeyError{StatusCode: resp.StatusCode})

	case resp.StatusCode == http.StatusTooManyRequests:
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
			return nil, backoff.RetryAfter(seconds)
		}

		return nil, &ServerError{StatusCode: resp.StatusCode}

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))

		return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
	}

	var urls map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&urls); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("failed to parse auth response: %w", err)}
	}

	return urls, nil
}

// authRequest builds the request body. An empty selection or the "all"
// sentinel requests the full catalog.
func authRequest(requested []catalog.DatabaseSpec) map[string]any {
	if len(requested) == 0 || len(requested) == len(catalog.Specs) {
		return map[string]any{"databases": catalog.AllDatabases}
	}

	return map[string]any{"databases": catalog.Names(requested)}
}
