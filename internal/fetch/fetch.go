// Package fetch streams signed download URLs to local files with bounded
// retries. Byte-range resume is not assumed; a failed attempt re-downloads
// the whole file.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"github.com/geoipdb/geoipsync/internal/logctx"
	"github.com/geoipdb/geoipsync/internal/syncer/progress"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultFileTimeout = 5 * time.Minute
	tempFilePerm       = 0o644

	// progressInterval is how many bytes between progress log lines.
	progressInterval = 10 * 1024 * 1024
)

// StatusError is a terminal HTTP status on a signed URL. Signed URLs are
// pre-authorized, so 4xx means the URL expired or never matched a file and
// retrying cannot help.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download failed with HTTP %d", e.StatusCode)
}

// Client downloads files over plain HTTPS GET.
type Client struct {
	httpClient *http.Client
	maxTries   uint
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithMaxTries bounds per-file download attempts (default 3).
func WithMaxTries(n uint) Option {
	return func(c *Client) { c.maxTries = n }
}

// WithFileTimeout bounds a single download attempt, covering the full body
// read, not just the response headers.
func WithFileTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithUserAgent sets the User-Agent header on download requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		maxTries: 3,
		httpClient: &http.Client{
			Timeout:   defaultFileTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Download streams url to destPath, retrying transient failures with
// exponential backoff. Each retry truncates and rewrites destPath. On error
// the partial file is removed. Returns the final byte count.
func (c *Client) Download(ctx context.Context, url, destPath string) (int64, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	expo.MaxInterval = 30 * time.Second

	logger := logctx.LoggerFromContext(ctx)

	size, err := backoff.Retry(ctx,
		func() (int64, error) {
			return c.downloadOnce(ctx, url, destPath)
		},
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("download attempt failed, retrying", "target", destPath, "err", err, "next_attempt_in", next)
		}),
	)
	if err != nil {
		os.Remove(destPath)

		return 0, err
	}

	return size, nil
}

func (c *Client) downloadOnce(ctx context.Context, url, destPath string) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := &StatusError{StatusCode: resp.StatusCode, URL: url}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return 0, backoff.Permanent(err)
		}

		return 0, err
	}

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, tempFilePerm)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("failed to create temp file: %w", err))
	}
	defer out.Close()

	pr := progress.NewReader(resp.Body, resp.ContentLength, progressInterval, func(read, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"target", destPath,
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
			)
		} else {
			logger.Debug("download progress", "target", destPath, "downloaded", humanize.Bytes(uint64(read)))
		}
	})

	size, err := io.Copy(out, pr)
	if err != nil {
		return 0, fmt.Errorf("failed to stream response body: %w", err)
	}

	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("failed to flush temp file: %w", err)
	}

	return size, nil
}
