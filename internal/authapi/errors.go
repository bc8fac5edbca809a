package authapi

import "fmt"

// InvalidKeyError means the auth service rejected the API key (HTTP 401/403).
// It is never retried; automation maps it to a distinct exit code.
type InvalidKeyError struct {
	StatusCode int
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("authentication rejected (HTTP %d): check your API key", e.StatusCode)
}

// ServerError represents a non-2xx response outside the explicitly classified
// statuses. Retried a bounded number of times, then fatal.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("auth service error (HTTP %d): %s", e.StatusCode, e.Body)
	}

	return fmt.Sprintf("auth service error (HTTP %d)", e.StatusCode)
}

// TransientError wraps network-level failures (timeouts, connection resets)
// that are worth retrying with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient auth failure: %s", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}
