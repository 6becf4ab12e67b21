// Package eta is the HTTP client for the e-invoicing registry: request
// spacing, retry with backoff, error classification, the client-credentials
// session, search paging, detail fetch and payload normalization.
package eta

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Use errors.Is(err, eta.ErrNotFound) to check.
var (
	ErrAuth         = errors.New("eta: authentication failed")
	ErrBadRequest   = errors.New("eta: bad request")
	ErrUnauthorized = errors.New("eta: unauthorized")
	ErrForbidden    = errors.New("eta: forbidden")
	ErrNotFound     = errors.New("eta: not found")
	ErrClientError  = errors.New("eta: request rejected")
	ErrThrottled    = errors.New("eta: throttled")
	ErrServerError  = errors.New("eta: server error")
	ErrTransient    = errors.New("eta: transient network error")
	ErrMalformed    = errors.New("eta: malformed response")
)

// APIError wraps a sentinel error with the HTTP status code and the response
// body for debugging.
type APIError struct {
	StatusCode int
	Path       string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("eta: %s: HTTP %d: %s", e.Path, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error. Unlisted
// statuses below 500 map to ErrClientError.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		// ErrMalformed is reserved for payloads that fail to decode.
		return ErrClientError
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
