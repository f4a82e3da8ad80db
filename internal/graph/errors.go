package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrDeltaExpired is returned by GetDelta when the remote side reports the
// continuation token as gone. Callers must fall back to a full re-crawl.
var ErrDeltaExpired = errors.New("delta token expired")

// APIError is a non-2xx response from the remote file store, surfaced after
// the retry budget is exhausted (for retryable statuses) or immediately (for
// permanent 4xx).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api: %d %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status is throttling or a server fault.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsNotFound reports whether err is a 404 from the remote store.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsAuthError reports whether err is a 401/403 from the remote store.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}
