package tmdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrCircuitOpen is returned while the upstream breaker rejects calls
var ErrCircuitOpen = errors.New("tmdb: upstream unavailable (circuit open)")

// APIError is a non-2xx response from the provider. It is never cached.
type APIError struct {
	StatusCode int    // HTTP status
	Code       int    `json:"status_code"`
	Message    string `json:"status_message"`
	Path       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tmdb GET %s: %d %s", e.Path, e.StatusCode, e.Message)
}

// Retryable reports whether the call may succeed if repeated
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// retryable classifies errors from a single attempt
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// countsAsFailure reports whether err should move the breaker toward open.
// Client errors such as 404 say nothing about upstream health.
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// redact strips the query string, which carries the API key, from
// transport errors
func redact(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	u, perr := url.Parse(urlErr.URL)
	if perr != nil {
		return &url.Error{Op: urlErr.Op, URL: "(redacted)", Err: urlErr.Err}
	}
	u.RawQuery = ""
	return &url.Error{Op: urlErr.Op, URL: u.String(), Err: urlErr.Err}
}
