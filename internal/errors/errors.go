package errors

import (
	"errors"
	"fmt"
	"time"
)

// RequestError represents a non-2xx, non-quota response from the
// GitHub API. It is fatal to the current fetch and aborts the current
// user's aggregation.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("API request failed: %d - %s", e.Status, e.Body)
}

// NetworkError represents a transport-level failure that survived the
// bounded retry loop.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error after %d attempts for %s: %v", e.Attempts, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// QuotaExceededError represents an exhausted API request quota. It is
// recoverable by waiting until ResetAt; the fetcher handles it
// internally and only surfaces it when the per-query restart budget
// runs out.
type QuotaExceededError struct {
	ResetAt time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("API rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// NewRequestError creates a RequestError from a response status and body.
func NewRequestError(status int, body string) error {
	return &RequestError{Status: status, Body: body}
}

// NewNetworkError creates a NetworkError for the given URL.
func NewNetworkError(url string, attempts int, err error) error {
	return &NetworkError{URL: url, Attempts: attempts, Err: err}
}

// NewQuotaExceededError creates a QuotaExceededError.
func NewQuotaExceededError(resetAt time.Time) error {
	return &QuotaExceededError{ResetAt: resetAt}
}

// IsRequestError checks if the error is a RequestError.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}

// IsNetworkError checks if the error is a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsQuotaExceeded checks if the error is a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
