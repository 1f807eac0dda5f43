package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownEntity indicates an entity name with no registered spec.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrNoMorePages is returned by a pager once pagination has terminated.
	ErrNoMorePages = errors.New("no more pages")

	// ErrSyncInProgress indicates a sync is already running.
	ErrSyncInProgress = errors.New("sync in progress")

	// ErrTrackingDisabled indicates run tracking is switched off.
	// Resume needs the run history, so it cannot work without it.
	ErrTrackingDisabled = errors.New("run tracking disabled")

	// ErrMissingID indicates a raw record without a usable primary key.
	ErrMissingID = errors.New("record has no id")

	// Authentication Errors.

	// ErrAuthRequired indicates neither an API key nor an OAuth token is configured.
	ErrAuthRequired = errors.New("authentication required")

	// ErrAuthExpired indicates the authentication has expired and refresh failed.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrTokenRefreshFailed indicates token refresh operation failed.
	ErrTokenRefreshFailed = errors.New("token refresh failed")

	// Source Errors.

	// ErrRateLimited indicates the API rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidResponse indicates a successful response whose body could
	// not be decoded. Asking again returns the same body.
	ErrInvalidResponse = errors.New("invalid response")
)

// APIError is returned by a record source for any non-2xx response.
// Header is kept so throttle hints can be read by the retry policy.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
	Header     http.Header
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("keap: API error %d (endpoint: %s)", e.StatusCode, e.Endpoint)
	}
	return fmt.Sprintf("keap: API error %d: %s (endpoint: %s)", e.StatusCode, e.Message, e.Endpoint)
}

// Is lets errors.Is(err, ErrRateLimited) match throttled responses.
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

// StatusCodeOf extracts the HTTP status from an *APIError, or 0.
func StatusCodeOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsRateLimited checks if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	return StatusCodeOf(err) == http.StatusTooManyRequests
}

// IsUnauthorized checks if the error indicates an authentication failure.
func IsUnauthorized(err error) bool {
	return StatusCodeOf(err) == http.StatusUnauthorized
}

// IsServerError checks if the error is a 5xx response.
func IsServerError(err error) bool {
	return StatusCodeOf(err) >= http.StatusInternalServerError
}

// TransformError describes a single raw record that could not be normalised.
type TransformError struct {
	Entity   string
	RecordID string
	Err      error
}

func (e *TransformError) Error() string {
	id := e.RecordID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("transform %s record %s: %v", e.Entity, id, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// EntityError wraps the terminal failure of one entity sync.
type EntityError struct {
	Entity string
	Err    error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Entity, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// RetryAfter parses a Retry-After header value in seconds.
func RetryAfter(h http.Header) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}
