package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{StatusCode: 404, Endpoint: "/crm/rest/v1/contacts", Message: "missing"}
	assert.Equal(t, "keap: API error 404: missing (endpoint: /crm/rest/v1/contacts)", err.Error())

	bare := &APIError{StatusCode: 502, Endpoint: "/crm/rest/v1/tags"}
	assert.Equal(t, "keap: API error 502 (endpoint: /crm/rest/v1/tags)", bare.Error())
}

func TestAPIError_IsRateLimited(t *testing.T) {
	err := fmt.Errorf("fetch: %w", &APIError{StatusCode: http.StatusTooManyRequests})

	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.True(t, IsRateLimited(err))
	assert.False(t, IsServerError(err))
	assert.Equal(t, 429, StatusCodeOf(err))
}

func TestAPIError_Classification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		unauthorized bool
		server       bool
		status       int
	}{
		{"unauthorized", &APIError{StatusCode: 401}, true, false, 401},
		{"server", &APIError{StatusCode: 503}, false, true, 503},
		{"bad request", &APIError{StatusCode: 400}, false, false, 400},
		{"plain error", errors.New("connection reset"), false, false, 0},
		{"nil", nil, false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unauthorized, IsUnauthorized(tt.err))
			assert.Equal(t, tt.server, IsServerError(tt.err))
			assert.Equal(t, tt.status, StatusCodeOf(tt.err))
		})
	}
}

func TestTransformError_Unwrap(t *testing.T) {
	err := &TransformError{Entity: "contacts", RecordID: "7", Err: ErrMissingID}
	assert.True(t, errors.Is(err, ErrMissingID))
	assert.Contains(t, err.Error(), "contacts")
	assert.Contains(t, err.Error(), "7")
}

func TestEntityError_Unwrap(t *testing.T) {
	err := &EntityError{Entity: "tags", Err: &APIError{StatusCode: 500}}
	assert.True(t, IsServerError(err))
	assert.Contains(t, err.Error(), "tags")
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	_, ok := RetryAfter(h)
	assert.False(t, ok)

	h.Set("Retry-After", "3")
	d, ok := RetryAfter(h)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	h.Set("Retry-After", "1.5")
	d, ok = RetryAfter(h)
	assert.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, d)

	h.Set("Retry-After", "soon")
	_, ok = RetryAfter(h)
	assert.False(t, ok)
}
