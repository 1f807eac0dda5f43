package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"429", &domain.APIError{StatusCode: 429}, true},
		{"500", &domain.APIError{StatusCode: 500}, true},
		{"503 wrapped", fmt.Errorf("fetch: %w", &domain.APIError{StatusCode: 503}), true},
		{"400", &domain.APIError{StatusCode: 400}, false},
		{"404", &domain.APIError{StatusCode: 404}, false},
		{"transport", errors.New("connection refused"), true},
		{"cancelled", context.Canceled, false},
		{"no credentials", fmt.Errorf("get token: %w", domain.ErrAuthRequired), false},
		{"refresh failed", domain.ErrTokenRefreshFailed, false},
		{"undecodable body", fmt.Errorf("%w: decoding /contacts: unexpected EOF", domain.ErrInvalidResponse), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestRetryPolicy_ShouldRetry_MaxAttempts(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig())
	err := &domain.APIError{StatusCode: 503}

	for attempt := range 5 {
		assert.True(t, p.ShouldRetry(err, attempt), "attempt %d", attempt)
	}
	assert.False(t, p.ShouldRetry(err, 5))
}

func TestRetryPolicy_BaseDelay_Monotonic(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig())

	prev := time.Duration(0)
	for n := range 12 {
		d := p.BaseDelay(n)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 30*time.Second)
		prev = d
	}
	assert.Equal(t, time.Second, p.BaseDelay(0))
	assert.Equal(t, 8*time.Second, p.BaseDelay(3))
	assert.Equal(t, 30*time.Second, p.BaseDelay(10))
	assert.Equal(t, 30*time.Second, p.BaseDelay(5000))
}

func TestRetryPolicy_DelayFor_JitterBand(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig())

	for n := range 8 {
		base := float64(p.BaseDelay(n))
		for range 50 {
			d := float64(p.DelayFor(n))
			assert.GreaterOrEqual(t, d, base*0.75)
			assert.LessOrEqual(t, d, base*1.25)
		}
	}
}

func TestRetryPolicy_DelayFor_JitterSource(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig())

	p.WithJitterSource(func() float64 { return 0 })
	assert.Equal(t, 1500*time.Millisecond, p.DelayFor(1))

	p.WithJitterSource(func() float64 { return 0.5 })
	assert.Equal(t, 2*time.Second, p.DelayFor(1))
}

func TestDoWithRetry_RecoversFromTransientErrors(t *testing.T) {
	p := NewRetryPolicy(fastRetry())
	calls := 0

	v, retries, err := DoWithRetry(context.Background(), p, "test", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &domain.APIError{StatusCode: 502}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestDoWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	p := NewRetryPolicy(fastRetry())
	calls := 0
	want := &domain.APIError{StatusCode: 500, Message: "down"}

	_, retries, err := DoWithRetry(context.Background(), p, "test", func(context.Context) (int, error) {
		calls++
		return 0, want
	})

	require.Error(t, err)
	assert.Equal(t, 6, calls)
	assert.Equal(t, 5, retries)
	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Same(t, want, apiErr)
}

func TestDoWithRetry_FatalErrorNotRetried(t *testing.T) {
	p := NewRetryPolicy(fastRetry())
	calls := 0

	_, retries, err := DoWithRetry(context.Background(), p, "test", func(context.Context) (int, error) {
		calls++
		return 0, &domain.APIError{StatusCode: http.StatusBadRequest}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Zero(t, retries)
	assert.Equal(t, 400, domain.StatusCodeOf(err))
}

func TestDoWithRetry_InvalidResponseNotRetried(t *testing.T) {
	p := NewRetryPolicy(fastRetry())
	calls := 0

	_, retries, err := DoWithRetry(context.Background(), p, "test", func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("%w: decoding /contacts: invalid character '<'", domain.ErrInvalidResponse)
	})

	require.ErrorIs(t, err, domain.ErrInvalidResponse)
	assert.Equal(t, 1, calls)
	assert.Zero(t, retries)
}

func TestDoWithRetry_ThrottleHintReplacesBackoff(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxRetries: 1, BaseDelay: time.Hour, MaxDelay: time.Hour})
	calls := 0
	h := http.Header{}
	h.Set("Retry-After", "0.01")

	start := time.Now()
	_, retries, err := DoWithRetry(context.Background(), p, "test", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &domain.APIError{StatusCode: 429, Header: h}
		}
		return 1, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, retries)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestDoWithRetry_ContextCancelled(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	_, _, err := DoWithRetry(ctx, p, "test", func(context.Context) (int, error) {
		cancel()
		return 0, &domain.APIError{StatusCode: 503}
	})

	assert.ErrorIs(t, err, context.Canceled)
}
