package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/logger"
)

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns 5 retries, 1s base and a 30s cap.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// RetryPolicy classifies errors and computes backoff delays.
type RetryPolicy struct {
	cfg RetryConfig

	mu     sync.Mutex
	jitter func() float64
}

// NewRetryPolicy creates a policy. Zero fields fall back to the defaults.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	def := DefaultRetryConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &RetryPolicy{cfg: cfg, jitter: rand.Float64}
}

// WithJitterSource replaces the uniform [0,1) source used for jitter.
func (p *RetryPolicy) WithJitterSource(src func() float64) *RetryPolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jitter = src
	return p
}

// Config returns the effective configuration.
func (p *RetryPolicy) Config() RetryConfig {
	return p.cfg
}

// IsRetryable reports whether err is transient: 429, 5xx, or a
// transport failure. Other HTTP errors, undecodable bodies and
// cancellation are fatal.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	// Missing or rejected credentials will not fix themselves.
	if errors.Is(err, domain.ErrAuthRequired) || errors.Is(err, domain.ErrAuthExpired) ||
		errors.Is(err, domain.ErrTokenRefreshFailed) || errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrInvalidResponse) {
		return false
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}

// ShouldRetry reports whether attempt (0-based count of retries already
// taken) may be followed by another try.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.cfg.MaxRetries {
		return false
	}
	return IsRetryable(err)
}

// BaseDelay is the un-jittered delay min(MaxDelay, BaseDelay*2^attempt).
func (p *RetryPolicy) BaseDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if d > float64(p.cfg.MaxDelay) || math.IsInf(d, 0) {
		return p.cfg.MaxDelay
	}
	return time.Duration(d)
}

// DelayFor is BaseDelay(attempt) scaled by a jitter factor in [0.75, 1.25].
func (p *RetryPolicy) DelayFor(attempt int) time.Duration {
	p.mu.Lock()
	u := p.jitter()
	p.mu.Unlock()
	return time.Duration(float64(p.BaseDelay(attempt)) * (0.75 + 0.5*u))
}

// DoWithRetry runs fn until it succeeds, fails fatally, or the policy's
// retry budget is spent. It returns the number of retries taken.
// On a retryable *domain.APIError carrying throttle headers the throttle
// pause replaces the computed backoff for that attempt.
func DoWithRetry[T any](ctx context.Context, p *RetryPolicy, label string, fn func(context.Context) (T, error)) (T, int, error) {
	var (
		attempt int
		lastErr error
	)

	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		if !p.ShouldRetry(lastErr, attempt) {
			return 0, true
		}
		delay := p.DelayFor(attempt)
		var apiErr *domain.APIError
		if errors.As(lastErr, &apiErr) {
			if sig := ThrottleDelay(apiErr.Header); sig.Wait > 0 {
				delay = sig.Wait
			}
		}
		attempt++
		logger.Event("retry",
			"op", label,
			"attempt", attempt,
			"max_retries", p.cfg.MaxRetries,
			"delay_ms", delay.Milliseconds(),
			"error", lastErr.Error(),
		)
		return delay, false
	})

	v, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return v, fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		if !IsRetryable(err) {
			return v, err
		}
		return v, retry.RetryableError(err)
	})
	return v, attempt, err
}
