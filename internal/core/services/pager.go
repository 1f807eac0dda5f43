package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
	"github.com/custodia-labs/keapsync/internal/core/ports/driving"
	"github.com/custodia-labs/keapsync/internal/logger"
)

// FetchedPage is one successfully fetched offset/limit window.
type FetchedPage struct {
	Index   int
	Offset  int
	Limit   int
	Items   []domain.RawRecord
	Meta    driven.ResponseMeta
	Retries int
}

// Last reports whether this page ended pagination.
func (p *FetchedPage) Last() bool {
	return len(p.Items) < p.Limit
}

// PagerOptions configures a Pager.
type PagerOptions struct {
	RunID     string
	Spec      domain.EntitySpec
	StartPage int
	Limit     int

	// SinglePage stops after the first fetch regardless of its size.
	SinglePage bool
}

// Pager walks an endpoint one page at a time.
// Pages are produced strictly in offset order; the sequence is finite and
// can start at any page index.
type Pager struct {
	source  driven.RecordSource
	policy  *RetryPolicy
	tracker driving.RunTracker
	sleep   func(ctx context.Context, d time.Duration) error

	opts PagerOptions
	page int
	done bool
}

// NewPager creates a pager. tracker may be a disabled tracker but not nil.
func NewPager(source driven.RecordSource, policy *RetryPolicy, tracker driving.RunTracker, opts PagerOptions) *Pager {
	if opts.StartPage < 0 {
		opts.StartPage = 0
	}
	return &Pager{
		source:  source,
		policy:  policy,
		tracker: tracker,
		sleep:   sleepContext,
		opts:    opts,
		page:    opts.StartPage,
	}
}

// Offset returns the offset of the next page to fetch.
func (p *Pager) Offset() int {
	return p.page * p.opts.Limit
}

// Next fetches the next page. It returns domain.ErrNoMorePages once a
// short or empty page has been seen.
func (p *Pager) Next(ctx context.Context) (*FetchedPage, error) {
	if p.done {
		return nil, domain.ErrNoMorePages
	}

	spec := p.opts.Spec
	req := driven.PageRequest{
		Entity:   spec.Name,
		Endpoint: spec.Endpoint,
		ListKeys: spec.ListKeys,
		Params:   spec.Params,
		Offset:   p.Offset(),
		Limit:    p.opts.Limit,
	}

	start := time.Now()
	page, retries, err := DoWithRetry(ctx, p.policy, spec.Endpoint, func(ctx context.Context) (*driven.Page, error) {
		return p.source.FetchPage(ctx, req)
	})
	elapsed := time.Since(start)

	metric := domain.RequestMetric{
		RunID:      p.opts.RunID,
		Entity:     spec.Name,
		Endpoint:   spec.Endpoint,
		PageOffset: req.Offset,
		PageLimit:  req.Limit,
		Duration:   elapsed,
		RetryCount: retries,
	}

	if err != nil {
		p.done = true
		metric.HTTPStatus = domain.StatusCodeOf(err)
		metric.Error = err.Error()
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) {
			p.applyThrottle(&metric, ThrottleDelay(apiErr.Header))
		}
		p.tracker.LogRequest(ctx, p.opts.RunID, metric)
		p.tracker.LogError(ctx, p.opts.RunID, domain.ErrorEvent{
			Entity:     spec.Name,
			Endpoint:   spec.Endpoint,
			ErrorType:  domain.ErrorTypeFetch,
			Message:    err.Error(),
			Context:    map[string]any{"offset": req.Offset, "limit": req.Limit},
			RetryCount: retries,
		})
		return nil, fmt.Errorf("fetch %s offset %d: %w", spec.Endpoint, req.Offset, err)
	}

	fetched := &FetchedPage{
		Index:   p.page,
		Offset:  req.Offset,
		Limit:   req.Limit,
		Items:   page.Items,
		Meta:    page.Meta,
		Retries: retries,
	}

	sig := ThrottleDelay(page.Meta.Header)
	metric.HTTPStatus = page.Meta.StatusCode
	metric.ItemCount = len(page.Items)
	metric.ResponseSize = page.Meta.Size
	p.applyThrottle(&metric, sig)
	p.tracker.LogRequest(ctx, p.opts.RunID, metric)

	logger.Event("page_fetch",
		"entity", spec.Name,
		"page", fetched.Index,
		"offset", fetched.Offset,
		"limit", fetched.Limit,
		"items", len(fetched.Items),
		"duration_ms", elapsed.Milliseconds(),
		"retries", retries,
	)

	p.page++
	if fetched.Last() || p.opts.SinglePage {
		p.done = true
	}
	if len(fetched.Items) == 0 {
		return nil, domain.ErrNoMorePages
	}

	if sig.Wait > 0 && !p.done {
		p.tracker.LogThrottle(ctx, p.opts.RunID, domain.ThrottleEvent{
			Entity:    spec.Name,
			Endpoint:  spec.Endpoint,
			Type:      sig.Type,
			Remaining: sig.Remaining,
			Wait:      sig.Wait,
		})
		logger.Event("throttle_hit",
			"entity", spec.Name,
			"type", sig.Type,
			"severity", sig.Severity,
			"remaining", sig.Remaining,
			"wait_ms", sig.Wait.Milliseconds(),
		)
		if err := p.sleep(ctx, sig.Wait); err != nil {
			return nil, err
		}
	}

	return fetched, nil
}

func (p *Pager) applyThrottle(m *domain.RequestMetric, sig ThrottleSignal) {
	if !sig.Found() {
		return
	}
	remaining := sig.Remaining
	m.ThrottleRemaining = &remaining
	m.ThrottleType = sig.Type
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
