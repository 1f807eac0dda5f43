package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keapsync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/keapsync/internal/core/domain"
)

func drain(t *testing.T, p *Pager) []*FetchedPage {
	t.Helper()
	var pages []*FetchedPage
	for i := 0; i < 100; i++ {
		page, err := p.Next(context.Background())
		if errors.Is(err, domain.ErrNoMorePages) {
			return pages
		}
		require.NoError(t, err)
		pages = append(pages, page)
	}
	t.Fatal("pager did not terminate")
	return nil
}

func TestPager_TerminatesOnShortPage(t *testing.T) {
	src := newFakeSource()
	src.data["/crm/rest/v1/tags"] = makeRecords(25, time.Now())

	p := NewPager(src, NewRetryPolicy(fastRetry()), NewRunTracker(TrackerConfig{}, nil), PagerOptions{
		Spec:  testSpec("tags"),
		Limit: 10,
	})

	pages := drain(t, p)
	require.Len(t, pages, 3)
	assert.Equal(t, []int{0, 10, 20}, src.offsets())
	assert.Len(t, pages[2].Items, 5)
	assert.Equal(t, 2, pages[2].Index)
}

func TestPager_TerminatesOnEmptyPage(t *testing.T) {
	src := newFakeSource()
	src.data["/crm/rest/v1/tags"] = makeRecords(20, time.Now())

	p := NewPager(src, NewRetryPolicy(fastRetry()), NewRunTracker(TrackerConfig{}, nil), PagerOptions{
		Spec:  testSpec("tags"),
		Limit: 10,
	})

	pages := drain(t, p)
	assert.Len(t, pages, 2)
	assert.Equal(t, []int{0, 10, 20}, src.offsets())
}

func TestPager_StartsAtPage(t *testing.T) {
	src := newFakeSource()
	src.data["/crm/rest/v1/tags"] = makeRecords(25, time.Now())

	p := NewPager(src, NewRetryPolicy(fastRetry()), NewRunTracker(TrackerConfig{}, nil), PagerOptions{
		Spec:      testSpec("tags"),
		StartPage: 1,
		Limit:     10,
	})

	pages := drain(t, p)
	assert.Len(t, pages, 2)
	assert.Equal(t, []int{10, 20}, src.offsets())
}

func TestPager_SinglePage(t *testing.T) {
	src := newFakeSource()
	src.data["/crm/rest/v1/tags"] = makeRecords(25, time.Now())

	p := NewPager(src, NewRetryPolicy(fastRetry()), NewRunTracker(TrackerConfig{}, nil), PagerOptions{
		Spec:       testSpec("tags"),
		Limit:      10,
		SinglePage: true,
	})

	pages := drain(t, p)
	assert.Len(t, pages, 1)
	assert.Len(t, src.offsets(), 1)
}

func TestPager_LogsOneMetricPerFetch(t *testing.T) {
	telemetry := memory.NewTelemetryStore()
	tracker := NewRunTracker(TrackerConfig{Enabled: true}, telemetry)
	runID, ok := tracker.Start(context.Background(), "test")
	require.True(t, ok)

	src := newFakeSource()
	src.data["/crm/rest/v1/tags"] = makeRecords(15, time.Now())
	src.failures[0] = &domain.APIError{StatusCode: 503}

	p := NewPager(src, NewRetryPolicy(fastRetry()), tracker, PagerOptions{RunID: runID, Spec: testSpec("tags"), Limit: 10})
	drain(t, p)

	reqs := telemetry.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 1, reqs[0].RetryCount)
	assert.Equal(t, 10, reqs[0].ItemCount)
	assert.Equal(t, 10, reqs[1].PageOffset)
	assert.Equal(t, 5, reqs[1].ItemCount)
	assert.Equal(t, http.StatusOK, reqs[1].HTTPStatus)
}

func TestPager_FatalErrorStops(t *testing.T) {
	telemetry := memory.NewTelemetryStore()
	tracker := NewRunTracker(TrackerConfig{Enabled: true}, telemetry)
	runID, _ := tracker.Start(context.Background(), "test")

	src := newFakeSource()
	src.failures[0] = &domain.APIError{StatusCode: 403, Message: "forbidden"}

	p := NewPager(src, NewRetryPolicy(fastRetry()), tracker, PagerOptions{RunID: runID, Spec: testSpec("tags"), Limit: 10})

	_, err := p.Next(context.Background())
	require.Error(t, err)
	assert.Equal(t, 403, domain.StatusCodeOf(err))

	_, err = p.Next(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoMorePages)

	reqs := telemetry.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 403, reqs[0].HTTPStatus)
	assert.NotEmpty(t, reqs[0].Error)
	require.Len(t, telemetry.Errors(), 1)
	assert.Equal(t, domain.ErrorTypeFetch, telemetry.Errors()[0].ErrorType)
}

func TestPager_ThrottlePause(t *testing.T) {
	telemetry := memory.NewTelemetryStore()
	tracker := NewRunTracker(TrackerConfig{Enabled: true}, telemetry)
	runID, _ := tracker.Start(context.Background(), "test")

	src := newFakeSource()
	src.data["/crm/rest/v1/tags"] = makeRecords(15, time.Now())
	src.header = http.Header{}
	src.header.Set("x-keap-product-throttle-available", "30")

	p := NewPager(src, NewRetryPolicy(fastRetry()), tracker, PagerOptions{RunID: runID, Spec: testSpec("tags"), Limit: 10})
	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	drain(t, p)

	// No pause after the last page.
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)
	require.Len(t, telemetry.Throttles(), 1)
	assert.Equal(t, 30, telemetry.Throttles()[0].Remaining)

	reqs := telemetry.Requests()
	require.NotNil(t, reqs[0].ThrottleRemaining)
	assert.Equal(t, 30, *reqs[0].ThrottleRemaining)
	assert.Equal(t, "product_throttle", reqs[0].ThrottleType)
}
