package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// fakeSource serves a fixed dataset per endpoint with offset/limit windows.
type fakeSource struct {
	mu       stdsync.Mutex
	data     map[string][]domain.RawRecord
	header   http.Header
	failures map[int]error // call index -> error
	calls    []driven.PageRequest

	// cancelAfter cancels ctx once this many successful calls were served.
	cancelAfter int
	cancel      context.CancelFunc
	served      int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		data:     make(map[string][]domain.RawRecord),
		failures: make(map[int]error),
	}
}

func (f *fakeSource) FetchPage(_ context.Context, req driven.PageRequest) (*driven.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := len(f.calls)
	f.calls = append(f.calls, req)
	if err, ok := f.failures[idx]; ok {
		return nil, err
	}

	items := f.data[req.Endpoint]
	start := min(req.Offset, len(items))
	end := min(req.Offset+req.Limit, len(items))

	f.served++
	if f.cancel != nil && f.served == f.cancelAfter {
		f.cancel()
	}

	return &driven.Page{
		Items: items[start:end],
		Meta:  driven.ResponseMeta{StatusCode: http.StatusOK, Header: f.header, Size: 10 * (end - start)},
	}, nil
}

func (f *fakeSource) offsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Offset)
	}
	return out
}

// makeRecords builds n raw records with ids 1..n.
func makeRecords(n int, updated time.Time) []domain.RawRecord {
	out := make([]domain.RawRecord, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.RawRecord{
			"id":           float64(i),
			"name":         fmt.Sprintf("record-%d", i),
			"last_updated": updated.Format(time.RFC3339),
		})
	}
	return out
}

// testTransform copies name and last_updated; records with "bad" set fail.
func testTransform(raw domain.RawRecord) (domain.NormalizedRecord, error) {
	if _, bad := raw["bad"]; bad {
		return domain.NormalizedRecord{}, errors.New("malformed record")
	}
	rec := domain.NormalizedRecord{Fields: map[string]any{"name": raw["name"]}}
	if s, ok := raw["last_updated"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			rec.UpdatedAt = &ts
		}
	}
	if s, ok := raw["date_created"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			rec.CreatedAt = &ts
		}
	}
	return rec, nil
}

func testSpec(name string, deps ...string) domain.EntitySpec {
	return domain.EntitySpec{
		Name:      name,
		Endpoint:  "/crm/rest/v1/" + name,
		ListKeys:  []string{name},
		DependsOn: deps,
		Transform: testTransform,
	}
}

// fastRetry keeps retry tests quick.
func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}
