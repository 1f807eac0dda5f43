package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// Ensure TelemetryStore implements the interface.
var _ driven.TelemetryStore = (*TelemetryStore)(nil)

// TelemetryStore is an in-memory implementation of driven.TelemetryStore.
type TelemetryStore struct {
	mu           sync.RWMutex
	runs         map[string]domain.SyncRun
	progress     map[string]map[string]domain.EntityProgress
	requests     []domain.RequestMetric
	throttles    []domain.ThrottleEvent
	errors       []domain.ErrorEvent
	sourceCounts map[string]map[string]int

	// Err, when set, is returned by every call to simulate an unreachable store.
	Err error
}

// NewTelemetryStore creates a new in-memory telemetry store.
func NewTelemetryStore() *TelemetryStore {
	return &TelemetryStore{
		runs:         make(map[string]domain.SyncRun),
		progress:     make(map[string]map[string]domain.EntityProgress),
		sourceCounts: make(map[string]map[string]int),
	}
}

// SetErr sets the injected failure.
func (s *TelemetryStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// CreateRun stores a new run.
func (s *TelemetryStore) CreateRun(_ context.Context, run *domain.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.runs[run.ID] = *run
	return nil
}

// FinishRun sets the terminal status of a run.
func (s *TelemetryStore) FinishRun(_ context.Context, runID string, status domain.RunStatus, finishedAt time.Time, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrNotFound
	}
	run.Status = status
	run.FinishedAt = &finishedAt
	run.Notes = notes
	s.runs[runID] = run
	return nil
}

// GetRun retrieves a run.
func (s *TelemetryStore) GetRun(_ context.Context, runID string) (*domain.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	run, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &run, nil
}

// ListRuns returns runs newest first.
func (s *TelemetryStore) ListRuns(_ context.Context, limit int) ([]domain.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	runs := s.sortedRuns()
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *TelemetryStore) sortedRuns() []domain.SyncRun {
	runs := make([]domain.SyncRun, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	slices.SortFunc(runs, func(a, b domain.SyncRun) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return runs
}

// LatestRunning returns the newest running run other than excludeID that
// still has an unfinished entity.
func (s *TelemetryStore) LatestRunning(_ context.Context, excludeID string) (*domain.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, r := range s.sortedRuns() {
		if r.Status == domain.RunRunning && r.ID != excludeID && s.hasUnfinished(r.ID) {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *TelemetryStore) hasUnfinished(runID string) bool {
	for _, p := range s.progress[runID] {
		if p.Status != domain.ProgressCompleted {
			return true
		}
	}
	return false
}

// UpsertProgress stores the progress row for (run, entity).
func (s *TelemetryStore) UpsertProgress(_ context.Context, p *domain.EntityProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	rows, ok := s.progress[p.RunID]
	if !ok {
		rows = make(map[string]domain.EntityProgress)
		s.progress[p.RunID] = rows
	}
	rows[p.Entity] = *p
	return nil
}

// ListProgress returns the progress rows of a run ordered by entity.
func (s *TelemetryStore) ListProgress(_ context.Context, runID string) ([]domain.EntityProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]domain.EntityProgress, 0, len(s.progress[runID]))
	for _, p := range s.progress[runID] {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.EntityProgress) int {
		switch {
		case a.Entity < b.Entity:
			return -1
		case a.Entity > b.Entity:
			return 1
		}
		return 0
	})
	return out, nil
}

// RecordRequest appends a request metric.
func (s *TelemetryStore) RecordRequest(_ context.Context, m *domain.RequestMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.requests = append(s.requests, *m)
	return nil
}

// RecordThrottle appends a throttle event.
func (s *TelemetryStore) RecordThrottle(_ context.Context, e *domain.ThrottleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.throttles = append(s.throttles, *e)
	return nil
}

// RecordError appends an error event.
func (s *TelemetryStore) RecordError(_ context.Context, e *domain.ErrorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.errors = append(s.errors, *e)
	return nil
}

// RecordSourceCount stores the source item count for (run, entity).
func (s *TelemetryStore) RecordSourceCount(_ context.Context, runID, entity string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	counts, ok := s.sourceCounts[runID]
	if !ok {
		counts = make(map[string]int)
		s.sourceCounts[runID] = counts
	}
	counts[entity] = count
	return nil
}

// SourceCounts returns the source counts of a run.
func (s *TelemetryStore) SourceCounts(_ context.Context, runID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[string]int, len(s.sourceCounts[runID]))
	for k, v := range s.sourceCounts[runID] {
		out[k] = v
	}
	return out, nil
}

// RunMetrics aggregates request metrics of a run.
func (s *TelemetryStore) RunMetrics(_ context.Context, runID string) (*domain.RunMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var m domain.RunMetrics
	for i := range s.requests {
		r := &s.requests[i]
		if r.RunID != runID {
			continue
		}
		m.TotalRequests++
		m.TotalItems += r.ItemCount
		m.TotalDurationMS += r.Duration.Milliseconds()
		if r.Error != "" {
			m.ErrorCount++
		}
		if r.Throttled() {
			m.ThrottleCount++
		}
	}
	return &m, nil
}

// PruneRuns removes finished runs started before cutoff.
func (s *TelemetryStore) PruneRuns(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	pruned := 0
	for id, r := range s.runs {
		if r.Status == domain.RunRunning || !r.StartedAt.Before(before) {
			continue
		}
		delete(s.runs, id)
		delete(s.progress, id)
		delete(s.sourceCounts, id)
		pruned++
	}
	s.requests = slices.DeleteFunc(s.requests, func(m domain.RequestMetric) bool { _, ok := s.runs[m.RunID]; return !ok })
	s.throttles = slices.DeleteFunc(s.throttles, func(e domain.ThrottleEvent) bool { _, ok := s.runs[e.RunID]; return !ok })
	s.errors = slices.DeleteFunc(s.errors, func(e domain.ErrorEvent) bool { _, ok := s.runs[e.RunID]; return !ok })
	return pruned, nil
}

// Requests returns a copy of all recorded request metrics.
func (s *TelemetryStore) Requests() []domain.RequestMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.requests)
}

// Throttles returns a copy of all recorded throttle events.
func (s *TelemetryStore) Throttles() []domain.ThrottleEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.throttles)
}

// Errors returns a copy of all recorded error events.
func (s *TelemetryStore) Errors() []domain.ErrorEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.errors)
}
