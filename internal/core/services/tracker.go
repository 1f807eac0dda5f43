package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
	"github.com/custodia-labs/keapsync/internal/core/ports/driving"
	"github.com/custodia-labs/keapsync/internal/logger"
)

// Ensure RunTracker implements the interface.
var _ driving.RunTracker = (*RunTracker)(nil)

// TrackerConfig configures a RunTracker.
type TrackerConfig struct {
	// Enabled switches run tracking on. Without it every call is a no-op.
	Enabled bool
}

// RunTracker records run lifecycle and metrics in a TelemetryStore.
// It never returns errors; store failures are logged and reported as false.
type RunTracker struct {
	store   driven.TelemetryStore
	enabled bool
	now     func() time.Time

	mu   sync.Mutex
	runs map[string]domain.RunStatus
}

// NewRunTracker creates a tracker. A nil store disables tracking.
func NewRunTracker(cfg TrackerConfig, store driven.TelemetryStore) *RunTracker {
	return &RunTracker{
		store:   store,
		enabled: cfg.Enabled && store != nil,
		now:     time.Now,
		runs:    make(map[string]domain.RunStatus),
	}
}

// Enabled reports whether tracking is on.
func (t *RunTracker) Enabled() bool {
	return t.enabled
}

// Start creates a running SyncRun.
func (t *RunTracker) Start(ctx context.Context, notes string) (string, bool) {
	if !t.enabled {
		return "", false
	}

	run := &domain.SyncRun{
		ID:        uuid.NewString(),
		StartedAt: t.now().UTC(),
		Status:    domain.RunRunning,
		Notes:     notes,
	}
	if err := t.store.CreateRun(ctx, run); err != nil {
		logger.Warn("run tracker: start run: %v", err)
		return "", false
	}

	t.mu.Lock()
	t.runs[run.ID] = domain.RunRunning
	t.mu.Unlock()

	logger.Event("run_start", "run_id", run.ID, "notes", notes)
	return run.ID, true
}

// active reports whether runID was started here and has not finished.
func (t *RunTracker) active(runID string) bool {
	if !t.enabled || runID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs[runID] == domain.RunRunning
}

// Finish stamps completion. Only the first call for a run writes.
func (t *RunTracker) Finish(ctx context.Context, runID string, status domain.RunStatus, notes string) bool {
	if !status.IsTerminal() {
		logger.Warn("run tracker: finish %s with non-terminal status %q", runID, status)
		return false
	}

	t.mu.Lock()
	if !t.enabled || t.runs[runID] != domain.RunRunning {
		t.mu.Unlock()
		return false
	}
	t.runs[runID] = status
	t.mu.Unlock()

	if err := t.store.FinishRun(ctx, runID, status, t.now().UTC(), notes); err != nil {
		logger.Warn("run tracker: finish run %s: %v", runID, err)
		return false
	}
	logger.Event("run_end", "run_id", runID, "status", string(status), "notes", notes)
	return true
}

// LogRequest appends a request metric.
func (t *RunTracker) LogRequest(ctx context.Context, runID string, m domain.RequestMetric) bool {
	if !t.active(runID) {
		return false
	}
	m.RunID = runID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t.now().UTC()
	}
	return t.check("log request", t.store.RecordRequest(ctx, &m))
}

// LogThrottle appends a throttle event.
func (t *RunTracker) LogThrottle(ctx context.Context, runID string, e domain.ThrottleEvent) bool {
	if !t.active(runID) {
		return false
	}
	e.RunID = runID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now().UTC()
	}
	return t.check("log throttle", t.store.RecordThrottle(ctx, &e))
}

// LogError appends an error event.
func (t *RunTracker) LogError(ctx context.Context, runID string, e domain.ErrorEvent) bool {
	if !t.active(runID) {
		return false
	}
	e.RunID = runID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now().UTC()
	}
	return t.check("log error", t.store.RecordError(ctx, &e))
}

// LogSourceCount records how many items the source returned for entity.
func (t *RunTracker) LogSourceCount(ctx context.Context, runID, entity string, count int) bool {
	if !t.active(runID) {
		return false
	}
	return t.check("log source count", t.store.RecordSourceCount(ctx, runID, entity, count))
}

// UpdateProgress upserts the (run, entity) progress row.
func (t *RunTracker) UpdateProgress(ctx context.Context, runID string, p domain.EntityProgress) bool {
	if !t.active(runID) {
		return false
	}
	p.RunID = runID
	p.UpdatedAt = t.now().UTC()
	return t.check("update progress", t.store.UpsertProgress(ctx, &p))
}

// Summary returns run, progress and aggregated metrics.
func (t *RunTracker) Summary(ctx context.Context, runID string) (*domain.RunSummary, bool) {
	if !t.enabled || runID == "" {
		return nil, false
	}

	run, err := t.store.GetRun(ctx, runID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("run tracker: get run %s: %v", runID, err)
		}
		return nil, false
	}

	summary := &domain.RunSummary{Run: *run}
	if summary.Progress, err = t.store.ListProgress(ctx, runID); err != nil {
		logger.Warn("run tracker: list progress %s: %v", runID, err)
		return nil, false
	}
	if summary.SourceCounts, err = t.store.SourceCounts(ctx, runID); err != nil {
		logger.Warn("run tracker: source counts %s: %v", runID, err)
		return nil, false
	}
	metrics, err := t.store.RunMetrics(ctx, runID)
	if err != nil {
		logger.Warn("run tracker: run metrics %s: %v", runID, err)
		return nil, false
	}
	summary.Metrics = *metrics
	return summary, true
}

// LatestInterrupted returns the newest run still marked running.
func (t *RunTracker) LatestInterrupted(ctx context.Context, excludeID string) (string, bool) {
	if !t.enabled {
		return "", false
	}
	run, err := t.store.LatestRunning(ctx, excludeID)
	if err != nil {
		logger.Warn("run tracker: latest running run: %v", err)
		return "", false
	}
	if run == nil {
		return "", false
	}
	return run.ID, true
}

// CloseInterrupted finishes a run left running by an earlier process,
// once another run has taken over its work.
func (t *RunTracker) CloseInterrupted(ctx context.Context, runID string, status domain.RunStatus, notes string) bool {
	if !t.enabled || runID == "" || !status.IsTerminal() {
		return false
	}
	run, err := t.store.GetRun(ctx, runID)
	if err != nil {
		logger.Warn("run tracker: get run %s: %v", runID, err)
		return false
	}
	if run.Status != domain.RunRunning {
		return false
	}
	return t.check("close interrupted run", t.store.FinishRun(ctx, runID, status, t.now().UTC(), notes))
}

func (t *RunTracker) check(op string, err error) bool {
	if err != nil {
		logger.Warn("run tracker: %s: %v", op, err)
		return false
	}
	return true
}

// WithRun starts a run, calls fn with its id and finishes the run with
// success or error depending on fn's result. When ctx is cancelled the run
// is left running so a later resume can pick it up.
func WithRun(ctx context.Context, tracker driving.RunTracker, notes string, fn func(ctx context.Context, runID string) error) error {
	runID, _ := tracker.Start(ctx, notes)
	err := fn(ctx, runID)
	if ctx.Err() != nil {
		return err
	}
	if err != nil {
		tracker.Finish(ctx, runID, domain.RunError, err.Error())
		return err
	}
	tracker.Finish(ctx, runID, domain.RunSuccess, notes)
	return nil
}
