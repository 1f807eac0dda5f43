package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// TelemetryStore persists run history and request metrics.
// It is written through the RunTracker only; the data path never reads it
// except to find a run to resume.
type TelemetryStore interface {
	// Runs.
	CreateRun(ctx context.Context, run *domain.SyncRun) error
	FinishRun(ctx context.Context, runID string, status domain.RunStatus, finishedAt time.Time, notes string) error
	GetRun(ctx context.Context, runID string) (*domain.SyncRun, error)
	ListRuns(ctx context.Context, limit int) ([]domain.SyncRun, error)

	// LatestRunning returns the most recently started run still in the
	// running state with at least one entity progress row not completed,
	// skipping excludeID. Returns nil and no error if none.
	LatestRunning(ctx context.Context, excludeID string) (*domain.SyncRun, error)

	// Entity progress.
	UpsertProgress(ctx context.Context, p *domain.EntityProgress) error
	ListProgress(ctx context.Context, runID string) ([]domain.EntityProgress, error)

	// Append-only events.
	RecordRequest(ctx context.Context, m *domain.RequestMetric) error
	RecordThrottle(ctx context.Context, e *domain.ThrottleEvent) error
	RecordError(ctx context.Context, e *domain.ErrorEvent) error
	RecordSourceCount(ctx context.Context, runID, entity string, count int) error

	// Aggregates.
	SourceCounts(ctx context.Context, runID string) (map[string]int, error)
	RunMetrics(ctx context.Context, runID string) (*domain.RunMetrics, error)

	// PruneRuns deletes finished runs started before cutoff together with
	// their progress and events. Returns the number of runs removed.
	PruneRuns(ctx context.Context, before time.Time) (int, error)
}
