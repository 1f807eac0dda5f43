package driving

import (
	"context"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// RunTracker owns the lifecycle and telemetry of sync runs.
//
// Tracking is best-effort. No method returns an error: store failures are
// logged and reported as false. Calls with a run id that was never started,
// or that has already finished, are no-ops returning false.
type RunTracker interface {
	// Enabled reports whether tracking was switched on at construction.
	Enabled() bool

	// Start creates a running SyncRun.
	Start(ctx context.Context, notes string) (string, bool)

	// Finish moves the run to a terminal status. Only the first call writes.
	Finish(ctx context.Context, runID string, status domain.RunStatus, notes string) bool

	LogRequest(ctx context.Context, runID string, m domain.RequestMetric) bool
	LogThrottle(ctx context.Context, runID string, e domain.ThrottleEvent) bool
	LogError(ctx context.Context, runID string, e domain.ErrorEvent) bool
	LogSourceCount(ctx context.Context, runID, entity string, count int) bool

	// UpdateProgress upserts the (run, entity) progress row.
	UpdateProgress(ctx context.Context, runID string, p domain.EntityProgress) bool

	// Summary returns the run with per-entity progress and metrics.
	// It works for finished runs too.
	Summary(ctx context.Context, runID string) (*domain.RunSummary, bool)

	// LatestInterrupted returns the id of the newest run left running,
	// other than excludeID.
	LatestInterrupted(ctx context.Context, excludeID string) (string, bool)

	// CloseInterrupted finishes a run left running by an earlier process
	// after a resume has completed its work.
	CloseInterrupted(ctx context.Context, runID string, status domain.RunStatus, notes string) bool
}
