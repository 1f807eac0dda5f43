package domain

import "time"

// RunStatus is the lifecycle state of a SyncRun.
type RunStatus string

const (
	// RunRunning is set at start and kept if the process is interrupted.
	RunRunning RunStatus = "running"
	// RunSuccess means every attempted entity completed.
	RunSuccess RunStatus = "success"
	// RunError means at least one entity failed.
	RunError RunStatus = "error"
)

// IsTerminal reports whether no further transitions are allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunSuccess || s == RunError
}

// SyncRun is one end-to-end invocation of the orchestrator.
type SyncRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Notes      string
}

// ProgressStatus is the per-entity state within a run.
type ProgressStatus string

const (
	ProgressPending   ProgressStatus = "pending"
	ProgressRunning   ProgressStatus = "running"
	ProgressCompleted ProgressStatus = "completed"
	ProgressFailed    ProgressStatus = "failed"
)

// EntityProgress is keyed by (RunID, Entity) and updated after every page.
type EntityProgress struct {
	RunID          string
	Entity         string
	Status         ProgressStatus
	LastPageOffset int
	ItemsProcessed int
	ErrorMessage   string
	UpdatedAt      time.Time
}

// RunMetrics aggregates the request metrics of one run.
type RunMetrics struct {
	TotalRequests   int
	TotalItems      int
	TotalDurationMS int64
	ErrorCount      int
	ThrottleCount   int
}

// RunSummary is what RunTracker.Summary returns.
type RunSummary struct {
	Run          SyncRun
	Progress     []EntityProgress
	SourceCounts map[string]int
	Metrics      RunMetrics
}
