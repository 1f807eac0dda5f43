package domain

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Tasks run by "keapsync serve".
const (
	// TaskIDEntitySync runs Run over every registered entity.
	TaskIDEntitySync = "entity-sync"
	// TaskIDTelemetryPrune deletes finished runs past the retention window.
	TaskIDTelemetryPrune = "telemetry-prune"
)

// Default task intervals.
const (
	DefaultSyncInterval  = time.Hour
	DefaultPruneInterval = 24 * time.Hour
)

// ScheduledTask is the persisted schedule of one task.
type ScheduledTask struct {
	ID       string
	Name     string
	Interval time.Duration
	Enabled  bool

	// A zero NextRun means the task is due immediately.
	LastRun time.Time
	NextRun time.Time

	// LastError is cleared by the next successful run.
	LastError   string
	LastSuccess time.Time
}

// Due reports whether the task should run at now.
func (t *ScheduledTask) Due(now time.Time) bool {
	return t.Enabled && (t.NextRun.IsZero() || !t.NextRun.After(now))
}

// TaskResult is one execution of a scheduled task.
type TaskResult struct {
	TaskID    string
	StartedAt time.Time
	EndedAt   time.Time
	Success   bool
	Error     string

	// ItemsProcessed counts upserted records for a sync and deleted runs
	// for a prune.
	ItemsProcessed int

	// RunID is the SyncRun started by an entity-sync execution.
	RunID string

	// FailedEntities lists the entities whose sync failed in that run.
	FailedEntities []string
}

// Summary renders the result for a log line.
func (r TaskResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d items in %s", r.TaskID, r.ItemsProcessed,
		r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.RunID != "" {
		fmt.Fprintf(&b, ", run %s", r.RunID)
	}
	if len(r.FailedEntities) > 0 {
		fmt.Fprintf(&b, ", failed: %s", strings.Join(r.FailedEntities, ", "))
	}
	return b.String()
}

// TaskConfig is the configured schedule of one task.
type TaskConfig struct {
	Enabled  bool
	Interval time.Duration
}

// SchedulerConfig maps task IDs to their configured schedule.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig
}

// GetTaskConfig returns the schedule of taskID, or a disabled zero value.
func (c SchedulerConfig) GetTaskConfig(taskID string) TaskConfig {
	return c.Tasks[taskID]
}

// WithInterval returns a copy of c with the interval of taskID replaced.
// The receiver is left untouched.
func (c SchedulerConfig) WithInterval(taskID string, interval time.Duration) SchedulerConfig {
	tasks := maps.Clone(c.Tasks)
	if tasks == nil {
		tasks = make(map[string]TaskConfig, 1)
	}
	cfg := tasks[taskID]
	cfg.Interval = interval
	tasks[taskID] = cfg
	return SchedulerConfig{Tasks: tasks}
}

// DefaultSchedulerConfig enables both tasks at their default intervals.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Tasks: map[string]TaskConfig{
		TaskIDEntitySync:     {Enabled: true, Interval: DefaultSyncInterval},
		TaskIDTelemetryPrune: {Enabled: true, Interval: DefaultPruneInterval},
	}}
}
