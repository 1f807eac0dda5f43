package driving

import (
	"context"
	"time"
)

// Scheduler runs recurring entity syncs and telemetry pruning.
type Scheduler interface {
	// Start begins running scheduled tasks.
	// Blocks until context is cancelled or an error occurs.
	Start(ctx context.Context) error

	// Stop gracefully stops all running tasks.
	Stop() error

	// SetInterval changes a task's interval while running.
	SetInterval(taskID string, interval time.Duration) error
}
