package driving

import (
	"context"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// SyncOrchestrator drives entity synchronisation from the record source
// into the sink.
type SyncOrchestrator interface {
	// SyncEntity syncs one entity within an already started run.
	// The returned result is always populated; err is non-nil iff the
	// entity ended failed.
	SyncEntity(ctx context.Context, runID string, spec domain.EntitySpec, opts domain.SyncOptions) (domain.EntityResult, error)

	// Run syncs the selected entities in dependency order.
	Run(ctx context.Context, opts domain.SyncOptions) (*domain.RunReport, error)

	// Status returns the live status of an entity sync.
	Status(entity string) (*SyncStatus, error)
}

// SyncStatus represents the current state of an entity sync.
type SyncStatus struct {
	// Entity identifies the entity.
	Entity string

	// Running indicates if sync is currently in progress.
	Running bool

	// ItemsProcessed is the count of records upserted so far.
	ItemsProcessed int

	// ErrorCount is the number of dropped records and failed requests.
	ErrorCount int
}
