package driven

import (
	"context"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// CheckpointStore persists per-entity pagination progress.
type CheckpointStore interface {
	// Save upserts the checkpoint for (entity, kind). The latest value wins.
	Save(ctx context.Context, cp domain.Checkpoint) error

	// GetLast returns the checkpoint for (entity, kind).
	// Returns nil and no error if none exists.
	GetLast(ctx context.Context, entity string, kind domain.CheckpointKind) (*domain.Checkpoint, error)

	// Delete removes every checkpoint kind for entity. Deleting a missing
	// checkpoint is not an error.
	Delete(ctx context.Context, entity string) error

	// List returns all stored checkpoints ordered by entity.
	List(ctx context.Context) ([]domain.Checkpoint, error)

	// EntitiesNeedingResume returns the entities of runID whose last
	// recorded progress is not completed.
	EntitiesNeedingResume(ctx context.Context, runID string) ([]string, error)
}
