package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// checkpointStore implements driven.CheckpointStore.
type checkpointStore struct {
	pool *pgxpool.Pool
}

var _ driven.CheckpointStore = (*checkpointStore)(nil)

// Save stores or replaces the checkpoint for (entity, kind).
func (s *checkpointStore) Save(ctx context.Context, cp domain.Checkpoint) error {
	if cp.Entity == "" || cp.Kind == "" {
		return domain.ErrInvalidInput
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (entity, kind, run_id, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity, kind) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`, cp.Entity, string(cp.Kind), nullable(cp.RunID), []byte(cp.Payload), cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

const selectCheckpointSQL = `SELECT entity, kind, COALESCE(run_id, ''), payload, updated_at FROM checkpoints`

// GetLast retrieves the checkpoint for (entity, kind).
func (s *checkpointStore) GetLast(ctx context.Context, entity string, kind domain.CheckpointKind) (*domain.Checkpoint, error) {
	cp, err := scanCheckpoint(s.pool.QueryRow(ctx, selectCheckpointSQL+" WHERE entity = $1 AND kind = $2",
		entity, string(kind)))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning checkpoint: %w", err)
	}
	return cp, nil
}

// Delete removes every checkpoint kind for entity.
func (s *checkpointStore) Delete(ctx context.Context, entity string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM checkpoints WHERE entity = $1", entity); err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	return nil
}

// List returns all checkpoints ordered by entity.
func (s *checkpointStore) List(ctx context.Context) ([]domain.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, selectCheckpointSQL+" ORDER BY entity, kind")
	if err != nil {
		return nil, fmt.Errorf("querying checkpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

// EntitiesNeedingResume returns the entities of runID whose progress is
// not completed, in the order they were first recorded.
func (s *checkpointStore) EntitiesNeedingResume(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity FROM entity_progress
		WHERE run_id = $1 AND status <> $2
		ORDER BY seq
	`, runID, string(domain.ProgressCompleted))
	if err != nil {
		return nil, fmt.Errorf("querying entity progress: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning entity progress: %w", err)
	}
	return names, nil
}

func scanCheckpoint(row pgx.Row) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var kind string
	var payload []byte
	if err := row.Scan(&cp.Entity, &kind, &cp.RunID, &payload, &cp.UpdatedAt); err != nil {
		return nil, err
	}
	cp.Kind = domain.CheckpointKind(kind)
	cp.Payload = payload
	return &cp, nil
}
