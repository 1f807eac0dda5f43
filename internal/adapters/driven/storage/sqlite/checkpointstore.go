package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// checkpointStore implements driven.CheckpointStore.
type checkpointStore struct {
	store *Store
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

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO checkpoints (entity, kind, run_id, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity, kind) DO UPDATE SET
			run_id = excluded.run_id,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, cp.Entity, string(cp.Kind), nullString(cp.RunID), string(cp.Payload), formatTime(cp.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

// GetLast retrieves the checkpoint for (entity, kind).
func (s *checkpointStore) GetLast(ctx context.Context, entity string, kind domain.CheckpointKind) (*domain.Checkpoint, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT entity, kind, run_id, payload, updated_at
		FROM checkpoints WHERE entity = ? AND kind = ?
	`, entity, string(kind))

	cp, err := scanCheckpoint(row)
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
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE entity = ?", entity)
	if err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	return nil
}

// List returns all checkpoints ordered by entity.
func (s *checkpointStore) List(ctx context.Context) ([]domain.Checkpoint, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT entity, kind, run_id, payload, updated_at
		FROM checkpoints ORDER BY entity, kind
	`)
	if err != nil {
		return nil, fmt.Errorf("querying checkpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.Checkpoint //nolint:prealloc // size unknown from query
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning checkpoint: %w", err)
		}
		out = append(out, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating checkpoints: %w", err)
	}
	return out, nil
}

// EntitiesNeedingResume returns the entities of runID whose progress is
// not completed, in the order they were first recorded.
func (s *checkpointStore) EntitiesNeedingResume(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT entity FROM entity_progress
		WHERE run_id = ? AND status != ?
		ORDER BY rowid
	`, runID, string(domain.ProgressCompleted))
	if err != nil {
		return nil, fmt.Errorf("querying entity progress: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning entity progress: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity progress: %w", err)
	}
	return names, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var kind, payload, updatedAt string
	var runID sql.NullString
	if err := row.Scan(&cp.Entity, &kind, &runID, &payload, &updatedAt); err != nil {
		return nil, err
	}
	cp.Kind = domain.CheckpointKind(kind)
	cp.RunID = runID.String
	cp.Payload = []byte(payload)
	cp.UpdatedAt = parseNullableTime(sql.NullString{String: updatedAt, Valid: true})
	return &cp, nil
}
