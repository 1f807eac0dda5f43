package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// recordSink implements driven.RecordSink.
type recordSink struct {
	store *Store
}

var _ driven.RecordSink = (*recordSink)(nil)

const upsertRecordSQL = `
	INSERT INTO records (entity, id, fields, raw, created_at, updated_at, first_synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(entity, id) DO UPDATE SET
		fields = excluded.fields,
		raw = excluded.raw,
		updated_at = excluded.updated_at,
		created_at = COALESCE(excluded.created_at, records.created_at)
`

// UpsertBatch writes records on a dedicated connection in one transaction.
func (s *recordSink) UpsertBatch(ctx context.Context, entity string, records []domain.NormalizedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	conn, err := s.store.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, upsertRecordSQL)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := formatTime(time.Now())
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			return 0, domain.ErrMissingID
		}
		fields, err := json.Marshal(rec.Fields)
		if err != nil {
			return 0, fmt.Errorf("marshalling fields of %s/%s: %w", entity, rec.ID, err)
		}
		var raw any
		if len(rec.Raw) > 0 {
			raw = string(rec.Raw)
		}
		if _, err := stmt.ExecContext(ctx, entity, rec.ID, string(fields), raw,
			formatTimePtr(rec.CreatedAt), formatTimePtr(rec.UpdatedAt), now); err != nil {
			return 0, fmt.Errorf("upserting %s/%s: %w", entity, rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}
	return len(records), nil
}

// CountRecords returns the number of stored records for entity.
func (s *recordSink) CountRecords(ctx context.Context, entity string) (int, error) {
	var n int
	err := s.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE entity = ?", entity).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// GetRecord retrieves one record.
func (s *recordSink) GetRecord(ctx context.Context, entity, id string) (*domain.NormalizedRecord, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT fields, raw, created_at, updated_at
		FROM records WHERE entity = ? AND id = ?
	`, entity, id)

	var fields string
	var raw, createdAt, updatedAt sql.NullString
	if err := row.Scan(&fields, &raw, &createdAt, &updatedAt); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning record: %w", err)
	}

	rec := &domain.NormalizedRecord{
		Entity:    entity,
		ID:        id,
		CreatedAt: parseTimePtr(createdAt),
		UpdatedAt: parseTimePtr(updatedAt),
	}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("unmarshalling fields: %w", err)
	}
	if raw.Valid {
		rec.Raw = json.RawMessage(raw.String)
	}
	return rec, nil
}
