package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// recordSink implements driven.RecordSink.
type recordSink struct {
	pool *pgxpool.Pool
}

var _ driven.RecordSink = (*recordSink)(nil)

const upsertRecordSQL = `
	INSERT INTO records (entity, id, fields, raw, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (entity, id) DO UPDATE SET
		fields = EXCLUDED.fields,
		raw = EXCLUDED.raw,
		updated_at = EXCLUDED.updated_at,
		created_at = COALESCE(EXCLUDED.created_at, records.created_at)
`

// UpsertBatch acquires a connection, sends the batch inside one
// transaction and releases the connection.
func (s *recordSink) UpsertBatch(ctx context.Context, entity string, records []domain.NormalizedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
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
			raw = []byte(rec.Raw)
		}
		batch.Queue(upsertRecordSQL, entity, rec.ID, fields, raw, rec.CreatedAt, rec.UpdatedAt)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	br := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("upserting %s/%s: %w", entity, records[i].ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("closing batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}
	return len(records), nil
}

// CountRecords returns the number of stored records for entity.
func (s *recordSink) CountRecords(ctx context.Context, entity string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM records WHERE entity = $1", entity).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// GetRecord retrieves one record.
func (s *recordSink) GetRecord(ctx context.Context, entity, id string) (*domain.NormalizedRecord, error) {
	var fields, raw []byte
	var createdAt, updatedAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT fields, raw, created_at, updated_at FROM records WHERE entity = $1 AND id = $2
	`, entity, id).Scan(&fields, &raw, &createdAt, &updatedAt)
	if isNoRows(err) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning record: %w", err)
	}

	rec := &domain.NormalizedRecord{Entity: entity, ID: id, CreatedAt: createdAt, UpdatedAt: updatedAt}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("unmarshalling fields: %w", err)
	}
	if len(raw) > 0 {
		rec.Raw = json.RawMessage(raw)
	}
	return rec, nil
}
