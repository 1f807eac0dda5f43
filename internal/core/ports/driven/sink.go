package driven

import (
	"context"

	"github.com/custodia-labs/keapsync/internal/core/domain"
)

// RecordSink persists normalised records.
type RecordSink interface {
	// UpsertBatch writes records in one transaction, keyed by (entity, id).
	// On conflict mutable columns are overwritten and insert-only columns
	// are kept unless the incoming value is present. Either every record
	// is applied or none is.
	UpsertBatch(ctx context.Context, entity string, records []domain.NormalizedRecord) (int, error)

	// CountRecords returns the number of stored records for entity.
	CountRecords(ctx context.Context, entity string) (int, error)

	// GetRecord retrieves one record. Returns domain.ErrNotFound if absent.
	GetRecord(ctx context.Context, entity, id string) (*domain.NormalizedRecord, error)
}
