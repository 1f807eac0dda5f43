package services

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
	"github.com/custodia-labs/keapsync/internal/logger"
)

// DefaultBatchSize is the number of records per upsert transaction.
const DefaultBatchSize = 100

// Upserter splits records into batches and applies each atomically.
type Upserter struct {
	sink      driven.RecordSink
	batchSize int
}

// NewUpserter creates an upserter. batchSize <= 0 uses DefaultBatchSize.
func NewUpserter(sink driven.RecordSink, batchSize int) *Upserter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Upserter{sink: sink, batchSize: batchSize}
}

// BatchSize returns the configured batch size.
func (u *Upserter) BatchSize() int {
	return u.batchSize
}

// Apply writes records in order. On a failed batch it returns the count of
// records in batches already committed together with the error; those
// batches stay committed.
func (u *Upserter) Apply(ctx context.Context, entity string, records []domain.NormalizedRecord) (int, error) {
	applied := 0
	for start := 0; start < len(records); start += u.batchSize {
		end := min(start+u.batchSize, len(records))
		batch := records[start:end]

		began := time.Now()
		n, err := u.sink.UpsertBatch(ctx, entity, batch)
		if err != nil {
			return applied, fmt.Errorf("upsert %s batch at %d: %w", entity, start, err)
		}
		applied += n

		logger.Event("upsert_batch",
			"entity", entity,
			"records", n,
			"duration_ms", time.Since(began).Milliseconds(),
		)
	}
	return applied, nil
}
