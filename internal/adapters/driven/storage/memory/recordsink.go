package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// Ensure RecordSink implements the interface.
var _ driven.RecordSink = (*RecordSink)(nil)

type storedRecord struct {
	rec           domain.NormalizedRecord
	firstSyncedAt time.Time
}

// RecordSink is an in-memory implementation of driven.RecordSink.
type RecordSink struct {
	mu      sync.RWMutex
	records map[string]map[string]storedRecord

	// FailOn makes UpsertBatch fail when a batch contains this id.
	FailOn string
	// Batches counts committed batches.
	Batches int
}

// NewRecordSink creates a new in-memory record sink.
func NewRecordSink() *RecordSink {
	return &RecordSink{records: make(map[string]map[string]storedRecord)}
}

// UpsertBatch applies all records or none.
func (s *RecordSink) UpsertBatch(_ context.Context, entity string, records []domain.NormalizedRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range records {
		if records[i].ID == "" {
			return 0, domain.ErrMissingID
		}
		if s.FailOn != "" && records[i].ID == s.FailOn {
			return 0, errInjected
		}
	}

	table, ok := s.records[entity]
	if !ok {
		table = make(map[string]storedRecord)
		s.records[entity] = table
	}

	now := time.Now().UTC()
	for _, rec := range records {
		rec.Entity = entity
		rec.Fields = maps.Clone(rec.Fields)
		existing, found := table[rec.ID]
		if !found {
			table[rec.ID] = storedRecord{rec: rec, firstSyncedAt: now}
			continue
		}
		if rec.CreatedAt == nil {
			rec.CreatedAt = existing.rec.CreatedAt
		}
		table[rec.ID] = storedRecord{rec: rec, firstSyncedAt: existing.firstSyncedAt}
	}
	s.Batches++
	return len(records), nil
}

// CountRecords returns the number of stored records for entity.
func (s *RecordSink) CountRecords(_ context.Context, entity string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[entity]), nil
}

// GetRecord retrieves one record.
func (s *RecordSink) GetRecord(_ context.Context, entity, id string) (*domain.NormalizedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.records[entity][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	rec := stored.rec
	rec.Fields = maps.Clone(rec.Fields)
	return &rec, nil
}

// Snapshot returns a copy of all records of entity keyed by id.
func (s *RecordSink) Snapshot(entity string) map[string]domain.NormalizedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.NormalizedRecord, len(s.records[entity]))
	for id, stored := range s.records[entity] {
		out[id] = stored.rec
	}
	return out
}
