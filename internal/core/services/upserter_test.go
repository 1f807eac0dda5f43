package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/keapsync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/keapsync/internal/core/domain"
)

func normalized(n int) []domain.NormalizedRecord {
	out := make([]domain.NormalizedRecord, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.NormalizedRecord{ID: fmt.Sprint(i), Fields: map[string]any{"n": i}})
	}
	return out
}

func TestUpserter_Batches(t *testing.T) {
	sink := memory.NewRecordSink()
	u := NewUpserter(sink, 100)

	n, err := u.Apply(context.Background(), "contacts", normalized(250))
	require.NoError(t, err)
	assert.Equal(t, 250, n)
	assert.Equal(t, 3, sink.Batches)
}

func TestUpserter_DefaultBatchSize(t *testing.T) {
	assert.Equal(t, DefaultBatchSize, NewUpserter(memory.NewRecordSink(), 0).BatchSize())
}

func TestUpserter_FailedBatchKeepsEarlierBatches(t *testing.T) {
	sink := memory.NewRecordSink()
	sink.FailOn = "150"
	u := NewUpserter(sink, 100)

	n, err := u.Apply(context.Background(), "contacts", normalized(250))
	require.Error(t, err)
	assert.Equal(t, 100, n)

	count, _ := sink.CountRecords(context.Background(), "contacts")
	assert.Equal(t, 100, count)
}

func TestUpserter_Empty(t *testing.T) {
	sink := memory.NewRecordSink()
	n, err := NewUpserter(sink, 10).Apply(context.Background(), "contacts", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, sink.Batches)
}
