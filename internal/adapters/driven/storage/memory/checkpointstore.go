package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// Ensure CheckpointStore implements the interface.
var _ driven.CheckpointStore = (*CheckpointStore)(nil)

type checkpointKey struct {
	entity string
	kind   domain.CheckpointKind
}

// CheckpointStore is an in-memory implementation of driven.CheckpointStore.
// Resume lookups read progress from the paired TelemetryStore.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[checkpointKey]domain.Checkpoint
	telemetry   *TelemetryStore

	// SaveErr is returned by Save when set.
	SaveErr error
}

// NewCheckpointStore creates a checkpoint store. telemetry may be nil, in
// which case no entity ever needs resuming.
func NewCheckpointStore(telemetry *TelemetryStore) *CheckpointStore {
	return &CheckpointStore{
		checkpoints: make(map[checkpointKey]domain.Checkpoint),
		telemetry:   telemetry,
	}
}

// Save upserts a checkpoint.
func (s *CheckpointStore) Save(_ context.Context, cp domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if cp.Entity == "" || cp.Kind == "" {
		return domain.ErrInvalidInput
	}
	cp.UpdatedAt = time.Now().UTC()
	cp.Payload = slices.Clone(cp.Payload)
	s.checkpoints[checkpointKey{cp.Entity, cp.Kind}] = cp
	return nil
}

// GetLast returns the checkpoint for (entity, kind), or nil.
func (s *CheckpointStore) GetLast(_ context.Context, entity string, kind domain.CheckpointKind) (*domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[checkpointKey{entity, kind}]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

// Delete removes every checkpoint for entity.
func (s *CheckpointStore) Delete(_ context.Context, entity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.checkpoints {
		if k.entity == entity {
			delete(s.checkpoints, k)
		}
	}
	return nil
}

// List returns all checkpoints ordered by entity then kind.
func (s *CheckpointStore) List(_ context.Context) ([]domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b domain.Checkpoint) int {
		if c := strings.Compare(a.Entity, b.Entity); c != 0 {
			return c
		}
		return strings.Compare(string(a.Kind), string(b.Kind))
	})
	return out, nil
}

// EntitiesNeedingResume returns the entities of runID not yet completed.
func (s *CheckpointStore) EntitiesNeedingResume(ctx context.Context, runID string) ([]string, error) {
	if s.telemetry == nil {
		return nil, nil
	}
	progress, err := s.telemetry.ListProgress(ctx, runID)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, p := range progress {
		if p.Status != domain.ProgressCompleted {
			names = append(names, p.Entity)
		}
	}
	return names, nil
}
