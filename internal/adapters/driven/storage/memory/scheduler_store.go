package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/custodia-labs/keapsync/internal/core/domain"
	"github.com/custodia-labs/keapsync/internal/core/ports/driven"
)

// Ensure SchedulerStore implements the interface.
var _ driven.SchedulerStore = (*SchedulerStore)(nil)

// SchedulerStore keeps scheduler state for the lifetime of the process.
// It backs "keapsync serve" when the data store has no scheduler tables.
type SchedulerStore struct {
	mu      sync.RWMutex
	tasks   map[string]domain.ScheduledTask
	results map[string][]domain.TaskResult
}

// NewSchedulerStore creates an empty scheduler store.
func NewSchedulerStore() *SchedulerStore {
	return &SchedulerStore{
		tasks:   make(map[string]domain.ScheduledTask),
		results: make(map[string][]domain.TaskResult),
	}
}

// GetTask returns nil and no error if the task does not exist.
func (s *SchedulerStore) GetTask(_ context.Context, taskID string) (*domain.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return &task, nil
}

// ListTasks returns all tasks ordered by ID.
func (s *SchedulerStore) ListTasks(_ context.Context) ([]domain.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]domain.ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	slices.SortFunc(tasks, func(a, b domain.ScheduledTask) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return tasks, nil
}

// SaveTask creates or updates a task.
func (s *SchedulerStore) SaveTask(_ context.Context, task *domain.ScheduledTask) error {
	if task == nil || task.ID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = *task
	return nil
}

// DeleteTask removes a task and its history.
func (s *SchedulerStore) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	delete(s.results, taskID)
	return nil
}

// RecordResult appends a task result.
func (s *SchedulerStore) RecordResult(_ context.Context, result *domain.TaskResult) error {
	if result == nil {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *result
	stored.FailedEntities = slices.Clone(result.FailedEntities)
	s.results[result.TaskID] = append(s.results[result.TaskID], stored)
	return nil
}

// GetTaskHistory returns the most recent results first.
func (s *SchedulerStore) GetTaskHistory(_ context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := slices.Clone(s.results[taskID])
	slices.Reverse(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// PruneHistory keeps the most recent keep results per task.
func (s *SchedulerStore) PruneHistory(_ context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, results := range s.results {
		if len(results) > keep {
			s.results[id] = slices.Clone(results[len(results)-keep:])
		}
	}
	return nil
}
