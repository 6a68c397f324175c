package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
)

// SaveStepExecution persists a new StepExecution.
func (r *InMemoryJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stepExecutions[stepExecution.ID]; exists {
		return fmt.Errorf("StepExecution with ID %s already exists", stepExecution.ID)
	}
	stepExecution.Version = 0
	r.stepExecutions[stepExecution.ID] = cloneStepExecution(stepExecution)
	return nil
}

// UpdateStepExecution updates an existing StepExecution and bumps its version.
// Inside a chunk transaction the stored copy changes only on commit.
func (r *InMemoryJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	stored, exists := r.stepExecutions[stepExecution.ID]
	if !exists {
		r.mu.Unlock()
		return repository.ErrStepExecutionNotFound
	}
	if err := checkVersion("StepExecution", stepExecution.ID, stored.Version, stepExecution.Version); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	stepExecution.Version++
	snapshot := cloneStepExecution(stepExecution)
	r.apply(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.stepExecutions[snapshot.ID] = snapshot
	})
	return nil
}

// FindStepExecutionByID finds a StepExecution by its ID.
func (r *InMemoryJobRepository) FindStepExecutionByID(ctx context.Context, id string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stepExecution, ok := r.stepExecutions[id]
	if !ok {
		return nil, repository.ErrStepExecutionNotFound
	}
	return cloneStepExecution(stepExecution), nil
}

// FindStepExecutionsByJobExecutionID returns the StepExecutions of a JobExecution in start order.
func (r *InMemoryJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := make([]*model.StepExecution, 0)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == jobExecutionID {
			steps = append(steps, cloneStepExecution(se))
		}
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StartTime.Before(steps[j].StartTime)
	})
	return steps, nil
}
