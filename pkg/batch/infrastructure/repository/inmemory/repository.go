// Package inmemory provides an in-memory implementation of the JobRepository interface.
// It stores snapshots of job metadata in maps, suitable for testing and for runs where
// persistence across process restarts is not required.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

// InMemoryJobRepository is an in-memory implementation of the JobRepository interface.
//
// Entities are stored as copies so callers never share state with the store. Updates
// issued with a synchronizing transaction in the context (see tx.Synchronizer) are applied
// only when that transaction commits.
type InMemoryJobRepository struct {
	jobInstances   map[string]*model.JobInstance
	jobExecutions  map[string]*model.JobExecution
	stepExecutions map[string]*model.StepExecution
	mu             sync.RWMutex
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)

// NewInMemoryJobRepository creates and initializes a new instance of InMemoryJobRepository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobInstances:   make(map[string]*model.JobInstance),
		jobExecutions:  make(map[string]*model.JobExecution),
		stepExecutions: make(map[string]*model.StepExecution),
	}
}

// Close releases resources used by the repository. It holds none.
func (r *InMemoryJobRepository) Close() error {
	return nil
}

// apply runs fn now, or on commit of the transaction carried by ctx.
func (r *InMemoryJobRepository) apply(ctx context.Context, fn func()) {
	if t, ok := tx.FromContext(ctx); ok {
		if tx.OnCompletion(t, func(committed bool) {
			if committed {
				fn()
			}
		}) {
			return
		}
	}
	fn()
}

// checkVersion fails when the stored version differs from the caller's.
func checkVersion(entity, id string, stored, given int) error {
	if stored != given {
		return exception.NewOptimisticLockingFailureException("inmemory",
			fmt.Sprintf("%s (ID: %s) was updated concurrently: stored version %d, given %d", entity, id, stored, given), nil)
	}
	return nil
}

func cloneJobInstance(ji *model.JobInstance) *model.JobInstance {
	c := *ji
	c.Parameters = ji.Parameters.Copy()
	return &c
}

func cloneJobExecution(je *model.JobExecution) *model.JobExecution {
	c := *je
	c.Parameters = je.Parameters.Copy()
	c.ExecutionContext = je.ExecutionContext.Copy()
	c.Failures = append(model.FailureList{}, je.Failures...)
	c.StepExecutions = make([]*model.StepExecution, 0)
	if je.EndTime != nil {
		end := *je.EndTime
		c.EndTime = &end
	}
	return &c
}

func cloneStepExecution(se *model.StepExecution) *model.StepExecution {
	c := *se
	c.JobExecution = nil
	c.ExecutionContext = se.ExecutionContext.Copy()
	c.Failures = append(model.FailureList{}, se.Failures...)
	if se.EndTime != nil {
		end := *se.EndTime
		c.EndTime = &end
	}
	return &c
}
