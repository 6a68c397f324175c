package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
)

// SaveJobExecution persists a new JobExecution.
func (r *InMemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobExecutions[jobExecution.ID]; exists {
		return fmt.Errorf("JobExecution with ID %s already exists", jobExecution.ID)
	}
	jobExecution.Version = 0
	r.jobExecutions[jobExecution.ID] = cloneJobExecution(jobExecution)
	return nil
}

// UpdateJobExecution updates an existing JobExecution and bumps its version.
func (r *InMemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	stored, exists := r.jobExecutions[jobExecution.ID]
	if !exists {
		r.mu.Unlock()
		return repository.ErrJobExecutionNotFound
	}
	if err := checkVersion("JobExecution", jobExecution.ID, stored.Version, jobExecution.Version); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	jobExecution.Version++
	snapshot := cloneJobExecution(jobExecution)
	r.apply(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.jobExecutions[snapshot.ID] = snapshot
	})
	return nil
}

// withSteps returns a copy of je with its StepExecutions attached in start order. Callers hold r.mu.
func (r *InMemoryJobRepository) withSteps(je *model.JobExecution) *model.JobExecution {
	c := cloneJobExecution(je)
	steps := make([]*model.StepExecution, 0)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == c.ID {
			steps = append(steps, cloneStepExecution(se))
		}
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StartTime.Before(steps[j].StartTime)
	})
	for _, se := range steps {
		c.AddStepExecution(se)
	}
	return c
}

// FindJobExecutionByID finds a JobExecution by its ID, with its StepExecutions.
func (r *InMemoryJobRepository) FindJobExecutionByID(ctx context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobExecution, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(jobExecution), nil
}

// FindLatestRestartableJobExecution finds the latest FAILED or STOPPED JobExecution of a JobInstance.
func (r *InMemoryJobRepository) FindLatestRestartableJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.JobExecution
	for _, je := range r.jobExecutions {
		if je.JobInstanceID != jobInstanceID || !je.Status.IsRestartable() {
			continue
		}
		if latest == nil || je.CreateTime.After(latest.CreateTime) {
			latest = je
		}
	}
	if latest == nil {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(latest), nil
}

// FindJobExecutionsByJobInstance finds all JobExecutions of the JobInstance, newest first.
// StepExecutions are not loaded.
func (r *InMemoryJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *model.JobInstance) ([]*model.JobExecution, error) {
	return r.findJobExecutions(func(je *model.JobExecution) bool { return je.JobInstanceID == jobInstance.ID }), nil
}

// FindJobExecutionsByJobName finds all JobExecutions of jobName, newest first, with their StepExecutions.
func (r *InMemoryJobRepository) FindJobExecutionsByJobName(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	executions := r.findJobExecutions(func(je *model.JobExecution) bool { return je.JobName == jobName })
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, je := range executions {
		executions[i] = r.withSteps(je)
	}
	return executions, nil
}

func (r *InMemoryJobRepository) findJobExecutions(match func(*model.JobExecution) bool) []*model.JobExecution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executions := make([]*model.JobExecution, 0)
	for _, je := range r.jobExecutions {
		if match(je) {
			executions = append(executions, cloneJobExecution(je))
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[j].CreateTime.Before(executions[i].CreateTime)
	})
	return executions
}
