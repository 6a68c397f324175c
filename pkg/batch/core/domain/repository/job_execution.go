package repository

import (
	"context"
	"errors"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

// ErrJobExecutionNotFound is the error returned when a JobExecution is not found.
var ErrJobExecutionNotFound = errors.New("job execution not found")

func init() {
	exception.RegisterErrorType("ErrJobExecutionNotFound", ErrJobExecutionNotFound)
}

// JobExecution persists JobExecutions. Updates are versioned: a stale version is
// reported as ErrOptimisticLockingFailure.
type JobExecution interface {
	// SaveJobExecution persists a new JobExecution
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	// UpdateJobExecution updates the state of an existing JobExecution.
	// It fails with an OptimisticLockingFailureException when the stored version has moved on.
	UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	// FindJobExecutionByID finds a JobExecution by its ID, with its StepExecutions loaded.
	FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error)

	// FindLatestRestartableJobExecution finds the latest FAILED or STOPPED JobExecution of a JobInstance.
	FindLatestRestartableJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error)

	// FindJobExecutionsByJobInstance finds all JobExecutions of the JobInstance, newest first.
	FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *model.JobInstance) ([]*model.JobExecution, error)

	// FindJobExecutionsByJobName finds all JobExecutions of jobName, newest first.
	FindJobExecutionsByJobName(ctx context.Context, jobName string) ([]*model.JobExecution, error)
}
