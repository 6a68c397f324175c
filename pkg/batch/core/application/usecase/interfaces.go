// Package usecase holds the entry points of the batch engine: launching jobs,
// operating on executions, and exploring execution metadata.
package usecase

import (
	"context"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
)

// JobLauncher launches a Job with JobParameters.
// It is equivalent to Spring Batch's JobLauncher.
type JobLauncher interface {
	// Launch runs job to completion and returns its final JobExecution.
	// The error reports a failure of the launch itself (invalid parameters, metadata
	// store errors), not a failure of the job; the latter is reflected in the status.
	Launch(ctx context.Context, job port.Job, params model.JobParameters) (*model.JobExecution, error)
}

// JobOperator performs operations on job executions (restart, stop, abandon).
// It is equivalent to Spring Batch's JobOperator.
type JobOperator interface {
	// Restart runs a new JobExecution for the JobInstance of a FAILED or STOPPED execution.
	// An empty executionID selects the latest restartable execution of job.
	Restart(ctx context.Context, job port.Job, executionID string) (*model.JobExecution, error)

	// Stop requests a running JobExecution to stop at its next chunk boundary.
	Stop(ctx context.Context, executionID string) error

	// Abandon marks a FAILED or STOPPED JobExecution as not restartable.
	Abandon(ctx context.Context, executionID string) error

	// Executions lists the executions of jobName, newest first.
	Executions(ctx context.Context, jobName string) ([]*model.JobExecution, error)
}

// JobExplorer is an interface for querying batch metadata (JobInstance, JobExecution, StepExecution).
// It is equivalent to Spring Batch's JobExplorer.
type JobExplorer interface {
	// GetJobExecution retrieves a JobExecution by its ID.
	GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error)

	// GetJobExecutions retrieves the JobExecutions of jobName, newest first.
	GetJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error)

	// GetLastJobInstance retrieves the JobInstance of jobName with the highest run id.
	GetLastJobInstance(ctx context.Context, jobName string) (*model.JobInstance, error)

	// GetJobNames retrieves all job names known to the repository.
	GetJobNames(ctx context.Context) ([]string, error)
}
