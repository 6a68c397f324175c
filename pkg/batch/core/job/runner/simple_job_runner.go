// Package runner executes jobs: FlowJob runs a job's steps in order and
// SimpleJobRunner drives it for one JobExecution.
package runner

import (
	"context"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	repository "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// SimpleJobRunner is an implementation of port.JobRunner that executes the flow by calling the Job's Run method.
type SimpleJobRunner struct {
	jobRepository repository.JobRepository
}

// NewSimpleJobRunner creates an instance of SimpleJobRunner.
func NewSimpleJobRunner(repo repository.JobRepository) *SimpleJobRunner {
	return &SimpleJobRunner{jobRepository: repo}
}

// Run executes the Job's flow and persists the final JobExecution.
func (r *SimpleJobRunner) Run(ctx context.Context, job port.Job, jobExecution *model.JobExecution) error {
	persistCtx := context.WithoutCancel(ctx)

	if jobExecution.Status == model.BatchStatusStarting || jobExecution.Status == model.BatchStatusRestarting {
		jobExecution.MarkAsStarted()
		if err := r.jobRepository.UpdateJobExecution(persistCtx, jobExecution); err != nil {
			logger.Errorf("JobRunner: Failed to update JobExecution (ID: %s) status to STARTED: %v", jobExecution.ID, err)
			jobExecution.MarkAsFailed(err)
			return err
		}
	}

	err := job.Run(ctx, jobExecution, jobExecution.Parameters)

	if err != nil {
		if jobExecution.Status.IsFinished() {
			logger.Debugf("JobRunner: Job execution finished with error, status already set to %s.", jobExecution.Status)
		} else {
			jobExecution.MarkAsFailed(err)
		}
	} else if !jobExecution.Status.IsFinished() {
		jobExecution.MarkAsCompleted()
	}

	if updateErr := r.jobRepository.UpdateJobExecution(persistCtx, jobExecution); updateErr != nil {
		// Persistence errors are not job failures; they stay out of Failures.
		logger.Errorf("JobRunner: Failed to update final JobExecution (ID: %s) state: %v", jobExecution.ID, updateErr)
		if err == nil {
			err = updateErr
		}
	}
	return err
}

var _ port.JobRunner = (*SimpleJobRunner)(nil)
