package usecase

import (
	"context"
	"errors"
	"fmt"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	repository "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// DefaultJobOperator implements JobOperator on top of a SimpleJobLauncher.
type DefaultJobOperator struct {
	jobRepository repository.JobRepository
	jobLauncher   *SimpleJobLauncher
	jobExplorer   JobExplorer
}

var _ JobOperator = (*DefaultJobOperator)(nil)

// NewDefaultJobOperator creates a new DefaultJobOperator.
//
// Parameters:
//
//	jobRepository: The JobRepository the operator reads and updates.
//	launcher: The launcher that runs restarted executions and tracks running ones.
//	explorer: The read side used to find restartable executions.
func NewDefaultJobOperator(jobRepository repository.JobRepository, launcher *SimpleJobLauncher, explorer JobExplorer) *DefaultJobOperator {
	return &DefaultJobOperator{
		jobRepository: jobRepository,
		jobLauncher:   launcher,
		jobExplorer:   explorer,
	}
}

// Restart restarts the specified JobExecution of job.
//
// The previous execution is marked ABANDONED so it cannot be restarted twice. The new
// execution belongs to the same JobInstance, starts in RESTARTING, and carries copies
// of the previous StepExecutions: COMPLETED steps are skipped, the others resume at
// their last committed offset.
func (o *DefaultJobOperator) Restart(ctx context.Context, job port.Job, executionID string) (*model.JobExecution, error) {
	logger.Infof("JobOperator: Restart method called. Job: %s, Execution ID: %s", job.JobName(), executionID)

	prev, err := o.restartable(ctx, job.JobName(), executionID)
	if err != nil {
		return nil, err
	}

	prev.MarkAsAbandoned()
	if err := o.jobRepository.UpdateJobExecution(ctx, prev); err != nil {
		return nil, exception.NewBatchError("job_operator", fmt.Sprintf("Failed to update JobExecution (ID: %s) to ABANDONED", prev.ID), err, false, false)
	}
	logger.Infof("Updated status of existing JobExecution (ID: %s) to ABANDONED.", prev.ID)

	next := model.NewJobExecution(prev.JobInstanceID, prev.JobName, prev.Parameters)
	next.ExecutionContext = prev.ExecutionContext.Copy()
	next.RestartCount = prev.RestartCount + 1
	next.CurrentStepName = prev.CurrentStepName
	next.Status = model.BatchStatusRestarting
	if err := o.jobRepository.SaveJobExecution(ctx, next); err != nil {
		return nil, exception.NewBatchError("job_operator", "Failed to save restart JobExecution", err, false, false)
	}

	for _, prevStep := range prev.StepExecutions {
		if next.FindStepExecution(prevStep.StepName) != nil {
			continue
		}
		se := prevStep.CopyForRestart(next.ID)
		next.AddStepExecution(se)
		if err := o.jobRepository.SaveStepExecution(ctx, se); err != nil {
			return nil, exception.NewBatchError("job_operator", fmt.Sprintf("Failed to save restart StepExecution for step '%s'", se.StepName), err, false, false)
		}
	}
	logger.Infof("Created restart JobExecution (ID: %s). Restart Count: %d", next.ID, next.RestartCount)

	return o.jobLauncher.run(ctx, job, next), nil
}

// restartable loads the execution to restart and checks that it may be restarted.
func (o *DefaultJobOperator) restartable(ctx context.Context, jobName, executionID string) (*model.JobExecution, error) {
	if executionID == "" {
		executions, err := o.jobRepository.FindJobExecutionsByJobName(ctx, jobName)
		if err != nil {
			return nil, exception.NewBatchError("job_operator", fmt.Sprintf("Failed to list executions of job '%s'", jobName), err, false, false)
		}
		for _, je := range executions {
			if je.Status.IsRestartable() {
				return je, nil
			}
		}
		return nil, exception.NewJobRestartError("job '%s' has no FAILED or STOPPED execution to restart", jobName)
	}

	prev, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if errors.Is(err, repository.ErrJobExecutionNotFound) {
		return nil, exception.NewJobRestartError("JobExecution (ID: %s) not found", executionID)
	}
	if err != nil {
		return nil, exception.NewBatchError("job_operator", fmt.Sprintf("Failed to load JobExecution (ID: %s)", executionID), err, false, false)
	}
	if prev.JobName != jobName {
		return nil, exception.NewJobRestartError("JobExecution (ID: %s) belongs to job '%s', not '%s'", executionID, prev.JobName, jobName)
	}
	if !prev.Status.IsRestartable() {
		return nil, exception.NewJobRestartError("JobExecution (ID: %s) is not in a restartable state (current status: %s)", executionID, prev.Status)
	}
	return prev, nil
}

// Stop requests the specified JobExecution to stop.
// Only executions running in this process can be stopped. The execution is moved to
// STOPPING and persisted, the running step honours the request at its next chunk
// boundary, and the execution ends STOPPED.
//
// Parameters:
//
//	ctx: The context for the operation.
//	executionID: The ID of the running JobExecution.
//
// Returns:
//   - error: A BatchError when the execution is not running here or STOPPING cannot be persisted.
func (o *DefaultJobOperator) Stop(ctx context.Context, executionID string) error {
	logger.Infof("JobOperator: Stop method called. Execution ID: %s", executionID)

	cancelFunc, ok := o.jobLauncher.GetCancelFunc(executionID)
	if !ok {
		return exception.NewBatchErrorf("job_operator", "Stop processing error: JobExecution (ID: %s) is not running in this process", executionID)
	}
	if run, ok := o.jobLauncher.running(executionID); ok {
		if stoppable, ok := run.job.(port.StoppableJob); ok {
			if err := stoppable.RequestStop(context.WithoutCancel(ctx), run.execution); err != nil {
				return exception.NewBatchError("job_operator", fmt.Sprintf("Stop processing error: JobExecution (ID: %s)", executionID), err, false, false)
			}
		}
	}
	cancelFunc()
	logger.Infof("Sent stop signal for JobExecution (ID: %s).", executionID)
	return nil
}

// Abandon marks a FAILED or STOPPED JobExecution as ABANDONED.
func (o *DefaultJobOperator) Abandon(ctx context.Context, executionID string) error {
	logger.Infof("JobOperator: Abandon method called. Execution ID: %s", executionID)

	jobExecution, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return exception.NewBatchError("job_operator", fmt.Sprintf("Abandon processing error: Failed to load JobExecution (ID: %s)", executionID), err, false, false)
	}
	if jobExecution.Status == model.BatchStatusAbandoned {
		logger.Infof("JobExecution (ID: %s) is already in ABANDONED status.", executionID)
		return nil
	}
	if !jobExecution.Status.IsRestartable() {
		return exception.NewBatchErrorf("job_operator", "Abandon processing error: JobExecution (ID: %s) cannot be abandoned in status %s", executionID, jobExecution.Status)
	}

	jobExecution.MarkAsAbandoned()
	if err := o.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
		return exception.NewBatchError("job_operator", fmt.Sprintf("Abandon processing error: Failed to update JobExecution (ID: %s) status", executionID), err, false, false)
	}
	logger.Infof("Successfully abandoned JobExecution (ID: %s).", executionID)
	return nil
}

// Executions lists the executions of jobName, newest first.
func (o *DefaultJobOperator) Executions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	return o.jobExplorer.GetJobExecutions(ctx, jobName)
}
