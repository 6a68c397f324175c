package usecase

import (
	"context"
	"fmt"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	repository "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// SimpleJobExplorer is a simple implementation of the JobExplorer interface.
// It queries batch metadata using a JobRepository.
type SimpleJobExplorer struct {
	jobRepository repository.JobRepository
}

var _ JobExplorer = (*SimpleJobExplorer)(nil)

// NewSimpleJobExplorer creates a new instance of SimpleJobExplorer.
func NewSimpleJobExplorer(jobRepository repository.JobRepository) *SimpleJobExplorer {
	return &SimpleJobExplorer{jobRepository: jobRepository}
}

// GetJobExecution retrieves a JobExecution by its ID, with its StepExecutions.
func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	jobExecution, err := e.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobExecution (ID: %s)", executionID), err, false, false)
	}
	return jobExecution, nil
}

// GetJobExecutions retrieves the JobExecutions of jobName, newest first.
func (e *SimpleJobExplorer) GetJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	jobExecutions, err := e.jobRepository.FindJobExecutionsByJobName(ctx, jobName)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobExecutions of job '%s'", jobName), err, false, false)
	}
	logger.Debugf("Retrieved %d JobExecutions of job '%s'.", len(jobExecutions), jobName)
	return jobExecutions, nil
}

// GetLastJobInstance retrieves the JobInstance of jobName with the highest run id.
func (e *SimpleJobExplorer) GetLastJobInstance(ctx context.Context, jobName string) (*model.JobInstance, error) {
	jobInstance, err := e.jobRepository.FindLatestJobInstance(ctx, jobName)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve the latest JobInstance of job '%s'", jobName), err, false, false)
	}
	return jobInstance, nil
}

// GetJobNames retrieves all job names known to the repository.
func (e *SimpleJobExplorer) GetJobNames(ctx context.Context) ([]string, error) {
	names, err := e.jobRepository.GetJobNames(ctx)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", "Failed to retrieve job names", err, false, false)
	}
	return names, nil
}
