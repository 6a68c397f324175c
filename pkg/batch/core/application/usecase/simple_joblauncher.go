package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	repository "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// SimpleJobLauncher implements JobLauncher for local, synchronous execution.
type SimpleJobLauncher struct {
	jobRepository repository.JobRepository
	jobRunner     port.JobRunner
	// activeJobCancellations holds the cancel functions for running jobs.
	activeJobCancellations map[string]context.CancelFunc
	// activeJobs holds the job and live JobExecution of running executions.
	activeJobs map[string]runningJob
	mu         sync.Mutex
}

type runningJob struct {
	job       port.Job
	execution *model.JobExecution
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)

// NewSimpleJobLauncher creates a new SimpleJobLauncher.
//
// Parameters:
//
//	repo: The JobRepository holding JobInstances and JobExecutions.
//	runner: The JobRunner that drives each launched execution.
func NewSimpleJobLauncher(repo repository.JobRepository, runner port.JobRunner) *SimpleJobLauncher {
	return &SimpleJobLauncher{
		jobRepository:          repo,
		jobRunner:              runner,
		activeJobCancellations: make(map[string]context.CancelFunc),
		activeJobs:             make(map[string]runningJob),
	}
}

// RegisterCancelFunc registers the cancel function for a running job execution.
func (l *SimpleJobLauncher) RegisterCancelFunc(executionID string, cancelFunc context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activeJobCancellations[executionID] = cancelFunc
	logger.Debugf("Registered CancelFunc for JobExecution (ID: %s).", executionID)
}

// UnregisterCancelFunc unregisters the cancel function for a running job execution.
func (l *SimpleJobLauncher) UnregisterCancelFunc(executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.activeJobCancellations[executionID]; ok {
		delete(l.activeJobCancellations, executionID)
		logger.Debugf("Unregistered CancelFunc for JobExecution (ID: %s).", executionID)
	}
}

// GetCancelFunc retrieves the cancel function for the specified JobExecution ID.
func (l *SimpleJobLauncher) GetCancelFunc(executionID string) (context.CancelFunc, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cancelFunc, ok := l.activeJobCancellations[executionID]
	return cancelFunc, ok
}

// running returns the job and live JobExecution of a running execution.
func (l *SimpleJobLauncher) running(executionID string) (runningJob, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.activeJobs[executionID]
	return r, ok
}

// Launch creates a new JobInstance and JobExecution for job and runs it.
//
// When the job has an incrementer, it is applied to the parameters of the job's latest
// instance (the one with the highest run id) and the caller's parameters are laid over
// the result, so every launch gets a fresh run id.
func (l *SimpleJobLauncher) Launch(ctx context.Context, job port.Job, jobParameters model.JobParameters) (*model.JobExecution, error) {
	const op = "job_launcher"
	jobName := job.JobName()
	logger.Infof("Launching Job '%s'. Parameters: %s", jobName, jobParameters.String())

	if inc := job.Incrementer(); inc != nil {
		next, err := l.nextParameters(ctx, jobName, inc, jobParameters)
		if err != nil {
			return nil, err
		}
		jobParameters = next
		logger.Infof("Generated new JobParameters using JobParametersIncrementer: %s", jobParameters.String())
	}

	if err := job.ValidateParameters(jobParameters); err != nil {
		logger.Errorf("Job '%s': JobParameters validation failed: %v", jobName, err)
		return nil, err
	}

	existing, err := l.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, jobName, jobParameters)
	if err != nil && !errors.Is(err, repository.ErrJobInstanceNotFound) {
		return nil, exception.NewBatchError(op, "Failed to search for existing JobInstance", err, false, false)
	}
	if existing != nil {
		return nil, exception.NewJobRestartError("a JobInstance of job '%s' with these parameters already exists (ID: %s); use restart or change the parameters", jobName, existing.ID)
	}

	jobInstance := model.NewJobInstance(jobName, jobParameters)
	if err := l.jobRepository.SaveJobInstance(ctx, jobInstance); err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("Failed to save new JobInstance for '%s'", jobName), err, false, false)
	}
	logger.Infof("Created and saved new JobInstance (ID: %s, JobName: %s, run id: %d).", jobInstance.ID, jobName, jobInstance.RunID)

	jobExecution := model.NewJobExecution(jobInstance.ID, jobName, jobInstance.Parameters)
	if err := l.jobRepository.SaveJobExecution(ctx, jobExecution); err != nil {
		return nil, exception.NewBatchError(op, "Failed to save JobExecution initially", err, false, false)
	}
	return l.run(ctx, job, jobExecution), nil
}

// nextParameters applies inc to the parameters of the latest instance of jobName.
func (l *SimpleJobLauncher) nextParameters(ctx context.Context, jobName string, inc port.JobParametersIncrementer, given model.JobParameters) (model.JobParameters, error) {
	last := model.NewJobParameters()
	latest, err := l.jobRepository.FindLatestJobInstance(ctx, jobName)
	switch {
	case err == nil:
		last = latest.Parameters
	case !errors.Is(err, repository.ErrJobInstanceNotFound):
		return model.JobParameters{}, exception.NewBatchError("job_launcher", "Failed to find the latest JobInstance", err, false, false)
	}

	next := inc.GetNext(last)
	for k, v := range given.Params {
		if k == model.RunIDKey {
			// The run id is owned by the incrementer.
			continue
		}
		next.Put(k, v)
	}
	return next, nil
}

// run executes jobExecution with a cancellable context registered under its ID.
func (l *SimpleJobLauncher) run(ctx context.Context, job port.Job, jobExecution *model.JobExecution) *model.JobExecution {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.RegisterCancelFunc(jobExecution.ID, cancel)
	defer l.UnregisterCancelFunc(jobExecution.ID)
	l.mu.Lock()
	l.activeJobs[jobExecution.ID] = runningJob{job: job, execution: jobExecution}
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.activeJobs, jobExecution.ID)
		l.mu.Unlock()
	}()

	logger.Infof("Starting Job '%s' (Execution ID: %s, Job Instance ID: %s).", job.JobName(), jobExecution.ID, jobExecution.JobInstanceID)
	if err := l.jobRunner.Run(jobCtx, job, jobExecution); err != nil {
		logger.Errorf("Job '%s' (Execution ID: %s) ended with %s: %v", job.JobName(), jobExecution.ID, jobExecution.Status, err)
	}
	return jobExecution
}
