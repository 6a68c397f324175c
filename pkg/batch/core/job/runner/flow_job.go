package runner

import (
	"context"
	"fmt"
	"sync"

	multierror "github.com/hashicorp/go-multierror"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
	repository "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/repository"
	metrics "github.com/jiawu-lu/lubatch/pkg/batch/core/metrics"
	exception "github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// FlowElement is one entry of a job flow: a port.Step or a port.Split.
type FlowElement struct {
	Element port.FlowElement
	// AllowFailure lets the flow continue when the element fails.
	AllowFailure bool
}

// FlowJobConfig holds the settings of a FlowJob.
type FlowJobConfig struct {
	Elements       []FlowElement
	JobRepository  repository.JobRepository
	Listeners      []port.JobExecutionListener
	Incrementer    port.JobParametersIncrementer
	RequiredParams []string
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
}

// FlowJob is an implementation of port.Job that runs its flow elements in declared order.
type FlowJob struct {
	id             string
	name           string
	elements       []FlowElement
	jobRepository  repository.JobRepository
	jobListeners   []port.JobExecutionListener
	incrementer    port.JobParametersIncrementer
	requiredParams []string
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer

	// mu guards the JobExecution while split steps run and while a stop is requested.
	mu sync.Mutex
	// active holds the IDs of the executions whose flow is running.
	active map[string]struct{}
}

var (
	_ port.Job          = (*FlowJob)(nil)
	_ port.StoppableJob = (*FlowJob)(nil)
)

// NewFlowJob creates a new instance of FlowJob.
//
// Parameters:
//
//	name: The job name. JobInstances are keyed by it together with the JobParameters.
//	cfg: The repository, the steps in flow order, and the job listeners.
//
// Returns:
//   - *FlowJob: The job, ready to be run by a JobRunner.
//   - error: A ConfigurationError for a missing name or repository, an empty flow, or a duplicate step name.
func NewFlowJob(name string, cfg FlowJobConfig) (*FlowJob, error) {
	if name == "" {
		return nil, exception.NewConfigurationError("job requires a name", nil)
	}
	if len(cfg.Elements) == 0 {
		return nil, exception.NewConfigurationError(fmt.Sprintf("job '%s' has no steps", name), nil)
	}
	if cfg.JobRepository == nil {
		return nil, exception.NewConfigurationError(fmt.Sprintf("job '%s': job repository is required", name), nil)
	}
	seen := make(map[string]struct{})
	for _, e := range cfg.Elements {
		var steps []port.Step
		switch elem := e.Element.(type) {
		case port.Step:
			steps = []port.Step{elem}
		case port.Split:
			steps = elem.Steps()
			if len(steps) == 0 {
				return nil, exception.NewConfigurationError(fmt.Sprintf("job '%s': split '%s' has no steps", name, elem.ID()), nil)
			}
		default:
			return nil, exception.NewConfigurationError(fmt.Sprintf("job '%s': unknown flow element type %T", name, e.Element), nil)
		}
		for _, s := range steps {
			if _, dup := seen[s.StepName()]; dup {
				return nil, exception.NewConfigurationError(fmt.Sprintf("job '%s': duplicate step name '%s'", name, s.StepName()), nil)
			}
			seen[s.StepName()] = struct{}{}
		}
	}

	j := &FlowJob{
		id:             name,
		name:           name,
		elements:       cfg.Elements,
		jobRepository:  cfg.JobRepository,
		jobListeners:   cfg.Listeners,
		incrementer:    cfg.Incrementer,
		requiredParams: cfg.RequiredParams,
		metricRecorder: cfg.MetricRecorder,
		tracer:         cfg.Tracer,
		active:         make(map[string]struct{}),
	}
	if j.metricRecorder == nil {
		j.metricRecorder = metrics.NewNoOpMetricRecorder()
	}
	if j.tracer == nil {
		j.tracer = metrics.NewNoOpTracer()
	}
	return j, nil
}

// ID returns the job ID.
func (j *FlowJob) ID() string {
	return j.id
}

// JobName returns the job name.
func (j *FlowJob) JobName() string {
	return j.name
}

// Incrementer returns the parameters incrementer applied on launch.
func (j *FlowJob) Incrementer() port.JobParametersIncrementer {
	return j.incrementer
}

// ValidateParameters checks that the required parameters are present.
func (j *FlowJob) ValidateParameters(params model.JobParameters) error {
	logger.Debugf("Job '%s': validating JobParameters: %s", j.name, params.String())
	for _, key := range j.requiredParams {
		if params.Get(key) == nil {
			return exception.NewConfigurationError(fmt.Sprintf("job '%s': required parameter '%s' is missing", j.name, key), nil)
		}
	}
	return nil
}

func (j *FlowJob) notifyBeforeJob(ctx context.Context, jobExecution *model.JobExecution) {
	for _, l := range j.jobListeners {
		l.BeforeJob(ctx, jobExecution)
	}
}

func (j *FlowJob) notifyAfterJob(ctx context.Context, jobExecution *model.JobExecution) {
	for _, l := range j.jobListeners {
		l.AfterJob(ctx, jobExecution)
	}
}

// Run executes the flow elements in order.
// It leaves jobExecution in COMPLETED, FAILED or STOPPED and returns the failure cause, if any.
func (j *FlowJob) Run(ctx context.Context, jobExecution *model.JobExecution, jobParameters model.JobParameters) (runErr error) {
	logger.Infof("Starting Job '%s' (Execution ID: %s, run id %d).", j.name, jobExecution.ID, jobExecution.RunID)

	ctx, finishSpan := j.tracer.StartJobSpan(ctx, jobExecution)
	defer finishSpan()
	persistCtx := context.WithoutCancel(ctx)

	j.metricRecorder.RecordJobStart(ctx, jobExecution)
	j.notifyBeforeJob(ctx, jobExecution)

	j.mu.Lock()
	j.active[jobExecution.ID] = struct{}{}
	j.mu.Unlock()

	defer func() {
		j.notifyAfterJob(persistCtx, jobExecution)
		j.metricRecorder.RecordJobEnd(persistCtx, jobExecution)
		logger.Infof("Job '%s' (Execution ID: %s) finished. Final Status: %s, Exit Status: %s",
			j.name, jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus)
		for _, se := range jobExecution.StepExecutions {
			logger.Debugf("  StepExecution Details (Step: %s): %s", se.StepName, se.DebugString())
		}
	}()
	defer func() {
		j.mu.Lock()
		delete(j.active, jobExecution.ID)
		j.mu.Unlock()
	}()

	for _, fe := range j.elements {
		if err := ctx.Err(); err != nil {
			logger.Warnf("Job '%s': stop requested before flow element '%s'.", j.name, fe.Element.ID())
			j.mark(jobExecution.MarkAsStopped)
			return nil
		}

		var (
			stopped bool
			err     error
		)
		switch elem := fe.Element.(type) {
		case port.Step:
			stopped, err = j.runStep(ctx, jobExecution, elem)
		case port.Split:
			stopped, err = j.runSplit(ctx, jobExecution, elem)
		}

		j.mu.Lock()
		if updateErr := j.jobRepository.UpdateJobExecution(persistCtx, jobExecution); updateErr != nil {
			logger.Errorf("Job '%s': failed to update JobExecution after '%s': %v", j.name, fe.Element.ID(), updateErr)
		}
		j.mu.Unlock()

		if err != nil {
			j.tracer.RecordError(ctx, "job_runner", err)
			if fe.AllowFailure {
				logger.Warnf("Job '%s': flow element '%s' failed, continuing as it allows failure: %v", j.name, fe.Element.ID(), err)
				continue
			}
			logger.Errorf("Job '%s': flow element '%s' failed: %v", j.name, fe.Element.ID(), err)
			j.mark(func() { jobExecution.MarkAsFailed(err) })
			return err
		}
		if stopped {
			logger.Warnf("Job '%s': stopped in flow element '%s'.", j.name, fe.Element.ID())
			j.mark(jobExecution.MarkAsStopped)
			return nil
		}
	}

	j.mark(jobExecution.MarkAsCompleted)
	return nil
}

// mark applies a status change to the running JobExecution under mu.
func (j *FlowJob) mark(change func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	change()
}

// RequestStop moves a running jobExecution to STOPPING and persists it. The flow
// observes the stop through its cancelled context at the next chunk boundary.
// It does nothing when the flow of jobExecution is not running.
func (j *FlowJob) RequestStop(ctx context.Context, jobExecution *model.JobExecution) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.active[jobExecution.ID]; !ok || jobExecution.Status == model.BatchStatusStopping {
		return nil
	}
	if err := jobExecution.TransitionTo(model.BatchStatusStopping); err != nil {
		return err
	}
	if err := j.jobRepository.UpdateJobExecution(ctx, jobExecution); err != nil {
		return exception.NewBatchError(j.name, fmt.Sprintf("Failed to update JobExecution (ID: %s) to STOPPING", jobExecution.ID), err, false, false)
	}
	logger.Infof("Job '%s': JobExecution (ID: %s) is STOPPING.", j.name, jobExecution.ID)
	return nil
}

// stepExecutionFor returns the StepExecution to run for step, creating and saving it if needed.
// It returns nil when the step already completed in an earlier attempt.
func (j *FlowJob) stepExecutionFor(ctx context.Context, jobExecution *model.JobExecution, stepName string) (*model.StepExecution, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	jobExecution.CurrentStepName = stepName
	if se := jobExecution.FindStepExecution(stepName); se != nil {
		switch se.Status {
		case model.BatchStatusCompleted:
			logger.Infof("Job '%s': Step '%s' (ID: %s) already completed. Skipping execution.", j.name, stepName, se.ID)
			return nil, nil
		case model.BatchStatusStarting:
			logger.Infof("Job '%s': Reusing StepExecution (ID: %s) for step '%s', resuming at offset %d.", j.name, se.ID, stepName, se.Offset())
			return se, nil
		}
	}

	se := model.NewStepExecution(model.NewID(), jobExecution, stepName)
	if err := j.jobRepository.SaveStepExecution(ctx, se); err != nil {
		return nil, exception.NewBatchError(j.name, fmt.Sprintf("Error saving StepExecution for step '%s'", stepName), err, false, false)
	}
	jobExecution.AddStepExecution(se)
	return se, nil
}

// runStep executes one step and reports whether it ended STOPPED.
func (j *FlowJob) runStep(ctx context.Context, jobExecution *model.JobExecution, step port.Step) (bool, error) {
	se, err := j.stepExecutionFor(context.WithoutCancel(ctx), jobExecution, step.StepName())
	if err != nil || se == nil {
		return false, err
	}
	if err := step.Execute(port.GetContextWithStepExecution(ctx, se), jobExecution, se); err != nil {
		return false, err
	}
	switch se.Status {
	case model.BatchStatusStopped:
		return true, nil
	case model.BatchStatusFailed:
		return false, fmt.Errorf("step '%s' failed: %s", step.StepName(), se.Failures.Last())
	}
	logger.Infof("Job '%s': Step '%s' completed successfully. ExitStatus: %s", j.name, step.StepName(), se.ExitStatus)
	return false, nil
}

// runSplit executes the split's steps in parallel and waits for all of them.
// Failures are combined; the split is stopped if any of its steps stopped.
func (j *FlowJob) runSplit(ctx context.Context, jobExecution *model.JobExecution, split port.Split) (bool, error) {
	steps := split.Steps()
	logger.Infof("Job '%s': Executing Split '%s'. Number of parallel steps: %d", j.name, split.ID(), len(steps))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		result  *multierror.Error
		stopped bool
	)
	for _, s := range steps {
		wg.Add(1)
		go func(step port.Step) {
			defer wg.Done()
			stepStopped, err := j.runStep(ctx, jobExecution, step)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result = multierror.Append(result, err)
			}
			stopped = stopped || stepStopped
		}(s)
	}
	wg.Wait()

	if err := result.ErrorOrNil(); err != nil {
		return stopped, fmt.Errorf("split '%s': %w", split.ID(), err)
	}
	logger.Infof("Job '%s': Execution of Split '%s' completed.", j.name, split.ID())
	return stopped, nil
}
