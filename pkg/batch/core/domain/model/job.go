package model

import (
	"fmt"
	"time"

	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// JobInstance is the logical run of a job: one job name with one set of parameters.
type JobInstance struct {
	ID             string
	JobName        string
	Parameters     JobParameters
	ParametersHash string
	RunID          int64
	CreateTime     time.Time
	Version        int
}

// NewJobInstance creates a JobInstance and computes its parameter hash.
func NewJobInstance(jobName string, params JobParameters) *JobInstance {
	hash, err := params.Hash()
	if err != nil {
		logger.Errorf("Failed to calculate JobParameters hash: %v", err)
	}
	runID, _ := params.RunID()
	return &JobInstance{
		ID:             NewID(),
		JobName:        jobName,
		Parameters:     params,
		ParametersHash: hash,
		RunID:          runID,
		CreateTime:     time.Now(),
	}
}

// JobExecution is a single attempt to run a JobInstance.
type JobExecution struct {
	ID               string
	JobInstanceID    string
	JobName          string
	Parameters       JobParameters
	RunID            int64
	StartTime        time.Time
	EndTime          *time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	ExitCode         int
	Failures         FailureList
	Version          int
	CreateTime       time.Time
	LastUpdated      time.Time
	StepExecutions   []*StepExecution
	ExecutionContext ExecutionContext
	CurrentStepName  string
	RestartCount     int
}

// NewJobExecution creates a JobExecution in STARTING.
func NewJobExecution(jobInstanceID string, jobName string, params JobParameters) *JobExecution {
	now := time.Now()
	runID, _ := params.RunID()
	return &JobExecution{
		ID:               NewID(),
		JobInstanceID:    jobInstanceID,
		JobName:          jobName,
		Parameters:       params,
		RunID:            runID,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		CreateTime:       now,
		LastUpdated:      now,
		Failures:         make(FailureList, 0),
		StepExecutions:   make([]*StepExecution, 0),
		ExecutionContext: NewExecutionContext(),
	}
}

// TransitionTo changes Status if the transition is allowed.
func (je *JobExecution) TransitionTo(newStatus JobStatus) error {
	if !isValidJobTransition(je.Status, newStatus) {
		return fmt.Errorf("JobExecution (ID: %s): Invalid state transition: %s -> %s", je.ID, je.Status, newStatus)
	}
	je.Status = newStatus
	je.LastUpdated = time.Now()
	return nil
}

// apply moves the execution to status. An invalid transition is rejected: it is logged
// and leaves the execution unchanged.
func (je *JobExecution) apply(status JobStatus) bool {
	if err := je.TransitionTo(status); err != nil {
		logger.Warnf("Rejected status change of JobExecution (ID: %s): %v", je.ID, err)
		return false
	}
	return true
}

func (je *JobExecution) finish(status JobStatus, exit ExitStatus) {
	if !je.apply(status) {
		return
	}
	je.ExitStatus = exit
	now := time.Now()
	je.EndTime = &now
	je.LastUpdated = now
}

// MarkAsStarted moves the execution to STARTED.
func (je *JobExecution) MarkAsStarted() {
	if je.apply(BatchStatusStarted) {
		je.ExitStatus = ExitStatusExecuting
	}
}

// MarkAsCompleted moves the execution to COMPLETED.
func (je *JobExecution) MarkAsCompleted() {
	je.finish(BatchStatusCompleted, ExitStatusCompleted)
}

// MarkAsFailed moves the execution to FAILED and records err.
func (je *JobExecution) MarkAsFailed(err error) {
	je.finish(BatchStatusFailed, ExitStatusFailed)
	je.AddFailureException(err)
}

// MarkAsStopped moves the execution to STOPPED.
func (je *JobExecution) MarkAsStopped() {
	je.finish(BatchStatusStopped, ExitStatusStopped)
}

// MarkAsAbandoned moves the execution to ABANDONED.
func (je *JobExecution) MarkAsAbandoned() {
	je.finish(BatchStatusAbandoned, ExitStatusAbandoned)
}

// AddFailureException records err, ignoring duplicates.
func (je *JobExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	if je.Failures.add(err.Error()) {
		je.LastUpdated = time.Now()
	}
}

// AddStepExecution attaches se to the execution.
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	se.JobExecution = je
	se.JobExecutionID = je.ID
	je.StepExecutions = append(je.StepExecutions, se)
}

// FindStepExecution returns the attached StepExecution named stepName.
func (je *JobExecution) FindStepExecution(stepName string) *StepExecution {
	for i := len(je.StepExecutions) - 1; i >= 0; i-- {
		if je.StepExecutions[i].StepName == stepName {
			return je.StepExecutions[i]
		}
	}
	return nil
}

// Duration returns the elapsed time between start and end (or now).
func (je *JobExecution) Duration() time.Duration {
	if je.EndTime == nil {
		return time.Since(je.StartTime)
	}
	return je.EndTime.Sub(je.StartTime)
}

// Summary renders a one-line description used by reports and the CLI.
func (je *JobExecution) Summary() string {
	return fmt.Sprintf("JobExecution: id=%s, job=%s, runId=%d, status=%s, exitStatus=%s, startTime=%s, duration=%s, restarts=%d, steps=%d",
		je.ID, je.JobName, je.RunID, je.Status, je.ExitStatus, je.StartTime.Format(time.RFC3339), je.Duration().Round(time.Millisecond), je.RestartCount, len(je.StepExecutions))
}
