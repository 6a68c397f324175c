package model

import (
	"fmt"
	"time"

	logger "github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// StepExecution is a single attempt to run one step of a JobExecution.
type StepExecution struct {
	ID               string
	StepName         string
	JobExecution     *JobExecution
	JobExecutionID   string
	StartTime        time.Time
	EndTime          *time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	Failures         FailureList
	ReadCount        int
	WriteCount       int
	CommitCount      int
	RollbackCount    int
	FilterCount      int
	ReadSkipCount    int
	ProcessSkipCount int
	WriteSkipCount   int
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
	Version          int
}

// NewStepExecution creates a StepExecution in STARTING and attaches it to jobExecution.
func NewStepExecution(id string, jobExecution *JobExecution, stepName string) *StepExecution {
	now := time.Now()
	se := &StepExecution{
		ID:               id,
		StepName:         stepName,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         make(FailureList, 0),
		ExecutionContext: NewExecutionContext(),
		LastUpdated:      now,
	}
	if jobExecution != nil {
		se.JobExecution = jobExecution
		se.JobExecutionID = jobExecution.ID
	}
	return se
}

// SkipCount is the total number of skipped records.
func (se *StepExecution) SkipCount() int {
	return se.ReadSkipCount + se.ProcessSkipCount + se.WriteSkipCount
}

// JobName returns the name of the owning job, if attached.
func (se *StepExecution) JobName() string {
	if se.JobExecution == nil {
		return ""
	}
	return se.JobExecution.JobName
}

// CopyForRestart prepares the StepExecution of a new JobExecution from a previous attempt.
// A COMPLETED step keeps its status and counters so the flow skips it.
// Any other step starts over from STARTING with fresh counters, keeping the ExecutionContext
// and with it the last committed offset.
func (se *StepExecution) CopyForRestart(newJobExecutionID string) *StepExecution {
	newSE := &StepExecution{
		ID:               NewID(),
		StepName:         se.StepName,
		JobExecutionID:   newJobExecutionID,
		Failures:         FailureList{},
		ExecutionContext: se.ExecutionContext.Copy(),
		LastUpdated:      time.Now(),
	}
	if se.Status == BatchStatusCompleted {
		newSE.Status = BatchStatusCompleted
		newSE.ExitStatus = se.ExitStatus
		newSE.StartTime = se.StartTime
		newSE.EndTime = se.EndTime
		newSE.ReadCount = se.ReadCount
		newSE.WriteCount = se.WriteCount
		newSE.CommitCount = se.CommitCount
		newSE.RollbackCount = se.RollbackCount
		newSE.FilterCount = se.FilterCount
		newSE.ReadSkipCount = se.ReadSkipCount
		newSE.ProcessSkipCount = se.ProcessSkipCount
		newSE.WriteSkipCount = se.WriteSkipCount
		return newSE
	}
	newSE.Status = BatchStatusStarting
	newSE.ExitStatus = ExitStatusUnknown
	newSE.StartTime = time.Now()
	return newSE
}

// TransitionTo changes Status if the transition is allowed.
func (se *StepExecution) TransitionTo(newStatus JobStatus) error {
	if !isValidStepTransition(se.Status, newStatus) {
		return fmt.Errorf("StepExecution (ID: %s): Invalid state transition: %s -> %s", se.ID, se.Status, newStatus)
	}
	se.Status = newStatus
	se.LastUpdated = time.Now()
	return nil
}

// apply moves the step to status. An invalid transition is rejected: it is logged and
// leaves the step unchanged.
func (se *StepExecution) apply(status JobStatus) bool {
	if err := se.TransitionTo(status); err != nil {
		logger.Warnf("Rejected status change of StepExecution (ID: %s): %v", se.ID, err)
		return false
	}
	return true
}

func (se *StepExecution) finish(status JobStatus, exit ExitStatus) {
	if !se.apply(status) {
		return
	}
	se.ExitStatus = exit
	now := time.Now()
	se.EndTime = &now
	se.LastUpdated = now
	se.ExecutionContext.Put(StepStatusKey, string(status))
}

// MarkAsStarted moves the step to STARTED.
func (se *StepExecution) MarkAsStarted() {
	if !se.apply(BatchStatusStarted) {
		return
	}
	se.ExitStatus = ExitStatusExecuting
	se.StartTime = time.Now()
	se.ExecutionContext.Put(StepStatusKey, string(BatchStatusStarted))
}

// MarkAsCompleted moves the step to COMPLETED.
func (se *StepExecution) MarkAsCompleted() {
	se.finish(BatchStatusCompleted, ExitStatusCompleted)
}

// MarkAsFailed moves the step to FAILED and records err.
func (se *StepExecution) MarkAsFailed(err error) {
	se.finish(BatchStatusFailed, ExitStatusFailed)
	se.AddFailureException(err)
}

// MarkAsStopped moves the step to STOPPED.
func (se *StepExecution) MarkAsStopped() {
	se.finish(BatchStatusStopped, ExitStatusStopped)
}

// AddFailureException records err, ignoring duplicates.
func (se *StepExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	if se.Failures.add(err.Error()) {
		se.LastUpdated = time.Now()
	}
}

// Offset returns the checkpointed read offset.
func (se *StepExecution) Offset() int64 {
	off, _ := se.ExecutionContext.GetInt64(ChunkOffsetKey)
	return off
}

// ChunkCount returns the number of committed chunks.
func (se *StepExecution) ChunkCount() int {
	n, _ := se.ExecutionContext.GetInt(ChunkCountKey)
	return n
}

// DebugString returns a compact description without the ExecutionContext contents.
func (se *StepExecution) DebugString() string {
	return fmt.Sprintf("&{ID:%s StepName:%s Status:%s ExitStatus:%s Read:%d Write:%d Filter:%d Skip:%d Commit:%d Rollback:%d Offset:%d Version:%d}",
		se.ID, se.StepName, se.Status, se.ExitStatus, se.ReadCount, se.WriteCount, se.FilterCount,
		se.SkipCount(), se.CommitCount, se.RollbackCount, se.Offset(), se.Version)
}
