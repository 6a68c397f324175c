package model

// JobStatus represents the state of a job or step execution.
type JobStatus string

const (
	BatchStatusStarting   JobStatus = "STARTING"
	BatchStatusStarted    JobStatus = "STARTED"
	BatchStatusStopping   JobStatus = "STOPPING"
	BatchStatusStopped    JobStatus = "STOPPED"
	BatchStatusCompleted  JobStatus = "COMPLETED"
	BatchStatusFailed     JobStatus = "FAILED"
	BatchStatusAbandoned  JobStatus = "ABANDONED"
	BatchStatusRestarting JobStatus = "RESTARTING"
	BatchStatusUnknown    JobStatus = "UNKNOWN"
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsFinished checks if the JobStatus represents a finished state.
func (s JobStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	default:
		return false
	}
}

// IsRestartable reports whether an execution in this status may be restarted.
func (s JobStatus) IsRestartable() bool {
	return s == BatchStatusFailed || s == BatchStatusStopped
}

// ToExitStatus converts the JobStatus to its corresponding ExitStatus.
func (s JobStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusAbandoned:
		return ExitStatusAbandoned
	case BatchStatusStarted, BatchStatusStopping:
		return ExitStatusExecuting
	default:
		return ExitStatusUnknown
	}
}

// ExitStatus represents the detailed status upon job/step completion.
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusExecuting ExitStatus = "EXECUTING"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	ExitStatusAbandoned ExitStatus = "ABANDONED"
	ExitStatusNoOp      ExitStatus = "NOOP"
)

// String returns the ExitStatus as a string.
func (s ExitStatus) String() string {
	return string(s)
}

func isValidJobTransition(current, next JobStatus) bool {
	switch current {
	case BatchStatusStarting:
		return next == BatchStatusStarted || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusAbandoned
	case BatchStatusStarted:
		return next == BatchStatusStopping || next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusAbandoned
	case BatchStatusStopping:
		return next == BatchStatusStopped || next == BatchStatusFailed || next == BatchStatusCompleted || next == BatchStatusAbandoned
	case BatchStatusStopped:
		return next == BatchStatusRestarting || next == BatchStatusAbandoned
	case BatchStatusFailed:
		return next == BatchStatusAbandoned || next == BatchStatusRestarting
	case BatchStatusRestarting:
		return next == BatchStatusStarted || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusAbandoned
	default:
		// COMPLETED and ABANDONED are final.
		return false
	}
}

func isValidStepTransition(current, next JobStatus) bool {
	switch current {
	case BatchStatusStarting:
		return next == BatchStatusStarted || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusAbandoned
	case BatchStatusStarted:
		return next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusAbandoned
	default:
		return false
	}
}
