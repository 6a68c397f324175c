package cli

import (
	"errors"
	"fmt"
	"io"

	model "github.com/jiawu-lu/lubatch/pkg/batch/core/domain/model"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailed      = 1
	ExitStopped     = 2
	ExitConfigError = 3
	ExitOther       = 4
)

// ExitError carries the exit code a command ends with. Err may be nil when the
// outcome was already reported.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps the outcome of a launch to a process exit code. A launch error means the
// job never ran.
func ExitCode(execution *model.JobExecution, err error) int {
	if err != nil {
		return ExitConfigError
	}
	if execution == nil {
		return ExitOther
	}
	switch execution.Status {
	case model.BatchStatusCompleted:
		return ExitOK
	case model.BatchStatusFailed:
		return ExitFailed
	case model.BatchStatusStopped:
		return ExitStopped
	default:
		return ExitOther
	}
}

// finish reports the terminal status on stderr and converts it into the command result.
func finish(stderr io.Writer, execution *model.JobExecution, err error) error {
	code := ExitCode(execution, err)
	if err != nil {
		return &ExitError{Code: code, Err: err}
	}
	if execution == nil {
		return &ExitError{Code: code, Err: errors.New("the launcher returned no execution")}
	}
	fmt.Fprintf(stderr, "Job '%s' (execution %s) finished with status %s\n", execution.JobName, execution.ID, execution.Status)
	if last := execution.Failures.Last(); last != "" && code != ExitOK {
		fmt.Fprintf(stderr, "Last error: %s\n", last)
	}
	if code == ExitOK {
		return nil
	}
	return &ExitError{Code: code}
}
