package exception

import (
	"errors"
	"fmt"
)

// Kind sentinels. Each is registered under its own name.
var (
	ErrMapping           = errors.New("MappingError")
	ErrProcessing        = errors.New("ProcessingError")
	ErrWrite             = errors.New("WriteError")
	ErrConfiguration     = errors.New("ConfigurationError")
	ErrSkipLimitExceeded = errors.New("SkipLimitExceededError")
	ErrJobRestart        = errors.New("JobRestartError")
)

func init() {
	for _, kind := range []error{ErrMapping, ErrProcessing, ErrWrite, ErrConfiguration, ErrSkipLimitExceeded, ErrJobRestart} {
		RegisterErrorType(kind.Error(), kind)
	}
}

func newKind(kind error, module, message string, cause error, skippable, retryable bool) *BatchError {
	be := NewBatchError(module, message, cause, skippable, retryable)
	be.Kind = kind
	return be
}

// NewMappingError reports a record that does not match the expected schema.
// Mapping errors are skippable.
func NewMappingError(offset int64, line string, cause error) *BatchError {
	return newKind(ErrMapping, "mapper", fmt.Sprintf("malformed record at offset %d: %q", offset, line), cause, true, false)
}

// NewProcessingError reports a failed transformation of item.
// Whether it can be skipped is decided by the processor.
func NewProcessingError(item any, cause error, skippable bool) *BatchError {
	return newKind(ErrProcessing, "processor", fmt.Sprintf("failed to process item %+v", item), cause, skippable, IsTemporary(cause))
}

// NewWriteError reports a sink failure while writing count items.
// Write errors are fatal: a partially applied write cannot be told apart from a complete one.
// A transient cause keeps the error retryable.
func NewWriteError(count int, cause error) *BatchError {
	return newKind(ErrWrite, "writer", fmt.Sprintf("failed to write chunk of %d items", count), cause, false, IsTemporary(cause))
}

// NewConfigurationError reports invalid settings detected at startup. It is never retried.
func NewConfigurationError(message string, cause error) *BatchError {
	return newKind(ErrConfiguration, "config", message, cause, false, false)
}

// NewSkipLimitExceededError converts the skippable cause that crossed the limit into a fatal error.
func NewSkipLimitExceededError(limit int, cause error) *BatchError {
	return newKind(ErrSkipLimitExceeded, "step", fmt.Sprintf("skip limit of %d exceeded", limit), cause, false, false)
}

// NewJobRestartError reports a restart request that cannot be honoured.
func NewJobRestartError(format string, a ...interface{}) *BatchError {
	return newKind(ErrJobRestart, "launcher", fmt.Sprintf(format, a...), nil, false, false)
}
