// Package exception provides the error types used by lubatch.
// Errors raised while a step runs are classified as skippable, retryable or fatal,
// and the chunk executor applies its skip and retry policies based on that classification.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// errorRegistry maps error names referenced in configuration (for example
// `skippable-exception-classes`) to sentinel errors compared with errors.Is.
var errorRegistry = make(map[string]error)

var registryMutex sync.RWMutex

// RegisterErrorType registers a named sentinel error.
// It panics when name is empty or prototype is nil.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name is present in the registry.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// BatchError is the error type raised by batch components.
// It holds the module where the error occurred, a message, the wrapped original error,
// the kind sentinel (ErrMapping, ErrWrite, ...) and the skip/retry classification.
type BatchError struct {
	// Module indicates where the error occurred (e.g., "reader", "mapper", "writer", "config").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// Kind is the taxonomy sentinel of this error. It may be nil.
	Kind error
	// isRetryable indicates whether this error is retryable.
	isRetryable bool
	// isSkippable indicates whether this error is skippable.
	isSkippable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewBatchError creates a new BatchError instance.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf creates a new BatchError using a format string.
// Optional values are taken from the end of a in the order
// [isSkippable bool], [isRetryable bool], [originalErr error]; the rest feed fmt.Sprintf.
//
//	NewBatchErrorf("reader", "Failed to read item: %s", "id_123", true, true, io.EOF)
//	-> message "Failed to read item: id_123", skippable, retryable, wraps io.EOF
//
// A single trailing bool is read as isRetryable.
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	isRetryable := false
	isSkippable := false
	args := a

	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isRetryable = b
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isSkippable = b
			args = args[:len(args)-1]
		}
	}

	return &BatchError{
		Module:      module,
		Message:     fmt.Sprintf(format, args...),
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// Is matches the kind sentinel, so errors.Is(err, ErrMapping) holds for any mapping error.
func (e *BatchError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// IsRetryable returns whether this error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// KindName returns the registered name of the error kind, or "BatchError".
func (e *BatchError) KindName() string {
	if e.Kind == nil {
		return "BatchError"
	}
	return e.Kind.Error()
}

// AsBatchError finds the first BatchError in err's chain.
func AsBatchError(err error) (*BatchError, bool) {
	var be *BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsBatchError determines if err is, or wraps, a BatchError.
func IsBatchError(err error) bool {
	_, ok := AsBatchError(err)
	return ok
}

// IsTemporary determines if an error is transient (timeouts, refused or reset connections).
// For a BatchError, its retryable flag takes precedence.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := AsBatchError(err); ok {
		return be.IsRetryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset")
}

// IsFatal determines if an error can be neither retried nor skipped.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := AsBatchError(err); ok {
		return !be.IsRetryable() && !be.IsSkippable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid argument") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "data corruption")
}

// IsErrorOfType checks if an error matches a type name.
// errorTypeName may be a registered name (checked with errors.Is), a Go type name
// (e.g., "*net.OpError") or a substring of an error message in the chain.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	targetError, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	if ok && errors.Is(err, targetError) {
		return true
	}

	for currentErr := err; currentErr != nil; currentErr = errors.Unwrap(currentErr) {
		if strings.Contains(currentErr.Error(), errorTypeName) {
			return true
		}
		errType := reflect.TypeOf(currentErr)
		if errType != nil {
			if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
				return true
			}
		}
	}
	return false
}

// OptimisticLockingFailureException is the registered name of an optimistic locking failure.
const OptimisticLockingFailureException = "OptimisticLockingFailureException"

// ErrOptimisticLockingFailure is a sentinel error indicating an optimistic locking failure.
var ErrOptimisticLockingFailure = errors.New(OptimisticLockingFailureException)

// NewOptimisticLockingFailureException creates a fatal BatchError for a stale version update.
func NewOptimisticLockingFailureException(module, message string, originalErr error) *BatchError {
	errToWrap := ErrOptimisticLockingFailure
	if originalErr != nil {
		errToWrap = errors.Join(ErrOptimisticLockingFailure, originalErr)
	}
	return NewBatchError(module, message, errToWrap, false, false)
}

// IsOptimisticLockingFailure determines if an error indicates an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	return err != nil && errors.Is(err, ErrOptimisticLockingFailure)
}

// ExtractErrorMessage returns the Message of a BatchError, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if be, ok := err.(*BatchError); ok {
		return be.Message
	}
	return err.Error()
}

func init() {
	RegisterErrorType(OptimisticLockingFailureException, ErrOptimisticLockingFailure)

	RegisterErrorType("io.EOF", io.EOF)
	RegisterErrorType("io.ErrUnexpectedEOF", io.ErrUnexpectedEOF)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
}
