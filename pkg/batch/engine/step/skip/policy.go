// Package skip decides which record-level failures a chunk step may skip past.
package skip

import (
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

// SkipPolicy classifies errors as skippable and enforces the skip limit of one StepExecution.
type SkipPolicy interface {
	// ShouldSkip reports whether err is of a skippable kind. It does not consult the limit.
	ShouldSkip(err error) bool
	// Skip consumes one skip for err. Once the limit is spent it returns a
	// SkipLimitExceededError wrapping err and the count is left unchanged.
	Skip(err error) error
	// GetSkipCount returns the number of skips consumed so far.
	GetSkipCount() int
	// GetSkipLimit returns the maximum number of skips allowed.
	GetSkipLimit() int
}

// Config holds the skip settings of a step.
type Config struct {
	// SkipLimit is the number of skippable errors tolerated. 0 disables skipping.
	SkipLimit int
	// SkippableExceptions lists registered error names that are skippable even
	// when the error itself does not say so.
	SkippableExceptions []string
	// NoSkipExceptions lists error names that are never skipped. They take precedence.
	NoSkipExceptions []string
}

// DefaultSkipPolicyFactory creates SkipPolicy instances.
type DefaultSkipPolicyFactory struct{}

// NewDefaultSkipPolicyFactory creates a new DefaultSkipPolicyFactory.
func NewDefaultSkipPolicyFactory() *DefaultSkipPolicyFactory {
	return &DefaultSkipPolicyFactory{}
}

// Create creates a new SkipPolicy for one StepExecution.
//
// Parameters:
//
//	cfg: The skip limit and the skippable and non-skippable error names.
//
// Returns:
//   - SkipPolicy: A policy whose skip count starts at zero.
//   - error: A ConfigurationError when an exception name is not registered.
func (f *DefaultSkipPolicyFactory) Create(cfg Config) (SkipPolicy, error) {
	if cfg.SkipLimit < 0 {
		return nil, exception.NewConfigurationError("skip-limit must not be negative", nil)
	}
	for _, names := range [][]string{cfg.SkippableExceptions, cfg.NoSkipExceptions} {
		for _, name := range names {
			if !exception.IsErrorTypeRegistered(name) {
				return nil, exception.NewConfigurationError("unknown exception class '"+name+"'", nil)
			}
		}
	}
	return &defaultSkipPolicy{cfg: cfg}, nil
}

type defaultSkipPolicy struct {
	cfg   Config
	count int
}

// ShouldSkip determines if an error is skippable, in this order:
// 1. Errors listed in NoSkipExceptions, and a skip limit of 0, are never skippable.
// 2. A BatchError carrying the skippable flag is skippable.
// 3. Errors matching SkippableExceptions are skippable.
func (p *defaultSkipPolicy) ShouldSkip(err error) bool {
	if err == nil || p.cfg.SkipLimit == 0 {
		return false
	}
	for _, name := range p.cfg.NoSkipExceptions {
		if exception.IsErrorOfType(err, name) {
			return false
		}
	}
	if be, ok := exception.AsBatchError(err); ok && be.IsSkippable() {
		return true
	}
	for _, name := range p.cfg.SkippableExceptions {
		if exception.IsErrorOfType(err, name) {
			return true
		}
	}
	return false
}

// Skip counts one skip of err. The skip that would exceed the limit is refused with a
// SkipLimitExceededError wrapping err, and the count stays at the limit.
func (p *defaultSkipPolicy) Skip(err error) error {
	if p.count >= p.cfg.SkipLimit {
		return exception.NewSkipLimitExceededError(p.cfg.SkipLimit, err)
	}
	p.count++
	return nil
}

func (p *defaultSkipPolicy) GetSkipCount() int {
	return p.count
}

func (p *defaultSkipPolicy) GetSkipLimit() int {
	return p.cfg.SkipLimit
}

var _ SkipPolicy = (*defaultSkipPolicy)(nil)
