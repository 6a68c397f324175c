// Package retry bounds the re-execution of operations that failed with a transient error.
package retry

import (
	"context"
	"time"

	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

// RetryPolicy defines retry logic.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the wait before the given retry attempt (starting from 1).
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the maximum number of attempts, the first one included.
	GetMaxAttempts() int
}

// Config holds the retry settings of a step.
type Config struct {
	// MaxAttempts counts the first attempt. 1 disables retry.
	MaxAttempts     int
	InitialInterval time.Duration
	// Multiplier grows the interval per attempt. Values below 1 are treated as 1.
	Multiplier  float64
	MaxInterval time.Duration
	// RetryableExceptions lists registered error names to retry.
	RetryableExceptions []string
}

// DefaultRetryPolicyFactory creates RetryPolicy instances.
type DefaultRetryPolicyFactory struct{}

// NewDefaultRetryPolicyFactory creates a new DefaultRetryPolicyFactory.
func NewDefaultRetryPolicyFactory() *DefaultRetryPolicyFactory {
	return &DefaultRetryPolicyFactory{}
}

// Create creates a new RetryPolicy.
//
// Parameters:
//
//	cfg: The attempt limit, the backoff settings and the retryable error names.
//	  MaxAttempts below 1 is treated as 1 (no retry).
//
// Returns:
//   - RetryPolicy: The policy.
//   - error: A ConfigurationError when an exception name is not registered.
func (f *DefaultRetryPolicyFactory) Create(cfg Config) (RetryPolicy, error) {
	for _, name := range cfg.RetryableExceptions {
		if !exception.IsErrorTypeRegistered(name) {
			return nil, exception.NewConfigurationError("unknown exception class '"+name+"'", nil)
		}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &defaultRetryPolicy{cfg: cfg}, nil
}

type defaultRetryPolicy struct {
	cfg Config
}

func (p *defaultRetryPolicy) GetMaxAttempts() int {
	return p.cfg.MaxAttempts
}

// ShouldRetry is true for BatchErrors flagged retryable and for errors matching RetryableExceptions.
// Configuration errors are never retried.
func (p *defaultRetryPolicy) ShouldRetry(err error) bool {
	if err == nil || exception.IsErrorOfType(err, "ConfigurationError") {
		return false
	}
	if be, ok := exception.AsBatchError(err); ok && be.IsRetryable() {
		return true
	}
	for _, name := range p.cfg.RetryableExceptions {
		if exception.IsErrorOfType(err, name) {
			return true
		}
	}
	return false
}

// GetBackoffInterval grows the initial interval by Multiplier per attempt, capped at MaxInterval.
func (p *defaultRetryPolicy) GetBackoffInterval(attempt int) time.Duration {
	d := float64(p.cfg.InitialInterval)
	for i := 1; i < attempt; i++ {
		d *= p.cfg.Multiplier
	}
	interval := time.Duration(d)
	if p.cfg.MaxInterval > 0 && interval > p.cfg.MaxInterval {
		return p.cfg.MaxInterval
	}
	return interval
}

// Do runs op until it succeeds, fails with a non-retryable error, or the attempts are spent.
// onRetry is called before every retry. The wait between attempts is aborted when ctx is done.
func Do(ctx context.Context, policy RetryPolicy, op func() error, onRetry func(attempt int, err error)) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt >= policy.GetMaxAttempts() || !policy.ShouldRetry(err) {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if wait := policy.GetBackoffInterval(attempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}
	}
}

var _ RetryPolicy = (*defaultRetryPolicy)(nil)
