package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiawu-lu/lubatch/pkg/batch/engine/step/retry"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/exception"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy, err := retry.NewDefaultRetryPolicyFactory().Create(retry.Config{
		MaxAttempts:         3,
		RetryableExceptions: []string{"context.DeadlineExceeded"},
	})
	require.NoError(t, err)

	assert.True(t, policy.ShouldRetry(exception.NewWriteError(1, errors.New("connection reset by peer"))))
	assert.True(t, policy.ShouldRetry(context.DeadlineExceeded))
	assert.False(t, policy.ShouldRetry(exception.NewWriteError(1, errors.New("constraint violation"))))
	assert.False(t, policy.ShouldRetry(exception.NewConfigurationError("bad", context.DeadlineExceeded)))
}

func TestRetryPolicy_Backoff(t *testing.T) {
	policy, err := retry.NewDefaultRetryPolicyFactory().Create(retry.Config{
		MaxAttempts:     4,
		InitialInterval: 10 * time.Millisecond,
		Multiplier:      2,
		MaxInterval:     30 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, policy.GetBackoffInterval(1))
	assert.Equal(t, 20*time.Millisecond, policy.GetBackoffInterval(2))
	assert.Equal(t, 30*time.Millisecond, policy.GetBackoffInterval(3))
}

func TestDo(t *testing.T) {
	policy, err := retry.NewDefaultRetryPolicyFactory().Create(retry.Config{MaxAttempts: 3})
	require.NoError(t, err)
	transient := exception.NewProcessingError("item", errors.New("i/o timeout"), false)

	t.Run("succeeds after retries", func(t *testing.T) {
		calls, retries := 0, 0
		err := retry.Do(context.Background(), policy, func() error {
			calls++
			if calls < 3 {
				return transient
			}
			return nil
		}, func(int, error) { retries++ })
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, retries)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := retry.Do(context.Background(), policy, func() error {
			calls++
			return transient
		}, nil)
		assert.ErrorIs(t, err, exception.ErrProcessing)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry fatal errors", func(t *testing.T) {
		calls := 0
		err := retry.Do(context.Background(), policy, func() error {
			calls++
			return errors.New("fatal")
		}, nil)
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
