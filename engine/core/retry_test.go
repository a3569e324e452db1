package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRetryPolicy_Do(t *testing.T) {
	t.Run("Should retry transient failures until success", func(t *testing.T) {
		var calls atomic.Int32
		err := fastPolicy().Do(t.Context(), func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("503 service unavailable")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("Should stop after the attempt budget and return the last error", func(t *testing.T) {
		var calls atomic.Int32
		err := fastPolicy().Do(t.Context(), func(context.Context) error {
			calls.Add(1)
			return errors.New("429 too many requests")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("Should not retry permanent failures", func(t *testing.T) {
		var calls atomic.Int32
		err := fastPolicy().Do(t.Context(), func(context.Context) error {
			calls.Add(1)
			return errors.New("401 unauthorized: invalid api key")
		})
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("Should not retry validation errors", func(t *testing.T) {
		var calls atomic.Int32
		err := fastPolicy().Do(t.Context(), func(context.Context) error {
			calls.Add(1)
			return ValidationError("text is empty")
		})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("Should apply a timeout to each attempt", func(t *testing.T) {
		policy := fastPolicy()
		policy.Timeout = 5 * time.Millisecond
		var calls atomic.Int32
		err := policy.Do(t.Context(), func(ctx context.Context) error {
			calls.Add(1)
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("Should stop when the parent context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		var calls atomic.Int32
		err := fastPolicy().Do(ctx, func(context.Context) error {
			calls.Add(1)
			cancel()
			return errors.New("503 service unavailable")
		})
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

type markedErr struct{ retry bool }

func (m markedErr) Error() string   { return "marked" }
func (m markedErr) Retryable() bool { return m.retry }

func TestIsRetryable(t *testing.T) {
	t.Run("Should honor explicit retry markers", func(t *testing.T) {
		assert.True(t, IsRetryable(markedErr{retry: true}))
		assert.False(t, IsRetryable(markedErr{retry: false}))
	})

	t.Run("Should treat cancellation as permanent", func(t *testing.T) {
		assert.False(t, IsRetryable(context.Canceled))
		assert.True(t, IsRetryable(context.DeadlineExceeded))
		assert.False(t, IsRetryable(nil))
	})
}
