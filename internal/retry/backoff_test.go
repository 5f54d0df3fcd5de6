package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"aprsrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedConfig(initial, max time.Duration, attempts int) BackoffConfig {
	return BackoffConfig{
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   2.0,
		MaxAttempts:  attempts,
		Jitter:       false,
	}
}

func TestDefaultBackoffConfig(t *testing.T) {
	config := DefaultBackoffConfig()

	assert.Equal(t, 100*time.Millisecond, config.InitialDelay)
	assert.Equal(t, 30*time.Second, config.MaxDelay)
	assert.Equal(t, 2.0, config.Multiplier)
	assert.Equal(t, 5, config.MaxAttempts)
	assert.True(t, config.Jitter)
}

func TestFromConfig(t *testing.T) {
	config := FromConfig(models.RetryConfig{InitialBackoffMs: 1000, MaxBackoffMs: 60000, MaxAttempts: 4})

	assert.Equal(t, time.Second, config.InitialDelay)
	assert.Equal(t, time.Minute, config.MaxDelay)
	assert.Equal(t, 4, config.MaxAttempts)
	assert.Equal(t, 2.0, config.Multiplier)
	assert.True(t, config.Jitter)
}

func TestBackoff_SuccessFirstAttempt(t *testing.T) {
	backoff := NewBackoff(fixedConfig(10*time.Millisecond, time.Second, 3))

	attempts := 0
	err := backoff.Retry(context.Background(), func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	backoff := NewBackoff(fixedConfig(time.Millisecond, 100*time.Millisecond, 3))

	attempts := 0
	start := time.Now()
	err := backoff.Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)
}

func TestBackoff_FailureAfterMaxAttempts(t *testing.T) {
	backoff := NewBackoff(fixedConfig(time.Millisecond, 10*time.Millisecond, 2))
	persistent := errors.New("persistent error")

	attempts := 0
	err := backoff.Retry(context.Background(), func() error {
		attempts++
		return persistent
	})

	assert.Equal(t, persistent, err)
	assert.Equal(t, 2, attempts)
}

func TestBackoff_ZeroAttemptsRunsOnce(t *testing.T) {
	backoff := NewBackoff(fixedConfig(time.Millisecond, 10*time.Millisecond, 0))

	attempts := 0
	_ = backoff.Retry(context.Background(), func() error {
		attempts++
		return errors.New("x")
	})

	assert.Equal(t, 1, attempts)
}

func TestBackoff_ContextCancellation(t *testing.T) {
	backoff := NewBackoff(fixedConfig(100*time.Millisecond, time.Second, 5))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	attempts := 0
	err := backoff.Retry(ctx, func() error {
		attempts++
		return errors.New("will be cancelled")
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_CancelledBeforeFirstAttempt(t *testing.T) {
	backoff := NewBackoff(fixedConfig(time.Millisecond, time.Second, 5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := backoff.Retry(ctx, func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestBackoff_ExponentialIncrease(t *testing.T) {
	backoff := NewBackoff(fixedConfig(10*time.Millisecond, time.Second, 5))

	assert.Equal(t, 10*time.Millisecond, backoff.GetNextDelay(1))
	assert.Equal(t, 20*time.Millisecond, backoff.GetNextDelay(2))
	assert.Equal(t, 40*time.Millisecond, backoff.GetNextDelay(3))
}

func TestBackoff_MaxDelayConstraint(t *testing.T) {
	backoff := NewBackoff(fixedConfig(100*time.Millisecond, 150*time.Millisecond, 5))

	assert.Equal(t, 150*time.Millisecond, backoff.GetNextDelay(5))
	assert.Equal(t, 150*time.Millisecond, backoff.GetNextDelay(1000))
}

func TestBackoff_WithPredicate_NonRetryableError(t *testing.T) {
	backoff := NewBackoff(fixedConfig(time.Millisecond, 100*time.Millisecond, 3))
	fatal := errors.New("non-retryable error")

	attempts := 0
	err := backoff.RetryWithPredicate(context.Background(), func() error {
		attempts++
		return fatal
	}, func(err error) bool { return !errors.Is(err, fatal) })

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_JitterBounds(t *testing.T) {
	config := fixedConfig(10*time.Millisecond, 100*time.Millisecond, 3)
	config.Jitter = true
	backoff := NewBackoff(config)

	seen := map[time.Duration]bool{}
	for i := 0; i < 50; i++ {
		d := backoff.GetNextDelay(2)
		assert.GreaterOrEqual(t, d, 15*time.Millisecond)
		assert.LessOrEqual(t, d, 25*time.Millisecond)
		seen[d] = true
	}
	assert.Greater(t, len(seen), 1, "jitter should vary the delay")
}

func TestSequence(t *testing.T) {
	seq := NewSequence(fixedConfig(time.Second, 4*time.Second, 1))

	assert.Equal(t, time.Second, seq.Next())
	assert.Equal(t, 2*time.Second, seq.Next())
	assert.Equal(t, 4*time.Second, seq.Next())
	assert.Equal(t, 4*time.Second, seq.Next())
	assert.Equal(t, 4, seq.Attempt())

	seq.Reset()
	assert.Equal(t, 0, seq.Attempt())
	assert.Equal(t, time.Second, seq.Next())
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
	require.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
