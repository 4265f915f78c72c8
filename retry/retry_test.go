package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// recordSleeps 替换等待函数，记录退避时长而不真正休眠
func recordSleeps(t *testing.T) *[]time.Duration {
	var waits []time.Duration
	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = orig })
	return &waits
}

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	waits := recordSleeps(t)
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
}

func TestDo_RetriesWithBackoff(t *testing.T) {
	waits := recordSleeps(t)
	var retried []int
	cfg := Config{MaxAttempts: 4, InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 25 * time.Millisecond,
		OnRetry: func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) }}

	err := Do(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		if attempt < 4 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}, *waits)
	assert.Equal(t, []int{1, 2, 3}, retried)
}

func TestDo_ReturnsLastError(t *testing.T) {
	recordSleeps(t)
	boom := errors.New("persistent")
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3}, func(ctx context.Context, attempt int) error {
		calls++
		return boom
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStops(t *testing.T) {
	recordSleeps(t)
	invalid := errors.New("invalid payload")
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(invalid)
	})
	assert.Same(t, invalid, err)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestDo_ContextCancelled(t *testing.T) {
	recordSleeps(t)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, DefaultConfig(), func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Once(), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, time.Duration(0), Once().Backoff(1))
}
