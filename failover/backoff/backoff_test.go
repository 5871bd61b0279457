//go:build unit

package backoff

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		base     time.Duration
		attempt  int
		expected time.Duration
	}{
		{name: "attempt 0 returns base", base: 100 * time.Millisecond, attempt: 0, expected: 100 * time.Millisecond},
		{name: "attempt 1 doubles base", base: 100 * time.Millisecond, attempt: 1, expected: 200 * time.Millisecond},
		{name: "attempt 3 is 8x base", base: 100 * time.Millisecond, attempt: 3, expected: 800 * time.Millisecond},
		{name: "negative attempt treated as 0", base: 100 * time.Millisecond, attempt: -5, expected: 100 * time.Millisecond},
		{name: "zero base returns 0", base: 0, attempt: 5, expected: 0},
		{name: "negative base returns 0", base: -time.Second, attempt: 5, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, Exponential(tt.base, tt.attempt))
		})
	}
}

func TestExponential_OverflowProtection(t *testing.T) {
	t.Parallel()

	for _, attempt := range []int{62, 63, 100, 1000} {
		result := Exponential(time.Hour, attempt)

		assert.Greater(t, result, time.Duration(0), "attempt %d must not overflow to negative", attempt)
		assert.LessOrEqual(t, result, time.Duration(math.MaxInt64))
	}
}

func TestFullJitter(t *testing.T) {
	t.Parallel()

	delay := time.Second

	for i := 0; i < 100; i++ {
		jittered := FullJitter(delay)

		assert.GreaterOrEqual(t, jittered, time.Duration(0))
		assert.Less(t, jittered, delay)
	}

	assert.Equal(t, time.Duration(0), FullJitter(0))
	assert.Equal(t, time.Duration(0), FullJitter(-time.Second))
}

func TestExponentialWithJitter_StaysInRange(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond

	for attempt := 0; attempt < 8; attempt++ {
		upper := Exponential(base, attempt)

		for i := 0; i < 20; i++ {
			jittered := ExponentialWithJitter(base, attempt)

			assert.GreaterOrEqual(t, jittered, time.Duration(0))
			assert.Less(t, jittered, upper)
		}
	}
}

func TestSleepWithContext(t *testing.T) {
	t.Parallel()

	t.Run("completes the sleep", func(t *testing.T) {
		t.Parallel()

		start := time.Now()
		err := SleepWithContext(context.Background(), 20*time.Millisecond)

		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("zero duration returns immediately", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, SleepWithContext(context.Background(), 0))
	})

	t.Run("cancellation interrupts the sleep", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())

		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		err := SleepWithContext(ctx, time.Minute)

		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	})
}
