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
		{name: "attempt 0 returns base", base: time.Second, attempt: 0, expected: time.Second},
		{name: "attempt 3", base: time.Second, attempt: 3, expected: 8 * time.Second},
		{name: "negative attempt", base: time.Second, attempt: -4, expected: time.Second},
		{name: "zero base", base: 0, attempt: 3, expected: 0},
		{name: "saturates", base: time.Hour, attempt: 62, expected: time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, Exponential(tt.base, tt.attempt))
		})
	}
}

func TestFullJitter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), FullJitter(0))
	assert.Equal(t, time.Duration(0), FullJitter(-time.Second))

	for range 100 {
		d := FullJitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 100*time.Millisecond)
	}

	for range 50 {
		assert.Less(t, ExponentialWithJitter(10*time.Millisecond, 2), 40*time.Millisecond)
	}
}

func TestSleepWithContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, SleepWithContext(context.Background(), 0))
	require.NoError(t, SleepWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepWithContext(ctx, time.Hour)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultSchedule(t *testing.T) {
	t.Parallel()

	s := DefaultSchedule()

	assert.Equal(t, Schedule{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, s)
	require.NoError(t, s.Validate())
}

func TestScheduleDelay(t *testing.T) {
	t.Parallel()

	s := Schedule{time.Second, 2 * time.Second, 4 * time.Second}

	tests := []struct {
		retry    int
		expected time.Duration
	}{
		{retry: 0, expected: time.Second},
		{retry: 1, expected: time.Second},
		{retry: 2, expected: 2 * time.Second},
		{retry: 3, expected: 4 * time.Second},
		{retry: 10, expected: 4 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, s.Delay(tt.retry), "retry %d", tt.retry)
	}

	assert.Equal(t, time.Duration(0), Schedule(nil).Delay(1))
}

func TestScheduleValidate(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, Schedule{}.Validate(), ErrEmptySchedule)
	assert.ErrorIs(t, Schedule{time.Second, -1}.Validate(), ErrNegativeDelay)
	assert.Nil(t, ExponentialSchedule(time.Second, 0))
}
