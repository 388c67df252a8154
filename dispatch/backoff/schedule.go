package backoff

import (
	"errors"
	"time"
)

// ErrEmptySchedule is returned when a Schedule has no delays.
var ErrEmptySchedule = errors.New("backoff schedule must have at least one delay")

// ErrNegativeDelay is returned when a Schedule contains a negative delay.
var ErrNegativeDelay = errors.New("backoff schedule delays must not be negative")

// Schedule is a fixed sequence of retry delays. The n-th retry waits
// Schedule[n-1]; retries beyond the end reuse the last delay.
type Schedule []time.Duration

// DefaultSchedule is the retry delay sequence used by the pooler: 1s, 2s, 4s, 8s, 16s.
func DefaultSchedule() Schedule {
	return ExponentialSchedule(time.Second, 5)
}

// ExponentialSchedule builds n delays starting at base and doubling.
func ExponentialSchedule(base time.Duration, n int) Schedule {
	if n <= 0 {
		return nil
	}

	s := make(Schedule, n)
	for i := range s {
		s[i] = Exponential(base, i)
	}

	return s
}

// Delay returns the wait before retry number retry (1-based).
// Values below 1 are clamped to the first delay and values past the end to the last.
func (s Schedule) Delay(retry int) time.Duration {
	if len(s) == 0 {
		return 0
	}

	idx := retry - 1
	if idx < 0 {
		idx = 0
	}

	if idx >= len(s) {
		idx = len(s) - 1
	}

	return s[idx]
}

// Validate reports whether the schedule is usable.
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return ErrEmptySchedule
	}

	for _, d := range s {
		if d < 0 {
			return ErrNegativeDelay
		}
	}

	return nil
}
