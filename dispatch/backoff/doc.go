// Package backoff provides retry delay helpers: exponential growth, full
// jitter, fixed delay schedules and a context-aware sleep.
package backoff
