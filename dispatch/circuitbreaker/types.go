package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

var (
	// ErrCircuitOpen is returned when a breaker rejects a call without running it.
	// It wraps both the Open rejection and the Half-Open probe-in-flight rejection.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrBreakerNotFound is returned by Execute for names never passed to GetOrCreate.
	ErrBreakerNotFound = errors.New("circuit breaker not found")
)

// Manager owns named circuit breakers for outbound dependencies.
type Manager interface {
	// GetOrCreate returns the breaker for name, creating it with config on first use.
	GetOrCreate(name string, config Config) CircuitBreaker

	// Execute runs fn through the named breaker.
	Execute(name string, fn func() (any, error)) (any, error)

	// GetState returns the current state, or StateUnknown for unknown names.
	GetState(name string) State

	// GetCounts returns the current counters of the named breaker.
	GetCounts(name string) Counts

	// IsHealthy reports whether the named breaker is Closed.
	IsHealthy(name string) bool

	// RetryAfter returns how long until an Open breaker admits a probe.
	// Zero when the breaker is not Open.
	RetryAfter(name string) time.Duration

	// Reset recreates the named breaker in the Closed state.
	Reset(name string)

	// RegisterStateChangeListener adds a listener notified on every transition.
	RegisterStateChangeListener(listener StateChangeListener)
}

// CircuitBreaker is a single gobreaker instance seen through the package types.
type CircuitBreaker interface {
	Execute(fn func() (any, error)) (any, error)
	State() State
	Counts() Counts
}

// State represents circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Ordinal maps a state to the gauge value exported for it.
func (s State) Ordinal() int64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return -1
	}
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

type circuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
}

func (cb *circuitBreaker) Execute(fn func() (any, error)) (any, error) {
	return cb.breaker.Execute(fn)
}

func (cb *circuitBreaker) State() State {
	return convertGobreakerState(cb.breaker.State())
}

func (cb *circuitBreaker) Counts() Counts {
	return convertCounts(cb.breaker.Counts())
}

func convertGobreakerState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}

func convertCounts(counts gobreaker.Counts) Counts {
	return Counts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// HealthChecker probes registered services on an interval and records the
// outcome. It never changes breaker state; recovery happens through the
// breaker's own Half-Open probe.
type HealthChecker interface {
	// Register adds a service probe.
	Register(name string, fn HealthCheckFunc)

	// Start launches the probe loop. Calling Start on a running checker is a no-op.
	Start(ctx context.Context)

	// Stop ends the probe loop and waits for it. Safe to call repeatedly.
	Stop()

	// CheckNow probes every registered service synchronously.
	CheckNow(ctx context.Context) map[string]ServiceHealth

	// GetHealthStatus returns the last recorded result per service.
	GetHealthStatus() map[string]ServiceHealth

	StateChangeListener
}

// ServiceHealth is the last probe result for one service.
type ServiceHealth struct {
	Breaker     State     `json:"breaker"`
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"lastError,omitempty"`
	LastChecked time.Time `json:"lastChecked"`
}

// HealthCheckFunc checks one service.
type HealthCheckFunc func(ctx context.Context) error

// StateChangeListener is notified when a circuit breaker changes state.
type StateChangeListener interface {
	OnStateChange(name string, from State, to State)
}
