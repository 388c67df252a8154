package circuitbreaker

import (
	"errors"
	"time"
)

var (
	// ErrInvalidFailureThreshold is returned when FailureThreshold is zero.
	ErrInvalidFailureThreshold = errors.New("circuitbreaker: failure threshold must be positive")
	// ErrInvalidRecoveryTimeout is returned when RecoveryTimeout is not positive.
	ErrInvalidRecoveryTimeout = errors.New("circuitbreaker: recovery timeout must be positive")
)

// Config holds circuit breaker configuration.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold uint32
	// RecoveryTimeout is how long the breaker stays Open before admitting a probe.
	RecoveryTimeout time.Duration
	// HalfOpenMaxRequests is the number of probes admitted while Half-Open.
	// Zero means one.
	HalfOpenMaxRequests uint32
	// Interval clears Closed-state counters periodically. Zero never clears them.
	Interval time.Duration
	// IsSuccessful classifies a returned error. Errors it accepts do not count
	// toward the failure streak. Nil treats every non-nil error as a failure.
	IsSuccessful func(err error) bool
}

// Validate checks the fields gobreaker cannot default sensibly.
func (c Config) Validate() error {
	if c.FailureThreshold == 0 {
		return ErrInvalidFailureThreshold
	}

	if c.RecoveryTimeout <= 0 {
		return ErrInvalidRecoveryTimeout
	}

	return nil
}

// WithIsSuccessful returns a copy of c using fn as the error classifier.
func (c Config) WithIsSuccessful(fn func(err error) bool) Config {
	c.IsSuccessful = fn
	return c
}

// DefaultConfig opens after 5 consecutive failures and probes after 60s.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		RecoveryTimeout:     60 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// HTTPServiceConfig suits REST backends: 5 failures, 30s recovery.
func HTTPServiceConfig() Config {
	return Config{
		FailureThreshold:    5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// AggressiveConfig fails fast: 3 failures, 10s recovery.
func AggressiveConfig() Config {
	return Config{
		FailureThreshold:    3,
		RecoveryTimeout:     10 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// ConservativeConfig tolerates flaky backends: 10 failures, 2m recovery.
func ConservativeConfig() Config {
	return Config{
		FailureThreshold:    10,
		RecoveryTimeout:     2 * time.Minute,
		HalfOpenMaxRequests: 1,
	}
}
