package pooler

import (
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch/backend"
	"github.com/LerianStudio/lib-dispatch/dispatch/backoff"
	"github.com/LerianStudio/lib-dispatch/dispatch/circuitbreaker"
	"github.com/LerianStudio/lib-dispatch/dispatch/connpool"
	"github.com/LerianStudio/lib-dispatch/dispatch/transaction"
)

const (
	DefaultBatchSize           = 10
	DefaultIdleDelay           = 100 * time.Millisecond
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultHealthCheckTimeout  = 5 * time.Second
	DefaultMetricsInterval     = 60 * time.Second
	DefaultMetricsWindow       = 1000
	DefaultCleanupInterval     = 5 * time.Minute
	DefaultRetention           = time.Hour
	DefaultSinkTimeout         = 2 * time.Second
)

var (
	ErrInvalidBatchSize  = errors.New("pooler: batch size must not be negative")
	ErrInvalidMaxRetries = errors.New("pooler: max retries must not be negative")
	ErrInvalidRetention  = errors.New("pooler: retention must not be negative")
	ErrInvalidInterval   = errors.New("pooler: intervals must not be negative")
)

// Config configures a Pooler. Start from DefaultConfig: MaxRetries and
// Retention are taken as-is, so zero disables retries and keeps nothing after
// cleanup. Other zero fields fall back to their defaults.
type Config struct {
	// Backend addresses the resource API. Ignored when WithHandleFactory is used.
	Backend backend.Config

	MaxConnections int
	MaxIdle        int
	BatchSize      int

	MaxRetries  int
	RetryDelays backoff.Schedule

	// Breaker guards every dispatch attempt.
	Breaker circuitbreaker.Config

	IdleDelay           time.Duration
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	MetricsInterval     time.Duration
	MetricsWindow       int
	CleanupInterval     time.Duration
	Retention           time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:      connpool.DefaultMaxConnections,
		MaxIdle:             connpool.DefaultMaxIdle,
		BatchSize:           DefaultBatchSize,
		MaxRetries:          transaction.DefaultMaxRetries,
		RetryDelays:         backoff.DefaultSchedule(),
		Breaker:             circuitbreaker.HTTPServiceConfig(),
		IdleDelay:           DefaultIdleDelay,
		HealthCheckInterval: DefaultHealthCheckInterval,
		HealthCheckTimeout:  DefaultHealthCheckTimeout,
		MetricsInterval:     DefaultMetricsInterval,
		MetricsWindow:       DefaultMetricsWindow,
		CleanupInterval:     DefaultCleanupInterval,
		Retention:           DefaultRetention,
	}
}

// Validate rejects negative values and an invalid schedule or breaker. New
// validates after applying defaults.
func (c Config) Validate() error {
	var errs []error

	if c.BatchSize < 0 {
		errs = append(errs, ErrInvalidBatchSize)
	}

	if c.MaxRetries < 0 {
		errs = append(errs, ErrInvalidMaxRetries)
	}

	if c.Retention < 0 {
		errs = append(errs, ErrInvalidRetention)
	}

	for _, d := range []time.Duration{c.IdleDelay, c.HealthCheckInterval, c.HealthCheckTimeout, c.MetricsInterval, c.CleanupInterval} {
		if d < 0 {
			errs = append(errs, ErrInvalidInterval)
			break
		}
	}

	if c.MaxConnections < 0 {
		errs = append(errs, connpool.ErrInvalidMaxConnections)
	}

	if len(c.RetryDelays) > 0 {
		if err := c.RetryDelays.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("retry delays: %w", err))
		}
	}

	if err := c.Breaker.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("breaker: %w", err))
	}

	return errors.Join(errs...)
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.MaxConnections == 0 {
		c.MaxConnections = d.MaxConnections
	}

	if c.MaxIdle == 0 {
		c.MaxIdle = d.MaxIdle
	}

	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}

	if len(c.RetryDelays) == 0 {
		c.RetryDelays = d.RetryDelays
	}

	if c.Breaker.FailureThreshold == 0 && c.Breaker.RecoveryTimeout == 0 {
		c.Breaker = d.Breaker
	}

	if c.IdleDelay == 0 {
		c.IdleDelay = d.IdleDelay
	}

	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}

	if c.HealthCheckTimeout == 0 {
		c.HealthCheckTimeout = d.HealthCheckTimeout
	}

	if c.MetricsInterval == 0 {
		c.MetricsInterval = d.MetricsInterval
	}

	if c.MetricsWindow <= 0 {
		c.MetricsWindow = d.MetricsWindow
	}

	if c.CleanupInterval == 0 {
		c.CleanupInterval = d.CleanupInterval
	}

	return c
}
