package pooler

import (
	"context"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch/backend"
	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry/metrics"
	"github.com/LerianStudio/lib-dispatch/dispatch/transaction"
)

// Handle is one pooled backend connection.
type Handle interface {
	Do(ctx context.Context, req backend.Request) (any, error)
	Ping(ctx context.Context) error
	Close()
}

// HandleFactory creates a Handle. It is called lazily by the connection pool.
type HandleFactory func(ctx context.Context) (Handle, error)

// SnapshotSink receives the final snapshot of every transaction that reaches
// a terminal status. Errors are logged and never affect dispatch.
type SnapshotSink interface {
	Save(ctx context.Context, snapshot transaction.Snapshot) error
}

// Option customizes a Pooler.
type Option func(*Pooler)

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(p *Pooler) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetricsFactory exports dispatch metrics through factory.
func WithMetricsFactory(factory *metrics.MetricsFactory) Option {
	return func(p *Pooler) {
		p.metrics = factory
	}
}

// WithSnapshotSink mirrors terminal snapshots to sink.
func WithSnapshotSink(sink SnapshotSink) Option {
	return func(p *Pooler) {
		p.sink = sink
	}
}

// WithClock replaces the wall clock used for transaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pooler) {
		if now != nil {
			p.now = now
		}
	}
}

// WithHandleFactory replaces the backend client factory.
func WithHandleFactory(factory HandleFactory) Option {
	return func(p *Pooler) {
		if factory != nil {
			p.handleFactory = factory
		}
	}
}

func backendFactory(cfg backend.Config, logger log.Logger) HandleFactory {
	return func(context.Context) (Handle, error) {
		if cfg.Logger == nil {
			cfg.Logger = logger
		}

		client, err := backend.New(cfg)
		if err != nil {
			return nil, err
		}

		return client, nil
	}
}
