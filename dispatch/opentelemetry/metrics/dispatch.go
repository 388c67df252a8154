package metrics

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
)

// Dispatch instruments.
var (
	MetricTransactionsSubmitted = Metric{
		Name:        "dispatch_transactions_submitted",
		Unit:        "1",
		Description: "Transactions accepted by the pooler.",
	}

	MetricTransactionsCompleted = Metric{
		Name:        "dispatch_transactions_completed",
		Unit:        "1",
		Description: "Transactions that reached Completed.",
	}

	MetricTransactionsFailed = Metric{
		Name:        "dispatch_transactions_failed",
		Unit:        "1",
		Description: "Transactions that reached Failed, labelled by error category.",
	}

	MetricTransactionsRetried = Metric{
		Name:        "dispatch_transactions_retried",
		Unit:        "1",
		Description: "Retry attempts scheduled after a transient failure.",
	}

	MetricCircuitRejections = Metric{
		Name:        "dispatch_circuit_rejections",
		Unit:        "1",
		Description: "Dispatch attempts rejected by an open circuit breaker.",
	}

	MetricAttemptLatency = Metric{
		Name:        "dispatch_attempt_latency",
		Unit:        "ms",
		Description: "Backend call latency per dispatch attempt.",
		Buckets:     DefaultLatencyBuckets,
	}

	MetricBatchSize = Metric{
		Name:        "dispatch_batch_size",
		Unit:        "1",
		Description: "Transactions dispatched per processing cycle.",
		Buckets:     DefaultBatchBuckets,
	}

	MetricQueueDepth = Metric{
		Name:        "dispatch_queue_depth",
		Unit:        "1",
		Description: "Transactions waiting in the ready queue.",
	}

	MetricConnectionsActive = Metric{
		Name:        "dispatch_connections_active",
		Unit:        "1",
		Description: "Backend connections currently checked out.",
	}

	MetricConnectionsIdle = Metric{
		Name:        "dispatch_connections_idle",
		Unit:        "1",
		Description: "Backend connections idle in the pool.",
	}

	MetricErrorRate = Metric{
		Name:        "dispatch_error_rate",
		Unit:        "bp",
		Description: "Failed attempts over the rolling window, in basis points.",
	}

	MetricBreakerState = Metric{
		Name:        "dispatch_circuit_breaker_state",
		Unit:        "1",
		Description: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
	}
)

// PoolGauges is one metrics-loop sample of pool occupancy.
type PoolGauges struct {
	QueueDepth        int64
	ActiveConnections int64
	IdleConnections   int64
	ErrorRateBP       int64
}

func (f *MetricsFactory) addOne(ctx context.Context, m Metric, attrs ...attribute.KeyValue) error {
	b, err := f.Counter(m)
	if err != nil {
		return err
	}

	return b.WithAttributes(attrs...).AddOne(ctx)
}

// RecordTransactionSubmitted counts an accepted submission.
func (f *MetricsFactory) RecordTransactionSubmitted(ctx context.Context, attrs ...attribute.KeyValue) error {
	return f.addOne(ctx, MetricTransactionsSubmitted, attrs...)
}

// RecordTransactionCompleted counts a Completed transaction.
func (f *MetricsFactory) RecordTransactionCompleted(ctx context.Context, attrs ...attribute.KeyValue) error {
	return f.addOne(ctx, MetricTransactionsCompleted, attrs...)
}

// RecordTransactionFailed counts a Failed transaction under its error category.
func (f *MetricsFactory) RecordTransactionFailed(ctx context.Context, category string, attrs ...attribute.KeyValue) error {
	return f.addOne(ctx, MetricTransactionsFailed, append(attrs, attribute.String("category", category))...)
}

// RecordTransactionRetried counts a scheduled retry.
func (f *MetricsFactory) RecordTransactionRetried(ctx context.Context, attrs ...attribute.KeyValue) error {
	return f.addOne(ctx, MetricTransactionsRetried, attrs...)
}

// RecordCircuitRejection counts an attempt rejected by an open breaker.
func (f *MetricsFactory) RecordCircuitRejection(ctx context.Context, breaker string) error {
	return f.addOne(ctx, MetricCircuitRejections, attribute.String("breaker", breaker))
}

// RecordAttemptLatency records one backend call latency in milliseconds.
func (f *MetricsFactory) RecordAttemptLatency(ctx context.Context, ms int64, attrs ...attribute.KeyValue) error {
	b, err := f.Histogram(MetricAttemptLatency)
	if err != nil {
		return err
	}

	return b.WithAttributes(attrs...).Record(ctx, ms)
}

// RecordBatchSize records how many transactions one cycle dispatched.
func (f *MetricsFactory) RecordBatchSize(ctx context.Context, size int64) error {
	b, err := f.Histogram(MetricBatchSize)
	if err != nil {
		return err
	}

	return b.Record(ctx, size)
}

// RecordBreakerState records the numeric breaker state for a named breaker.
func (f *MetricsFactory) RecordBreakerState(ctx context.Context, breaker string, state int64) error {
	b, err := f.Gauge(MetricBreakerState)
	if err != nil {
		return err
	}

	return b.WithAttributes(attribute.String("breaker", breaker)).Set(ctx, state)
}

// RecordPoolGauges exports one sample of pool occupancy.
func (f *MetricsFactory) RecordPoolGauges(ctx context.Context, g PoolGauges) error {
	samples := []struct {
		metric Metric
		value  int64
	}{
		{MetricQueueDepth, g.QueueDepth},
		{MetricConnectionsActive, g.ActiveConnections},
		{MetricConnectionsIdle, g.IdleConnections},
		{MetricErrorRate, g.ErrorRateBP},
	}

	var errs []error

	for _, s := range samples {
		b, err := f.Gauge(s.metric)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if err := b.Set(ctx, s.value); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
