package pooler

import (
	"context"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch"
	"github.com/LerianStudio/lib-dispatch/dispatch/circuitbreaker"
	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry/metrics"
	"github.com/LerianStudio/lib-dispatch/dispatch/safe"
	"github.com/LerianStudio/lib-dispatch/dispatch/transaction"
)

// Metrics aggregates pool counters and the rolling attempt window.
type Metrics struct {
	TotalConnections       int           `json:"totalConnections"`
	ActiveConnections      int           `json:"activeConnections"`
	IdleConnections        int           `json:"idleConnections"`
	TotalTransactions      int64         `json:"totalTransactions"`
	SuccessfulTransactions int64         `json:"successfulTransactions"`
	FailedTransactions     int64         `json:"failedTransactions"`
	CancelledTransactions  int64         `json:"cancelledTransactions"`
	AverageResponseTime    time.Duration `json:"averageResponseTime"`
	ErrorRate              float64       `json:"errorRate"`
	LastHealthCheck        time.Time     `json:"lastHealthCheck"`
}

// PoolStatus is a point-in-time view of the pooler.
type PoolStatus struct {
	Running             bool                 `json:"running"`
	Metrics             Metrics              `json:"metrics"`
	QueueSize           int                  `json:"queueSize"`
	BlockedTransactions int                  `json:"blockedTransactions"`
	ScheduledRetries    int                  `json:"scheduledRetries"`
	ActiveTransactions  int                  `json:"activeTransactions"`
	TrackedTransactions int                  `json:"trackedTransactions"`
	CircuitBreakerState circuitbreaker.State `json:"circuitBreakerState"`
	ErrorCounts         map[string]int64     `json:"errorCounts"`
	Healthy             bool                 `json:"healthy"`
	LastHealthError     string               `json:"lastHealthError,omitempty"`
}

type sample struct {
	latency time.Duration
	failed  bool
}

// sampleWindow keeps the most recent attempt samples in a ring.
type sampleWindow struct {
	buf  []sample
	next int
	full bool
}

func newSampleWindow(size int) *sampleWindow {
	return &sampleWindow{buf: make([]sample, size)}
}

func (w *sampleWindow) add(latency time.Duration, failed bool) {
	w.buf[w.next] = sample{latency: latency, failed: failed}
	w.next++

	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
}

func (w *sampleWindow) snapshot() []sample {
	if w.full {
		out := make([]sample, 0, len(w.buf))
		out = append(out, w.buf[w.next:]...)

		return append(out, w.buf[:w.next]...)
	}

	return append([]sample(nil), w.buf[:w.next]...)
}

// aggregate holds the values recomputed by the metrics loop.
type aggregate struct {
	averageResponse time.Duration
	errorRate       float64
	errorRateBP     int64
}

func (p *Pooler) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectMetrics(ctx)
		}
	}
}

func (p *Pooler) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PurgeFinished()
		}
	}
}

// CollectMetrics recomputes the rolling average latency and error rate and
// exports the pool gauges. The metrics loop calls it every MetricsInterval.
func (p *Pooler) CollectMetrics(ctx context.Context) {
	p.mu.Lock()

	samples := p.samples.snapshot()
	latencies := make([]time.Duration, 0, len(samples))

	var failed int64

	for _, s := range samples {
		latencies = append(latencies, s.latency)

		if s.failed {
			failed++
		}
	}

	total := int64(len(samples))
	p.aggregate = aggregate{
		averageResponse: safe.MeanDuration(latencies),
		errorRate:       safe.RatioOrZero(failed, total),
		errorRateBP:     safe.BasisPointsOrZero(failed, total),
	}

	gauges := metrics.PoolGauges{
		QueueDepth:  int64(p.queue.Len()),
		ErrorRateBP: p.aggregate.errorRateBP,
	}
	average := p.aggregate.averageResponse

	p.mu.Unlock()

	if pool := p.pool.Load(); pool != nil {
		stats := pool.Stats()
		gauges.ActiveConnections = int64(stats.Active)
		gauges.IdleConnections = int64(stats.Idle)
	}

	if err := p.metrics.RecordPoolGauges(ctx, gauges); err != nil {
		p.logger.Log(ctx, log.LevelWarn, "error recording pool gauges", log.Err(err))
	}

	_ = p.metrics.RecordBreakerState(ctx, BreakerName, p.breakers.GetState(BreakerName).Ordinal())

	if p.metrics != nil {
		ctx = dispatch.ContextWithLogger(ctx, p.logger)
		dispatch.GetCPUUsage(ctx, p.metrics)
		dispatch.GetMemUsage(ctx, p.metrics)
	}

	p.logger.Log(ctx, log.LevelDebug, "pool metrics collected",
		log.Int64("samples", total),
		log.Duration("average_response_time", average),
		log.Int64("error_rate_bp", gauges.ErrorRateBP),
	)
}

// PoolStatus returns counters, queue sizes, breaker state and health.
func (p *Pooler) PoolStatus() PoolStatus {
	health, checked := p.health.GetHealthStatus()[BreakerName]
	state := p.breakers.GetState(BreakerName)

	p.mu.Lock()

	status := PoolStatus{
		Running: p.running.Load(),
		Metrics: Metrics{
			TotalTransactions:      p.counters.submitted,
			SuccessfulTransactions: p.counters.successful,
			FailedTransactions:     p.counters.failed,
			CancelledTransactions:  p.counters.cancelled,
			AverageResponseTime:    p.aggregate.averageResponse,
			ErrorRate:              p.aggregate.errorRate,
			LastHealthCheck:        health.LastChecked,
		},
		QueueSize:           p.queue.Len(),
		ScheduledRetries:    len(p.timers),
		ActiveTransactions:  p.active,
		TrackedTransactions: len(p.entries),
		CircuitBreakerState: state,
		ErrorCounts:         make(map[string]int64, len(p.errorCounts)),
	}

	for category, n := range p.errorCounts {
		status.ErrorCounts[category] = n
	}

	for _, e := range p.entries {
		if e.tx.Status == transaction.StatusPending && e.unmet > 0 {
			status.BlockedTransactions++
		}
	}

	p.mu.Unlock()

	if pool := p.pool.Load(); pool != nil {
		stats := pool.Stats()
		status.Metrics.TotalConnections = stats.Total
		status.Metrics.ActiveConnections = stats.Active
		status.Metrics.IdleConnections = stats.Idle
	}

	status.Healthy = state != circuitbreaker.StateOpen && (!checked || health.Healthy)
	if checked {
		status.LastHealthError = health.LastError
	}

	return status
}
