// Package metrics provides a fluent factory for OpenTelemetry metric instruments.
//
// MetricsFactory caches instruments and exposes builder-style APIs for counters,
// gauges, and histograms. Dispatch-specific helpers (RecordTransactionSubmitted,
// RecordAttemptLatency, RecordPoolGauges, ...) wrap the instruments the pooler
// and circuit breaker report through.
//
// A nil *MetricsFactory is valid and records nothing.
package metrics
