package constant

// TelemetrySDKName identifies this library in OTEL telemetry resource attributes.
const TelemetrySDKName = "lib-dispatch/opentelemetry"

// MaxMetricLabelLength is the maximum length for metric labels to prevent cardinality explosion.
// Used by assert, runtime, and circuitbreaker packages for label sanitization.
const MaxMetricLabelLength = 64

// Telemetry attribute key prefixes.
const (
	// AttrPrefixAssertion is the prefix for assertion event attributes.
	AttrPrefixAssertion = "assertion."
	// AttrPrefixPanic is the prefix for panic event attributes.
	AttrPrefixPanic = "panic."
)

// Telemetry attribute keys for dispatch spans and metrics.
const (
	// AttrTransactionID identifies a dispatched transaction.
	AttrTransactionID = "dispatch.transaction.id"
	// AttrTransactionTarget is the resource a transaction addresses.
	AttrTransactionTarget = "dispatch.transaction.target"
	// AttrTransactionOperation is the HTTP verb of a transaction.
	AttrTransactionOperation = "dispatch.transaction.operation"
	// AttrErrorCategory is the classified failure category.
	AttrErrorCategory = "dispatch.error.category"
	// AttrBreakerName is the circuit breaker name.
	AttrBreakerName = "dispatch.breaker.name"
	// AttrBreakerState is the circuit breaker state after a transition.
	AttrBreakerState = "dispatch.breaker.state"
	// AttrDBSystem is the semconv database system attribute.
	AttrDBSystem = "db.system"
)

// DBSystemRedis is the AttrDBSystem value for Redis and Valkey.
const DBSystemRedis = "redis"

// Telemetry metric names.
const (
	// MetricPanicRecoveredTotal is the counter metric for recovered panics.
	MetricPanicRecoveredTotal = "panic_recovered_total"
	// MetricAssertionFailedTotal is the counter metric for failed assertions.
	MetricAssertionFailedTotal = "assertion_failed_total"
	// MetricBreakerStateChanges counts circuit breaker transitions.
	MetricBreakerStateChanges = "dispatch_circuit_breaker_state_changes"
)

// Telemetry event names.
const (
	// EventAssertionFailed is the span event name for assertion failures.
	EventAssertionFailed = "assertion.failed"
	// EventPanicRecovered is the span event name for recovered panics.
	EventPanicRecovered = "panic.recovered"
)

// SanitizeMetricLabel truncates a label value to MaxMetricLabelLength
// to prevent metric cardinality explosion in OTEL backends.
func SanitizeMetricLabel(value string) string {
	if len(value) > MaxMetricLabelLength {
		return value[:MaxMetricLabelLength]
	}

	return value
}
