// Package opentelemetry provides tracing, metrics, propagation, and redaction helpers.
//
// InitializeTelemetryWithError builds OTLP providers/exporters and can run in
// disabled mode for local/dev environments while keeping a usable MetricsFactory.
//
// HTTP carrier utilities propagate trace context to the backend and from
// inbound fiber requests. Span attributes pass through a redacting processor
// so dispatched payloads never export secrets.
package opentelemetry
