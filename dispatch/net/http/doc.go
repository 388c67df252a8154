// Package http exposes the dispatch pooler over Fiber.
//
// RegisterRoutes mounts the transaction API (submit, batch submit, status with
// optional wait, cancel and pool status). HealthWithDependencies reports the
// backend circuit breaker. WithHTTPLogging and WithTelemetry install the
// request logger, request id and server span, and FiberErrorHandler renders
// failures through the same business error body the handlers use.
package http
