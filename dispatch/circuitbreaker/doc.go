// Package circuitbreaker isolates failing backends behind sony/gobreaker.
//
// A Manager owns named breakers. Each breaker opens after a run of
// consecutive failures, rejects calls with ErrCircuitOpen while open, and
// admits a single Half-Open probe once the recovery timeout has elapsed.
// Errors a Config.IsSuccessful classifier accepts never count toward the
// failure streak.
//
// HealthChecker probes registered services periodically and immediately
// after a breaker opens. It only records results; it never resets a breaker.
package circuitbreaker
