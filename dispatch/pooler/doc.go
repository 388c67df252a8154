// Package pooler is the transaction dispatch orchestrator.
//
// A Pooler accepts submissions without touching the network, keeps them in a
// priority queue, parks transactions whose dependencies are not yet Completed,
// and dispatches ready batches through the circuit breaker and a bounded
// connection pool. Transient failures are retried on a backoff schedule;
// circuit-open rejections wait for the breaker's recovery window instead of
// consuming the retry budget.
//
// Three background loops run while the pooler is started: a health probe
// (observability only), a metrics aggregator and a cleanup pass that purges
// terminal transactions older than the retention window.
package pooler
