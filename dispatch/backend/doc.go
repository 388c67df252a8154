// Package backend is the HTTP client for the PostgREST-style resource API
// the pooler dispatches to.
//
// A Client is one pooled connection handle. Every failure is returned as a
// *Error carrying a Category; Retryable marks the categories worth retrying
// (timeouts, connection failures, 5xx, 429, 408).
package backend
