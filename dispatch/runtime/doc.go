// Package runtime launches goroutines with panic recovery and routes every
// recovered panic through logging, metrics, span events and an optional
// error reporter.
//
// The pooler runs its queue processor and background loops through
// SafeGoWithContextAndComponent so a panicking loop never takes the process
// down unless CrashProcess is requested.
package runtime
