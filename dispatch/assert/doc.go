// Package assert provides non-panicking invariant checks that log, count and
// trace failures and hand the caller an error to act on.
package assert
