// Package errgroup is a panic-safe variant of golang.org/x/sync/errgroup.
//
// The pooler fans out each dispatch batch through a Group; a panicking
// attempt is recovered and reported instead of crashing the queue processor.
package errgroup
