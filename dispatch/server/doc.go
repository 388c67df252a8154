// Package server runs the dispatch HTTP server next to its pooler and shuts
// both down in order on a termination signal.
package server
