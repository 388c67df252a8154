// Package ratelimit limits transaction submissions per client.
//
// New builds a fixed-window fiber limiter. RedisStorage shares its counters
// through Redis so that every dispatch replica enforces the same budget.
package ratelimit
