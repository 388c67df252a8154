// Package redis connects to Redis/Valkey and mirrors terminal transaction
// snapshots for other service replicas.
//
// Standalone, sentinel and cluster topologies are supported, with an optional
// static password and TLS.
package redis
