// Package connpool bounds outbound backend handles with jackc/puddle/v2.
//
// Handles are created lazily up to MaxConnections. A released handle returns
// to the idle set while fewer than MaxIdle are idle and is disposed otherwise.
// No handle is ever shared between two concurrent leases.
package connpool
