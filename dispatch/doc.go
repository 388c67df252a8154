// Package dispatch provides the root helpers shared by the lib-dispatch packages.
//
// It covers request-scoped context tracking (logger, tracer, metrics factory,
// correlation id and span attributes), environment configuration loading,
// business error mapping for the HTTP surface, and the Launcher that runs the
// service apps.
//
// Typical usage at request ingress:
//
//	ctx = dispatch.ContextWithLogger(ctx, logger)
//	ctx = dispatch.ContextWithTracer(ctx, tracer)
//	ctx = dispatch.ContextWithHeaderID(ctx, requestID)
//
// The transaction pooler itself lives in the pooler subpackage.
package dispatch
