// Package zap adapts go.uber.org/zap to the dispatch log.Logger interface.
//
// Records are teed into the OpenTelemetry log bridge unless disabled.
package zap
