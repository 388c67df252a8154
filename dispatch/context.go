package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNilParentContext indicates that a nil parent context was provided
var ErrNilParentContext = errors.New("cannot create context from nil parent")

const defaultTracerName = "lib-dispatch.default"

type customContextKey string

// CustomContextKey is the context key used to store CustomContextKeyValue.
var CustomContextKey = customContextKey("dispatch_context")

// CustomContextKeyValue holds the request-scoped facilities attached to a context.
// Values are copied on every With* call, so a derived context never mutates its parent.
type CustomContextKeyValue struct {
	HeaderID      string
	Tracer        trace.Tracer
	Logger        log.Logger
	MetricFactory *metrics.MetricsFactory

	// AttrBag holds attributes applied to every span started under the context.
	// Keep it low cardinality: transaction.target, request_id, route.
	AttrBag []attribute.KeyValue
}

func cloneContextValues(ctx context.Context) *CustomContextKeyValue {
	clone := &CustomContextKeyValue{}

	if ctx == nil {
		return clone
	}

	current, ok := ctx.Value(CustomContextKey).(*CustomContextKeyValue)
	if !ok || current == nil {
		return clone
	}

	*clone = *current

	if len(current.AttrBag) > 0 {
		clone.AttrBag = append([]attribute.KeyValue(nil), current.AttrBag...)
	}

	return clone
}

func withValues(ctx context.Context, mutate func(values *CustomContextKeyValue)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	values := cloneContextValues(ctx)
	mutate(values)

	return context.WithValue(ctx, CustomContextKey, values)
}

// NewLoggerFromContext returns the context logger, or a NopLogger when none is set.
//
//nolint:ireturn
func NewLoggerFromContext(ctx context.Context) log.Logger {
	if ctx == nil {
		return &log.NopLogger{}
	}

	if values, ok := ctx.Value(CustomContextKey).(*CustomContextKeyValue); ok && values.Logger != nil {
		return values.Logger
	}

	return &log.NopLogger{}
}

// ContextWithLogger returns a context carrying logger.
func ContextWithLogger(ctx context.Context, logger log.Logger) context.Context {
	return withValues(ctx, func(values *CustomContextKeyValue) {
		values.Logger = logger
	})
}

// ContextWithTracer returns a context carrying tracer.
func ContextWithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	return withValues(ctx, func(values *CustomContextKeyValue) {
		values.Tracer = tracer
	})
}

// ContextWithMetricFactory returns a context carrying the metrics factory.
func ContextWithMetricFactory(ctx context.Context, metricFactory *metrics.MetricsFactory) context.Context {
	return withValues(ctx, func(values *CustomContextKeyValue) {
		values.MetricFactory = metricFactory
	})
}

// ContextWithHeaderID returns a context carrying the request correlation id.
func ContextWithHeaderID(ctx context.Context, headerID string) context.Context {
	return withValues(ctx, func(values *CustomContextKeyValue) {
		values.HeaderID = strings.TrimSpace(headerID)
	})
}

// NewTrackingFromContext extracts logger, tracer, header id and metrics factory
// from ctx. Missing components are replaced with working defaults: a NopLogger,
// the global tracer, a fresh UUID and a no-op metrics factory.
//
//nolint:ireturn
func NewTrackingFromContext(ctx context.Context) (log.Logger, trace.Tracer, string, *metrics.MetricsFactory) {
	values := cloneContextValues(ctx)

	logger := values.Logger
	if logger == nil {
		logger = &log.NopLogger{}
	}

	tracer := values.Tracer
	if tracer == nil {
		tracer = otel.Tracer(defaultTracerName)
	}

	headerID := strings.TrimSpace(values.HeaderID)
	if headerID == "" {
		headerID = uuid.NewString()
	}

	factory := values.MetricFactory
	if factory == nil {
		factory = metrics.NewNopFactory()
	}

	return logger, tracer, headerID, factory
}

// ContextWithSpanAttributes appends attributes to the request attribute bag.
// The span processor copies them onto every span started under ctx.
func ContextWithSpanAttributes(ctx context.Context, kv ...attribute.KeyValue) context.Context {
	if len(kv) == 0 {
		if ctx == nil {
			return context.Background()
		}

		return ctx
	}

	return withValues(ctx, func(values *CustomContextKeyValue) {
		values.AttrBag = append(values.AttrBag, kv...)
	})
}

// AttributesFromContext returns a copy of the attribute bag.
func AttributesFromContext(ctx context.Context) []attribute.KeyValue {
	if ctx == nil {
		return nil
	}

	values, ok := ctx.Value(CustomContextKey).(*CustomContextKeyValue)
	if !ok || values == nil || len(values.AttrBag) == 0 {
		return nil
	}

	out := make([]attribute.KeyValue, len(values.AttrBag))
	copy(out, values.AttrBag)

	return out
}

// ReplaceAttributes resets the attribute bag to kv.
func ReplaceAttributes(ctx context.Context, kv ...attribute.KeyValue) context.Context {
	return withValues(ctx, func(values *CustomContextKeyValue) {
		values.AttrBag = append([]attribute.KeyValue(nil), kv...)
	})
}

// WithTimeoutSafe returns a context bounded by timeout unless parent already
// expires sooner, in which case the parent deadline is kept.
func WithTimeoutSafe(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if parent == nil {
		return nil, nil, ErrNilParentContext
	}

	if deadline, ok := parent.Deadline(); ok && time.Until(deadline) < timeout {
		ctx, cancel := context.WithCancel(parent)
		return ctx, cancel, nil
	}

	ctx, cancel := context.WithTimeout(parent, timeout)

	return ctx, cancel, nil
}
