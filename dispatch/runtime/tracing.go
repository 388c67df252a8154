package runtime

import (
	"context"
	"errors"

	constant "github.com/LerianStudio/lib-dispatch/dispatch/constants"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrPanic is recorded on spans that observed a recovered panic.
var ErrPanic = errors.New("panic")

// PanicSpanEventName is the span event emitted for recovered panics.
const PanicSpanEventName = constant.EventPanicRecovered

const maxSpanStackLen = 4096

// RecordPanicToSpanWithComponent attaches a panic event to the active span in
// ctx and marks it as errored. Non-recording spans are left alone.
func RecordPanicToSpanWithComponent(ctx context.Context, panicValue any, stack []byte, component, name string) {
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	value := formatPanicValue(panicValue)
	stackStr := string(stack)

	if IsProductionMode() {
		value = redactedPanicMsg
		stackStr = ""
	} else if len(stackStr) > maxSpanStackLen {
		stackStr = stackStr[:maxSpanStackLen]
	}

	attrs := []attribute.KeyValue{
		attribute.String(constant.AttrPrefixPanic+"value", value),
		attribute.String(constant.AttrPrefixPanic+"goroutine_name", name),
	}

	if component != "" {
		attrs = append(attrs, attribute.String(constant.AttrPrefixPanic+"component", component))
	}

	if stackStr != "" {
		attrs = append(attrs, attribute.String(constant.AttrPrefixPanic+"stack", stackStr))
	}

	span.AddEvent(PanicSpanEventName, trace.WithAttributes(attrs...))
	span.RecordError(ErrPanic)
	span.SetStatus(codes.Error, "panic recovered: "+value)
}
