//go:build unit

package opentelemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestInitializeTelemetryWithError_Validation(t *testing.T) {
	t.Parallel()

	_, err := InitializeTelemetryWithError(nil)
	assert.ErrorIs(t, err, ErrNilTelemetryConfig)

	_, err = InitializeTelemetryWithError(&TelemetryConfig{})
	assert.ErrorIs(t, err, ErrNilTelemetryLogger)
}

func TestInitializeTelemetryWithError_Disabled(t *testing.T) {
	t.Parallel()

	tl, err := InitializeTelemetryWithError(&TelemetryConfig{
		LibraryName: "lib-dispatch",
		ServiceName: "dispatchd",
		Logger:      log.NewNop(),
	})
	require.NoError(t, err)

	assert.NotNil(t, tl.TracerProvider)
	assert.NotNil(t, tl.MetricProvider)
	assert.NotNil(t, tl.LoggerProvider)
	require.NotNil(t, tl.MetricsFactory)
	assert.NoError(t, tl.MetricsFactory.RecordTransactionSubmitted(context.Background()))
	assert.NoError(t, tl.ShutdownTelemetry(context.Background()))
}

func TestShutdownTelemetry_NilSafe(t *testing.T) {
	t.Parallel()

	var tl *Telemetry
	assert.NoError(t, tl.ShutdownTelemetry(context.Background()))
}

// Tests below touch the global propagator and must not run in parallel.

func TestInjectAndExtractHTTPContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "outbound")
	defer span.End()

	headers := http.Header{}
	InjectHTTPContext(&headers, ctx)
	require.NotEmpty(t, headers.Get("Traceparent"))

	app := fiber.New()

	var extracted string

	app.Get("/", func(c *fiber.Ctx) error {
		extracted = trace.SpanContextFromContext(ExtractHTTPContext(c)).TraceID().String()
		return c.SendStatus(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", headers.Get("Traceparent"))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, span.SpanContext().TraceID().String(), extracted)
	assert.Equal(t, extracted, GetTraceIDFromContext(ctx))
}

func TestGetTraceIDFromContext_NoSpan(t *testing.T) {
	t.Parallel()

	assert.Empty(t, GetTraceIDFromContext(context.Background()))
}

func TestSetSpanAttributesFromStruct_Redacts(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := tp.Tracer("test").Start(context.Background(), "dispatch")
	require.NoError(t, SetSpanAttributesFromStruct(span, "app.request.payload", map[string]any{
		"name":     "Ann",
		"password": "hunter2",
	}))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)

	var value string

	for _, attr := range ended[0].Attributes() {
		if attr.Key == "app.request.payload" {
			value = attr.Value.AsString()
		}
	}

	assert.JSONEq(t, `{"name":"Ann","password":"********"}`, value)
}

func TestHandleSpanHelpers_NilSpan(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		HandleSpanEvent(nil, "event")
		HandleSpanError(nil, "message", assert.AnError)
		_ = SetSpanAttributesFromStruct(nil, "k", map[string]any{})
	})
}

func TestSanitizeUTF8String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ok", sanitizeUTF8String("ok"))
	assert.Equal(t, "a�b", sanitizeUTF8String("a\xffb"))
}
