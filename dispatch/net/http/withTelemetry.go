package http

import (
	"context"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch"
	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry"
	"github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry/metrics"
	"github.com/LerianStudio/lib-dispatch/dispatch/runtime"
	"github.com/LerianStudio/lib-dispatch/dispatch/security"
	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMetricsCollectionInterval is the default interval for collecting system metrics.
// Can be overridden via METRICS_COLLECTION_INTERVAL environment variable.
const DefaultMetricsCollectionInterval = 5 * time.Second

var uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// TelemetryMiddleware starts a server span per request and samples host
// CPU and memory while the server runs.
type TelemetryMiddleware struct {
	Telemetry *opentelemetry.Telemetry

	collectorOnce sync.Once
	stopOnce      sync.Once
	stop          chan struct{}
}

// NewTelemetryMiddleware creates a new instance of TelemetryMiddleware.
func NewTelemetryMiddleware(tl *opentelemetry.Telemetry) *TelemetryMiddleware {
	return &TelemetryMiddleware{Telemetry: tl, stop: make(chan struct{})}
}

// WithTelemetry is a middleware that opens a server span named after the
// method and path, with UUIDs replaced by ":id", and stores the tracer and
// metrics factory in the user context. A nil telemetry passes requests through.
func (tm *TelemetryMiddleware) WithTelemetry(tl *opentelemetry.Telemetry, excludedRoutes ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if tl == nil || isRouteExcluded(c, excludedRoutes) {
			return c.Next()
		}

		setRequestHeaderID(c)

		factory := tl.MetricsFactory
		if factory == nil {
			factory = metrics.NewNopFactory()
		}

		tm.startCollector(c.UserContext(), factory)

		tracer := otel.Tracer(tl.LibraryName)
		if tl.TracerProvider != nil {
			tracer = tl.TracerProvider.Tracer(tl.LibraryName)
		}

		ctx, span := tracer.Start(opentelemetry.ExtractHTTPContext(c),
			c.Method()+" "+uuidPattern.ReplaceAllString(c.Path(), ":id"),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", c.Method()),
			attribute.String("http.url", sanitizeURL(c.OriginalURL())),
			attribute.String("http.scheme", c.Protocol()),
			attribute.String("http.host", c.Hostname()),
			attribute.String("http.user_agent", c.Get(fiber.HeaderUserAgent)),
		)

		ctx = dispatch.ContextWithTracer(ctx, tracer)
		ctx = dispatch.ContextWithMetricFactory(ctx, factory)

		c.SetUserContext(ctx)

		err := c.Next()

		span.SetAttributes(
			attribute.String("http.route", c.Route().Path),
			attribute.Int("http.status_code", c.Response().StatusCode()),
		)

		if err != nil {
			opentelemetry.HandleSpanError(span, "request failed", err)
		}

		return err
	}
}

// Stop ends the system metrics collector. It is safe to call more than once.
func (tm *TelemetryMiddleware) Stop() {
	tm.stopOnce.Do(func() {
		close(tm.stop)
	})
}

func (tm *TelemetryMiddleware) startCollector(ctx context.Context, factory *metrics.MetricsFactory) {
	tm.collectorOnce.Do(func() {
		logger := dispatch.NewLoggerFromContext(ctx)
		collectCtx := dispatch.ContextWithLogger(context.WithoutCancel(ctx), logger)

		runtime.SafeGoWithContextAndComponent(collectCtx, logger, "http", "system_metrics", runtime.KeepRunning,
			func(ctx context.Context) {
				ticker := time.NewTicker(getMetricsCollectionInterval())
				defer ticker.Stop()

				for {
					dispatch.GetCPUUsage(ctx, factory)
					dispatch.GetMemUsage(ctx, factory)

					select {
					case <-tm.stop:
						logger.Log(ctx, log.LevelDebug, "system metrics collector stopped")
						return
					case <-ticker.C:
					}
				}
			})
	})
}

// getMetricsCollectionInterval reads METRICS_COLLECTION_INTERVAL in Go
// duration format, falling back to DefaultMetricsCollectionInterval.
func getMetricsCollectionInterval() time.Duration {
	if envInterval := os.Getenv("METRICS_COLLECTION_INTERVAL"); envInterval != "" {
		if parsed, err := time.ParseDuration(envInterval); err == nil && parsed > 0 {
			return parsed
		}
	}

	return DefaultMetricsCollectionInterval
}

func isRouteExcluded(c *fiber.Ctx, excludedRoutes []string) bool {
	for _, route := range excludedRoutes {
		if strings.HasPrefix(c.Path(), route) {
			return true
		}
	}

	return false
}

// sanitizeURL redacts sensitive query parameter values.
func sanitizeURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.RawQuery == "" {
		return rawURL
	}

	query := parsed.Query()
	changed := false

	for key, values := range query {
		if !security.IsSensitiveField(key) {
			continue
		}

		for i := range values {
			values[i] = security.RedactedValue
		}

		changed = true
	}

	if !changed {
		return rawURL
	}

	parsed.RawQuery = query.Encode()

	return parsed.String()
}
