package http

import (
	"context"
	"errors"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch"
	libLog "github.com/LerianStudio/lib-dispatch/dispatch/log"
	libOpentelemetry "github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry"
	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/trace"
)

// Ping returns HTTP Status 200 with response "pong".
func Ping(c *fiber.Ctx) error {
	return c.SendString("pong")
}

// Version returns HTTP Status 200 with the VERSION environment variable.
func Version(c *fiber.Ctx) error {
	return OK(c, fiber.Map{
		"version":     dispatch.GetenvOrDefault("VERSION", "0.0.0"),
		"requestDate": time.Now().UTC(),
	})
}

// Welcome returns HTTP Status 200 with service info.
func Welcome(service string, description string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service":     service,
			"description": description,
		})
	}
}

// FiberErrorHandler is the fiber error handler for the dispatch API.
// It records the error on the request span and logs unexpected errors
// through the request logger before rendering them.
func FiberErrorHandler(c *fiber.Ctx, err error) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	span := trace.SpanFromContext(ctx)
	libOpentelemetry.HandleSpanError(span, "handler error", err)

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return RenderError(c, fe)
	}

	logger := dispatch.NewLoggerFromContext(ctx)
	logger.Log(ctx, libLog.LevelError,
		"handler error",
		libLog.String("method", c.Method()),
		libLog.String("path", c.Path()),
		libLog.Err(err),
	)

	return RenderError(c, err)
}
