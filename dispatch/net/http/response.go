package http

import (
	"github.com/LerianStudio/lib-dispatch/dispatch"
	"github.com/gofiber/fiber/v2"
)

// Respond writes payload as JSON with status.
func Respond(c *fiber.Ctx, status int, payload any) error {
	return c.Status(status).JSON(payload)
}

// RespondStatus writes status with an empty body.
func RespondStatus(c *fiber.Ctx, status int) error {
	return c.SendStatus(status)
}

// RespondError writes the transport error body.
func RespondError(c *fiber.Ctx, status int, title, message string) error {
	return Respond(c, status, ErrorResponse{
		Code:    status,
		Title:   title,
		Message: message,
	})
}

// OK sends an HTTP 200 OK response with a custom body.
func OK(c *fiber.Ctx, s any) error {
	return Respond(c, fiber.StatusOK, s)
}

// Accepted sends an HTTP 202 Accepted response with a custom body.
func Accepted(c *fiber.Ctx, s any) error {
	return Respond(c, fiber.StatusAccepted, s)
}

// JSONResponseError writes a business error body with the HTTP status of its code.
func JSONResponseError(c *fiber.Ctx, err dispatch.Response) error {
	return Respond(c, StatusForCode(err.Code), err)
}
