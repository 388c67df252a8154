package http

import (
	"errors"
	"net/http"

	"github.com/LerianStudio/lib-dispatch/dispatch"
	constant "github.com/LerianStudio/lib-dispatch/dispatch/constants"
	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the body of transport-level failures such as unknown
// routes, rate limiting and unexpected server errors.
type ErrorResponse struct {
	// HTTP status code
	Code int `json:"code"    example:"429"`
	// Error type identifier
	Title string `json:"title"   example:"rate_limited"`
	// Human-readable error message
	Message string `json:"message" example:"too many submissions"`
}

// Error allows ErrorResponse to satisfy the error interface.
func (e ErrorResponse) Error() string {
	return e.Message
}

// RenderError writes err through a single stable contract. Business errors
// keep the dispatch.Response shape; everything else becomes an ErrorResponse.
// Unclassified errors never leak their text.
func RenderError(ctx *fiber.Ctx, err error) error {
	if err == nil {
		return nil
	}

	var business dispatch.Response
	if errors.As(err, &business) {
		return JSONResponseError(ctx, business)
	}

	var presp *ErrorResponse
	if errors.As(err, &presp) && presp != nil {
		return renderErrorResponse(ctx, *presp)
	}

	var responseErr ErrorResponse
	if errors.As(err, &responseErr) {
		return renderErrorResponse(ctx, responseErr)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return RespondError(ctx, fiberErr.Code, constant.DefaultErrorTitle, fiberErr.Message)
	}

	return RespondError(ctx, fiber.StatusInternalServerError, constant.DefaultErrorTitle, constant.DefaultInternalErrorMessage)
}

func renderErrorResponse(ctx *fiber.Ctx, resp ErrorResponse) error {
	status := fiber.StatusInternalServerError
	if resp.Code >= http.StatusContinue && resp.Code <= 599 {
		status = resp.Code
	}

	title := resp.Title
	if title == "" {
		title = constant.DefaultErrorTitle
	}

	message := resp.Message
	if message == "" {
		message = http.StatusText(status)
	}

	return RespondError(ctx, status, title, message)
}
