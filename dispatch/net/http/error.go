package http

import (
	"errors"

	"github.com/LerianStudio/lib-dispatch/dispatch"
	constant "github.com/LerianStudio/lib-dispatch/dispatch/constants"
	"github.com/gofiber/fiber/v2"
)

var codeStatus = map[string]int{
	constant.ErrTransactionNotFound.Error():       fiber.StatusNotFound,
	constant.ErrInvalidOperation.Error():          fiber.StatusBadRequest,
	constant.ErrInvalidTarget.Error():             fiber.StatusBadRequest,
	constant.ErrInvalidDependency.Error():         fiber.StatusBadRequest,
	constant.ErrInvalidRequestBody.Error():        fiber.StatusBadRequest,
	constant.ErrTransactionNotCancellable.Error(): fiber.StatusConflict,
	constant.ErrPoolerNotRunning.Error():          fiber.StatusServiceUnavailable,
	constant.ErrBackendUnavailable.Error():        fiber.StatusServiceUnavailable,
}

// StatusForCode returns the HTTP status of a dispatch business error code.
// Unknown codes map to 500.
func StatusForCode(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}

	return fiber.StatusInternalServerError
}

// WriteBusinessError maps err through dispatch.ValidateBusinessError and
// writes the resulting business body. Errors without a business mapping go
// through RenderError.
func WriteBusinessError(c *fiber.Ctx, err error, entityType string, args ...any) error {
	var resp dispatch.Response
	if errors.As(dispatch.ValidateBusinessError(err, entityType, args...), &resp) {
		return JSONResponseError(c, resp)
	}

	return RenderError(c, err)
}
