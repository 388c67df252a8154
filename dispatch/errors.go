package dispatch

import (
	"errors"
	"fmt"
	"strings"

	constant "github.com/LerianStudio/lib-dispatch/dispatch/constants"
)

// Response represents a business error with code, title, and message.
type Response struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"-"`
}

func (e Response) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e Response) Unwrap() error {
	return e.Err
}

type businessError struct {
	title   string
	message string
}

var businessErrors = []struct {
	sentinel error
	businessError
}{
	{constant.ErrTransactionNotFound, businessError{
		"Transaction Not Found",
		"No transaction with id %v is tracked by this pooler. It may never have existed or was purged after the retention period.",
	}},
	{constant.ErrInvalidOperation, businessError{
		"Invalid Operation",
		"The operation %v is not supported. Use one of GET, POST, PATCH or DELETE.",
	}},
	{constant.ErrInvalidTarget, businessError{
		"Invalid Target",
		"The target resource must be a non-empty path without whitespace.",
	}},
	{constant.ErrInvalidDependency, businessError{
		"Invalid Dependency",
		"The dependency %v is unknown or refers to the transaction itself.",
	}},
	{constant.ErrTransactionNotCancellable, businessError{
		"Transaction Not Cancellable",
		"Transaction %v is no longer pending and cannot be cancelled.",
	}},
	{constant.ErrPoolerNotRunning, businessError{
		"Pooler Not Running",
		"The transaction pooler is stopped. Retry once the service has started.",
	}},
	{constant.ErrBackendUnavailable, businessError{
		"Backend Unavailable",
		"The backend is unavailable and the circuit breaker is open. Retry after the recovery timeout.",
	}},
	{constant.ErrInvalidRequestBody, businessError{
		"Invalid Request Body",
		"The request body is malformed or missing required fields: %v",
	}},
}

// ValidateBusinessError maps a known dispatch error to a Response carrying its
// code, title and message. The first arg fills the message placeholder, if any. Unknown errors are returned unchanged.
//
// Wrapped sentinels are recognised with errors.Is, and the original error is
// kept in Response.Err.
func ValidateBusinessError(err error, entityType string, args ...any) error {
	if err == nil {
		return nil
	}

	for _, candidate := range businessErrors {
		if !errors.Is(err, candidate.sentinel) {
			continue
		}

		return Response{
			EntityType: entityType,
			Code:       candidate.sentinel.Error(),
			Title:      candidate.title,
			Message:    formatMessage(candidate.message, args),
			Err:        err,
		}
	}

	return err
}

// formatMessage fills the single %v placeholder of template with the first arg.
func formatMessage(template string, args []any) string {
	if !strings.Contains(template, "%v") {
		return template
	}

	var arg any = ""
	if len(args) > 0 {
		arg = args[0]
	}

	return fmt.Sprintf(template, arg)
}
