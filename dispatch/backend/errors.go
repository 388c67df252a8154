package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Category classifies a backend failure.
type Category string

const (
	CategoryTimeout        Category = "timeout"
	CategoryConnection     Category = "connection"
	CategoryServerError    Category = "server_error"
	CategoryRateLimited    Category = "rate_limited"
	CategoryClientError    Category = "client_error"
	CategoryDecode         Category = "decode"
	CategoryInvalidRequest Category = "invalid_request"
	CategoryCancelled      Category = "cancelled"
)

// Error is a classified backend failure.
type Error struct {
	Category   Category
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

// Error implements error.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s (status %d): %s", e.Category, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("backend %s: %s", e.Category, e.Message)
}

// Unwrap returns the underlying transport error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a *Error marked retryable.
func IsRetryable(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Retryable
	}

	return false
}

// CategoryOf returns the category of err, or "" for non-backend errors.
func CategoryOf(err error) Category {
	var be *Error
	if errors.As(err, &be) {
		return be.Category
	}

	return ""
}

// CountsAsFailure reports whether err indicates an unhealthy backend.
// Client-side mistakes and caller cancellation do not.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}

	var be *Error
	if !errors.As(err, &be) {
		return true
	}

	switch be.Category {
	case CategoryClientError, CategoryInvalidRequest, CategoryDecode, CategoryCancelled:
		return false
	default:
		return true
	}
}

func invalidRequest(format string, args ...any) *Error {
	return &Error{Category: CategoryInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func classifyTransportError(ctx context.Context, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Category: CategoryTimeout, Message: "request deadline exceeded", Retryable: true, Err: err}
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return &Error{Category: CategoryCancelled, Message: "request cancelled", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Category: CategoryTimeout, Message: "network timeout", Retryable: true, Err: err}
	}

	return &Error{Category: CategoryConnection, Message: "connection failed", Retryable: true, Err: err}
}

func classifyStatus(status int, message string) *Error {
	switch {
	case status == http.StatusRequestTimeout:
		return &Error{Category: CategoryTimeout, StatusCode: status, Message: message, Retryable: true}
	case status == http.StatusTooManyRequests:
		return &Error{Category: CategoryRateLimited, StatusCode: status, Message: message, Retryable: true}
	case status >= http.StatusInternalServerError:
		return &Error{Category: CategoryServerError, StatusCode: status, Message: message, Retryable: true}
	default:
		return &Error{Category: CategoryClientError, StatusCode: status, Message: message}
	}
}
