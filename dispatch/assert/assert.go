package assert

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strconv"

	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/runtime"
)

// Logger defines the minimal logging interface required by assertions.
type Logger interface {
	Log(ctx context.Context, level log.Level, msg string, fields ...log.Field)
}

// Asserter evaluates invariants and emits telemetry on failure.
// It never panics; a failed check is returned as an *AssertionError.
type Asserter struct {
	ctx       context.Context
	logger    Logger
	component string
	operation string
}

// ErrAssertionFailed is the sentinel error for failed assertions.
var ErrAssertionFailed = errors.New("assertion failed")

// AssertionError describes one failed assertion.
type AssertionError struct {
	Assertion string
	Message   string
	Component string
	Operation string
	Details   map[string]string
}

// Error returns the formatted assertion failure message.
func (entry *AssertionError) Error() string {
	if entry == nil {
		return ErrAssertionFailed.Error()
	}

	return "assertion failed: " + entry.Message
}

// Unwrap returns the sentinel assertion error for errors.Is.
func (entry *AssertionError) Unwrap() error {
	return ErrAssertionFailed
}

// New creates an Asserter labelled with component and operation.
//
//nolint:contextcheck
func New(ctx context.Context, logger Logger, component, operation string) *Asserter {
	if ctx == nil {
		ctx = context.Background()
	}

	return &Asserter{
		ctx:       ctx,
		logger:    logger,
		component: component,
		operation: operation,
	}
}

// That returns an error if ok is false.
//
//	if err := a.That(ctx, tx.RetryCount <= tx.MaxRetries, "retry budget exceeded", "id", tx.ID); err != nil {
//		return err
//	}
func (asserter *Asserter) That(ctx context.Context, ok bool, msg string, kv ...any) error {
	if ok {
		return nil
	}

	return asserter.fail(ctx, "That", msg, kv...)
}

// NotNil returns an error if v is nil, including typed nils.
func (asserter *Asserter) NotNil(ctx context.Context, v any, msg string, kv ...any) error {
	if !isNil(v) {
		return nil
	}

	return asserter.fail(ctx, "NotNil", msg, kv...)
}

// NotEmpty returns an error if s is empty.
func (asserter *Asserter) NotEmpty(ctx context.Context, s, msg string, kv ...any) error {
	if s != "" {
		return nil
	}

	return asserter.fail(ctx, "NotEmpty", msg, kv...)
}

// NoError returns an error if err is not nil. The error text and type are
// added to the failure details.
func (asserter *Asserter) NoError(ctx context.Context, err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}

	withErr := append([]any{"error", err.Error(), "error_type", fmt.Sprintf("%T", err)}, kv...)

	return asserter.fail(ctx, "NoError", msg, withErr...)
}

// Never always returns an error. Use for code paths that should be unreachable.
//
//	return a.Never(ctx, "unhandled outcome", "kind", outcome.Kind)
func (asserter *Asserter) Never(ctx context.Context, msg string, kv ...any) error {
	return asserter.fail(ctx, "Never", msg, kv...)
}

const maxValueLength = 200

func truncateValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) <= maxValueLength {
		return s
	}

	return s[:maxValueLength] + "... (truncated " + strconv.Itoa(len(s)-maxValueLength) + " chars)"
}

func (asserter *Asserter) fail(ctx context.Context, assertion, msg string, kv ...any) error {
	ctx, logger, component, operation := asserter.values(ctx)
	details := pairsToDetails(kv)

	var stack []byte
	if !runtime.IsProductionMode() {
		stack = debug.Stack()
	}

	logAssertion(ctx, logger, assertion, msg, component, operation, details, stack)
	recordAssertionMetric(ctx, component, operation, assertion)
	recordAssertionToSpan(ctx, assertion, msg, stack, component, operation)

	return &AssertionError{
		Assertion: assertion,
		Message:   msg,
		Component: component,
		Operation: operation,
		Details:   details,
	}
}

func (asserter *Asserter) values(ctx context.Context) (context.Context, Logger, string, string) {
	if asserter == nil {
		if ctx == nil {
			ctx = context.Background()
		}

		return ctx, nil, "", ""
	}

	if ctx == nil {
		ctx = asserter.ctx
	}

	if ctx == nil {
		ctx = context.Background()
	}

	return ctx, asserter.logger, asserter.component, asserter.operation
}

func pairsToDetails(kv []any) map[string]string {
	if len(kv) == 0 {
		return nil
	}

	details := make(map[string]string, (len(kv)+1)/2)

	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprintf("%v", kv[i])

		if i+1 < len(kv) {
			details[key] = truncateValue(kv[i+1])
		} else {
			details[key] = "MISSING_VALUE"
		}
	}

	return details
}

func logAssertion(
	ctx context.Context,
	logger Logger,
	assertion, msg, component, operation string,
	details map[string]string,
	stack []byte,
) {
	if logger == nil {
		return
	}

	fields := []log.Field{
		log.String("assertion", assertion),
		log.String("component", component),
		log.String("operation", operation),
	}

	for k, v := range details {
		fields = append(fields, log.String(k, v))
	}

	if len(stack) > 0 {
		fields = append(fields, log.String("stack_trace", string(stack)))
	}

	logger.Log(ctx, log.LevelError, "assertion failed: "+msg, fields...)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
