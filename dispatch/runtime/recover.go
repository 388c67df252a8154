package runtime

import (
	"context"
	"runtime/debug"

	"github.com/LerianStudio/lib-dispatch/dispatch/log"
)

// Logger is the subset of log.Logger the recovery helpers need.
type Logger interface {
	Log(ctx context.Context, level log.Level, msg string, fields ...log.Field)
}

// RecoverAndLogWithContext recovers a panic, records it and keeps running.
//
//	defer runtime.RecoverAndLogWithContext(ctx, logger, "pooler", "dispatch_batch")
func RecoverAndLogWithContext(ctx context.Context, logger Logger, component, name string) {
	if r := recover(); r != nil {
		handleRecovered(ctx, logger, r, component, name)
	}
}

// RecoverWithPolicyAndContext recovers a panic, records it and applies policy.
func RecoverWithPolicyAndContext(ctx context.Context, logger Logger, component, name string, policy PanicPolicy) {
	if r := recover(); r != nil {
		handleRecovered(ctx, logger, r, component, name)

		if policy == CrashProcess {
			panic(r)
		}
	}
}

// HandlePanicValue records a panic value already recovered elsewhere, such as
// by the fiber recover middleware. It does not call recover itself.
func HandlePanicValue(ctx context.Context, logger Logger, panicValue any, component, name string) {
	if panicValue == nil {
		return
	}

	handleRecovered(ctx, logger, panicValue, component, name)
}

func handleRecovered(ctx context.Context, logger Logger, panicValue any, component, name string) {
	if ctx == nil {
		ctx = context.Background()
	}

	stack := debug.Stack()

	logPanicWithStack(ctx, logger, component, name, panicValue, stack)
	recordPanicMetric(ctx, component, name)
	RecordPanicToSpanWithComponent(ctx, panicValue, stack, component, name)
	reportPanicToErrorService(ctx, panicValue, stack, component, name)
}

func logPanicWithStack(ctx context.Context, logger Logger, component, name string, panicValue any, stack []byte) {
	if logger == nil {
		return
	}

	fields := []log.Field{
		log.String("component", component),
		log.String("goroutine_name", name),
		log.String("panic_value", formatPanicValue(panicValue)),
	}

	if !IsProductionMode() {
		fields = append(fields, log.String("stack_trace", string(stack)))
	}

	logger.Log(ctx, log.LevelError, "panic recovered", fields...)
}
