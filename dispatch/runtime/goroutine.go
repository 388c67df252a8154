package runtime

import "context"

// SafeGoWithContextAndComponent runs fn in a new goroutine guarded by panic
// recovery. The panic is logged, counted, attached to the span in ctx and
// reported before policy is applied.
func SafeGoWithContextAndComponent(
	ctx context.Context,
	logger Logger,
	component, name string,
	policy PanicPolicy,
	fn func(context.Context),
) {
	if fn == nil {
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer RecoverWithPolicyAndContext(ctx, logger, component, name, policy)

		fn(ctx)
	}()
}

// SafeGoWithContext is SafeGoWithContextAndComponent with an empty component.
func SafeGoWithContext(ctx context.Context, logger Logger, name string, policy PanicPolicy, fn func(context.Context)) {
	SafeGoWithContextAndComponent(ctx, logger, "", name, policy, fn)
}
