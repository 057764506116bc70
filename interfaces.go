package kenbi

import (
	"context"
)

// GuardianHook receives every fresh guardian run, after it has been
// persisted when the backend stores runs. Cached reports do not trigger it.
// Multiple hooks may be registered via multiple WithGuardianHook calls.
// Failures are logged but do not fail the guardian request.
type GuardianHook interface {
	OnGuardianRun(ctx context.Context, run GuardianRun) error
}

// GuardianHookFunc adapts a function to GuardianHook.
type GuardianHookFunc func(ctx context.Context, run GuardianRun) error

// OnGuardianRun calls f.
func (f GuardianHookFunc) OnGuardianRun(ctx context.Context, run GuardianRun) error {
	return f(ctx, run)
}
