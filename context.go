package evloop

import (
	"context"

	"github.com/google/uuid"
)

// loopContextKey is the context.Context key under which a Loop stores
// itself in the context returned by Loop.Context, the Go analogue of the
// source's contextvars-based `_running_loop`.
type loopContextKey struct{}

// withRunningLoop returns a context with l installed as the ambient
// "current loop", discoverable by user code via CurrentLoop.
func withRunningLoop(ctx context.Context, l *Loop) context.Context {
	return context.WithValue(ctx, loopContextKey{}, l)
}

// CurrentLoop returns the Loop stored in ctx, or nil if ctx was not derived
// from a Loop's Context. The Loop is stored once, when the Loop is
// constructed, and stays in that context for the Loop's whole lifetime;
// dispatched callbacks are not handed a context, so CurrentLoop does not
// tell whether a callback is running.
func CurrentLoop(ctx context.Context) *Loop {
	l, _ := ctx.Value(loopContextKey{}).(*Loop)
	return l
}

// newTraceContext stamps every scheduled Handle with a fresh correlation
// id, which reaches the ExceptionHandler through CallbackInfo.Context if
// that Handle's callback panics. The id is not inherited from the callback
// that scheduled the Handle, so a chain of callbacks carries a different
// id at each link.
func newTraceContext() map[string]any {
	return map[string]any{"trace_id": uuid.NewString()}
}
