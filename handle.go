package evloop

import "sync/atomic"

// Handle is a deferred callback record: an optional absolute deadline
// (absent means "next cycle"), the callback, its positional arguments, a
// cancelled flag, and an immutable user context map used for logging and
// tracing. A Handle is invoked at most once; cancelled Handles are never
// invoked.
type Handle struct {
	deadline  float64 // only meaningful when hasDeadline is true
	hasDeadline bool
	callback  func(args ...any)
	args      []any
	context   map[string]any
	cancelled atomic.Bool
	seq       uint64
}

// Cancel marks the Handle as cancelled. A cancelled Handle's callback is
// never invoked, whether it is currently queued or already popped from the
// scheduler.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// Context returns the handle's immutable user context map (may be nil).
func (h *Handle) Context() map[string]any {
	return h.context
}

var handleSeq atomic.Uint64

func nextHandleSeq() uint64 {
	return handleSeq.Add(1)
}
