package evloop

import (
	"errors"
	"fmt"
)

// CallbackError wraps a non-error value that a scheduled callback panicked
// with; a callback that panics with an error value is reported with that
// error itself. Either way it is delivered to the loop's ExceptionHandler
// and never stops the loop.
type CallbackError struct {
	Cause   error
	Context map[string]any
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("evloop: callback error: %v", e.Cause)
}

func (e *CallbackError) Unwrap() error { return e.Cause }

// FutureError is the error stored on a Future via SetException. It is
// returned as is from Future.Result (Unwrap yields the original cause) and
// re-injected into any Task
// awaiting the Future.
type FutureError struct {
	Cause error
}

func (e *FutureError) Error() string {
	if e.Cause == nil {
		return "evloop: future failed"
	}
	return fmt.Sprintf("evloop: future failed: %v", e.Cause)
}

func (e *FutureError) Unwrap() error { return e.Cause }

// CancellationError signals cooperative cancellation of a Future or Task.
// A Task may catch it to run cleanup, but must then re-raise it or resolve.
type CancellationError struct {
	Reason string
}

func (e *CancellationError) Error() string {
	if e.Reason == "" {
		return "evloop: cancelled"
	}
	return fmt.Sprintf("evloop: cancelled: %s", e.Reason)
}

// Is allows errors.Is to match any CancellationError regardless of reason.
func (e *CancellationError) Is(target error) bool {
	var other *CancellationError
	return errors.As(target, &other)
}

// KeyboardCancellation is the interrupt-driven cancellation variant. It is
// the only error/panic value that propagates out of Loop.Step and Loop.Run
// rather than being routed to the ExceptionHandler.
type KeyboardCancellation struct{}

func (e *KeyboardCancellation) Error() string { return "evloop: keyboard interrupt" }

// SocketMustBeNonBlocking is raised by any Networking operation given a
// socket that is not in non-blocking mode.
type SocketMustBeNonBlocking struct {
	FD int
}

func (e *SocketMustBeNonBlocking) Error() string {
	return fmt.Sprintf("evloop: fd %d must be non-blocking", e.FD)
}

// FutureStateError is raised on invalid Future state transitions: a
// SetResult/SetException on an already completed Future, or reading the
// result of a pending Future. Cancel on a completed Future does not raise
// it; Cancel returns false instead.
type FutureStateError struct {
	Message string
}

func (e *FutureStateError) Error() string {
	return fmt.Sprintf("evloop: invalid future state transition: %s", e.Message)
}

// ConflictingWaiter is raised when two awaits contend for the same fd and
// direction (two concurrent readers, or two concurrent writers).
type ConflictingWaiter struct {
	FD        int
	Direction string
}

func (e *ConflictingWaiter) Error() string {
	return fmt.Sprintf("evloop: conflicting %s waiter on fd %d", e.Direction, e.FD)
}

// Standard sentinel errors for loop lifecycle and selector conditions.
var (
	// ErrLoopAlreadyRunning is returned by Run when the loop is already running.
	ErrLoopAlreadyRunning = errors.New("evloop: loop is already running")
	// ErrLoopClosed is returned by Run when called after Loop.Close.
	ErrLoopClosed = errors.New("evloop: loop is closed")
	// ErrSelectorClosed is returned by the epoll selector's AddWatch and
	// Select after Finalize.
	ErrSelectorClosed = errors.New("evloop: selector is closed")
)

// WrapError wraps an error with a message, preserving the cause chain for
// errors.Is/errors.As.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
