package evloop

import "time"

// IOEvent is a bitset over the readiness conditions the selector can watch
// for. At least Readable and Writable are supported, per spec.md §4.3.
type IOEvent uint32

const (
	// Readable indicates the fd is ready for reading.
	Readable IOEvent = 1 << iota
	// Writable indicates the fd is ready for writing.
	Writable
)

func (e IOEvent) String() string {
	switch e {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case Readable | Writable:
		return "readable|writable"
	default:
		return "none"
	}
}

// IOCallback is invoked by the selector when a watched (fd, bit) pairing
// fires. events reports which of the bits the callback was registered for
// actually fired in this batch (useful when a single callback watches both
// bits).
type IOCallback func(fd int, events IOEvent)

// FiredEvent is one entry in the batch Select returns: the callback to run,
// the fd it fired on, and which of its registered bits fired.
type FiredEvent struct {
	Callback IOCallback
	FD       int
	Events   IOEvent
}

// BlockIndefinitely, passed to Select, means "wait until something is
// ready, however long that takes" (the source's timeout=None).
const BlockIndefinitely time.Duration = -1

// Selector multiplexes file-descriptor readiness, per spec.md §4.3.
//
// AddWatch registers interest in events on fd; calling it again for a bit
// already registered on that fd replaces the callback for that bit. A
// given (fd, bit) pairing is registered to exactly one callback at a time.
//
// StopWatch(fd, 0, nil) removes every registration for fd. StopWatch with a
// non-zero events removes only those bits. If cb is non-nil, it must match
// (by identity) the registered callback for a bit for that bit to be
// removed; a mismatched cb makes the call a no-op for that bit.
//
// Select blocks up to timeout (BlockIndefinitely to wait forever, 0 for a
// non-blocking poll) and returns one FiredEvent per fired (fd, bit)
// pairing that has a registered callback.
//
// WakeupThreadSafe is the only operation safe to call concurrently from a
// goroutine other than the one calling Select; it causes an in-progress
// Select to return promptly.
//
// Finalize releases all OS resources owned by the selector.
type Selector interface {
	AddWatch(fd int, events IOEvent, cb IOCallback) error
	StopWatch(fd int, events IOEvent, cb IOCallback) error
	Select(timeout time.Duration) ([]FiredEvent, error)
	WakeupThreadSafe()
	Finalize() error
}
