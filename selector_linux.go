//go:build linux

package evloop

import (
	"encoding/binary"
	"reflect"
	"time"

	"golang.org/x/sys/unix"
)

// fdWatch tracks the read/write callbacks currently registered for a
// single fd and the epoll event mask that reflects them.
type fdWatch struct {
	readCB  IOCallback
	writeCB IOCallback
}

func (w *fdWatch) mask() uint32 {
	var m uint32
	if w.readCB != nil {
		m |= unix.EPOLLIN
	}
	if w.writeCB != nil {
		m |= unix.EPOLLOUT
	}
	return m
}

func (w *fdWatch) empty() bool {
	return w.readCB == nil && w.writeCB == nil
}

// epollSelector is the Linux backend for Selector, grounded on the
// teacher's eventloop/poller_linux.go (epoll wrapper shape, event-bitmask
// translation) and its wake-fd lifecycle (createWakeFd/drainWakeUpPipe).
// Unlike the teacher's concurrent, RWMutex-guarded table — built for a
// multi-producer submission model — this table is touched only from the
// loop goroutine, per spec.md §5's single-threaded model; the sole
// exception is WakeupThreadSafe, which only ever writes to the eventfd.
// defaultEventBatchSize matches the fixed buffer size this selector used
// before SPEC_FULL.md §3's sizing knobs were wired in.
const defaultEventBatchSize = 256

type epollSelector struct {
	epfd     int
	wakeFD   int
	watches  map[int]*fdWatch
	eventBuf []unix.EpollEvent
	closed   bool
}

// newPlatformSelector constructs the Linux epoll-backed Selector.
// fdTableCapacity hints the initial size of the fd table (0 leaves it to
// the map's default growth); eventBatchSize bounds how many ready events a
// single epoll_wait call can return (0 uses defaultEventBatchSize).
func newPlatformSelector(fdTableCapacity, eventBatchSize int) (Selector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	if eventBatchSize <= 0 {
		eventBatchSize = defaultEventBatchSize
	}
	var watches map[int]*fdWatch
	if fdTableCapacity > 0 {
		watches = make(map[int]*fdWatch, fdTableCapacity)
	} else {
		watches = make(map[int]*fdWatch)
	}
	s := &epollSelector{
		epfd:     epfd,
		wakeFD:   wakeFD,
		watches:  watches,
		eventBuf: make([]unix.EpollEvent, eventBatchSize),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFD),
	}); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(wakeFD)
		return nil, err
	}
	return s, nil
}

func funcIdentity(cb IOCallback) uintptr {
	if cb == nil {
		return 0
	}
	return reflect.ValueOf(cb).Pointer()
}

// AddWatch registers cb for the given bits on fd, replacing any callback
// previously registered for each of those bits.
func (s *epollSelector) AddWatch(fd int, events IOEvent, cb IOCallback) error {
	if s.closed {
		return ErrSelectorClosed
	}
	w, existed := s.watches[fd]
	if !existed {
		w = &fdWatch{}
	}
	before := w.mask()
	if events&Readable != 0 {
		w.readCB = cb
	}
	if events&Writable != 0 {
		w.writeCB = cb
	}
	s.watches[fd] = w

	ev := &unix.EpollEvent{Events: w.mask(), Fd: int32(fd)}
	if !existed {
		return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	}
	if before != w.mask() {
		return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, ev)
	}
	return nil
}

// StopWatch removes registrations for fd. events == 0 removes every
// registration for fd (subject to cb matching, if cb != nil); otherwise it
// clears only the specified bits.
func (s *epollSelector) StopWatch(fd int, events IOEvent, cb IOCallback) error {
	w, ok := s.watches[fd]
	if !ok {
		return nil
	}
	target := events
	if target == 0 {
		target = Readable | Writable
	}

	if target&Readable != 0 && (cb == nil || funcIdentity(cb) == funcIdentity(w.readCB)) {
		w.readCB = nil
	}
	if target&Writable != 0 && (cb == nil || funcIdentity(cb) == funcIdentity(w.writeCB)) {
		w.writeCB = nil
	}

	if w.empty() {
		delete(s.watches, fd)
		return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: w.mask(), Fd: int32(fd)})
}

// Select blocks up to timeout and returns one FiredEvent per fired (fd,
// bit) pairing that has a registered callback. EINTR is retried within the
// remaining budget, per spec.md §4.3's error policy.
func (s *epollSelector) Select(timeout time.Duration) ([]FiredEvent, error) {
	if s.closed {
		return nil, ErrSelectorClosed
	}

	deadline := time.Time{}
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		ms := epollTimeoutMillis(timeout)
		n, err := unix.EpollWait(s.epfd, s.eventBuf[:], ms)
		if err != nil {
			if err == unix.EINTR {
				if timeout < 0 {
					continue
				}
				remaining := time.Until(deadline)
				if remaining <= 0 {
					return nil, nil
				}
				timeout = remaining
				continue
			}
			return nil, err
		}

		var fired []FiredEvent
		for i := 0; i < n; i++ {
			fd := int(s.eventBuf[i].Fd)
			if fd == s.wakeFD {
				s.drainWakeFD()
				continue
			}
			w, ok := s.watches[fd]
			if !ok {
				// unregistered fds reported by the OS are ignored.
				continue
			}
			epEvents := s.eventBuf[i].Events
			if w.readCB != nil && epEvents&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				fired = append(fired, FiredEvent{Callback: w.readCB, FD: fd, Events: Readable})
			}
			if w.writeCB != nil && epEvents&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				fired = append(fired, FiredEvent{Callback: w.writeCB, FD: fd, Events: Writable})
			}
		}
		return fired, nil
	}
}

func epollTimeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := timeout.Milliseconds()
	if timeout > 0 && ms == 0 {
		ms = 1 // ceiling: don't round a sub-millisecond wait down to a busy-poll
	}
	if ms > int64(^uint32(0)>>1) {
		ms = int64(^uint32(0) >> 1)
	}
	return int(ms)
}

func (s *epollSelector) drainWakeFD() {
	var buf [8]byte
	for {
		_, err := unix.Read(s.wakeFD, buf[:])
		if err != nil {
			return
		}
	}
}

// WakeupThreadSafe causes an in-progress Select to return promptly. It is
// the only Selector operation safe to call from a goroutine other than the
// one driving Select.
func (s *epollSelector) WakeupThreadSafe() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(s.wakeFD, buf[:])
}

// Finalize releases the epoll fd and the wake eventfd.
func (s *epollSelector) Finalize() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err1 := unix.Close(s.epfd)
	err2 := unix.Close(s.wakeFD)
	if err1 != nil {
		return err1
	}
	return err2
}
