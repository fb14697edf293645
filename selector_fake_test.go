package evloop

import "time"

// fakeSelector is a Selector stand-in for tests that don't want a real
// epoll fd: AddWatch/StopWatch just track registrations, and Select always
// returns immediately with no fired events; fire() invokes a registered
// callback directly instead of going through Select.
type fakeSelector struct {
	watches map[int]map[IOEvent]IOCallback
	woken   bool
}

func newFakeSelector() *fakeSelector {
	return &fakeSelector{watches: make(map[int]map[IOEvent]IOCallback)}
}

func (s *fakeSelector) AddWatch(fd int, events IOEvent, cb IOCallback) error {
	m, ok := s.watches[fd]
	if !ok {
		m = make(map[IOEvent]IOCallback)
		s.watches[fd] = m
	}
	if events&Readable != 0 {
		m[Readable] = cb
	}
	if events&Writable != 0 {
		m[Writable] = cb
	}
	return nil
}

func (s *fakeSelector) StopWatch(fd int, events IOEvent, cb IOCallback) error {
	m, ok := s.watches[fd]
	if !ok {
		return nil
	}
	target := events
	if target == 0 {
		target = Readable | Writable
	}
	if target&Readable != 0 {
		delete(m, Readable)
	}
	if target&Writable != 0 {
		delete(m, Writable)
	}
	if len(m) == 0 {
		delete(s.watches, fd)
	}
	return nil
}

func (s *fakeSelector) Select(timeout time.Duration) ([]FiredEvent, error) {
	s.woken = false
	return nil, nil
}

func (s *fakeSelector) WakeupThreadSafe() { s.woken = true }

func (s *fakeSelector) Finalize() error { return nil }

// fire synthesizes a readiness event for fd/bit, invoking the registered
// callback directly as Loop.dispatchIO would.
func (s *fakeSelector) fire(fd int, bit IOEvent) {
	if m, ok := s.watches[fd]; ok {
		if cb, ok := m[bit]; ok {
			cb(fd, bit)
		}
	}
}
