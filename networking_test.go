package evloop

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// socketpairLoop returns a Loop backed by the real epoll selector plus a
// connected, non-blocking Unix domain socketpair, for exercising Networking
// against genuine fd readiness rather than a fake.
func socketpairLoop(t *testing.T) (*Loop, int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))

	l, err := New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = l.Close()
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return l, fds[0], fds[1]
}

var errEOF = &FutureStateError{Message: "unexpected EOF"}

func TestNetworkingRoundTrip(t *testing.T) {
	l, a, b := socketpairLoop(t)
	payload := bytes.Repeat([]byte("x"), 64*1024)

	writer := &writeLoopComputation{net: l.Networking(), fd: a, buf: payload}
	reader := &readLoopComputation{net: l.Networking(), fd: b, want: len(payload)}

	writeTask := NewTask[int](l, writer)
	readTask := NewTask[int](l, reader)

	deadline := time.Now().Add(5 * time.Second)
	for !writeTask.IsFinished() || !readTask.IsFinished() {
		if time.Now().After(deadline) {
			t.Fatal("round trip did not complete in time")
		}
		require.NoError(t, l.Step())
	}

	n, err := writeTask.Result()
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	gotLen, err := readTask.Result()
	require.NoError(t, err)
	assert.Equal(t, len(payload), gotLen)
	assert.True(t, bytes.Equal(payload, reader.got.Bytes()))
}

// writeLoopComputation drains Networking.Write's own internal retry
// machinery by re-stepping its inner Computation[int] until it finishes.
type writeLoopComputation struct {
	net   *Networking
	fd    int
	buf   []byte
	inner Computation[int]
}

func (c *writeLoopComputation) Step(cancel error) StepResult[int] {
	if cancel != nil {
		return Raised[int](cancel)
	}
	if c.inner == nil {
		c.inner = c.net.Write(c.fd, c.buf)
	}
	return c.inner.Step(nil)
}

type readLoopComputation struct {
	net     *Networking
	fd      int
	want    int
	got     bytes.Buffer
	inner   Computation[int]
	pending []byte
}

func (c *readLoopComputation) Step(cancel error) StepResult[int] {
	if cancel != nil {
		return Raised[int](cancel)
	}
	for c.got.Len() < c.want {
		if c.inner == nil {
			c.pending = make([]byte, c.want-c.got.Len())
			c.inner = c.net.Read(c.fd, c.pending)
		}
		r := c.inner.Step(nil)
		if r.Await != nil {
			return Yield[int](r.Await)
		}
		c.inner = nil
		if r.Err != nil {
			return Raised[int](r.Err)
		}
		if r.Value == 0 {
			return Raised[int](errEOF)
		}
		c.got.Write(c.pending[:r.Value])
	}
	return Done(c.got.Len())
}

func TestNetworkingRequiresNonBlockingSocket(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Networking().WaitReadable(fds[0])
	var blockingErr *SocketMustBeNonBlocking
	assert.ErrorAs(t, err, &blockingErr)
}

func TestNetworkingConflictingWaiter(t *testing.T) {
	l, a, _ := socketpairLoop(t)

	_, err := l.Networking().WaitReadable(a)
	require.NoError(t, err)

	_, err = l.Networking().WaitReadable(a)
	var conflict *ConflictingWaiter
	assert.ErrorAs(t, err, &conflict)
}
