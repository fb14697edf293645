// Package evloop implements a cooperative, single-threaded asynchronous
// execution runtime: a timer-and-IO driven event loop, a Future/Task model
// for suspendable computations, and a minimal non-blocking networking
// layer built on top of them.
package evloop

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"time"
)

// Loop is the event loop itself: it owns a Clock, a timer queue, a
// Selector, and (lazily) a Networking instance, and implements the Step
// algorithm from spec.md §4.7. A Loop is not safe for concurrent use except
// via its one thread-safe escape hatch, WakeupThreadSafe (exposed through
// the Selector it owns).
type Loop struct {
	clock            Clock
	logger           Logger
	exceptionHandler ExceptionHandler
	selector         Selector
	debug            bool

	timers  timerQueue
	ready   []*Handle
	running bool
	closed  bool

	net *Networking

	ctx       context.Context
	cancelCtx context.CancelFunc
	sigCh     chan os.Signal
	interrupt atomic.Bool
}

// New constructs a Loop, applying opts over the defaults (SystemClock,
// no-op Logger, platform Selector, a logging ExceptionHandler).
func New(opts ...Option) (*Loop, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		clock:            cfg.clock,
		logger:           cfg.logger,
		exceptionHandler: cfg.exceptionHandler,
		selector:         cfg.selector,
		debug:            cfg.debug,
		ctx:              ctx,
		cancelCtx:        cancel,
	}
	l.ctx = withRunningLoop(l.ctx, l)
	return l, nil
}

// Networking returns the loop's lazily-created Networking instance.
func (l *Loop) Networking() *Networking {
	if l.net == nil {
		l.net = newNetworking(l)
	}
	return l.net
}

// Context returns the loop's ambient context.Context, from which
// CurrentLoop(ctx) recovers this Loop.
func (l *Loop) Context() context.Context {
	return l.ctx
}

// CallSoon schedules fn to run on a later Step, in FIFO order relative to
// other CallSoon calls made so far. It is held on a dedicated ready queue
// rather than the timer heap: per spec.md §8 property 5, a CallSoon issued
// from inside a dispatched callback must never run its target within that
// same Step, and a single timer heap keyed by deadline (with no-deadline
// entries treated as -Inf) cannot distinguish "queued before this step" from
// "queued during this step" once both are due by the same upper bound.
// Returns a Handle that can be used to cancel delivery before it runs.
func (l *Loop) CallSoon(fn func(args ...any), args ...any) *Handle {
	h := &Handle{callback: fn, args: args, context: newTraceContext(), seq: nextHandleSeq()}
	l.ready = append(l.ready, h)
	return h
}

// CallLater schedules fn to run no earlier than delay from now. Returns a
// Handle that can be used to cancel delivery before it runs.
func (l *Loop) CallLater(delay time.Duration, fn func(args ...any), args ...any) *Handle {
	h := &Handle{
		callback:    fn,
		args:        args,
		deadline:    l.clock.Now() + delay.Seconds(),
		hasDeadline: true,
		context:     newTraceContext(),
		seq:         nextHandleSeq(),
	}
	l.timers.enqueue(h)
	return h
}

// CallAt schedules fn to run at the given absolute clock reading (as
// returned by l.Clock().Now()).
func (l *Loop) CallAt(when float64, fn func(args ...any), args ...any) *Handle {
	h := &Handle{callback: fn, args: args, deadline: when, hasDeadline: true, context: newTraceContext(), seq: nextHandleSeq()}
	l.timers.enqueue(h)
	return h
}

// Clock returns the loop's time source.
func (l *Loop) Clock() Clock { return l.clock }

// Debug reports whether verbose scheduling traces are enabled (spec.md
// §6's single recognized environment surface).
func (l *Loop) Debug() bool { return l.debug }

func (l *Loop) dispatch(h *Handle) {
	if h.Cancelled() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if kb, ok := r.(*KeyboardCancellation); ok {
				panic(kb)
			}
			err := asError(r)
			l.exceptionHandler(err, CallbackInfo{Context: h.Context()})
		}
	}()
	h.callback(h.args...)
}

func asError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &CallbackError{Cause: errorFromPanic(r)}
}

// errorFromPanic normalizes an arbitrary recovered panic value to an error.
func errorFromPanic(r any) error {
	return &panicValue{v: r}
}

type panicValue struct{ v any }

func (p *panicValue) Error() string {
	switch v := p.v.(type) {
	case error:
		return v.Error()
	case string:
		return v
	default:
		return "evloop: panic in callback"
	}
}

// Step runs exactly one iteration of the loop algorithm from spec.md §4.7:
// drain the ready (call_soon) queue, pop and dispatch due timers, compute a
// selector budget from the next timer deadline, select for IO, dispatch
// fired IO callbacks, then pop and dispatch any timers that became due
// while selecting.
func (l *Loop) Step() error {
	t0 := l.clock.Now()

	// Per-phase scheduling traces are emitted only when the debug flag is set.
	trace := func(string, ...Field) {}
	if l.debug {
		trace = l.logger.Debug
	}

	// ntodo is a snapshot of the ready queue's length taken before any
	// dispatch runs: only entries already queued when this Step began are
	// drained here, matching asyncio's ntodo discipline. A CallSoon issued
	// by one of these callbacks appends past ntodo and is left for the
	// next Step (spec.md §8 property 5).
	ntodo := len(l.ready)
	trace("ready callbacks due", F("count", ntodo))
	for i := 0; i < ntodo; i++ {
		l.dispatch(l.ready[i])
	}
	l.ready = l.ready[ntodo:]

	early := l.timers.popPending(t0 + l.clock.Resolution())
	trace("early timers due", F("count", len(early)))
	for _, h := range early {
		l.dispatch(h)
	}

	budget := l.selectBudget(t0)
	trace("selecting", F("budget", budget.String()))
	fired, err := l.selector.Select(budget)
	if err != nil {
		return err
	}
	if l.interrupt.Load() {
		return &KeyboardCancellation{}
	}

	t1 := l.clock.Now()
	trace("io callbacks fired", F("count", len(fired)))
	for _, ev := range fired {
		l.dispatchIO(ev)
	}

	late := l.timers.popPending(t1 + l.clock.Resolution())
	trace("late timers due", F("count", len(late)))
	for _, h := range late {
		l.dispatch(h)
	}
	return nil
}

func (l *Loop) dispatchIO(ev FiredEvent) {
	defer func() {
		if r := recover(); r != nil {
			if kb, ok := r.(*KeyboardCancellation); ok {
				panic(kb)
			}
			l.exceptionHandler(asError(r), CallbackInfo{})
		}
	}()
	ev.Callback(ev.FD, ev.Events)
}

// selectBudget computes the timeout to pass to Select: 0 if the ready queue
// is non-empty (work left over from this Step's ntodo snapshot must be
// picked up by the next Step without blocking) or a timer is already due,
// the time until the next deadline if one is scheduled, or
// BlockIndefinitely if no timer is scheduled (Select then waits for I/O
// readiness or a WakeupThreadSafe call).
func (l *Loop) selectBudget(now float64) time.Duration {
	if len(l.ready) > 0 {
		return 0
	}
	deadline, ok := l.timers.nextEvent()
	if !ok {
		return BlockIndefinitely
	}
	remaining := deadline - now
	if remaining <= 0 {
		return 0
	}
	return time.Duration(remaining * float64(time.Second))
}

// Run drives comp to completion as a root Task, stepping the loop until it
// finishes, and returns its result (or error). SIGINT is installed for the
// duration of Run; a delivered SIGINT makes Run return a
// *KeyboardCancellation directly, without cancelling the root Task.
func (l *Loop) Run(comp Computation[any]) (any, error) {
	if l.running {
		return nil, ErrLoopAlreadyRunning
	}
	if l.closed {
		return nil, ErrLoopClosed
	}
	l.running = true
	defer func() { l.running = false }()

	l.sigCh = make(chan os.Signal, 1)
	signal.Notify(l.sigCh, os.Interrupt)
	defer signal.Stop(l.sigCh)
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go l.watchInterrupt(stopWatch)

	root := NewTask(l, comp)
	for !root.IsFinished() {
		if err := l.stepCatchingInterrupt(); err != nil {
			// KeyboardCancellation uniquely propagates out of both Step and
			// Run (spec.md §7/S6): it is raised directly rather than routed
			// through the root Task's cancellation path, matching the
			// source's `run()`, which re-raises KeyboardCanceled rather
			// than cancelling the root task and continuing.
			var kb *KeyboardCancellation
			if asKeyboardCancellation(err, &kb) {
				l.interrupt.Store(false)
				return nil, kb
			}
			return nil, err
		}
	}
	return root.Result()
}

// stepCatchingInterrupt runs one Step, also catching the re-panicked
// KeyboardCancellation a dispatched callback may raise (per spec.md §4.7,
// it is the one exception class allowed to propagate out of Step) and
// turning it back into a plain error return.
func (l *Loop) stepCatchingInterrupt() (err error) {
	defer func() {
		if r := recover(); r != nil {
			kb, ok := r.(*KeyboardCancellation)
			if !ok {
				panic(r)
			}
			err = kb
		}
	}()
	return l.Step()
}

func asKeyboardCancellation(err error, target **KeyboardCancellation) bool {
	if kb, ok := err.(*KeyboardCancellation); ok {
		*target = kb
		return true
	}
	return false
}

func (l *Loop) watchInterrupt(stop <-chan struct{}) {
	select {
	case <-l.sigCh:
		l.interrupt.Store(true)
		l.selector.WakeupThreadSafe()
	case <-stop:
	}
}

// Close releases the loop's OS resources (the selector's epoll and wake
// fds). The loop must not be running.
func (l *Loop) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.cancelCtx()
	return l.selector.Finalize()
}
