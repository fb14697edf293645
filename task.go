package evloop

// Awaitable is the non-generic view of a Future that Task needs in order to
// drive a suspended Computation: register a completion callback, check
// completion, and forward best-effort cancellation into a child. Future[T]
// implements it for any T.
type Awaitable interface {
	AddCompletionCallback(cb func()) uint64
	RemoveCompletionCallback(token uint64)
	IsFinished() bool
	Cancel(reason string) bool
}

// AddCompletionCallback is the non-generic form of AddCallback: it ignores
// the completed Future's value, so it can be used uniformly across
// differently-typed Futures by a Task's driver loop.
func (f *Future[T]) AddCompletionCallback(cb func()) uint64 {
	return f.AddCallback(func(*Future[T]) { cb() })
}

// RemoveCompletionCallback is an alias of RemoveCallback, present to satisfy
// Awaitable.
func (f *Future[T]) RemoveCompletionCallback(token uint64) {
	f.RemoveCallback(token)
}

// StepResult is the outcome of advancing a Computation by one suspension
// point. Exactly one of three shapes holds, corresponding to spec.md
// §4.5's three driving outcomes:
//
//   - Await != nil: the computation yielded a new Future to wait on.
//   - Err != nil: the computation raised an error.
//   - otherwise: the computation finished normally with Value.
type StepResult[T any] struct {
	Await Awaitable
	Value T
	Err   error
}

// Yield builds a StepResult that suspends the driving Task until aw
// completes.
func Yield[T any](aw Awaitable) StepResult[T] {
	return StepResult[T]{Await: aw}
}

// Done builds a StepResult that finishes the computation with value v.
func Done[T any](v T) StepResult[T] {
	return StepResult[T]{Value: v}
}

// Raised builds a StepResult that finishes the computation with error err.
func Raised[T any](err error) StepResult[T] {
	return StepResult[T]{Err: err}
}

// Computation is a suspendable computation producing a value of type T,
// modeled as the explicit state machine described in spec.md §9 ("coroutine
// control flow -> explicit state machine"): Step advances the computation
// by exactly one suspension point.
//
// cancel is non-nil whenever the driving Task has a pending cancellation
// request; a well-behaved Computation should use it to unwind (typically
// returning Raised(cancel) after running any cleanup). Cancellation is
// level-triggered (spec.md §5): the Task does not force termination, so a
// Computation that yields again without resolving or re-raising is handed
// the same cancel error on every subsequent Step until it does.
type Computation[T any] interface {
	Step(cancel error) StepResult[T]
}

// taskState is the Task's position in the state machine from spec.md §4.5:
// Created -> Runnable -> Running -> (Suspended <-> Runnable)* -> Completed.
type taskState int

const (
	taskRunnable taskState = iota
	taskRunning
	taskSuspended
	taskCompleted
)

// Task is a Future[T] specialization that owns and drives a Computation[T].
// It is itself a Future[T]; awaiters of the task's result add callbacks to
// its embedded *Future[T] exactly as they would for any other Future.
type Task[T any] struct {
	*Future[T]
	loop  *Loop
	comp  Computation[T]
	state taskState

	// awaiting is the child Future the computation is currently suspended
	// on, non-nil only while state == taskSuspended.
	awaiting Awaitable

	running bool
	// cancelRequested is level-triggered, not edge-triggered: once Cancel
	// is called it stays set, and advance re-derives cancelErr from it on
	// every subsequent Step until the computation resolves or re-raises,
	// matching spec.md §5's "level-triggered... forwarded through awaiting
	// Tasks" cancellation model.
	cancelRequested bool
	cancelReason    string
}

// NewTask creates a Task driving comp on loop and schedules its first step
// via CallSoon; per spec.md §4.5, a Task is Runnable as soon as it exists
// (it has not yet started), and is enqueued exactly once for that initial
// transition to runnability.
func NewTask[T any](loop *Loop, comp Computation[T]) *Task[T] {
	t := &Task[T]{
		Future: NewFuture[T](loop),
		loop:   loop,
		comp:   comp,
		state:  taskRunnable,
	}
	loop.CallSoon(func(...any) { t.advance() })
	return t
}

// Cancel forwards a cancellation signal into the Task. If the Task is
// currently Suspended on a child Future, the signal is also forwarded into
// that child (best-effort); either way, the computation observes the
// cancellation the next time it is stepped. Returns false if the Task has
// already completed.
func (t *Task[T]) Cancel(reason string) bool {
	if t.Future.IsFinished() {
		return false
	}
	t.cancelRequested = true
	t.cancelReason = reason
	if t.state == taskSuspended && t.awaiting != nil {
		t.awaiting.Cancel(reason)
	}
	return true
}

// advance drives the computation forward exactly one step. It must never
// run reentrantly: it is only ever invoked by the loop via CallSoon, and a
// Task is re-enqueued at most once per transition to runnability, so this
// should never observe t.running == true; the guard exists to make a
// driving bug loud rather than silently corrupt state.
func (t *Task[T]) advance() {
	if t.running {
		panic("evloop: task advanced reentrantly")
	}
	if t.Future.IsFinished() {
		return
	}
	t.running = true
	t.state = taskRunning
	defer func() { t.running = false }()

	var cancelErr error
	if t.cancelRequested {
		cancelErr = &CancellationError{Reason: t.cancelReason}
	}

	result := t.comp.Step(cancelErr)

	switch {
	case result.Await != nil:
		t.awaiting = result.Await
		t.state = taskSuspended
		if result.Await.IsFinished() {
			t.resumeFromAwait()
			return
		}
		result.Await.AddCompletionCallback(t.resumeFromAwait)
	case result.Err != nil:
		t.state = taskCompleted
		_ = t.Future.SetException(result.Err)
	default:
		t.state = taskCompleted
		_ = t.Future.SetResult(result.Value)
	}
}

// resumeFromAwait re-enqueues the Task as Runnable once the Future it was
// Suspended on completes.
func (t *Task[T]) resumeFromAwait() {
	t.awaiting = nil
	t.state = taskRunnable
	t.loop.CallSoon(func(...any) { t.advance() })
}
