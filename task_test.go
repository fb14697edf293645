package evloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sleepComputation resolves once a child Future (itself driven directly by
// the test) completes, exercising the one-suspension-point Computation
// shape from spec.md §4.5.
type sleepComputation struct {
	child   *Future[struct{}]
	stepped bool
}

func (c *sleepComputation) Step(cancel error) StepResult[string] {
	if cancel != nil {
		return Raised[string](cancel)
	}
	if !c.stepped {
		c.stepped = true
		return Yield[string](c.child)
	}
	if _, err := c.child.Result(); err != nil {
		return Raised[string](err)
	}
	return Done("woke")
}

func TestTaskRunsToCompletion(t *testing.T) {
	l := newTestLoop(t)
	child := NewFuture[struct{}](l)
	task := NewTask[string](l, &sleepComputation{child: child})

	drain(t, l)
	assert.False(t, task.IsFinished())

	require.NoError(t, child.SetResult(struct{}{}))
	drain(t, l)

	require.True(t, task.IsFinished())
	v, err := task.Result()
	require.NoError(t, err)
	assert.Equal(t, "woke", v)
}

type immediateComputation struct {
	value string
}

func (c *immediateComputation) Step(cancel error) StepResult[string] {
	if cancel != nil {
		return Raised[string](cancel)
	}
	return Done(c.value)
}

func TestTaskCompletesImmediately(t *testing.T) {
	l := newTestLoop(t)
	task := NewTask[string](l, &immediateComputation{value: "hi"})

	drain(t, l)
	require.True(t, task.IsFinished())
	v, err := task.Result()
	require.NoError(t, err)
	assert.Equal(t, "hi", v)
}

type erroringComputation struct{}

func (c *erroringComputation) Step(cancel error) StepResult[string] {
	if cancel != nil {
		return Raised[string](cancel)
	}
	return Raised[string](assertError)
}

var assertError = &CallbackError{Context: map[string]any{"scenario": "erroring"}}

func TestTaskPropagatesError(t *testing.T) {
	l := newTestLoop(t)
	task := NewTask[string](l, &erroringComputation{})

	drain(t, l)
	require.True(t, task.IsFinished())
	_, err := task.Result()
	assert.ErrorIs(t, err, assertError)
}

func TestTaskCancelBeforeAwaitResolves(t *testing.T) {
	l := newTestLoop(t)
	child := NewFuture[struct{}](l)
	task := NewTask[string](l, &sleepComputation{child: child})

	drain(t, l)
	assert.False(t, task.IsFinished())

	ok := task.Cancel("shutdown")
	assert.True(t, ok)
	assert.True(t, child.IsFinished(), "cancellation must forward into the awaited child")

	drain(t, l)
	require.True(t, task.IsFinished())
	_, err := task.Result()
	var cancelErr *CancellationError
	assert.ErrorAs(t, err, &cancelErr)
}

func TestTaskCancelAfterCompletionIsNoop(t *testing.T) {
	l := newTestLoop(t)
	task := NewTask[string](l, &immediateComputation{value: "done"})
	drain(t, l)

	assert.False(t, task.Cancel("too late"))
}

// TestTaskAdvanceReentrancyPanics verifies the reentrancy guard in
// Task.advance fires as a recovered panic routed to the ExceptionHandler,
// since Loop.dispatch isolates every callback (including a Task's driver)
// from propagating a panic out of Step.
func TestTaskAdvanceReentrancyPanics(t *testing.T) {
	var caught error
	l, err := New(
		WithSelector(newFakeSelector()),
		WithExceptionHandler(func(err error, info CallbackInfo) { caught = err }),
	)
	require.NoError(t, err)

	comp := &badSelfAdvanceComputation{}
	task := NewTask[string](l, comp)
	comp.task = task

	drain(t, l)
	require.Error(t, caught)
	assert.Contains(t, caught.Error(), "reentrant")
}

type badSelfAdvanceComputation struct {
	task   *Task[string]
	nested bool
}

func (c *badSelfAdvanceComputation) Step(cancel error) StepResult[string] {
	if !c.nested {
		c.nested = true
		c.task.advance()
	}
	return Done("x")
}
