package mathdoc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCommand = NewCommand[string]("TEST")

func TestDispatchPriorityOrder(t *testing.T) {
	e := newTestEditor(t)
	var calls []string
	record := func(name string) Handler[string] {
		return func(e *Editor, p string) bool {
			calls = append(calls, name)
			return false
		}
	}

	Register(e.Bus(), testCommand, PriorityLow, record("low"))
	Register(e.Bus(), testCommand, PriorityCritical, record("critical"))
	Register(e.Bus(), testCommand, PriorityEditor, record("editor"))
	Register(e.Bus(), testCommand, PriorityNormal, record("normal-1"))
	Register(e.Bus(), testCommand, PriorityNormal, record("normal-2"))

	assert.False(t, Dispatch(e, testCommand, "x"))
	want := []string{"critical", "normal-1", "normal-2", "low", "editor"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("handler order mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchStopsAtFirstHandled(t *testing.T) {
	e := newTestEditor(t)
	var got []string
	Register(e.Bus(), testCommand, PriorityHigh, func(e *Editor, p string) bool {
		got = append(got, "high:"+p)
		return true
	})
	Register(e.Bus(), testCommand, PriorityLow, func(e *Editor, p string) bool {
		got = append(got, "low:"+p)
		return true
	})

	assert.True(t, Dispatch(e, testCommand, "payload"))
	assert.Equal(t, []string{"high:payload"}, got)
}

func TestDispatchWithoutHandlers(t *testing.T) {
	e := newTestEditor(t)
	assert.False(t, Dispatch(e, NewCommand[int]("NOBODY"), 1))
}

func TestCommandsWithSameNameAreDistinct(t *testing.T) {
	e := newTestEditor(t)
	a := NewCommand[string]("SAME")
	b := NewCommand[string]("SAME")
	Register(e.Bus(), a, PriorityNormal, func(*Editor, string) bool { return true })

	assert.True(t, Dispatch(e, a, ""))
	assert.False(t, Dispatch(e, b, ""))
}

func TestSubscribeUnregistersAtomically(t *testing.T) {
	e := newTestEditor(t)
	other := NewCommand[int]("OTHER")

	unregister := e.Bus().Subscribe(func(r *Registrar) {
		On(r, testCommand, PriorityNormal, func(*Editor, string) bool { return true })
		On(r, testCommand, PriorityLow, func(*Editor, string) bool { return true })
		On(r, other, PriorityNormal, func(*Editor, int) bool { return true })
	})
	keep := Register(e.Bus(), testCommand, PriorityEditor, func(*Editor, string) bool { return false })
	defer keep()

	assert.Equal(t, 3, HandlerCount(e.Bus(), testCommand))
	assert.Equal(t, 1, HandlerCount(e.Bus(), other))

	unregister()
	assert.Equal(t, 1, HandlerCount(e.Bus(), testCommand))
	assert.Equal(t, 0, HandlerCount(e.Bus(), other))

	unregister()
	assert.Equal(t, 1, HandlerCount(e.Bus(), testCommand))
}

func TestHandlerAddedDuringDispatchWaitsForNext(t *testing.T) {
	e := newTestEditor(t)
	lateCalls := 0
	Register(e.Bus(), testCommand, PriorityHigh, func(e *Editor, p string) bool {
		if p == "first" {
			Register(e.Bus(), testCommand, PriorityLow, func(*Editor, string) bool {
				lateCalls++
				return true
			})
		}
		return false
	})

	assert.False(t, Dispatch(e, testCommand, "first"))
	assert.Equal(t, 0, lateCalls)
	assert.True(t, Dispatch(e, testCommand, "second"))
	assert.Equal(t, 1, lateCalls)
}

func TestMergeRegisterRunsInReverse(t *testing.T) {
	var order []int
	merged := MergeRegister(
		func() { order = append(order, 1) },
		nil,
		func() { order = append(order, 3) },
	)
	merged()
	assert.Equal(t, []int{3, 1}, order)
}

func TestPayloadTypeIsChecked(t *testing.T) {
	e := newTestEditor(t)
	var got InsertTablePayload
	Register(e.Bus(), InsertTableCommand, PriorityCritical, func(e *Editor, p InsertTablePayload) bool {
		got = p
		return true
	})
	require.True(t, Dispatch(e, InsertTableCommand, InsertTablePayload{Rows: 4, Columns: 2}))
	assert.Equal(t, InsertTablePayload{Rows: 4, Columns: 2}, got)
	assert.Empty(t, findNodes(t, e, TypeTable), "the built-in handler must not run")
}
