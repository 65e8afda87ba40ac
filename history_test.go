package mathdoc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUndoRedo(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTextCommand, "a"))
	require.True(t, Dispatch(e, InsertTextCommand, "b"))
	assert.Equal(t, "ab", textContent(t, e))

	ok, err := e.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", textContent(t, e))
	assert.True(t, e.CanRedo())

	require.True(t, Dispatch(e, UndoCommand, struct{}{}))
	assert.Equal(t, "", textContent(t, e))
	assert.False(t, e.CanUndo())

	ok, err = e.Undo()
	require.NoError(t, err)
	assert.False(t, ok, "nothing left to undo")

	require.True(t, Dispatch(e, RedoCommand, struct{}{}))
	ok, err = e.Redo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ab", textContent(t, e))

	ok, err = e.Redo()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUndoRestoresSelection(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTextCommand, "abc"))
	key := findNodes(t, e, TypeText)[0].Key()
	require.NoError(t, e.SetSelection(Caret(key, 1, PointText)))
	require.True(t, Dispatch(e, InsertTextCommand, "X"))
	assert.Equal(t, 2, caretOf(t, e).Focus.Offset)

	_, err := e.Undo()
	require.NoError(t, err)
	assert.Equal(t, "abc", textContent(t, e))
	assert.Equal(t, 1, caretOf(t, e).Focus.Offset)

	_, err = e.Redo()
	require.NoError(t, err)
	assert.Equal(t, "aXbc", textContent(t, e))
	assert.Equal(t, 2, caretOf(t, e).Focus.Offset)
}

func TestNewCommitDiscardsRedo(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTextCommand, "a"))
	require.True(t, Dispatch(e, InsertTextCommand, "b"))
	_, err := e.Undo()
	require.NoError(t, err)
	require.True(t, e.CanRedo())

	require.True(t, Dispatch(e, InsertTextCommand, "c"))
	assert.False(t, e.CanRedo())
	assert.Equal(t, "ac", textContent(t, e))

	ok, err := e.Redo()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryMaxDepth(t *testing.T) {
	lib := newTestLibrary(t, LibraryOptions{})
	e := openEditor(t, lib, EditorOptions{History: HistoryOptions{MaxDepth: 3}})

	for i := 1; i <= 5; i++ {
		require.True(t, Dispatch(e, InsertTextCommand, fmt.Sprint(i)))
	}
	assert.Equal(t, "12345", textContent(t, e))
	assert.Len(t, e.Revisions(), 4, "three undoable steps plus their base")

	for i := 0; i < 3; i++ {
		ok, err := e.Undo()
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, "12", textContent(t, e))

	ok, err := e.Undo()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, e.CanUndo())

	for i := 0; i < 3; i++ {
		ok, err := e.Redo()
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, "12345", textContent(t, e))
}

func TestHistoryDefaultDepth(t *testing.T) {
	e := newTestEditor(t)
	for i := 0; i < DefaultHistoryDepth+20; i++ {
		require.True(t, Dispatch(e, InsertTextCommand, "x"))
	}
	undone := 0
	for {
		ok, err := e.Undo()
		require.NoError(t, err)
		if !ok {
			break
		}
		undone++
	}
	assert.Equal(t, DefaultHistoryDepth, undone)
	assert.Len(t, textContent(t, e), 20)
}

func TestCanUndoCanRedoSignals(t *testing.T) {
	e := newTestEditor(t)
	var undoSignals, redoSignals []bool
	Register(e.Bus(), CanUndoCommand, PriorityLow, func(e *Editor, v bool) bool {
		undoSignals = append(undoSignals, v)
		return false
	})
	Register(e.Bus(), CanRedoCommand, PriorityLow, func(e *Editor, v bool) bool {
		redoSignals = append(redoSignals, v)
		return false
	})

	require.True(t, Dispatch(e, InsertTextCommand, "a"))
	require.True(t, Dispatch(e, InsertTextCommand, "b"))
	_, err := e.Undo()
	require.NoError(t, err)
	_, err = e.Undo()
	require.NoError(t, err)
	_, err = e.Redo()
	require.NoError(t, err)
	require.True(t, Dispatch(e, InsertTextCommand, "c"))

	assert.Equal(t, []bool{true, false, true}, undoSignals)
	assert.Equal(t, []bool{true, false}, redoSignals)
}

func TestSignalsSentOnOpen(t *testing.T) {
	lib := newTestLibrary(t, LibraryOptions{})
	var got []string
	toolbar := func(e *Editor) func() {
		return e.Bus().Subscribe(func(r *Registrar) {
			On(r, CanUndoCommand, PriorityLow, func(e *Editor, v bool) bool {
				got = append(got, fmt.Sprintf("undo=%v", v))
				return false
			})
			On(r, CanRedoCommand, PriorityLow, func(e *Editor, v bool) bool {
				got = append(got, fmt.Sprintf("redo=%v", v))
				return false
			})
		})
	}
	openEditor(t, lib, EditorOptions{Plugins: []Plugin{toolbar}})
	assert.Equal(t, []string{"undo=false", "redo=false"}, got)
}

func TestHistoryEventTags(t *testing.T) {
	e := newTestEditor(t)
	var events []UpdateEvent
	e.RegisterUpdateListener(func(e *Editor, ev UpdateEvent) {
		events = append(events, ev)
	})

	require.True(t, Dispatch(e, InsertTextCommand, "x"))
	require.NoError(t, ClearEditor(e, func(string) bool { return true }))
	_, err := e.Undo()
	require.NoError(t, err)
	_, err = e.Redo()
	require.NoError(t, err)

	var mutated []UpdateEvent
	for _, ev := range events {
		if ev.Mutated {
			mutated = append(mutated, ev)
		}
	}
	require.Len(t, mutated, 4)
	assert.True(t, mutated[1].HasTag(TagClear))
	assert.True(t, mutated[2].HasTag(TagHistoryUndo))
	assert.False(t, mutated[2].HasTag(TagClear))
	assert.True(t, mutated[3].HasTag(TagHistoryRedo))
	assert.True(t, mutated[3].HasTag(TagClear))
}
