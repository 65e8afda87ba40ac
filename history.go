package mathdoc

import (
	"slices"

	"go.uber.org/zap"
)

// DefaultHistoryDepth is the number of undoable steps kept when
// HistoryOptions.MaxDepth is zero.
const DefaultHistoryDepth = 100

// HistoryOptions configures the undo stack.
type HistoryOptions struct {
	MaxDepth int
}

// historyState is a linear undo/redo stack over the revision tree. Undo
// moves the current revision to its parent; redo returns to the undone
// child. Each stack entry is a revision whose transaction mutated the tree.
type historyState struct {
	maxDepth int
	undo     []Revision
	redo     []Revision

	selBefore map[Revision]Selection
	selAfter  map[Revision]Selection

	doc *Document

	// last values dispatched as CAN_UNDO / CAN_REDO
	signaledUndo bool
	signaledRedo bool
}

func newHistoryState(doc *Document, opts HistoryOptions) *historyState {
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &historyState{
		maxDepth:  depth,
		doc:       doc,
		selBefore: make(map[Revision]Selection),
		selAfter:  make(map[Revision]Selection),
	}
}

// recordCommit pushes a new revision. Any redo branch is discarded and the
// oldest step is folded into the base once the stack is full.
func (h *historyState) recordCommit(prev, rev Revision, before Selection) {
	if len(h.redo) > 0 {
		h.doc.discard(h.redo)
		for _, r := range h.redo {
			delete(h.selBefore, r)
			delete(h.selAfter, r)
		}
		h.redo = nil
	}
	h.undo = append(h.undo, rev)
	h.selBefore[rev] = before

	for len(h.undo) > h.maxDepth {
		oldest := h.undo[0]
		h.undo = h.undo[1:]
		h.doc.squash(oldest)
		delete(h.selBefore, oldest)
		delete(h.selAfter, oldest)
	}
}

func (h *historyState) setSelectionAfter(rev Revision, sel Selection) {
	h.selAfter[rev] = cloneSelection(sel)
}

func (h *historyState) canUndo() bool { return len(h.undo) > 0 }
func (h *historyState) canRedo() bool { return len(h.redo) > 0 }

// Undo reverts the most recent undoable revision. It reports false when
// there is nothing to undo.
func (e *Editor) Undo() (bool, error) {
	return e.historyStep(true)
}

// Redo reapplies the most recently undone revision. It reports false when
// there is nothing to redo.
func (e *Editor) Redo() (bool, error) {
	return e.historyStep(false)
}

func (e *Editor) historyStep(undo bool) (bool, error) {
	if e.closed.Load() {
		return false, ErrEditorClosed
	}
	e.mu.Lock()
	h := e.history
	prev := e.doc.current
	prevSel := e.selection

	var target, step Revision
	var sel Selection
	var tags []string
	if undo {
		if len(h.undo) == 0 {
			e.mu.Unlock()
			return false, nil
		}
		step = h.undo[len(h.undo)-1]
		target = e.doc.parentOf(step)
		h.undo = h.undo[:len(h.undo)-1]
		h.redo = append(h.redo, step)
		sel = h.selBefore[step]
		if info, ok := e.doc.revisions[target]; ok {
			tags = slices.Clone(info.Tags)
		}
		tags = append(tags, TagHistoryUndo)
	} else {
		if len(h.redo) == 0 {
			e.mu.Unlock()
			return false, nil
		}
		step = h.redo[len(h.redo)-1]
		target = step
		h.redo = h.redo[:len(h.redo)-1]
		h.undo = append(h.undo, step)
		sel = h.selAfter[step]
		if info, ok := e.doc.revisions[step]; ok {
			tags = slices.Clone(info.Tags)
		}
		tags = append(tags, TagHistoryRedo)
	}

	e.doc.seek(target)
	e.selection = validateSelection(e.doc, cloneSelection(sel))
	ev := UpdateEvent{
		Prev:             prev,
		Revision:         target,
		Name:             "history",
		Tags:             tags,
		Mutated:          true,
		SelectionChanged: !selectionEqual(prevSel, e.selection),
	}
	e.logger.Debug("history step",
		zap.Bool("undo", undo),
		zap.Uint64("from", uint64(prev)),
		zap.Uint64("to", uint64(target)))
	e.enqueueEvent(ev)
	e.mu.Unlock()
	e.drainEvents()
	return true, nil
}

// CanUndo reports whether Undo would do anything.
func (e *Editor) CanUndo() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.canUndo()
}

// CanRedo reports whether Redo would do anything.
func (e *Editor) CanRedo() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.canRedo()
}

// Revisions returns the retained revisions on the path to the current one,
// oldest first.
func (e *Editor) Revisions() []RevisionInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.revisionPath()
}

// signalHistory dispatches CAN_UNDO and CAN_REDO for values that changed
// since the last signal. force sends both regardless.
func (e *Editor) signalHistory(force bool) {
	e.mu.RLock()
	canUndo, canRedo := e.history.canUndo(), e.history.canRedo()
	e.mu.RUnlock()

	e.signalMu.Lock()
	h := e.history
	sendUndo := force || canUndo != h.signaledUndo
	sendRedo := force || canRedo != h.signaledRedo
	h.signaledUndo, h.signaledRedo = canUndo, canRedo
	e.signalMu.Unlock()

	if sendUndo {
		Dispatch(e, CanUndoCommand, canUndo)
	}
	if sendRedo {
		Dispatch(e, CanRedoCommand, canRedo)
	}
}

func registerHistory(e *Editor) func() {
	unregister := e.bus.Subscribe(func(r *Registrar) {
		On(r, UndoCommand, PriorityEditor, func(e *Editor, _ struct{}) bool {
			_, err := e.Undo()
			return err == nil
		})
		On(r, RedoCommand, PriorityEditor, func(e *Editor, _ struct{}) bool {
			_, err := e.Redo()
			return err == nil
		})
	})
	removeListener := e.RegisterUpdateListener(func(e *Editor, ev UpdateEvent) {
		if ev.Mutated {
			e.signalHistory(false)
		}
	})
	return MergeRegister(unregister, removeListener)
}
