package mathdoc

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Built-in commands.
var (
	UndoCommand    = NewCommand[struct{}]("UNDO")
	RedoCommand    = NewCommand[struct{}]("REDO")
	CanUndoCommand = NewCommand[bool]("CAN_UNDO")
	CanRedoCommand = NewCommand[bool]("CAN_REDO")

	SelectionChangeCommand = NewCommand[struct{}]("SELECTION_CHANGE")
	FormatTextCommand      = NewCommand[string]("FORMAT_TEXT")
	InsertTextCommand      = NewCommand[string]("INSERT_TEXT")
	InsertParagraphCommand = NewCommand[struct{}]("INSERT_PARAGRAPH")

	InsertOrderedListCommand   = NewCommand[struct{}]("INSERT_ORDERED_LIST")
	InsertUnorderedListCommand = NewCommand[struct{}]("INSERT_UNORDERED_LIST")

	InsertTableCommand       = NewCommand[InsertTablePayload]("INSERT_TABLE")
	InsertTableRowCommand    = NewCommand[bool]("INSERT_TABLE_ROW")
	InsertTableColumnCommand = NewCommand[bool]("INSERT_TABLE_COLUMN")
	DeleteTableRowCommand    = NewCommand[struct{}]("DELETE_TABLE_ROW")
	DeleteTableColumnCommand = NewCommand[struct{}]("DELETE_TABLE_COLUMN")

	InsertMathCommand = NewCommand[InsertMathPayload]("INSERT_MATH")

	ClearEditorCommand = NewCommand[struct{}]("CLEAR_EDITOR")
)

// InsertMathPayload is the payload of InsertMathCommand.
type InsertMathPayload struct {
	Equation string
	Inline   bool
}

// InsertTablePayload is the payload of InsertTableCommand.
type InsertTablePayload struct {
	Rows           int
	Columns        int
	IncludeHeaders TableHeaders
}

// TableHeaders selects which edges of a new table are header cells.
type TableHeaders struct {
	Rows    bool
	Columns bool
}

// Confirmer asks the user to approve a destructive action.
type Confirmer func(prompt string) bool

// ClearPrompt is the question put to a Confirmer before clearing.
const ClearPrompt = "Are you sure you want to clear the editor?"

// ClearEditor dispatches ClearEditorCommand once confirm approves it.
func ClearEditor(e *Editor, confirm Confirmer) error {
	if confirm == nil || !confirm(ClearPrompt) {
		return ErrConfirmationRequired
	}
	Dispatch(e, ClearEditorCommand, struct{}{})
	return nil
}

// handle runs fn as a named transaction on behalf of a command handler.
// Failures are logged and reported as unhandled.
func (e *Editor) handle(name string, fn func(tx *Txn) error) bool {
	if err := e.Update(name, fn); err != nil {
		e.logger.Warn("command failed", zap.String("command", name), zap.Error(err))
		return false
	}
	return true
}

// registerCoreCommands installs the handlers for the document primitives.
func registerCoreCommands(e *Editor) func() {
	return e.bus.Subscribe(func(r *Registrar) {
		On(r, FormatTextCommand, PriorityEditor, func(e *Editor, name string) bool {
			f, ok := ParseTextFormat(name)
			if !ok {
				return false
			}
			return e.handle("format-text", func(tx *Txn) error {
				return tx.ToggleFormat(f)
			})
		})
		On(r, InsertTextCommand, PriorityEditor, func(e *Editor, text string) bool {
			return e.handle("insert-text", func(tx *Txn) error {
				return tx.InsertText(text)
			})
		})
		On(r, InsertParagraphCommand, PriorityEditor, func(e *Editor, _ struct{}) bool {
			return e.handle("insert-paragraph", func(tx *Txn) error {
				return tx.InsertParagraph()
			})
		})
		On(r, InsertOrderedListCommand, PriorityEditor, func(e *Editor, _ struct{}) bool {
			return e.handle("insert-list", func(tx *Txn) error {
				return tx.InsertList(ListNumber)
			})
		})
		On(r, InsertUnorderedListCommand, PriorityEditor, func(e *Editor, _ struct{}) bool {
			return e.handle("insert-list", func(tx *Txn) error {
				return tx.InsertList(ListBullet)
			})
		})
		On(r, ClearEditorCommand, PriorityEditor, func(e *Editor, _ struct{}) bool {
			return e.handle("clear", func(tx *Txn) error {
				tx.Tag(TagClear)
				_, err := tx.Clear()
				return err
			})
		})
	})
}

// registerMathPlugin installs the INSERT_MATH handler. The math node must be
// registered on the editor.
func registerMathPlugin(e *Editor) (func(), error) {
	if !e.registry.Has(TypeMath) {
		return nil, errMathNotRegistered
	}
	return Register(e.bus, InsertMathCommand, PriorityEditor, func(e *Editor, p InsertMathPayload) bool {
		if strings.TrimSpace(p.Equation) == "" {
			return false
		}
		return e.handle("insert-math", func(tx *Txn) error {
			m, err := tx.CreateMath(p.Equation, p.Inline)
			if err != nil {
				return err
			}
			if p.Inline {
				return tx.InsertInline(m.key)
			}
			return tx.InsertBlock(m.key)
		})
	}), nil
}

// textKeys returns every text node key in document order.
func (tx *Txn) textKeys() []NodeKey {
	var keys []NodeKey
	tx.Walk(RootKey, func(n Node) bool {
		if _, ok := n.(*TextNode); ok {
			keys = append(keys, n.Key())
		}
		return true
	})
	return keys
}

func indexOfKey(keys []NodeKey, key NodeKey) int {
	for i, k := range keys {
		if k == key {
			return i
		}
	}
	return -1
}

// ToggleFormat flips f on the selected text. When every selected text node
// already has f it is removed, otherwise it is added. A collapsed selection
// toggles the format that the next typed text will get.
func (tx *Txn) ToggleFormat(f TextFormat) error {
	sel, ok := tx.selection.(*RangeSelection)
	if !ok || sel == nil {
		return nil
	}
	if sel.IsCollapsed() {
		cp := *sel
		cp.Format ^= f
		tx.SetSelection(&cp)
		return nil
	}
	if sel.Anchor.Type != PointText || sel.Focus.Type != PointText {
		return nil
	}

	keys := tx.textKeys()
	start, end := sel.Anchor, sel.Focus
	si, ei := indexOfKey(keys, start.Key), indexOfKey(keys, end.Key)
	if si < 0 || ei < 0 {
		return nil
	}
	if si > ei || (si == ei && start.Offset > end.Offset) {
		start, end = end, start
	}

	var targets []NodeKey
	var anchor, focus Point
	if start.Key == end.Key {
		if start.Offset == end.Offset {
			return nil
		}
		if _, err := tx.splitText(end.Key, end.Offset); err != nil {
			return err
		}
		mid, err := tx.splitText(start.Key, start.Offset)
		if err != nil {
			return err
		}
		targets = []NodeKey{mid}
		anchor = Point{Key: mid, Type: PointText}
		focus = Point{Key: mid, Offset: end.Offset - start.Offset, Type: PointText}
	} else {
		if _, err := tx.splitText(end.Key, end.Offset); err != nil {
			return err
		}
		first, err := tx.splitText(start.Key, start.Offset)
		if err != nil {
			return err
		}
		keys = tx.textKeys()
		from := indexOfKey(keys, first)
		if first == 0 {
			from = indexOfKey(keys, start.Key) + 1
		}
		to := indexOfKey(keys, end.Key)
		if end.Offset == 0 {
			to--
		}
		if from < 0 || from > to {
			return nil
		}
		targets = keys[from : to+1]
		last, _ := tx.Node(targets[len(targets)-1])
		anchor = Point{Key: targets[0], Type: PointText}
		focus = Point{Key: last.Key(), Offset: utf8.RuneCountInString(last.(*TextNode).text), Type: PointText}
	}

	all := true
	for _, k := range targets {
		n, _ := tx.Node(k)
		if !n.(*TextNode).format.Has(f) {
			all = false
			break
		}
	}
	for _, k := range targets {
		n, _ := tx.Node(k)
		format := n.(*TextNode).format
		if all {
			format &^= f
		} else {
			format |= f
		}
		if err := tx.SetFormat(k, format); err != nil {
			return err
		}
	}
	tx.SetSelection(&RangeSelection{Anchor: anchor, Focus: focus, Format: sel.Format})
	return nil
}

// InsertText types text at the caret. Text joins the focused text node when
// the formats match and becomes a new text node otherwise.
func (tx *Txn) InsertText(text string) error {
	if text == "" {
		return nil
	}
	sel, _ := tx.selection.(*RangeSelection)
	var format TextFormat
	if sel != nil {
		format = sel.Format
		if sel.Focus.Type == PointText {
			if n, ok := tx.Node(sel.Focus.Key); ok {
				t := n.(*TextNode)
				if t.format == format {
					runes := []rune(t.text)
					at := min(sel.Focus.Offset, len(runes))
					merged := string(runes[:at]) + text + string(runes[at:])
					if err := tx.SetText(t.key, merged); err != nil {
						return err
					}
					caret := caretAt(t.key, at+utf8.RuneCountInString(text), PointText)
					caret.Format = format
					tx.SetSelection(caret)
					return nil
				}
			}
		}
	}
	t, err := tx.CreateText(text, format)
	if err != nil {
		return err
	}
	if err := tx.InsertInline(t.key); err != nil {
		return err
	}
	caret := caretAt(t.key, utf8.RuneCountInString(text), PointText)
	caret.Format = format
	tx.SetSelection(caret)
	return nil
}

// InsertParagraph splits the caret's paragraph or list item in two, or adds
// an empty paragraph after the caret's block.
func (tx *Txn) InsertParagraph() error {
	fk, ok := focusKey(tx.selection)
	if ok {
		if host, found := tx.Ancestor(fk, acceptsInline); found {
			parent, idx, err := tx.inlineInsertionPoint()
			if err != nil {
				return err
			}
			if parent == host.Key() {
				return tx.splitBlock(host, idx)
			}
		}
	}
	p, err := tx.CreateParagraph()
	if err != nil {
		return err
	}
	if err := tx.InsertBlock(p.key); err != nil {
		return err
	}
	tx.SetSelection(caretAt(p.key, 0, PointElement))
	return nil
}

func (tx *Txn) splitBlock(host Node, idx int) error {
	var sibling Node
	var err error
	if _, isItem := host.(*ListItemNode); isItem {
		sibling, err = tx.CreateListItem()
	} else {
		sibling, err = tx.CreateParagraph()
	}
	if err != nil {
		return err
	}
	if err := tx.InsertAfter(host.Key(), sibling.Key()); err != nil {
		return err
	}
	cur, _ := tx.Node(host.Key())
	moving := cur.(ElementNode).Children()[idx:]
	for _, c := range moving {
		if err := tx.Append(sibling.Key(), c); err != nil {
			return err
		}
	}
	tx.SetSelection(caretAt(sibling.Key(), 0, PointElement))
	return nil
}

// InsertList wraps the caret's paragraph in a list of the given type, or
// switches the type of the list the caret is already in.
func (tx *Txn) InsertList(listType ListType) error {
	fk, ok := focusKey(tx.selection)
	if !ok {
		return nil
	}
	if item, found := tx.Ancestor(fk, func(n Node) bool { _, ok := n.(*ListItemNode); return ok }); found {
		list, _ := tx.Node(item.Parent())
		if l, ok := list.(*ListNode); ok && l.listType != listType {
			return tx.SetListType(l.key, listType)
		}
		return nil
	}
	para, found := tx.Ancestor(fk, func(n Node) bool { _, ok := n.(*ParagraphNode); return ok })
	if !found {
		return nil
	}

	list, err := tx.CreateList(listType)
	if err != nil {
		return err
	}
	item, err := tx.CreateListItem()
	if err != nil {
		return err
	}
	if err := tx.InsertBefore(para.Key(), list.key); err != nil {
		return err
	}
	if err := tx.Append(list.key, item.key); err != nil {
		return err
	}
	for _, c := range para.(ElementNode).Children() {
		if err := tx.Append(item.key, c); err != nil {
			return err
		}
	}

	sel := cloneSelection(tx.selection)
	if rs, ok := sel.(*RangeSelection); ok {
		for _, p := range []*Point{&rs.Anchor, &rs.Focus} {
			if p.Key == para.Key() {
				p.Key = item.key
			}
		}
		tx.SetSelection(rs)
	}
	return tx.Remove(para.Key())
}
