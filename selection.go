package mathdoc

import (
	"slices"
	"unicode/utf8"
)

// PointType says whether a point's offset counts runes in a text node or
// children of an element.
type PointType int

const (
	PointText PointType = iota
	PointElement
)

// Point is one end of a range selection.
type Point struct {
	Key    NodeKey
	Offset int
	Type   PointType
}

// Selection is either a *RangeSelection or a *NodeSelection.
type Selection interface {
	selectionType() string
}

// RangeSelection spans from Anchor to Focus. Format holds the styles that
// text typed at a collapsed caret will get.
type RangeSelection struct {
	Anchor Point
	Focus  Point
	Format TextFormat
}

func (*RangeSelection) selectionType() string { return "range" }

// IsCollapsed reports whether anchor and focus coincide.
func (s *RangeSelection) IsCollapsed() bool {
	return s.Anchor == s.Focus
}

// NodeSelection selects whole nodes, such as a block math node.
type NodeSelection struct {
	Keys []NodeKey
}

func (*NodeSelection) selectionType() string { return "node" }

// SelectionType returns "none", "range" or "node".
func SelectionType(sel Selection) string {
	if isNilSelection(sel) {
		return "none"
	}
	return sel.selectionType()
}

func isNilSelection(sel Selection) bool {
	switch s := sel.(type) {
	case nil:
		return true
	case *RangeSelection:
		return s == nil
	case *NodeSelection:
		return s == nil
	}
	return false
}

func caretAt(key NodeKey, offset int, typ PointType) *RangeSelection {
	p := Point{Key: key, Offset: offset, Type: typ}
	return &RangeSelection{Anchor: p, Focus: p}
}

// Caret returns a collapsed range selection.
func Caret(key NodeKey, offset int, typ PointType) *RangeSelection {
	return caretAt(key, offset, typ)
}

func cloneSelection(sel Selection) Selection {
	switch s := sel.(type) {
	case *RangeSelection:
		if s == nil {
			return nil
		}
		cp := *s
		return &cp
	case *NodeSelection:
		if s == nil {
			return nil
		}
		return &NodeSelection{Keys: slices.Clone(s.Keys)}
	}
	return nil
}

func selectionEqual(a, b Selection) bool {
	if isNilSelection(a) || isNilSelection(b) {
		return isNilSelection(a) == isNilSelection(b)
	}
	switch x := a.(type) {
	case *RangeSelection:
		y, ok := b.(*RangeSelection)
		return ok && *x == *y
	case *NodeSelection:
		y, ok := b.(*NodeSelection)
		return ok && slices.Equal(x.Keys, y.Keys)
	}
	return false
}

// validateSelection drops or clamps selection parts that no longer resolve
// against the current revision.
func validateSelection(d *Document, sel Selection) Selection {
	switch s := sel.(type) {
	case *RangeSelection:
		if s == nil {
			return nil
		}
		a, ok1 := clampPoint(d, s.Anchor)
		f, ok2 := clampPoint(d, s.Focus)
		if !ok1 || !ok2 {
			return nil
		}
		return &RangeSelection{Anchor: a, Focus: f, Format: s.Format}
	case *NodeSelection:
		if s == nil {
			return nil
		}
		var keys []NodeKey
		for _, k := range s.Keys {
			if d.node(k) != nil && attachedAt(d, k) {
				keys = append(keys, k)
			}
		}
		if len(keys) == 0 {
			return nil
		}
		return &NodeSelection{Keys: keys}
	}
	return nil
}

func attachedAt(d *Document, key NodeKey) bool {
	for key != RootKey {
		n := d.node(key)
		if n == nil || n.Parent() == 0 {
			return false
		}
		key = n.Parent()
	}
	return true
}

func clampPoint(d *Document, p Point) (Point, bool) {
	n := d.node(p.Key)
	if n == nil || !attachedAt(d, p.Key) {
		return p, false
	}
	var limit int
	switch v := n.(type) {
	case *TextNode:
		if p.Type != PointText {
			return p, false
		}
		limit = utf8.RuneCountInString(v.text)
	case ElementNode:
		if p.Type != PointElement {
			return p, false
		}
		limit = len(v.element().children)
	default:
		return p, false
	}
	p.Offset = min(max(p.Offset, 0), limit)
	return p, true
}

// focusKey returns the node the selection is focused on, if any.
func focusKey(sel Selection) (NodeKey, bool) {
	switch s := sel.(type) {
	case *RangeSelection:
		if s != nil {
			return s.Focus.Key, true
		}
	case *NodeSelection:
		if s != nil && len(s.Keys) > 0 {
			return s.Keys[0], true
		}
	}
	return 0, false
}

// SelectedCell returns the table cell containing the selection focus.
func (tx *Txn) SelectedCell() (*TableCellNode, bool) {
	key, ok := focusKey(tx.selection)
	if !ok {
		return nil, false
	}
	n, ok := tx.Ancestor(key, func(n Node) bool {
		_, isCell := n.(*TableCellNode)
		return isCell
	})
	if !ok {
		return nil, false
	}
	return n.(*TableCellNode), true
}

// isBlockContainer reports whether n holds top-level blocks.
func isBlockContainer(n Node) bool {
	switch n.(type) {
	case *RootNode, *TableCellNode:
		return true
	}
	return false
}

// topBlock returns the child of the nearest block container that contains
// key, together with that container.
func (tx *Txn) topBlock(key NodeKey) (block, container Node, ok bool) {
	for key != 0 {
		n, found := tx.Node(key)
		if !found {
			return nil, nil, false
		}
		if isBlockContainer(n) {
			return nil, n, true
		}
		p, found := tx.Node(n.Parent())
		if !found {
			return nil, nil, false
		}
		if isBlockContainer(p) {
			return n, p, true
		}
		key = n.Parent()
	}
	return nil, nil, false
}

// splitText splits a text node at a rune offset. The returned key is the node
// that now starts at the offset; it is 0 when the offset is at the end.
func (tx *Txn) splitText(key NodeKey, offset int) (NodeKey, error) {
	n, ok := tx.Node(key)
	if !ok {
		return 0, ErrNodeNotFound
	}
	t, ok := n.(*TextNode)
	if !ok {
		return 0, ErrWrongNodeType
	}
	runes := []rune(t.text)
	if offset <= 0 {
		return key, nil
	}
	if offset >= len(runes) {
		return 0, nil
	}
	right, err := tx.CreateText(string(runes[offset:]), t.format)
	if err != nil {
		return 0, err
	}
	if err := tx.SetText(key, string(runes[:offset])); err != nil {
		return 0, err
	}
	if err := tx.InsertAfter(key, right.key); err != nil {
		return 0, err
	}
	return right.key, nil
}

// inlineInsertionPoint resolves the selection to a parent that accepts inline
// content and an index within it, creating a paragraph when the caret sits
// directly in a block container.
func (tx *Txn) inlineInsertionPoint() (NodeKey, int, error) {
	sel, _ := tx.selection.(*RangeSelection)
	if sel == nil {
		return tx.endOfDocumentParagraph()
	}
	p := sel.Focus
	n, ok := tx.Node(p.Key)
	if !ok {
		return tx.endOfDocumentParagraph()
	}
	switch v := n.(type) {
	case *TextNode:
		idx, err := tx.IndexOf(v.key)
		if err != nil {
			return 0, 0, err
		}
		right, err := tx.splitText(v.key, p.Offset)
		if err != nil {
			return 0, 0, err
		}
		if right == v.key {
			return v.parent, idx, nil
		}
		return v.parent, idx + 1, nil
	case ElementNode:
		if acceptsInline(n) {
			return v.Key(), min(p.Offset, len(v.element().children)), nil
		}
		if isBlockContainer(n) {
			children := v.element().children
			at := min(p.Offset, len(children))
			if at > 0 {
				if prev, ok := tx.Node(children[at-1]); ok && acceptsInline(prev) {
					return prev.Key(), len(prev.(ElementNode).element().children), nil
				}
			}
			para, err := tx.CreateParagraph()
			if err != nil {
				return 0, 0, err
			}
			if err := tx.InsertAt(v.Key(), at, para.key); err != nil {
				return 0, 0, err
			}
			return para.key, 0, nil
		}
	}
	return tx.endOfDocumentParagraph()
}

// endOfDocumentParagraph returns the end of the last top-level paragraph,
// appending one when the document does not end in a paragraph.
func (tx *Txn) endOfDocumentParagraph() (NodeKey, int, error) {
	children := tx.Root().children
	if len(children) > 0 {
		last, _ := tx.Node(children[len(children)-1])
		if p, ok := last.(*ParagraphNode); ok {
			return p.key, len(p.children), nil
		}
	}
	para, err := tx.CreateParagraph()
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Append(RootKey, para.key); err != nil {
		return 0, 0, err
	}
	return para.key, 0, nil
}

// InsertInline places an inline node at the caret and moves the caret after
// it.
func (tx *Txn) InsertInline(key NodeKey) error {
	parent, idx, err := tx.inlineInsertionPoint()
	if err != nil {
		return err
	}
	if err := tx.InsertAt(parent, idx, key); err != nil {
		return err
	}
	format := TextFormat(0)
	if sel, ok := tx.selection.(*RangeSelection); ok && sel != nil {
		format = sel.Format
	}
	caret := caretAt(parent, idx+1, PointElement)
	caret.Format = format
	tx.SetSelection(caret)
	return nil
}

// InsertBlock places a block node after the caret's top-level block, or at
// the end of the document when there is no selection. A paragraph is added
// after the node when nothing follows it, and the caret moves there.
func (tx *Txn) InsertBlock(key NodeKey) error {
	container, idx, err := tx.blockInsertionPoint()
	if err != nil {
		return err
	}
	if err := tx.InsertAt(container, idx, key); err != nil {
		return err
	}
	return tx.caretAfterBlock(key)
}

func (tx *Txn) blockInsertionPoint() (NodeKey, int, error) {
	fk, ok := focusKey(tx.selection)
	if !ok {
		return RootKey, len(tx.Root().children), nil
	}
	block, container, ok := tx.topBlock(fk)
	if !ok {
		return RootKey, len(tx.Root().children), nil
	}
	if block == nil {
		children := container.(ElementNode).element().children
		at := len(children)
		if sel, ok := tx.selection.(*RangeSelection); ok && sel != nil && sel.Focus.Key == container.Key() {
			at = min(sel.Focus.Offset, at)
		}
		return container.Key(), at, nil
	}
	idx, err := tx.IndexOf(block.Key())
	if err != nil {
		return 0, 0, err
	}
	return container.Key(), idx + 1, nil
}

func (tx *Txn) caretAfterBlock(key NodeKey) error {
	n, _ := tx.Node(key)
	parent, _ := tx.Node(n.Parent())
	children := parent.(ElementNode).element().children
	idx := slices.Index(children, key)
	if idx == len(children)-1 {
		para, err := tx.CreateParagraph()
		if err != nil {
			return err
		}
		if err := tx.InsertAfter(key, para.key); err != nil {
			return err
		}
		tx.SetSelection(caretAt(para.key, 0, PointElement))
		return nil
	}
	next, _ := tx.Node(children[idx+1])
	if acceptsInline(next) {
		tx.SetSelection(caretAt(next.Key(), 0, PointElement))
		return nil
	}
	tx.SetSelection(caretAt(parent.Key(), idx+1, PointElement))
	return nil
}
