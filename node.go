package mathdoc

// NodeKey uniquely identifies a node within an Editor for its whole lifetime.
// Keys are never reused, even after the node is removed.
type NodeKey uint64

// RootKey is the key of the document root. It never changes.
const RootKey NodeKey = 1

// Revision identifies a committed generation of the document.
type Revision uint64

// NodeType is the stable type tag written into snapshots.
type NodeType string

const (
	TypeRoot      NodeType = "root"
	TypeParagraph NodeType = "paragraph"
	TypeText      NodeType = "text"
	TypeList      NodeType = "list"
	TypeListItem  NodeType = "listitem"
	TypeTable     NodeType = "table"
	TypeTableRow  NodeType = "tablerow"
	TypeTableCell NodeType = "tablecell"
	TypeMath      NodeType = "math"
)

// Node is one variant of the document tree. The set of variants is closed:
// only types declared in this package implement it.
//
// Node values are immutable once committed. A transaction that changes a node
// stores a new generation of it under the same key.
type Node interface {
	Key() NodeKey
	Parent() NodeKey
	Type() NodeType

	base() *nodeBase
	copyNode() Node
}

// ElementNode is a node that owns an ordered list of children.
type ElementNode interface {
	Node
	Children() []NodeKey

	element() *elementBase
}

type nodeBase struct {
	key    NodeKey
	parent NodeKey
}

// Key returns the node's key.
func (b *nodeBase) Key() NodeKey { return b.key }

// Parent returns the key of the parent node, or 0 when detached.
func (b *nodeBase) Parent() NodeKey { return b.parent }

func (b *nodeBase) base() *nodeBase { return b }

type elementBase struct {
	nodeBase
	children []NodeKey
}

// Children returns a copy of the child keys in document order.
func (e *elementBase) Children() []NodeKey {
	out := make([]NodeKey, len(e.children))
	copy(out, e.children)
	return out
}

func (e *elementBase) element() *elementBase { return e }

func (e elementBase) cloneElement() elementBase {
	e.children = append([]NodeKey(nil), e.children...)
	return e
}

// RootNode is the top of the document tree.
type RootNode struct{ elementBase }

func (n *RootNode) Type() NodeType { return TypeRoot }
func (n *RootNode) copyNode() Node {
	return &RootNode{elementBase: n.cloneElement()}
}

// ParagraphNode is a block of inline content.
type ParagraphNode struct{ elementBase }

func (n *ParagraphNode) Type() NodeType { return TypeParagraph }
func (n *ParagraphNode) copyNode() Node {
	return &ParagraphNode{elementBase: n.cloneElement()}
}

// TextFormat is a bit set of inline text styles.
type TextFormat uint32

const (
	FormatBold TextFormat = 1 << iota
	FormatItalic
	FormatStrikethrough
	FormatUnderline
	FormatCode
)

// Has reports whether every bit of f2 is set in f.
func (f TextFormat) Has(f2 TextFormat) bool { return f&f2 == f2 }

// ParseTextFormat maps a FORMAT_TEXT variant name to its bit.
func ParseTextFormat(name string) (TextFormat, bool) {
	switch name {
	case "bold":
		return FormatBold, true
	case "italic":
		return FormatItalic, true
	case "strikethrough":
		return FormatStrikethrough, true
	case "underline":
		return FormatUnderline, true
	case "code":
		return FormatCode, true
	}
	return 0, false
}

// TextNode is a run of text with a uniform format.
type TextNode struct {
	nodeBase
	text   string
	format TextFormat
}

func (n *TextNode) Type() NodeType { return TypeText }
func (n *TextNode) copyNode() Node {
	cp := *n
	return &cp
}

// Text returns the node's text.
func (n *TextNode) Text() string { return n.text }

// Format returns the node's format bits.
func (n *TextNode) Format() TextFormat { return n.format }

// ListType distinguishes bullet and numbered lists.
type ListType string

const (
	ListBullet ListType = "bullet"
	ListNumber ListType = "number"
)

// ListNode holds list items.
type ListNode struct {
	elementBase
	listType ListType
	start    int
}

func (n *ListNode) Type() NodeType { return TypeList }
func (n *ListNode) copyNode() Node {
	return &ListNode{elementBase: n.cloneElement(), listType: n.listType, start: n.start}
}

// ListType returns bullet or number.
func (n *ListNode) ListType() ListType { return n.listType }

// Start returns the first ordinal of a numbered list.
func (n *ListNode) Start() int { return n.start }

// ListItemNode is one entry of a list; it holds inline content.
type ListItemNode struct {
	elementBase
	value int
}

func (n *ListItemNode) Type() NodeType { return TypeListItem }
func (n *ListItemNode) copyNode() Node {
	return &ListItemNode{elementBase: n.cloneElement(), value: n.value}
}

// Value returns the item's ordinal.
func (n *ListItemNode) Value() int { return n.value }

// TableNode holds table rows.
type TableNode struct{ elementBase }

func (n *TableNode) Type() NodeType { return TypeTable }
func (n *TableNode) copyNode() Node {
	return &TableNode{elementBase: n.cloneElement()}
}

// TableRowNode holds table cells.
type TableRowNode struct{ elementBase }

func (n *TableRowNode) Type() NodeType { return TypeTableRow }
func (n *TableRowNode) copyNode() Node {
	return &TableRowNode{elementBase: n.cloneElement()}
}

// HeaderState marks a table cell as part of a header row and/or column.
type HeaderState int

const (
	HeaderNone   HeaderState = 0
	HeaderRow    HeaderState = 1
	HeaderColumn HeaderState = 2
	HeaderBoth   HeaderState = HeaderRow | HeaderColumn
)

// TableCellNode holds block content of one cell.
type TableCellNode struct {
	elementBase
	headerState     HeaderState
	colSpan         int
	rowSpan         int
	backgroundColor string
}

func (n *TableCellNode) Type() NodeType { return TypeTableCell }
func (n *TableCellNode) copyNode() Node {
	return &TableCellNode{
		elementBase:     n.cloneElement(),
		headerState:     n.headerState,
		colSpan:         n.colSpan,
		rowSpan:         n.rowSpan,
		backgroundColor: n.backgroundColor,
	}
}

// HeaderState returns the cell's header bits.
func (n *TableCellNode) HeaderState() HeaderState { return n.headerState }

// ColSpan returns the number of columns the cell spans.
func (n *TableCellNode) ColSpan() int { return n.colSpan }

// RowSpan returns the number of rows the cell spans.
func (n *TableCellNode) RowSpan() int { return n.rowSpan }

// BackgroundColor returns the cell's background color, if any.
func (n *TableCellNode) BackgroundColor() string { return n.backgroundColor }

// isInlineNode reports whether n lives inside a block.
func isInlineNode(n Node) bool {
	switch v := n.(type) {
	case *TextNode:
		return true
	case *MathNode:
		return v.inline
	}
	return false
}

// acceptsInline reports whether an element holds inline content directly.
func acceptsInline(n Node) bool {
	switch n.(type) {
	case *ParagraphNode, *ListItemNode:
		return true
	}
	return false
}

// canContain reports whether child may be placed directly under parent.
func canContain(parent, child Node) bool {
	switch parent.(type) {
	case *RootNode, *TableCellNode:
		switch child.(type) {
		case *ParagraphNode, *ListNode, *TableNode:
			return true
		case *MathNode:
			return !isInlineNode(child)
		}
	case *ParagraphNode, *ListItemNode:
		return isInlineNode(child)
	case *ListNode:
		_, ok := child.(*ListItemNode)
		return ok
	case *TableNode:
		_, ok := child.(*TableRowNode)
		return ok
	case *TableRowNode:
		_, ok := child.(*TableCellNode)
		return ok
	}
	return false
}

// nodeSlot is a versioned container for one key. Each committed revision that
// touched the node stores its generation here; a nil entry marks removal.
type nodeSlot struct {
	key     NodeKey
	history map[Revision]Node
}

func newNodeSlot(key NodeKey) *nodeSlot {
	return &nodeSlot{
		key:     key,
		history: make(map[Revision]Node),
	}
}

// stateAt returns the generation visible at rev. It walks back through the
// revision's ancestors until it finds an entry.
func (s *nodeSlot) stateAt(d *Document, rev Revision) Node {
	for {
		if n, ok := s.history[rev]; ok {
			return n
		}
		info, ok := d.revisions[rev]
		if !ok || info.Parent == rev {
			return nil
		}
		rev = info.Parent
	}
}
