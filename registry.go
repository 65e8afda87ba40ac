package mathdoc

import (
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/net/html"
)

// Fragment is the encoded form of one node, without its children.
// Every fragment carries "type" and "version".
type Fragment map[string]any

// RawFragment is a fragment read back from a snapshot.
type RawFragment map[string]json.RawMessage

// Field decodes one named field into dst. Missing fields leave dst untouched.
func (f RawFragment) Field(name string, dst any) error {
	raw, ok := f[name]
	if !ok || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrInvalidSnapshot, name, err)
	}
	return nil
}

// NodeContract is everything the engine needs to know about one node type.
type NodeContract struct {
	Type    NodeType
	Version int

	// New constructs an empty node of this type with the given key.
	New func(key NodeKey) Node

	// Clone deep-copies n. The key is preserved unless mint is non-nil.
	Clone func(n Node, mint func() NodeKey) Node

	// CreateDOM builds the rendering container for n.
	CreateDOM func(n Node) *html.Node

	// UpdateDOM reports whether the container must be rebuilt when the node
	// changes from prev to next. It must be free of side effects.
	UpdateDOM func(prev, next Node) bool

	// PatchDOM updates an existing container in place. May be nil.
	PatchDOM func(n Node, dom *html.Node)

	// Encode writes the node's fields into a fragment.
	Encode func(n Node) Fragment

	// Decode builds a detached node from a fragment.
	Decode func(f RawFragment) (Node, error)
}

// Registry maps type tags to contracts. It is built once and then only read.
type Registry struct {
	contracts map[NodeType]*NodeContract
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{contracts: make(map[NodeType]*NodeContract)}
}

// DefaultRegistry returns a registry with every built-in node type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	registerMath(r)
	return r
}

// Contract returns the contract for a type tag.
func (r *Registry) Contract(t NodeType) (*NodeContract, bool) {
	c, ok := r.contracts[t]
	return c, ok
}

// Has reports whether every given type is registered.
func (r *Registry) Has(types ...NodeType) bool {
	for _, t := range types {
		if _, ok := r.contracts[t]; !ok {
			return false
		}
	}
	return true
}

// Types returns the registered type tags in sorted order.
func (r *Registry) Types() []NodeType {
	out := make([]NodeType, 0, len(r.contracts))
	for t := range r.contracts {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) mustContract(t NodeType) *NodeContract {
	c, ok := r.contracts[t]
	if !ok {
		panic(fmt.Sprintf("mathdoc: node type %q not registered", t))
	}
	return c
}

// typedContract is the per-variant form of NodeContract. Using a type
// parameter lets the compiler check each variant's functions.
type typedContract[T Node] struct {
	Type      NodeType
	Version   int
	New       func(key NodeKey) T
	CreateDOM func(n T) *html.Node
	UpdateDOM func(prev, next T) bool
	PatchDOM  func(n T, dom *html.Node)
	Encode    func(n T, f Fragment)
	Decode    func(f RawFragment, n T) error
}

func register[T Node](r *Registry, tc typedContract[T]) {
	c := &NodeContract{
		Type:    tc.Type,
		Version: tc.Version,
		New: func(key NodeKey) Node {
			return tc.New(key)
		},
		Clone: func(n Node, mint func() NodeKey) Node {
			cp := n.copyNode()
			if mint != nil {
				cp.base().key = mint()
			}
			return cp
		},
		CreateDOM: func(n Node) *html.Node {
			return tc.CreateDOM(n.(T))
		},
		UpdateDOM: func(prev, next Node) bool {
			p, ok1 := prev.(T)
			q, ok2 := next.(T)
			if !ok1 || !ok2 {
				return true
			}
			if tc.UpdateDOM == nil {
				return false
			}
			return tc.UpdateDOM(p, q)
		},
		Encode: func(n Node) Fragment {
			f := Fragment{"type": string(tc.Type), "version": tc.Version}
			if tc.Encode != nil {
				tc.Encode(n.(T), f)
			}
			return f
		},
		Decode: func(f RawFragment) (Node, error) {
			var version int
			if err := f.Field("version", &version); err != nil {
				return nil, err
			}
			if version < 1 || version > tc.Version {
				return nil, fmt.Errorf("%w: %s version %d", ErrSnapshotVersion, tc.Type, version)
			}
			n := tc.New(0)
			if tc.Decode != nil {
				if err := tc.Decode(f, n); err != nil {
					return nil, err
				}
			}
			return n, nil
		},
	}
	if tc.PatchDOM != nil {
		c.PatchDOM = func(n Node, dom *html.Node) {
			tc.PatchDOM(n.(T), dom)
		}
	}
	r.contracts[tc.Type] = c
}

func registerBuiltins(r *Registry) {
	register(r, typedContract[*RootNode]{
		Type:    TypeRoot,
		Version: 1,
		New: func(key NodeKey) *RootNode {
			return &RootNode{elementBase{nodeBase: nodeBase{key: key}}}
		},
		CreateDOM: func(n *RootNode) *html.Node {
			return newElement("div", "class", themeRoot, "contenteditable", "true")
		},
	})

	register(r, typedContract[*ParagraphNode]{
		Type:    TypeParagraph,
		Version: 1,
		New: func(key NodeKey) *ParagraphNode {
			return &ParagraphNode{elementBase{nodeBase: nodeBase{key: key}}}
		},
		CreateDOM: func(n *ParagraphNode) *html.Node {
			return newElement("p", "class", themeParagraph)
		},
	})

	register(r, typedContract[*TextNode]{
		Type:    TypeText,
		Version: 1,
		New: func(key NodeKey) *TextNode {
			return &TextNode{nodeBase: nodeBase{key: key}}
		},
		CreateDOM: func(n *TextNode) *html.Node {
			dom := newElement(textTag(n.format))
			patchText(n, dom)
			return dom
		},
		UpdateDOM: func(prev, next *TextNode) bool {
			return textTag(prev.format) != textTag(next.format)
		},
		PatchDOM: patchText,
		Encode: func(n *TextNode, f Fragment) {
			f["text"] = n.text
			f["format"] = int(n.format)
		},
		Decode: func(f RawFragment, n *TextNode) error {
			var format int
			if err := f.Field("text", &n.text); err != nil {
				return err
			}
			if err := f.Field("format", &format); err != nil {
				return err
			}
			n.format = TextFormat(format)
			return nil
		},
	})

	register(r, typedContract[*ListNode]{
		Type:    TypeList,
		Version: 1,
		New: func(key NodeKey) *ListNode {
			return &ListNode{elementBase: elementBase{nodeBase: nodeBase{key: key}}, listType: ListBullet, start: 1}
		},
		CreateDOM: func(n *ListNode) *html.Node {
			if n.listType == ListNumber {
				return newElement("ol", "class", themeListOrdered)
			}
			return newElement("ul", "class", themeListBullet)
		},
		UpdateDOM: func(prev, next *ListNode) bool {
			return prev.listType != next.listType
		},
		Encode: func(n *ListNode, f Fragment) {
			f["listType"] = string(n.listType)
			f["start"] = n.start
		},
		Decode: func(f RawFragment, n *ListNode) error {
			var lt string
			if err := f.Field("listType", &lt); err != nil {
				return err
			}
			switch ListType(lt) {
			case ListBullet, ListNumber:
				n.listType = ListType(lt)
			case "":
			default:
				return fmt.Errorf("%w: list type %q", ErrInvalidSnapshot, lt)
			}
			return f.Field("start", &n.start)
		},
	})

	register(r, typedContract[*ListItemNode]{
		Type:    TypeListItem,
		Version: 1,
		New: func(key NodeKey) *ListItemNode {
			return &ListItemNode{elementBase: elementBase{nodeBase: nodeBase{key: key}}, value: 1}
		},
		CreateDOM: func(n *ListItemNode) *html.Node {
			dom := newElement("li", "class", themeListItem)
			patchListItem(n, dom)
			return dom
		},
		PatchDOM: patchListItem,
		Encode: func(n *ListItemNode, f Fragment) {
			f["value"] = n.value
		},
		Decode: func(f RawFragment, n *ListItemNode) error {
			return f.Field("value", &n.value)
		},
	})

	register(r, typedContract[*TableNode]{
		Type:    TypeTable,
		Version: 1,
		New: func(key NodeKey) *TableNode {
			return &TableNode{elementBase{nodeBase: nodeBase{key: key}}}
		},
		CreateDOM: func(n *TableNode) *html.Node {
			return newElement("table", "class", themeTable)
		},
	})

	register(r, typedContract[*TableRowNode]{
		Type:    TypeTableRow,
		Version: 1,
		New: func(key NodeKey) *TableRowNode {
			return &TableRowNode{elementBase{nodeBase: nodeBase{key: key}}}
		},
		CreateDOM: func(n *TableRowNode) *html.Node {
			return newElement("tr")
		},
	})

	register(r, typedContract[*TableCellNode]{
		Type:    TypeTableCell,
		Version: 1,
		New: func(key NodeKey) *TableCellNode {
			return &TableCellNode{elementBase: elementBase{nodeBase: nodeBase{key: key}}, colSpan: 1, rowSpan: 1}
		},
		CreateDOM: func(n *TableCellNode) *html.Node {
			tag := "td"
			if n.headerState != HeaderNone {
				tag = "th"
			}
			dom := newElement(tag)
			patchCell(n, dom)
			return dom
		},
		UpdateDOM: func(prev, next *TableCellNode) bool {
			// td and th are different elements
			return (prev.headerState == HeaderNone) != (next.headerState == HeaderNone)
		},
		PatchDOM: patchCell,
		Encode: func(n *TableCellNode, f Fragment) {
			f["headerState"] = int(n.headerState)
			f["colSpan"] = n.colSpan
			f["rowSpan"] = n.rowSpan
			if n.backgroundColor != "" {
				f["backgroundColor"] = n.backgroundColor
			}
		},
		Decode: func(f RawFragment, n *TableCellNode) error {
			var hs int
			if err := f.Field("headerState", &hs); err != nil {
				return err
			}
			if hs < 0 || hs > int(HeaderBoth) {
				return fmt.Errorf("%w: header state %d", ErrInvalidSnapshot, hs)
			}
			n.headerState = HeaderState(hs)
			if err := f.Field("colSpan", &n.colSpan); err != nil {
				return err
			}
			if err := f.Field("rowSpan", &n.rowSpan); err != nil {
				return err
			}
			if n.colSpan < 1 {
				n.colSpan = 1
			}
			if n.rowSpan < 1 {
				n.rowSpan = 1
			}
			return f.Field("backgroundColor", &n.backgroundColor)
		},
	})
}
