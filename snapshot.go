package mathdoc

import (
	"encoding/json"
	"fmt"
)

// EncodeSnapshot serializes the tree visible to tx as
// {"root": {...fragment, "children": [...]}}. Output is deterministic.
func EncodeSnapshot(tx *Txn) ([]byte, error) {
	root, err := encodeSubtree(tx, RootKey)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"root": root})
}

func encodeSubtree(tx *Txn, key NodeKey) (Fragment, error) {
	n, ok := tx.Node(key)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, key)
	}
	c, ok := tx.editor.registry.Contract(n.Type())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, n.Type())
	}
	f := c.Encode(n)
	if el, ok := n.(ElementNode); ok {
		children := make([]Fragment, 0, len(el.element().children))
		for _, ck := range el.element().children {
			cf, err := encodeSubtree(tx, ck)
			if err != nil {
				return nil, err
			}
			children = append(children, cf)
		}
		f["children"] = children
	}
	return f, nil
}

// decodedTree is a snapshot turned back into detached nodes with fresh keys.
// The root always has RootKey.
type decodedTree struct {
	nodes   map[NodeKey]Node
	root    *RootNode
	skipped []NodeType
}

// decodeSnapshot rebuilds a tree. Fragments of unregistered types are
// skipped together with their subtree; any other defect fails the whole
// decode with ErrInvalidSnapshot.
func decodeSnapshot(reg *Registry, data []byte, mint func() NodeKey) (*decodedTree, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	raw, ok := top["root"]
	if !ok {
		return nil, fmt.Errorf("%w: no root", ErrInvalidSnapshot)
	}

	d := &decoder{
		reg:  reg,
		mint: mint,
		tree: &decodedTree{nodes: make(map[NodeKey]Node)},
	}
	n, err := d.decode(raw, 0, true)
	if err != nil {
		return nil, err
	}
	root, ok := n.(*RootNode)
	if !ok {
		return nil, fmt.Errorf("%w: top-level node is not a root", ErrInvalidSnapshot)
	}
	d.tree.root = root
	return d.tree, nil
}

type decoder struct {
	reg  *Registry
	mint func() NodeKey
	tree *decodedTree
}

func (d *decoder) decode(raw json.RawMessage, parent NodeKey, isRoot bool) (Node, error) {
	var f RawFragment
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	var typ string
	if err := f.Field("type", &typ); err != nil {
		return nil, err
	}
	if typ == "" {
		return nil, fmt.Errorf("%w: fragment without type", ErrInvalidSnapshot)
	}
	c, ok := d.reg.Contract(NodeType(typ))
	if !ok {
		if isRoot {
			return nil, fmt.Errorf("%w: root has type %q", ErrInvalidSnapshot, typ)
		}
		d.tree.skipped = append(d.tree.skipped, NodeType(typ))
		return nil, nil
	}

	n, err := c.Decode(f)
	if err != nil {
		return nil, err
	}
	key := RootKey
	if !isRoot {
		key = d.mint()
	}
	n.base().key = key
	n.base().parent = parent

	var kids []json.RawMessage
	if err := f.Field("children", &kids); err != nil {
		return nil, err
	}
	el, isElement := n.(ElementNode)
	if !isElement && len(kids) > 0 {
		return nil, fmt.Errorf("%w: %s cannot have children", ErrInvalidSnapshot, typ)
	}
	if isElement {
		eb := el.element()
		for _, kid := range kids {
			child, err := d.decode(kid, key, false)
			if err != nil {
				return nil, err
			}
			if child == nil {
				continue
			}
			if !canContain(n, child) {
				return nil, fmt.Errorf("%w: %s under %s", ErrInvalidSnapshot, child.Type(), typ)
			}
			eb.children = append(eb.children, child.Key())
		}
		if len(eb.children) == 0 {
			switch n.(type) {
			case *RootNode, *TableCellNode:
				p := &ParagraphNode{elementBase{nodeBase: nodeBase{key: d.mint(), parent: key}}}
				d.tree.nodes[p.key] = p
				eb.children = append(eb.children, p.key)
			case *TableNode, *TableRowNode, *ListNode:
				return nil, nil
			}
		}
	}
	d.tree.nodes[key] = n
	return n, nil
}

// replaceContent swaps every child of the root for the children of a decoded
// tree.
func (tx *Txn) replaceContent(tree *decodedTree) error {
	if err := tx.mutable(); err != nil {
		return err
	}
	for _, c := range tx.Root().Children() {
		if err := tx.Remove(c); err != nil {
			return err
		}
	}
	for key, n := range tree.nodes {
		if key == RootKey {
			continue
		}
		tx.pending[key] = n
	}
	root, _, err := tx.writableElement(RootKey)
	if err != nil {
		return err
	}
	root.children = append(root.children[:0], tree.root.children...)
	tx.hasMutations = true
	tx.SetSelection(nil)
	return nil
}

// defaultTree is one empty paragraph under the root.
func defaultTree(mint func() NodeKey) *decodedTree {
	root := &RootNode{elementBase{nodeBase: nodeBase{key: RootKey}}}
	p := &ParagraphNode{elementBase{nodeBase: nodeBase{key: mint(), parent: RootKey}}}
	root.children = []NodeKey{p.key}
	return &decodedTree{
		nodes: map[NodeKey]Node{RootKey: root, p.key: p},
		root:  root,
	}
}
