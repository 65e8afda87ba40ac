package mathdoc

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// Tags recognised by the built-in listeners.
const (
	TagClear       = "clear"
	TagHistoryUndo = "history-undo"
	TagHistoryRedo = "history-redo"
	TagReload      = "reload"
	TagView        = "view"
)

// Txn is a unit of work against the document. A write transaction holds the
// editor's exclusive lock from TransactionStart until the outermost Commit or
// Rollback. A read transaction, obtained through Editor.Read, sees the last
// committed revision and rejects every mutation.
//
// Changes are staged as new node generations and become visible to readers
// only when the outermost Commit succeeds.
type Txn struct {
	editor   *Editor
	doc      *Document
	readOnly bool

	depth    int
	name     string // from outermost TransactionStart
	poisoned bool   // whether any inner transaction rolled back
	done     bool

	pending      map[NodeKey]Node // nil value marks removal
	hasMutations bool
	tags         []string

	selection    Selection
	selectionSet bool
}

// UpdateEvent is delivered to update listeners after a commit, undo, redo,
// or view refresh.
type UpdateEvent struct {
	Prev     Revision
	Revision Revision
	Name     string
	Tags     []string

	// Mutated is false when the tree did not change, e.g. a transaction that
	// only moved the selection or a math view entering edit mode.
	Mutated          bool
	SelectionChanged bool
}

// HasTag reports whether the event carries the given tag.
func (ev UpdateEvent) HasTag(tag string) bool {
	return slices.Contains(ev.Tags, tag)
}

// TransactionStart begins a write transaction. It blocks until no other
// write transaction is active.
func (e *Editor) TransactionStart(name string) (*Txn, error) {
	if e.closed.Load() {
		return nil, ErrEditorClosed
	}
	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		return nil, ErrEditorClosed
	}
	tx := &Txn{
		editor:    e,
		doc:       e.doc,
		depth:     1,
		name:      name,
		pending:   make(map[NodeKey]Node),
		selection: cloneSelection(e.selection),
	}
	e.tx = tx
	return tx, nil
}

// Update runs fn inside a write transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (e *Editor) Update(name string, fn func(tx *Txn) error) error {
	tx, err := e.TransactionStart(name)
	if err != nil {
		return err
	}
	defer func() {
		if !tx.done {
			tx.abort()
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	_, err = tx.Commit()
	return err
}

// Read runs fn against the last committed revision.
func (e *Editor) Read(fn func(tx *Txn) error) error {
	if e.closed.Load() {
		return ErrEditorClosed
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	tx := &Txn{
		editor:    e,
		doc:       e.doc,
		readOnly:  true,
		depth:     1,
		selection: e.selection,
	}
	return fn(tx)
}

// TransactionStart nests another level inside tx. An inner Rollback poisons
// the outer transaction so that its final Commit rolls back.
func (tx *Txn) TransactionStart() error {
	if tx.done {
		return ErrNoTransaction
	}
	tx.depth++
	return nil
}

// Depth returns the current nesting depth.
func (tx *Txn) Depth() int {
	return tx.depth
}

// Name returns the name given to the outermost TransactionStart.
func (tx *Txn) Name() string {
	return tx.name
}

// Commit ends one nesting level. The outermost Commit publishes the staged
// generations as a new revision and releases the editor lock. A transaction
// that changed nothing does not create a revision.
func (tx *Txn) Commit() (Revision, error) {
	if tx.done || tx.readOnly {
		return 0, ErrNoTransaction
	}
	tx.depth--
	if tx.depth > 0 {
		return tx.doc.current, nil
	}

	e := tx.editor
	tx.done = true
	if tx.poisoned {
		e.metrics.transaction("poisoned")
		e.releaseTxn()
		return 0, ErrTransactionPoisoned
	}

	ev := e.commitLocked(tx)
	e.releaseTxn()
	e.drainEvents()
	return ev.Revision, nil
}

// Rollback discards one nesting level. At the outermost level every staged
// change is dropped and the editor lock is released.
func (tx *Txn) Rollback() error {
	if tx.done || tx.readOnly {
		return ErrNoTransaction
	}
	tx.poisoned = true
	tx.depth--
	if tx.depth == 0 {
		tx.done = true
		tx.editor.metrics.transaction("rolled_back")
		tx.editor.releaseTxn()
	}
	return nil
}

// abort drops every nesting level at once. Update uses it when fn panics.
func (tx *Txn) abort() {
	tx.poisoned = true
	tx.depth = 0
	tx.done = true
	tx.editor.metrics.transaction("rolled_back")
	tx.editor.releaseTxn()
}

func (e *Editor) releaseTxn() {
	e.tx = nil
	e.mu.Unlock()
}

// commitLocked publishes tx. The caller holds e.mu.
func (e *Editor) commitLocked(tx *Txn) UpdateEvent {
	ev := UpdateEvent{
		Prev:     e.doc.current,
		Revision: e.doc.current,
		Name:     tx.name,
		Tags:     tx.tags,
	}

	if tx.hasMutations {
		tx.normalize()
	}
	pending := tx.published()
	if len(pending) > 0 {
		before := cloneSelection(e.selection)
		ev.Revision = e.doc.commit(pending, tx.name, tx.tags)
		ev.Mutated = true
		e.history.recordCommit(ev.Prev, ev.Revision, before)
	}

	prevSel := e.selection
	sel := e.selection
	if tx.selectionSet {
		sel = tx.selection
	}
	e.selection = validateSelection(e.doc, sel)
	ev.SelectionChanged = !selectionEqual(prevSel, e.selection)
	if ev.Mutated {
		e.history.setSelectionAfter(ev.Revision, e.selection)
	}

	result := "empty"
	if ev.Mutated {
		result = "committed"
	}
	e.metrics.transaction(result)
	e.logger.Debug("transaction committed",
		zap.String("name", tx.name),
		zap.Uint64("revision", uint64(ev.Revision)),
		zap.Int("nodes", len(pending)),
		zap.Strings("tags", tx.tags))

	e.enqueueEvent(ev)
	return ev
}

// normalize repairs the tree before publication. The root must never be
// empty.
func (tx *Txn) normalize() {
	root := tx.Root()
	if len(root.children) > 0 {
		return
	}
	p, err := tx.CreateParagraph()
	if err == nil {
		_ = tx.Append(RootKey, p.Key())
	}
}

// published returns the generations to store. Nodes created in this
// transaction that never reached the tree are dropped; committed nodes that
// were detached are recorded as removed.
func (tx *Txn) published() map[NodeKey]Node {
	out := make(map[NodeKey]Node, len(tx.pending))
	for key, n := range tx.pending {
		existed := tx.doc.node(key) != nil
		if n == nil || !tx.reachable(key) {
			if existed {
				out[key] = nil
			}
			continue
		}
		if existed && tx.doc.node(key) == n {
			continue
		}
		out[key] = n
	}
	return out
}

// reachable reports whether key is connected to the root in tx's view.
func (tx *Txn) reachable(key NodeKey) bool {
	for depth := 0; depth < 1<<16; depth++ {
		if key == RootKey {
			return true
		}
		n, ok := tx.Node(key)
		if !ok || n.Parent() == 0 {
			return false
		}
		key = n.Parent()
	}
	return false
}

func (tx *Txn) mutable() error {
	if tx.readOnly {
		return ErrReadOnlyTransaction
	}
	if tx.done {
		return ErrNoTransaction
	}
	return nil
}

// Tag attaches a tag to the resulting update event.
func (tx *Txn) Tag(tag string) {
	if !slices.Contains(tx.tags, tag) {
		tx.tags = append(tx.tags, tag)
	}
}

// HasMutations reports whether the transaction has staged any change.
func (tx *Txn) HasMutations() bool {
	return tx.hasMutations
}

// Node returns the generation of key visible to this transaction.
func (tx *Txn) Node(key NodeKey) (Node, bool) {
	if n, ok := tx.pending[key]; ok {
		return n, n != nil
	}
	n := tx.doc.node(key)
	return n, n != nil
}

// Root returns the root node.
func (tx *Txn) Root() *RootNode {
	n, _ := tx.Node(RootKey)
	root, _ := n.(*RootNode)
	return root
}

// ChildNodes returns the children of key in document order.
func (tx *Txn) ChildNodes(key NodeKey) []Node {
	n, ok := tx.Node(key)
	if !ok {
		return nil
	}
	el, ok := n.(ElementNode)
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(el.element().children))
	for _, c := range el.element().children {
		if cn, ok := tx.Node(c); ok {
			out = append(out, cn)
		}
	}
	return out
}

// IndexOf returns the position of key among its siblings.
func (tx *Txn) IndexOf(key NodeKey) (int, error) {
	n, ok := tx.Node(key)
	if !ok {
		return 0, ErrNodeNotFound
	}
	p, ok := tx.Node(n.Parent())
	if !ok {
		return 0, fmt.Errorf("%w: %d is detached", ErrInvalidPosition, key)
	}
	idx := slices.Index(p.(ElementNode).element().children, key)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %d not among its parent's children", ErrInvalidPosition, key)
	}
	return idx, nil
}

// Ancestor walks up from key and returns the first node for which match is
// true, including key itself.
func (tx *Txn) Ancestor(key NodeKey, match func(Node) bool) (Node, bool) {
	for key != 0 {
		n, ok := tx.Node(key)
		if !ok {
			return nil, false
		}
		if match(n) {
			return n, true
		}
		key = n.Parent()
	}
	return nil, false
}

// TextContent returns the concatenated text below key. Paragraph-level
// blocks are separated by newlines.
func (tx *Txn) TextContent(key NodeKey) string {
	var sb strings.Builder
	var walk func(k NodeKey)
	walk = func(k NodeKey) {
		n, ok := tx.Node(k)
		if !ok {
			return
		}
		switch v := n.(type) {
		case *TextNode:
			sb.WriteString(v.text)
			return
		case *MathNode:
			sb.WriteString(v.equation)
			return
		}
		el, ok := n.(ElementNode)
		if !ok {
			return
		}
		for i, c := range el.element().children {
			if i > 0 && !acceptsInline(n) {
				sb.WriteByte('\n')
			}
			walk(c)
		}
	}
	walk(key)
	return sb.String()
}

// Walk visits every node below and including key in document order. Returning
// false from fn skips the node's children.
func (tx *Txn) Walk(key NodeKey, fn func(n Node) bool) {
	n, ok := tx.Node(key)
	if !ok {
		return
	}
	if !fn(n) {
		return
	}
	if el, ok := n.(ElementNode); ok {
		for _, c := range el.element().children {
			tx.Walk(c, fn)
		}
	}
}

// create mints a key and stages a detached node of type t.
func (tx *Txn) create(t NodeType) (Node, error) {
	if err := tx.mutable(); err != nil {
		return nil, err
	}
	c, ok := tx.editor.registry.Contract(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotRegistered, t)
	}
	n := c.New(tx.doc.mintKey())
	tx.pending[n.Key()] = n
	tx.hasMutations = true
	return n, nil
}

// writable returns this transaction's own generation of key, copying the
// committed one on first write.
func (tx *Txn) writable(key NodeKey) (Node, error) {
	if err := tx.mutable(); err != nil {
		return nil, err
	}
	if n, ok := tx.pending[key]; ok {
		if n == nil {
			return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, key)
		}
		return n, nil
	}
	committed := tx.doc.node(key)
	if committed == nil {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, key)
	}
	cp := committed.copyNode()
	tx.pending[key] = cp
	tx.hasMutations = true
	return cp, nil
}

func (tx *Txn) writableElement(key NodeKey) (*elementBase, Node, error) {
	n, err := tx.writable(key)
	if err != nil {
		return nil, nil, err
	}
	el, ok := n.(ElementNode)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotAnElement, n.Type())
	}
	return el.element(), n, nil
}

// CreateParagraph stages a detached empty paragraph.
func (tx *Txn) CreateParagraph() (*ParagraphNode, error) {
	n, err := tx.create(TypeParagraph)
	if err != nil {
		return nil, err
	}
	return n.(*ParagraphNode), nil
}

// CreateText stages a detached text node.
func (tx *Txn) CreateText(text string, format TextFormat) (*TextNode, error) {
	n, err := tx.create(TypeText)
	if err != nil {
		return nil, err
	}
	t := n.(*TextNode)
	t.text = text
	t.format = format
	return t, nil
}

// CreateList stages a detached list.
func (tx *Txn) CreateList(listType ListType) (*ListNode, error) {
	n, err := tx.create(TypeList)
	if err != nil {
		return nil, err
	}
	l := n.(*ListNode)
	l.listType = listType
	return l, nil
}

// CreateListItem stages a detached list item.
func (tx *Txn) CreateListItem() (*ListItemNode, error) {
	n, err := tx.create(TypeListItem)
	if err != nil {
		return nil, err
	}
	return n.(*ListItemNode), nil
}

// CreateTableCell stages a detached cell holding one empty paragraph.
func (tx *Txn) CreateTableCell(header HeaderState) (*TableCellNode, error) {
	n, err := tx.create(TypeTableCell)
	if err != nil {
		return nil, err
	}
	cell := n.(*TableCellNode)
	cell.headerState = header
	p, err := tx.CreateParagraph()
	if err != nil {
		return nil, err
	}
	if err := tx.Append(cell.key, p.key); err != nil {
		return nil, err
	}
	return cell, nil
}

// Append places child as the last child of parent.
func (tx *Txn) Append(parent, child NodeKey) error {
	pn, ok := tx.Node(parent)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, parent)
	}
	el, ok := pn.(ElementNode)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAnElement, pn.Type())
	}
	idx := len(el.element().children)
	if cn, ok := tx.Node(child); ok && cn.Parent() == parent {
		idx--
	}
	return tx.InsertAt(parent, idx, child)
}

// InsertAt places child at index among parent's children, detaching it from
// any previous parent first.
func (tx *Txn) InsertAt(parent NodeKey, index int, child NodeKey) error {
	if err := tx.mutable(); err != nil {
		return err
	}
	if child == RootKey || child == parent {
		return fmt.Errorf("%w: %d under %d", ErrInvalidChild, child, parent)
	}
	pn, ok := tx.Node(parent)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, parent)
	}
	cn, ok := tx.Node(child)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, child)
	}
	if _, ok := pn.(ElementNode); !ok {
		return fmt.Errorf("%w: %s", ErrNotAnElement, pn.Type())
	}
	if !canContain(pn, cn) {
		return fmt.Errorf("%w: %s under %s", ErrInvalidChild, cn.Type(), pn.Type())
	}
	if _, isAncestor := tx.Ancestor(parent, func(n Node) bool { return n.Key() == child }); isAncestor {
		return fmt.Errorf("%w: %d is an ancestor of %d", ErrInvalidChild, child, parent)
	}

	if old := cn.Parent(); old != 0 {
		if err := tx.detach(child); err != nil {
			return err
		}
	}

	pe, _, err := tx.writableElement(parent)
	if err != nil {
		return err
	}
	if index < 0 || index > len(pe.children) {
		return fmt.Errorf("%w: index %d of %d", ErrInvalidPosition, index, len(pe.children))
	}
	pe.children = slices.Insert(pe.children, index, child)

	w, err := tx.writable(child)
	if err != nil {
		return err
	}
	w.base().parent = parent
	return nil
}

// InsertAfter places child immediately after sibling.
func (tx *Txn) InsertAfter(sibling, child NodeKey) error {
	return tx.insertBeside(sibling, child, 1)
}

// InsertBefore places child immediately before sibling.
func (tx *Txn) InsertBefore(sibling, child NodeKey) error {
	return tx.insertBeside(sibling, child, 0)
}

func (tx *Txn) insertBeside(sibling, child NodeKey, delta int) error {
	if sibling == child {
		return fmt.Errorf("%w: %d beside itself", ErrInvalidChild, child)
	}
	sn, ok := tx.Node(sibling)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, sibling)
	}
	parent := sn.Parent()
	if cn, ok := tx.Node(child); ok && cn.Parent() == parent && parent != 0 {
		if err := tx.detach(child); err != nil {
			return err
		}
	}
	idx, err := tx.IndexOf(sibling)
	if err != nil {
		return err
	}
	return tx.InsertAt(parent, idx+delta, child)
}

// detach unlinks key from its parent without removing it.
func (tx *Txn) detach(key NodeKey) error {
	n, ok := tx.Node(key)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, key)
	}
	parent := n.Parent()
	if parent == 0 {
		return nil
	}
	pe, _, err := tx.writableElement(parent)
	if err != nil {
		return err
	}
	if idx := slices.Index(pe.children, key); idx >= 0 {
		pe.children = slices.Delete(pe.children, idx, idx+1)
	}
	w, err := tx.writable(key)
	if err != nil {
		return err
	}
	w.base().parent = 0
	return nil
}

// Remove detaches key and marks it and its whole subtree as removed.
func (tx *Txn) Remove(key NodeKey) error {
	if err := tx.mutable(); err != nil {
		return err
	}
	if key == RootKey {
		return fmt.Errorf("%w: the root cannot be removed", ErrInvalidChild)
	}
	if _, ok := tx.Node(key); !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, key)
	}
	if err := tx.detach(key); err != nil {
		return err
	}
	var subtree []NodeKey
	tx.Walk(key, func(n Node) bool {
		subtree = append(subtree, n.Key())
		return true
	})
	for _, k := range subtree {
		tx.pending[k] = nil
	}
	tx.hasMutations = true
	return nil
}

// Clear removes every child of the root and leaves one empty paragraph.
func (tx *Txn) Clear() (*ParagraphNode, error) {
	if err := tx.mutable(); err != nil {
		return nil, err
	}
	for _, c := range tx.Root().Children() {
		if err := tx.Remove(c); err != nil {
			return nil, err
		}
	}
	p, err := tx.CreateParagraph()
	if err != nil {
		return nil, err
	}
	if err := tx.Append(RootKey, p.key); err != nil {
		return nil, err
	}
	tx.SetSelection(caretAt(p.key, 0, PointElement))
	return p, nil
}

// SetText replaces the text of a text node.
func (tx *Txn) SetText(key NodeKey, text string) error {
	n, ok := tx.Node(key)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, key)
	}
	if t, ok := n.(*TextNode); ok && t.text == text {
		return nil
	}
	w, err := tx.writable(key)
	if err != nil {
		return err
	}
	t, ok := w.(*TextNode)
	if !ok {
		return fmt.Errorf("%w: %s is not text", ErrWrongNodeType, w.Type())
	}
	t.text = text
	return nil
}

// SetFormat replaces the format bits of a text node.
func (tx *Txn) SetFormat(key NodeKey, format TextFormat) error {
	w, err := tx.writable(key)
	if err != nil {
		return err
	}
	t, ok := w.(*TextNode)
	if !ok {
		return fmt.Errorf("%w: %s is not text", ErrWrongNodeType, w.Type())
	}
	t.format = format
	return nil
}

// SetListType changes a list between bullet and number.
func (tx *Txn) SetListType(key NodeKey, listType ListType) error {
	w, err := tx.writable(key)
	if err != nil {
		return err
	}
	l, ok := w.(*ListNode)
	if !ok {
		return fmt.Errorf("%w: %s is not a list", ErrWrongNodeType, w.Type())
	}
	l.listType = listType
	return nil
}

// Selection returns the selection as staged in this transaction.
func (tx *Txn) Selection() Selection {
	return tx.selection
}

// SetSelection stages a new selection. It takes effect at commit.
func (tx *Txn) SetSelection(sel Selection) {
	tx.selection = cloneSelection(sel)
	tx.selectionSet = true
}
