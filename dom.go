package mathdoc

import (
	"bytes"
	"strconv"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Theme class names applied to rendered containers.
const (
	themeRoot            = "editor-root"
	themeParagraph       = "editor-paragraph mb-2"
	themeListOrdered     = "editor-list-ol ml-4 list-decimal"
	themeListBullet      = "editor-list-ul ml-4 list-disc"
	themeListItem        = "editor-listitem"
	themeTable           = "LexicalEditor__table"
	themeTableCell       = "LexicalEditor__tableCell"
	themeTableCellHeader = "LexicalEditor__tableCellHeader"
)

var themeTextFormat = []struct {
	format TextFormat
	class  string
}{
	{FormatBold, "font-bold"},
	{FormatItalic, "italic"},
	{FormatUnderline, "underline"},
	{FormatStrikethrough, "line-through"},
	{FormatCode, "bg-muted px-1 rounded font-mono"},
}

// newElement builds a detached element. attrs alternates keys and values.
func newElement(tag string, attrs ...string) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		setAttr(n, attrs[i], attrs[i+1])
	}
	return n
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

// textTag picks the element a text run renders as.
func textTag(f TextFormat) string {
	switch {
	case f.Has(FormatCode):
		return "code"
	case f.Has(FormatBold):
		return "strong"
	case f.Has(FormatItalic):
		return "em"
	}
	return "span"
}

func patchText(n *TextNode, dom *html.Node) {
	var classes []string
	for _, tf := range themeTextFormat {
		if n.format.Has(tf.format) {
			classes = append(classes, tf.class)
		}
	}
	if len(classes) > 0 {
		setAttr(dom, "class", strings.Join(classes, " "))
	} else {
		removeAttr(dom, "class")
	}
	setAttr(dom, "data-lexical-text", "true")
	removeChildren(dom)
	dom.AppendChild(&html.Node{Type: html.TextNode, Data: n.text})
}

func patchListItem(n *ListItemNode, dom *html.Node) {
	setAttr(dom, "value", strconv.Itoa(n.value))
}

func patchCell(n *TableCellNode, dom *html.Node) {
	class := themeTableCell
	if n.headerState != HeaderNone {
		class = themeTableCell + " " + themeTableCellHeader
	}
	setAttr(dom, "class", class)
	if n.colSpan > 1 {
		setAttr(dom, "colspan", strconv.Itoa(n.colSpan))
	} else {
		removeAttr(dom, "colspan")
	}
	if n.rowSpan > 1 {
		setAttr(dom, "rowspan", strconv.Itoa(n.rowSpan))
	} else {
		removeAttr(dom, "rowspan")
	}
	if n.backgroundColor != "" {
		setAttr(dom, "style", "background-color: "+n.backgroundColor)
	} else {
		removeAttr(dom, "style")
	}
}

// ReconcileStats counts container operations since the editor opened.
type ReconcileStats struct {
	Created int
	Patched int
	Rebuilt int
	Removed int
}

// reconciler keeps one container per live node and brings the containers
// in line with the tree after every update.
type reconciler struct {
	mu       sync.Mutex
	registry *Registry
	doms     map[NodeKey]*html.Node
	rendered map[NodeKey]Node
	stats    ReconcileStats

	// decorate fills a math container; release is called for math nodes that
	// left the tree.
	decorate func(m *MathNode, dom *html.Node)
	release  func(key NodeKey)
}

func newReconciler(reg *Registry) *reconciler {
	return &reconciler{
		registry: reg,
		doms:     make(map[NodeKey]*html.Node),
		rendered: make(map[NodeKey]Node),
	}
}

// reconcile walks the tree visible to tx. A node whose generation is
// unchanged keeps its container; a changed node is patched in place unless
// UpdateDOM asks for a fresh container.
func (r *reconciler) reconcile(tx *Txn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[NodeKey]bool, len(r.doms))
	r.visit(tx, RootKey, seen)

	for key := range r.doms {
		if seen[key] {
			continue
		}
		if _, isMath := r.rendered[key].(*MathNode); isMath && r.release != nil {
			r.release(key)
		}
		delete(r.doms, key)
		delete(r.rendered, key)
		r.stats.Removed++
	}
}

func (r *reconciler) visit(tx *Txn, key NodeKey, seen map[NodeKey]bool) *html.Node {
	n, ok := tx.Node(key)
	if !ok {
		return nil
	}
	seen[key] = true
	c := r.registry.mustContract(n.Type())

	dom := r.doms[key]
	prev := r.rendered[key]
	switch {
	case dom == nil || prev == nil:
		dom = c.CreateDOM(n)
		r.stats.Created++
	case prev != n && c.UpdateDOM(prev, n):
		dom = c.CreateDOM(n)
		r.stats.Rebuilt++
	case prev != n:
		if c.PatchDOM != nil {
			c.PatchDOM(n, dom)
		}
		r.stats.Patched++
	}
	setAttr(dom, "data-key", strconv.FormatUint(uint64(key), 10))
	r.doms[key] = dom
	r.rendered[key] = n

	if m, isMath := n.(*MathNode); isMath {
		if r.decorate != nil {
			removeChildren(dom)
			r.decorate(m, dom)
		}
		return dom
	}

	if el, ok := n.(ElementNode); ok {
		removeChildren(dom)
		for _, ck := range el.element().children {
			child := r.visit(tx, ck, seen)
			if child == nil {
				continue
			}
			if child.Parent != nil {
				child.Parent.RemoveChild(child)
			}
			dom.AppendChild(child)
		}
	}
	return dom
}

// DOMDecision reports what the reconciler would do for a node changing from
// prev to next: "keep", "patch" or "rebuild".
func DOMDecision(reg *Registry, prev, next Node) string {
	if prev == next {
		return "keep"
	}
	c := reg.mustContract(next.Type())
	if c.UpdateDOM(prev, next) {
		return "rebuild"
	}
	return "patch"
}

func (r *reconciler) html() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	root := r.doms[RootKey]
	if root == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return ""
	}
	return buf.String()
}

func (r *reconciler) container(key NodeKey) (*html.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dom, ok := r.doms[key]
	return dom, ok
}

func (r *reconciler) snapshotStats() ReconcileStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// exportPolicy strips everything but presentational markup from exported
// HTML.
func exportPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Globally()
	p.AllowAttrs("data-key", "data-lexical-text", "data-lexical-decorator").Globally()
	p.AllowAttrs("title").OnElements("div", "span")
	p.AllowAttrs("value").OnElements("li")
	p.AllowAttrs("colspan", "rowspan").OnElements("td", "th")
	allowMathML(p)
	return p
}
