package mathdoc

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MathRenderer typesets TeX into an HTML fragment.
type MathRenderer interface {
	Render(equation string, displayMode bool) (string, error)
}

// MathRendererFunc adapts a function to MathRenderer.
type MathRendererFunc func(equation string, displayMode bool) (string, error)

// Render calls f.
func (f MathRendererFunc) Render(equation string, displayMode bool) (string, error) {
	return f(equation, displayMode)
}

// ViewMode is the state of a MathView.
type ViewMode int

const (
	ModeDisplay ViewMode = iota
	ModeEditing
)

func (m ViewMode) String() string {
	if m == ModeEditing {
		return "editing"
	}
	return "display"
}

// MathEditTitle is the hint shown on rendered equations.
const MathEditTitle = "Double click to edit equation"

// MathView presents one math node. In Display mode it shows the typeset
// equation; in Editing mode it shows a text input holding a draft. The draft
// is written back to the node in a single transaction when editing ends.
type MathView struct {
	editor *Editor
	key    NodeKey

	mu       sync.Mutex
	mode     ViewMode
	draft    string
	equation string
	inline   bool
}

// Key returns the key of the math node this view presents.
func (v *MathView) Key() NodeKey { return v.key }

// Mode returns the current mode.
func (v *MathView) Mode() ViewMode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode
}

// Draft returns the text being edited.
func (v *MathView) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

// Activate switches to Editing with the current equation as the draft.
func (v *MathView) Activate() {
	v.mu.Lock()
	if v.mode == ModeEditing {
		v.mu.Unlock()
		return
	}
	v.mode = ModeEditing
	v.draft = v.equation
	v.mu.Unlock()
	v.editor.refreshViews()
}

// SetDraft replaces the draft while editing.
func (v *MathView) SetDraft(text string) {
	v.mu.Lock()
	if v.mode != ModeEditing {
		v.mu.Unlock()
		return
	}
	v.draft = text
	v.mu.Unlock()
	v.editor.refreshViews()
}

// KeyDown handles a key press in the input. Enter commits.
func (v *MathView) KeyDown(key string) error {
	if key == "Enter" {
		return v.Commit()
	}
	return nil
}

// Blur commits the draft when the input loses focus.
func (v *MathView) Blur() error {
	return v.Commit()
}

// Commit writes the draft to the node and returns to Display. If the node
// was removed while editing, the draft is dropped.
func (v *MathView) Commit() error {
	v.mu.Lock()
	if v.mode != ModeEditing {
		v.mu.Unlock()
		return nil
	}
	draft := v.draft
	v.mode = ModeDisplay
	v.mu.Unlock()

	return v.editor.Update("math-edit", func(tx *Txn) error {
		n, ok := tx.Node(v.key)
		if !ok {
			return nil
		}
		m, ok := n.(*MathNode)
		if !ok || m.equation == draft {
			return nil
		}
		return tx.SetEquation(v.key, draft)
	})
}

// sync mirrors the committed node into the view.
func (v *MathView) sync(m *MathNode) {
	v.mu.Lock()
	v.equation = m.equation
	v.inline = m.inline
	v.mu.Unlock()
}

// Render returns the view's HTML fragment for its current mode.
func (v *MathView) Render() string {
	v.mu.Lock()
	mode, draft, equation, inline := v.mode, v.draft, v.equation, v.inline
	v.mu.Unlock()

	if mode == ModeEditing {
		return renderMathInput(draft)
	}
	return v.editor.renderEquation(v.key, equation, !inline)
}

func renderMathInput(draft string) string {
	width := max(utf8.RuneCountInString(draft)+2, 5)
	input := newElement("input",
		"type", "text",
		"class", "math-input",
		"value", draft,
		"style", fmt.Sprintf("width: %dch; height: 1.4em", width))
	var sb strings.Builder
	if err := html.Render(&sb, input); err != nil {
		return ""
	}
	return sb.String()
}

// renderEquation typesets an equation. Failures are logged and counted and
// produce an empty fragment; the node is never modified.
func (e *Editor) renderEquation(key NodeKey, equation string, displayMode bool) string {
	if e.renderer == nil {
		return ""
	}
	out, err := typeset(e.renderer, equation, displayMode)
	if err != nil {
		e.metrics.renderFailure()
		e.logger.Warn("math render failed",
			zap.Uint64("node", uint64(key)),
			zap.String("equation", equation),
			zap.Error(err))
		return ""
	}
	return out
}

// typeset runs r and sanitizes its output. Renderer errors wrap ErrRender.
func typeset(r MathRenderer, equation string, displayMode bool) (string, error) {
	out, err := r.Render(equation, displayMode)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	return mathPolicy.Sanitize(out), nil
}

// mathElements are the MathML elements a typesetter may emit.
var mathElements = []string{
	"math", "semantics", "annotation", "mrow", "mi", "mn", "mo", "ms", "mtext",
	"mspace", "msup", "msub", "msubsup", "mfrac", "msqrt", "mroot", "mover",
	"munder", "munderover", "mtable", "mtr", "mtd", "mstyle", "mpadded", "mphantom",
}

func allowMathML(p *bluemonday.Policy) {
	p.AllowElements(mathElements...)
	p.AllowAttrs("xmlns", "display").OnElements("math")
	p.AllowAttrs("encoding").OnElements("annotation")
	p.AllowAttrs("mathvariant", "stretchy", "fence", "separator", "accent", "linethickness", "movablelimits").Globally()
	p.AllowAttrs("width", "linebreak").OnElements("mspace")
}

var mathPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("span")
	p.AllowAttrs("class").OnElements("span")
	p.AllowAttrs("aria-hidden").OnElements("span")
	allowMathML(p)
	return p
}()

// decorateMath fills a math container with its view's fragment, creating the
// view on first sight of the node.
func (e *Editor) decorateMath(m *MathNode, dom *html.Node) {
	v := e.mathView(m.key, true)
	v.sync(m)
	if v.Mode() == ModeDisplay {
		setAttr(dom, "title", MathEditTitle)
	} else {
		removeAttr(dom, "title")
	}
	fragment := v.Render()
	if fragment == "" {
		return
	}
	context := &html.Node{Type: html.ElementNode, Data: "span", DataAtom: atom.Span}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		e.logger.Warn("math fragment rejected", zap.Uint64("node", uint64(m.key)), zap.Error(err))
		return
	}
	for _, n := range nodes {
		dom.AppendChild(n)
	}
}

func (e *Editor) mathView(key NodeKey, create bool) *MathView {
	e.viewMu.Lock()
	defer e.viewMu.Unlock()
	v, ok := e.views[key]
	if !ok && create {
		v = &MathView{editor: e, key: key}
		e.views[key] = v
	}
	return v
}

func (e *Editor) releaseView(key NodeKey) {
	e.viewMu.Lock()
	delete(e.views, key)
	e.viewMu.Unlock()
}

// MathView returns the view presenting the math node key, if it is rendered.
func (e *Editor) MathView(key NodeKey) (*MathView, bool) {
	v := e.mathView(key, false)
	return v, v != nil
}

// refreshViews re-renders without changing the tree.
func (e *Editor) refreshViews() {
	if e.closed.Load() {
		return
	}
	e.mu.RLock()
	rev := e.doc.current
	e.enqueueEvent(UpdateEvent{Prev: rev, Revision: rev, Name: "view", Tags: []string{TagView}})
	e.mu.RUnlock()
	e.drainEvents()
}
