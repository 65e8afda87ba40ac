// Package mathml typesets a subset of TeX math into MathML.
//
// The supported subset covers what people type into an equation box:
// letters, numbers, operators, grouping braces, superscripts and subscripts,
// \frac, \sqrt, \text, font commands, accents, \left/\right fences, spacing
// commands and the common Greek letters and symbols.
package mathml

import (
	"fmt"
	"html"
	"strings"
)

const namespace = "http://www.w3.org/1998/Math/MathML"

// ParseError describes TeX that cannot be typeset.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("TeX parse error: %s at position %d", e.Msg, e.Pos)
}

// Render typesets tex. In display mode the formula is laid out as a block.
func Render(tex string, displayMode bool) (string, error) {
	p := &parser{lex: newLexer(tex)}
	body, err := p.parseExpression(stopEOF)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if displayMode {
		sb.WriteString(`<span class="katex-display">`)
	}
	sb.WriteString(`<span class="katex"><math xmlns="` + namespace + `"`)
	if displayMode {
		sb.WriteString(` display="block"`)
	}
	sb.WriteString(`><semantics>`)
	writeRow(&sb, body)
	sb.WriteString(`<annotation encoding="application/x-tex">`)
	sb.WriteString(html.EscapeString(tex))
	sb.WriteString(`</annotation></semantics></math></span>`)
	if displayMode {
		sb.WriteString(`</span>`)
	}
	return sb.String(), nil
}

// Renderer is a MathRenderer-compatible wrapper around Render.
type Renderer struct{}

// Render typesets tex.
func (Renderer) Render(tex string, displayMode bool) (string, error) {
	return Render(tex, displayMode)
}

// node is one MathML element. Leaf elements carry text; the rest carry
// children.
type node struct {
	tag      string
	text     string
	attrs    [][2]string
	children []*node
}

func leaf(tag, text string, attrs ...[2]string) *node {
	return &node{tag: tag, text: text, attrs: attrs}
}

func elem(tag string, children ...*node) *node {
	return &node{tag: tag, children: children}
}

func row(children []*node) *node {
	if len(children) == 1 {
		return children[0]
	}
	return elem("mrow", children...)
}

func (n *node) write(sb *strings.Builder) {
	sb.WriteString("<" + n.tag)
	for _, a := range n.attrs {
		sb.WriteString(" " + a[0] + `="` + html.EscapeString(a[1]) + `"`)
	}
	sb.WriteString(">")
	if n.children == nil {
		sb.WriteString(html.EscapeString(n.text))
	}
	for _, c := range n.children {
		c.write(sb)
	}
	sb.WriteString("</" + n.tag + ">")
}

func writeRow(sb *strings.Builder, nodes []*node) {
	elem("mrow", nodes...).write(sb)
}
