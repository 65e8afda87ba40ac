package mathdoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDOMDecision(t *testing.T) {
	reg := DefaultRegistry()
	text := func(s string, f TextFormat) *TextNode {
		return &TextNode{nodeBase: nodeBase{key: 5}, text: s, format: f}
	}
	math := func(eq string, inline bool) *MathNode {
		return &MathNode{nodeBase: nodeBase{key: 6}, equation: eq, inline: inline}
	}
	list := func(lt ListType) *ListNode {
		return &ListNode{elementBase: elementBase{nodeBase: nodeBase{key: 7}}, listType: lt}
	}
	cell := func(h HeaderState) *TableCellNode {
		return &TableCellNode{elementBase: elementBase{nodeBase: nodeBase{key: 8}}, headerState: h}
	}
	same := text("a", 0)

	tests := []struct {
		name       string
		prev, next Node
		want       string
	}{
		{"identical generation", same, same, "keep"},
		{"text content", text("a", 0), text("b", 0), "patch"},
		{"text underline", text("a", 0), text("a", FormatUnderline), "patch"},
		{"text span to strong", text("a", 0), text("a", FormatBold), "rebuild"},
		{"math equation", math("x", true), math("y", true), "patch"},
		{"math inline flag", math("x", true), math("x", false), "rebuild"},
		{"list type", list(ListBullet), list(ListNumber), "rebuild"},
		{"cell td to th", cell(HeaderNone), cell(HeaderRow), "rebuild"},
		{"cell header kind", cell(HeaderRow), cell(HeaderBoth), "patch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DOMDecision(reg, tt.prev, tt.next))
			// UpdateDOM has no side effects, so asking twice gives the same answer
			assert.Equal(t, tt.want, DOMDecision(reg, tt.prev, tt.next))
		})
	}
}

func TestReconcileKeepsUnchangedContainers(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTextCommand, "one"))
	require.True(t, Dispatch(e, InsertParagraphCommand, struct{}{}))
	require.True(t, Dispatch(e, InsertTextCommand, "two"))

	texts := findNodes(t, e, TypeText)
	require.Len(t, texts, 2)
	first, ok := e.dom.container(texts[0].Key())
	require.True(t, ok)

	before := e.ReconcileStats()
	require.True(t, Dispatch(e, InsertTextCommand, "!"))
	after := e.ReconcileStats()

	again, ok := e.dom.container(texts[0].Key())
	require.True(t, ok)
	assert.Same(t, first, again)
	assert.Greater(t, after.Patched, before.Patched)
	assert.Equal(t, before.Rebuilt, after.Rebuilt)
}

func TestReconcileRebuildsOnInlineChange(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTextCommand, "bold me"))
	key := findNodes(t, e, TypeText)[0].Key()
	old, ok := e.dom.container(key)
	require.True(t, ok)
	assert.Equal(t, "span", old.Data)

	require.NoError(t, e.SetSelection(&RangeSelection{
		Anchor: Point{Key: key, Offset: 0, Type: PointText},
		Focus:  Point{Key: key, Offset: 7, Type: PointText},
	}))
	before := e.ReconcileStats()
	require.True(t, Dispatch(e, FormatTextCommand, "bold"))

	fresh, ok := e.dom.container(key)
	require.True(t, ok)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, "strong", fresh.Data)
	assert.Equal(t, before.Rebuilt+1, e.ReconcileStats().Rebuilt)
}

func TestReconcileRemovesContainers(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTableCommand, InsertTablePayload{Rows: 2, Columns: 2}))
	cells := findNodes(t, e, TypeTableCell)
	require.Len(t, cells, 4)

	before := e.ReconcileStats()
	require.NoError(t, ClearEditor(e, func(string) bool { return true }))
	for _, c := range cells {
		_, ok := e.dom.container(c.Key())
		assert.False(t, ok)
	}
	assert.Greater(t, e.ReconcileStats().Removed, before.Removed)
}

func TestHTMLOutput(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTextCommand, "hello"))

	out := e.HTML()
	assert.Contains(t, out, `<div class="editor-root" contenteditable="true" data-key="1">`)
	assert.Contains(t, out, `<p class="editor-paragraph mb-2"`)
	assert.Contains(t, out, `data-lexical-text="true"`)
	assert.Contains(t, out, `>hello</span>`)
}

func TestHTMLTextFormats(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, FormatTextCommand, "code"))
	require.True(t, Dispatch(e, InsertTextCommand, "x := 1"))

	out := e.HTML()
	assert.Contains(t, out, `<code class="bg-muted px-1 rounded font-mono"`)
	assert.Contains(t, out, `x := 1</code>`)
}

func TestHTMLTableAndList(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTextCommand, "item"))
	require.True(t, Dispatch(e, InsertOrderedListCommand, struct{}{}))
	require.True(t, Dispatch(e, InsertTableCommand, InsertTablePayload{
		Rows: 1, Columns: 1, IncludeHeaders: TableHeaders{Rows: true},
	}))

	out := e.HTML()
	assert.Contains(t, out, `<ol class="editor-list-ol ml-4 list-decimal"`)
	assert.Contains(t, out, `<li class="editor-listitem" value="1"`)
	assert.Contains(t, out, `<table class="LexicalEditor__table"`)
	assert.Contains(t, out, `<th class="LexicalEditor__tableCell LexicalEditor__tableCellHeader"`)
}

func TestExportHTMLSanitizes(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTextCommand, `<script>alert("x")</script>`))
	require.True(t, Dispatch(e, InsertMathCommand, InsertMathPayload{Equation: "x^2", Inline: true}))

	out := e.ExportHTML()
	assert.NotContains(t, out, "contenteditable")
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "<msup>")
	assert.Contains(t, out, `class="editor-paragraph mb-2"`)
}
