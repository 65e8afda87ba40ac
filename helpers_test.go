package mathdoc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestLibrary(t *testing.T, opts LibraryOptions) *Library {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	lib, err := Init(opts)
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })
	return lib
}

func openEditor(t *testing.T, lib *Library, opts EditorOptions) *Editor {
	t.Helper()
	e, err := lib.Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func newTestEditor(t *testing.T) *Editor {
	t.Helper()
	return openEditor(t, newTestLibrary(t, LibraryOptions{}), EditorOptions{})
}

// rootTypes lists the types of the root's children.
func rootTypes(t *testing.T, e *Editor) []NodeType {
	t.Helper()
	var types []NodeType
	require.NoError(t, e.Read(func(tx *Txn) error {
		for _, n := range tx.ChildNodes(RootKey) {
			types = append(types, n.Type())
		}
		return nil
	}))
	return types
}

// textContent returns the document's text with blocks separated by newlines.
func textContent(t *testing.T, e *Editor) string {
	t.Helper()
	var s string
	require.NoError(t, e.Read(func(tx *Txn) error {
		s = tx.TextContent(RootKey)
		return nil
	}))
	return s
}

// findNodes returns every node of type typ in document order.
func findNodes(t *testing.T, e *Editor, typ NodeType) []Node {
	t.Helper()
	var out []Node
	require.NoError(t, e.Read(func(tx *Txn) error {
		tx.Walk(RootKey, func(n Node) bool {
			if n.Type() == typ {
				out = append(out, n)
			}
			return true
		})
		return nil
	}))
	return out
}

// caretOf returns the committed selection as a range, failing otherwise.
func caretOf(t *testing.T, e *Editor) *RangeSelection {
	t.Helper()
	sel, ok := e.Selection().(*RangeSelection)
	require.True(t, ok, "selection is %T", e.Selection())
	return sel
}
