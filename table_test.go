package mathdoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tableShape returns the header state of every cell of the first table,
// row by row.
func tableShape(t *testing.T, e *Editor) [][]HeaderState {
	t.Helper()
	var shape [][]HeaderState
	require.NoError(t, e.Read(func(tx *Txn) error {
		var table Node
		tx.Walk(RootKey, func(n Node) bool {
			if table == nil && n.Type() == TypeTable {
				table = n
			}
			return table == nil
		})
		if table == nil {
			return nil
		}
		for _, row := range tx.ChildNodes(table.Key()) {
			var cells []HeaderState
			for _, c := range tx.ChildNodes(row.Key()) {
				cells = append(cells, c.(*TableCellNode).HeaderState())
			}
			shape = append(shape, cells)
		}
		return nil
	}))
	return shape
}

func TestInsertTable(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTableCommand, InsertTablePayload{
		Rows:           2,
		Columns:        3,
		IncludeHeaders: TableHeaders{Rows: true, Columns: true},
	}))

	assert.Equal(t, []NodeType{TypeParagraph, TypeTable, TypeParagraph}, rootTypes(t, e))
	assert.Equal(t, [][]HeaderState{
		{HeaderBoth, HeaderRow, HeaderRow},
		{HeaderColumn, HeaderNone, HeaderNone},
	}, tableShape(t, e))

	// caret lands in the first cell
	cells := findNodes(t, e, TypeTableCell)
	require.Len(t, cells, 6)
	require.NoError(t, e.Read(func(tx *Txn) error {
		cell, ok := tx.SelectedCell()
		require.True(t, ok)
		assert.Equal(t, cells[0].Key(), cell.Key())
		return nil
	}))

	// every cell holds one empty paragraph
	for _, c := range cells {
		assert.Len(t, c.(*TableCellNode).Children(), 1)
	}
}

func TestInsertTableRejectsBadSize(t *testing.T) {
	e := newTestEditor(t)
	for _, p := range []InsertTablePayload{
		{Rows: 0, Columns: 2},
		{Rows: 2, Columns: 0},
		{Rows: -1, Columns: 1},
		{Rows: MaxTableSize + 1, Columns: 1},
	} {
		assert.False(t, Dispatch(e, InsertTableCommand, p), "%dx%d", p.Rows, p.Columns)
	}
	assert.Empty(t, findNodes(t, e, TypeTable))

	err := e.Update("table", func(tx *Txn) error {
		_, err := tx.InsertTable(InsertTablePayload{Rows: 0, Columns: 0})
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidTableSize)
}

func TestInsertTableRowsAndColumns(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTableCommand, InsertTablePayload{
		Rows:           2,
		Columns:        2,
		IncludeHeaders: TableHeaders{Rows: true},
	}))

	require.True(t, Dispatch(e, InsertTableRowCommand, true))
	assert.Equal(t, [][]HeaderState{
		{HeaderRow, HeaderRow},
		{HeaderNone, HeaderNone},
		{HeaderNone, HeaderNone},
	}, tableShape(t, e))

	require.True(t, Dispatch(e, InsertTableColumnCommand, false))
	assert.Equal(t, [][]HeaderState{
		{HeaderRow, HeaderRow, HeaderRow},
		{HeaderNone, HeaderNone, HeaderNone},
		{HeaderNone, HeaderNone, HeaderNone},
	}, tableShape(t, e))

	require.True(t, Dispatch(e, InsertTableRowCommand, false))
	assert.Len(t, tableShape(t, e), 4)
	assert.True(t, e.StoreState().IsTableActive)
}

func TestDeleteTableRowAndColumn(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTableCommand, InsertTablePayload{Rows: 3, Columns: 3}))

	require.True(t, Dispatch(e, DeleteTableRowCommand, struct{}{}))
	shape := tableShape(t, e)
	require.Len(t, shape, 2)
	assert.Len(t, shape[0], 3)

	require.True(t, Dispatch(e, DeleteTableColumnCommand, struct{}{}))
	shape = tableShape(t, e)
	require.Len(t, shape, 2)
	assert.Len(t, shape[0], 2)
	assert.Len(t, shape[1], 2)

	// the caret stays in the table
	assert.True(t, e.StoreState().IsTableActive)
}

func TestDeleteLastRowRemovesTable(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTableCommand, InsertTablePayload{Rows: 1, Columns: 2}))

	require.True(t, Dispatch(e, DeleteTableRowCommand, struct{}{}))
	assert.Empty(t, findNodes(t, e, TypeTable))
	assert.Empty(t, findNodes(t, e, TypeTableCell))
	assert.Equal(t, []NodeType{TypeParagraph, TypeParagraph}, rootTypes(t, e))

	paras := findNodes(t, e, TypeParagraph)
	assert.Equal(t, paras[1].Key(), caretOf(t, e).Focus.Key)
	assert.False(t, e.StoreState().IsTableActive)
}

func TestDeleteLastColumnRemovesTable(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTableCommand, InsertTablePayload{Rows: 3, Columns: 1}))

	require.True(t, Dispatch(e, DeleteTableColumnCommand, struct{}{}))
	assert.Empty(t, findNodes(t, e, TypeTable))

	ok, err := e.Undo()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, tableShape(t, e), 3)
}

func TestTableCommandsOutsideTable(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTextCommand, "plain"))
	revs := len(e.Revisions())

	assert.False(t, Dispatch(e, InsertTableRowCommand, true))
	assert.False(t, Dispatch(e, InsertTableColumnCommand, true))
	assert.False(t, Dispatch(e, DeleteTableRowCommand, struct{}{}))
	assert.False(t, Dispatch(e, DeleteTableColumnCommand, struct{}{}))
	assert.Len(t, e.Revisions(), revs)

	ok, err := e.DeleteRowAtSelection()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestTableInsertedAfterCaretBlock(t *testing.T) {
	e := newTestEditor(t)
	require.True(t, Dispatch(e, InsertTextCommand, "first"))
	require.True(t, Dispatch(e, InsertParagraphCommand, struct{}{}))
	require.True(t, Dispatch(e, InsertTextCommand, "second"))

	first := findNodes(t, e, TypeText)[0].Key()
	require.NoError(t, e.SetSelection(Caret(first, 2, PointText)))
	require.True(t, Dispatch(e, InsertTableCommand, InsertTablePayload{Rows: 1, Columns: 1}))

	assert.Equal(t, []NodeType{TypeParagraph, TypeTable, TypeParagraph}, rootTypes(t, e))
	assert.Equal(t, "first", findNodes(t, e, TypeText)[0].(*TextNode).Text())
}
