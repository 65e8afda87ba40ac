package mathdoc

import (
	"fmt"
	"slices"
)

// MaxTableSize bounds the rows and columns of a new table.
const MaxTableSize = 500

// cellPosition locates the selected cell within its table.
type cellPosition struct {
	table  *TableNode
	row    *TableRowNode
	cell   *TableCellNode
	rowIdx int
	colIdx int
}

func (tx *Txn) selectedCellPosition() (cellPosition, bool) {
	cell, ok := tx.SelectedCell()
	if !ok {
		return cellPosition{}, false
	}
	rn, ok := tx.Node(cell.parent)
	if !ok {
		return cellPosition{}, false
	}
	row, ok := rn.(*TableRowNode)
	if !ok {
		return cellPosition{}, false
	}
	tn, ok := tx.Node(row.parent)
	if !ok {
		return cellPosition{}, false
	}
	table, ok := tn.(*TableNode)
	if !ok {
		return cellPosition{}, false
	}
	return cellPosition{
		table:  table,
		row:    row,
		cell:   cell,
		rowIdx: slices.Index(table.children, row.key),
		colIdx: slices.Index(row.children, cell.key),
	}, true
}

// InsertTable builds a rows by columns table, inserts it after the caret's
// block and puts the caret in the first cell.
func (tx *Txn) InsertTable(p InsertTablePayload) (*TableNode, error) {
	if p.Rows < 1 || p.Rows > MaxTableSize || p.Columns < 1 || p.Columns > MaxTableSize {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidTableSize, p.Rows, p.Columns)
	}
	n, err := tx.create(TypeTable)
	if err != nil {
		return nil, err
	}
	table := n.(*TableNode)
	for r := 0; r < p.Rows; r++ {
		rn, err := tx.create(TypeTableRow)
		if err != nil {
			return nil, err
		}
		if err := tx.Append(table.key, rn.Key()); err != nil {
			return nil, err
		}
		for c := 0; c < p.Columns; c++ {
			var header HeaderState
			if r == 0 && p.IncludeHeaders.Rows {
				header |= HeaderRow
			}
			if c == 0 && p.IncludeHeaders.Columns {
				header |= HeaderColumn
			}
			cell, err := tx.CreateTableCell(header)
			if err != nil {
				return nil, err
			}
			if err := tx.Append(rn.Key(), cell.key); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.InsertBlock(table.key); err != nil {
		return nil, err
	}
	first := table.children[0]
	fr, _ := tx.Node(first)
	tx.caretInCell(fr.(ElementNode).element().children[0])
	return table, nil
}

func (tx *Txn) caretInCell(cellKey NodeKey) {
	cn, ok := tx.Node(cellKey)
	if !ok {
		return
	}
	children := cn.(ElementNode).element().children
	if len(children) > 0 {
		if first, ok := tx.Node(children[0]); ok && acceptsInline(first) {
			tx.SetSelection(caretAt(first.Key(), 0, PointElement))
			return
		}
	}
	tx.SetSelection(caretAt(cellKey, 0, PointElement))
}

// InsertRowAtSelection adds a row above or below the selected cell's row.
// It reports false when the selection is not in a table.
func (tx *Txn) InsertRowAtSelection(after bool) (bool, error) {
	pos, ok := tx.selectedCellPosition()
	if !ok {
		return false, nil
	}
	rn, err := tx.create(TypeTableRow)
	if err != nil {
		return false, err
	}
	for _, ck := range pos.row.children {
		ref, _ := tx.Node(ck)
		var header HeaderState
		if c, ok := ref.(*TableCellNode); ok {
			header = c.headerState & HeaderColumn
		}
		cell, err := tx.CreateTableCell(header)
		if err != nil {
			return false, err
		}
		if err := tx.Append(rn.Key(), cell.key); err != nil {
			return false, err
		}
	}
	if after {
		err = tx.InsertAfter(pos.row.key, rn.Key())
	} else {
		err = tx.InsertBefore(pos.row.key, rn.Key())
	}
	return err == nil, err
}

// InsertColumnAtSelection adds a column left or right of the selected cell.
// It reports false when the selection is not in a table.
func (tx *Txn) InsertColumnAtSelection(after bool) (bool, error) {
	pos, ok := tx.selectedCellPosition()
	if !ok {
		return false, nil
	}
	for _, rk := range pos.table.children {
		rn, ok := tx.Node(rk)
		if !ok {
			continue
		}
		cells := rn.(*TableRowNode).children
		if len(cells) == 0 {
			continue
		}
		refIdx := min(pos.colIdx, len(cells)-1)
		ref, _ := tx.Node(cells[refIdx])
		header := ref.(*TableCellNode).headerState & HeaderRow
		cell, err := tx.CreateTableCell(header)
		if err != nil {
			return false, err
		}
		if after {
			err = tx.InsertAfter(cells[refIdx], cell.key)
		} else {
			err = tx.InsertBefore(cells[refIdx], cell.key)
		}
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// DeleteRowAtSelection removes the selected cell's row. Removing the only
// row removes the table. It reports false when the selection is not in a
// table.
func (tx *Txn) DeleteRowAtSelection() (bool, error) {
	pos, ok := tx.selectedCellPosition()
	if !ok {
		return false, nil
	}
	rows := pos.table.children
	if len(rows) <= 1 {
		return true, tx.removeTable(pos.table)
	}
	if err := tx.Remove(pos.row.key); err != nil {
		return false, err
	}
	next := min(pos.rowIdx, len(rows)-2)
	cur, _ := tx.Node(pos.table.key)
	rn, _ := tx.Node(cur.(*TableNode).children[next])
	cells := rn.(*TableRowNode).children
	if len(cells) > 0 {
		tx.caretInCell(cells[min(pos.colIdx, len(cells)-1)])
	}
	return true, nil
}

// DeleteColumnAtSelection removes the selected cell's column from every row.
// Removing the only column removes the table. It reports false when the
// selection is not in a table.
func (tx *Txn) DeleteColumnAtSelection() (bool, error) {
	pos, ok := tx.selectedCellPosition()
	if !ok {
		return false, nil
	}
	if len(pos.row.children) <= 1 {
		return true, tx.removeTable(pos.table)
	}
	for _, rk := range pos.table.children {
		rn, ok := tx.Node(rk)
		if !ok {
			continue
		}
		cells := rn.(*TableRowNode).children
		if pos.colIdx < len(cells) {
			if err := tx.Remove(cells[pos.colIdx]); err != nil {
				return false, err
			}
		}
	}
	rn, _ := tx.Node(pos.row.key)
	cells := rn.(*TableRowNode).children
	if len(cells) > 0 {
		tx.caretInCell(cells[min(pos.colIdx, len(cells)-1)])
	}
	return true, nil
}

// removeTable deletes a whole table and moves the caret to the block that
// takes its place. A container left empty gets an empty paragraph.
func (tx *Txn) removeTable(table *TableNode) error {
	container := table.parent
	idx, err := tx.IndexOf(table.key)
	if err != nil {
		return err
	}
	if err := tx.Remove(table.key); err != nil {
		return err
	}
	cn, _ := tx.Node(container)
	children := cn.(ElementNode).element().children
	if len(children) == 0 {
		p, err := tx.CreateParagraph()
		if err != nil {
			return err
		}
		if err := tx.Append(container, p.key); err != nil {
			return err
		}
		tx.SetSelection(caretAt(p.key, 0, PointElement))
		return nil
	}
	at := min(idx, len(children)-1)
	if next, ok := tx.Node(children[at]); ok && acceptsInline(next) {
		tx.SetSelection(caretAt(next.Key(), 0, PointElement))
		return nil
	}
	tx.SetSelection(caretAt(container, at, PointElement))
	return nil
}

// InsertRowAtSelection runs the row insertion in its own transaction.
func (e *Editor) InsertRowAtSelection(after bool) (bool, error) {
	return e.tableUpdate("insert-table-row", func(tx *Txn) (bool, error) {
		return tx.InsertRowAtSelection(after)
	})
}

// InsertColumnAtSelection runs the column insertion in its own transaction.
func (e *Editor) InsertColumnAtSelection(after bool) (bool, error) {
	return e.tableUpdate("insert-table-column", func(tx *Txn) (bool, error) {
		return tx.InsertColumnAtSelection(after)
	})
}

// DeleteRowAtSelection runs the row deletion in its own transaction.
func (e *Editor) DeleteRowAtSelection() (bool, error) {
	return e.tableUpdate("delete-table-row", func(tx *Txn) (bool, error) {
		return tx.DeleteRowAtSelection()
	})
}

// DeleteColumnAtSelection runs the column deletion in its own transaction.
func (e *Editor) DeleteColumnAtSelection() (bool, error) {
	return e.tableUpdate("delete-table-column", func(tx *Txn) (bool, error) {
		return tx.DeleteColumnAtSelection()
	})
}

func (e *Editor) tableUpdate(name string, fn func(tx *Txn) (bool, error)) (bool, error) {
	var acted bool
	err := e.Update(name, func(tx *Txn) error {
		var err error
		acted, err = fn(tx)
		return err
	})
	return acted && err == nil, err
}

func registerTableCommands(e *Editor) func() {
	return e.bus.Subscribe(func(r *Registrar) {
		On(r, InsertTableCommand, PriorityEditor, func(e *Editor, p InsertTablePayload) bool {
			return e.handle("insert-table", func(tx *Txn) error {
				_, err := tx.InsertTable(p)
				return err
			})
		})
		On(r, InsertTableRowCommand, PriorityEditor, func(e *Editor, after bool) bool {
			ok, _ := e.InsertRowAtSelection(after)
			return ok
		})
		On(r, InsertTableColumnCommand, PriorityEditor, func(e *Editor, after bool) bool {
			ok, _ := e.InsertColumnAtSelection(after)
			return ok
		})
		On(r, DeleteTableRowCommand, PriorityEditor, func(e *Editor, _ struct{}) bool {
			ok, _ := e.DeleteRowAtSelection()
			return ok
		})
		On(r, DeleteTableColumnCommand, PriorityEditor, func(e *Editor, _ struct{}) bool {
			ok, _ := e.DeleteColumnAtSelection()
			return ok
		})
	})
}
