// Package dataset provides the in-memory tabular representation shared by
// the cleaning and aggregation stages: an ordered set of named columns
// over rows of nullable, typed cells.
package dataset

// Dataset is a column-ordered table. Rows always have exactly
// len(Columns) cells; absent cells are null Values, never short rows.
type Dataset struct {
	Columns []string
	Rows    [][]Value
}

// New creates an empty dataset with the given column order.
func New(columns ...string) *Dataset {
	return &Dataset{Columns: columns}
}

// ColumnIndex returns the position of a column, or -1 if absent.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the column exists.
func (d *Dataset) HasColumn(name string) bool {
	return d.ColumnIndex(name) >= 0
}

// NumRows returns the row count.
func (d *Dataset) NumRows() int {
	return len(d.Rows)
}

// AppendRow adds a row, padding or truncating to the column count.
func (d *Dataset) AppendRow(row []Value) {
	if len(row) > len(d.Columns) {
		row = row[:len(d.Columns)]
	}
	for len(row) < len(d.Columns) {
		row = append(row, Null(KindString))
	}
	d.Rows = append(d.Rows, row)
}

// At returns the cell at (row, column name). Unknown columns yield a
// null string cell.
func (d *Dataset) At(row int, name string) Value {
	idx := d.ColumnIndex(name)
	if idx < 0 {
		return Null(KindString)
	}
	return d.Rows[row][idx]
}

// Set stores a cell at (row, column name); unknown columns are a no-op.
func (d *Dataset) Set(row int, name string, v Value) {
	idx := d.ColumnIndex(name)
	if idx < 0 {
		return
	}
	d.Rows[row][idx] = v
}

// AddColumn appends a new column filled with fill. Existing columns are
// left untouched; adding a duplicate name is a no-op.
func (d *Dataset) AddColumn(name string, fill Value) {
	if d.HasColumn(name) {
		return
	}
	d.Columns = append(d.Columns, name)
	for i := range d.Rows {
		d.Rows[i] = append(d.Rows[i], fill)
	}
}

// Rename renames columns per mapping. Mapping keys not present in the
// dataset are ignored.
func (d *Dataset) Rename(mapping map[string]string) {
	for i, c := range d.Columns {
		if to, ok := mapping[c]; ok {
			d.Columns[i] = to
		}
	}
}

// Concat merges datasets into one table over the union of their columns,
// in first-seen column order. Cells for columns a source table lacks are
// null. Row order follows the input order.
func Concat(parts ...*Dataset) *Dataset {
	out := &Dataset{}
	for _, p := range parts {
		for _, c := range p.Columns {
			if !out.HasColumn(c) {
				out.Columns = append(out.Columns, c)
			}
		}
	}
	for _, p := range parts {
		for _, row := range p.Rows {
			merged := make([]Value, len(out.Columns))
			for i := range merged {
				merged[i] = Null(KindString)
			}
			for j, c := range p.Columns {
				merged[out.ColumnIndex(c)] = row[j]
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}
