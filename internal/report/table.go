// Package report extracts tabular records from optimizer exports and tester
// reports.
package report

// Record maps a report-specific column label to its raw text.
type Record map[string]string

// Table is an ordered set of columns plus one Record per backtest run.
type Table struct {
	Source  string
	Columns []string
	Records []Record

	// Dropped counts cells that sat past the last header column.
	Dropped int
}

// NewTable returns an empty table with the given header.
func NewTable(source string, columns []string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Source: source, Columns: cols}
}

// Len returns the number of records.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Records)
}

// AppendRow maps values positionally onto the header. Missing trailing cells
// become empty strings; surplus cells are counted in Dropped.
func (t *Table) AppendRow(values []string) {
	rec := make(Record, len(t.Columns))
	for i, col := range t.Columns {
		if i < len(values) {
			rec[col] = values[i]
		} else {
			rec[col] = ""
		}
	}
	if len(values) > len(t.Columns) {
		t.Dropped += len(values) - len(t.Columns)
	}
	t.Records = append(t.Records, rec)
}

// Row returns the record at i in column order.
func (t *Table) Row(i int) []string {
	rec := t.Records[i]
	out := make([]string, len(t.Columns))
	for j, col := range t.Columns {
		out[j] = rec[col]
	}
	return out
}

// HasColumn reports whether name is one of the table's columns.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// SetColumn writes value into every record, adding the column when needed.
func (t *Table) SetColumn(name, value string) {
	if !t.HasColumn(name) {
		t.Columns = append(t.Columns, name)
	}
	for _, rec := range t.Records {
		rec[name] = value
	}
}
