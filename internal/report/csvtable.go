package report

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"setforge/internal/faults"
	"setforge/internal/textenc"
)

// LoadCSV reads a table written by WriteCSV (or any header-first CSV).
func LoadCSV(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.WrapIO("read csv", path, err)
	}
	content, _, err := textenc.Decode(raw)
	if err != nil {
		return nil, &faults.FormatError{Source: path, Element: "csv encoding", Err: err}
	}
	return ParseCSV(strings.NewReader(content), path)
}

// ParseCSV reads a header row followed by data rows. Short rows are padded
// the same way spreadsheet rows are.
func ParseCSV(r io.Reader, source string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return NewTable(source, nil), nil
	}
	if err != nil {
		return nil, &faults.FormatError{Source: source, Element: "csv header", Err: err}
	}
	t := NewTable(source, header)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		if err != nil {
			return nil, &faults.FormatError{Source: source, Element: "csv row", Err: err}
		}
		t.AppendRow(row)
	}
}

// WriteCSV writes t to path, replacing any existing file.
func WriteCSV(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return faults.WrapIO("create csv", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Columns); err != nil {
		return faults.WrapIO("write csv", path, err)
	}
	for i := range t.Records {
		if err := w.Write(t.Row(i)); err != nil {
			return faults.WrapIO("write csv", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return faults.WrapIO("write csv", path, err)
	}
	return faults.WrapIO("close csv", path, f.Close())
}
