package report

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setforge/internal/faults"
)

func TestWriteLoadCSV(t *testing.T) {
	tbl := NewTable("opt.xml", []string{"Pass", "Profit", "Comment"})
	tbl.AppendRow([]string{"1", "10.5", "has, comma"})
	tbl.AppendRow([]string{"2"})

	path := filepath.Join(t.TempDir(), "opt.csv")
	require.NoError(t, WriteCSV(path, tbl))

	got, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Columns, got.Columns)
	assert.Equal(t, tbl.Records, got.Records)
	assert.Equal(t, path, got.Source)
}

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		cols    int
		rows    int
		dropped int
	}{
		{"empty file", "", 0, 0, 0},
		{"header only", "a,b\n", 2, 0, 0},
		{"ragged rows", "a,b\n1\n1,2,3\n", 2, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := ParseCSV(strings.NewReader(tt.in), "x.csv")
			require.NoError(t, err)
			assert.Len(t, tbl.Columns, tt.cols)
			assert.Equal(t, tt.rows, tbl.Len())
			assert.Equal(t, tt.dropped, tbl.Dropped)
		})
	}
}

func TestParseCSVMalformed(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("a,b\n\"unterminated,1\n"), "bad.csv")
	var fe *faults.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "bad.csv", fe.Source)
}

func TestWriteCSVBadPath(t *testing.T) {
	err := WriteCSV(filepath.Join(t.TempDir(), "missing", "x.csv"), NewTable("", []string{"a"}))
	var ioErr *faults.IOError
	assert.True(t, errors.As(err, &ioErr))
}

func TestTableSetColumn(t *testing.T) {
	tbl := NewTable("", []string{"a"})
	tbl.AppendRow([]string{"1"})
	tbl.SetColumn("Symbol", "EURUSD")
	tbl.SetColumn("a", "x")

	assert.Equal(t, []string{"a", "Symbol"}, tbl.Columns)
	assert.Equal(t, []string{"x", "EURUSD"}, tbl.Row(0))
}
