package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setforge/internal/faults"
	"setforge/internal/textenc"
)

const optimizerExport = `<?xml version="1.0"?>
<Workbook xmlns="urn:schemas-microsoft-com:office:spreadsheet"
 xmlns:ss="urn:schemas-microsoft-com:office:spreadsheet">
 <Worksheet ss:Name="Summary">
  <Table><Row><Cell><Data ss:Type="String">ignored</Data></Cell></Row></Table>
 </Worksheet>
 <Worksheet ss:Name="Tester Optimizator Results">
  <Table>
   <Row>
    <Cell><Data ss:Type="String">Pass</Data></Cell>
    <Cell><Data ss:Type="String">Profit</Data></Cell>
    <Cell><Data ss:Type="String">Equity DD %</Data></Cell>
    <Cell><Data ss:Type="String">RiskPercent</Data></Cell>
   </Row>
   <Row>
    <Cell><Data ss:Type="Number">1</Data></Cell>
    <Cell><Data ss:Type="Number">1520.5</Data></Cell>
    <Cell><Data ss:Type="Number">12.3</Data></Cell>
    <Cell><Data ss:Type="Number">2.5</Data></Cell>
   </Row>
   <Row>
    <Cell><Data ss:Type="Number">2</Data></Cell>
    <Cell/>
   </Row>
  </Table>
 </Worksheet>
</Workbook>`

func TestParseSpreadsheet(t *testing.T) {
	tbl, err := ParseSpreadsheet(strings.NewReader(optimizerExport), "opt.xml", DefaultWorksheet)
	require.NoError(t, err)

	assert.Equal(t, []string{"Pass", "Profit", "Equity DD %", "RiskPercent"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, Record{"Pass": "1", "Profit": "1520.5", "Equity DD %": "12.3", "RiskPercent": "2.5"}, tbl.Records[0])

	// a cell without Data and the missing trailing cells all become ""
	assert.Equal(t, []string{"2", "", "", ""}, tbl.Row(1))
}

func TestParseSpreadsheetRowShapes(t *testing.T) {
	tests := []struct {
		name     string
		rows     string
		wantRows int
		wantCols int
	}{
		{"header only", `<Row><Cell><Data>A</Data></Cell><Cell><Data>B</Data></Cell></Row>`, 0, 2},
		{"no rows", ``, 0, 0},
		{"extra cells dropped", `<Row><Cell><Data>A</Data></Cell></Row><Row><Cell><Data>1</Data></Cell><Cell><Data>2</Data></Cell></Row>`, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `<Workbook xmlns="urn:schemas-microsoft-com:office:spreadsheet" xmlns:ss="urn:schemas-microsoft-com:office:spreadsheet">` +
				`<Worksheet ss:Name="Tester Optimizator Results"><Table>` + tt.rows + `</Table></Worksheet></Workbook>`
			tbl, err := ParseSpreadsheet(strings.NewReader(doc), "x.xml", "")
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, tbl.Len())
			assert.Len(t, tbl.Columns, tt.wantCols)
			for i := 0; i < tbl.Len(); i++ {
				assert.Len(t, tbl.Row(i), tt.wantCols)
			}
		})
	}
}

func TestParseSpreadsheetDroppedCellsCounted(t *testing.T) {
	doc := `<Workbook xmlns="urn:schemas-microsoft-com:office:spreadsheet" xmlns:ss="urn:schemas-microsoft-com:office:spreadsheet">` +
		`<Worksheet ss:Name="Tester Optimizator Results"><Table>` +
		`<Row><Cell><Data>A</Data></Cell></Row>` +
		`<Row><Cell><Data>1</Data></Cell><Cell><Data>2</Data></Cell><Cell><Data>3</Data></Cell></Row>` +
		`</Table></Worksheet></Workbook>`
	tbl, err := ParseSpreadsheet(strings.NewReader(doc), "x.xml", "")
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Dropped)
	assert.Equal(t, Record{"A": "1"}, tbl.Records[0])
}

func TestParseSpreadsheetMissingElements(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		element string
	}{
		{
			"missing worksheet",
			`<Workbook xmlns="urn:schemas-microsoft-com:office:spreadsheet" xmlns:ss="urn:schemas-microsoft-com:office:spreadsheet"><Worksheet ss:Name="Other"><Table/></Worksheet></Workbook>`,
			"worksheet Tester Optimizator Results",
		},
		{
			"missing table",
			`<Workbook xmlns="urn:schemas-microsoft-com:office:spreadsheet" xmlns:ss="urn:schemas-microsoft-com:office:spreadsheet"><Worksheet ss:Name="Tester Optimizator Results"></Worksheet></Workbook>`,
			"table in worksheet Tester Optimizator Results",
		},
		{
			"not xml",
			`<Workbook`,
			"spreadsheet xml",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSpreadsheet(strings.NewReader(tt.doc), "x.xml", DefaultWorksheet)
			var fe *faults.FormatError
			require.True(t, errors.As(err, &fe), "got %v", err)
			assert.Equal(t, tt.element, fe.Element)
		})
	}
}

func TestLoadSpreadsheetUTF16(t *testing.T) {
	doc := strings.Replace(optimizerExport, `<?xml version="1.0"?>`, `<?xml version="1.0" encoding="UTF-16"?>`, 1)
	raw, err := textenc.EncodeUTF16LE(doc)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "opt.xml")
	require.NoError(t, os.WriteFile(path, raw, 0644))

	tbl, err := LoadSpreadsheet(path, DefaultWorksheet)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, "1520.5", tbl.Records[0]["Profit"])
}

func TestLoadSpreadsheetMissingFile(t *testing.T) {
	_, err := LoadSpreadsheet(filepath.Join(t.TempDir(), "nope.xml"), DefaultWorksheet)
	var ioErr *faults.IOError
	assert.True(t, errors.As(err, &ioErr))
}
