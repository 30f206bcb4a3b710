package report

import (
	"bytes"
	"encoding/xml"
	"io"
	"os"

	"golang.org/x/net/html/charset"

	"setforge/internal/faults"
	"setforge/internal/textenc"
)

// SpreadsheetNS is the SpreadsheetML namespace used by optimizer exports.
const SpreadsheetNS = "urn:schemas-microsoft-com:office:spreadsheet"

// DefaultWorksheet is the sheet holding optimization passes.
const DefaultWorksheet = "Tester Optimizator Results"

type ssWorkbook struct {
	Worksheets []ssWorksheet `xml:"urn:schemas-microsoft-com:office:spreadsheet Worksheet"`
}

type ssWorksheet struct {
	Name   string    `xml:"Name,attr"`
	Tables []ssTable `xml:"urn:schemas-microsoft-com:office:spreadsheet Table"`
}

type ssTable struct {
	Rows []ssRow `xml:"urn:schemas-microsoft-com:office:spreadsheet Row"`
}

type ssRow struct {
	Cells []ssCell `xml:"urn:schemas-microsoft-com:office:spreadsheet Cell"`
}

type ssCell struct {
	Data *ssData `xml:"urn:schemas-microsoft-com:office:spreadsheet Data"`
}

type ssData struct {
	Text string `xml:",chardata"`
}

func (c ssCell) text() string {
	if c.Data == nil {
		return ""
	}
	return c.Data.Text
}

// LoadSpreadsheet reads path and parses it with ParseSpreadsheet.
func LoadSpreadsheet(path, worksheet string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.WrapIO("read spreadsheet", path, err)
	}
	return ParseSpreadsheet(bytes.NewReader(raw), path, worksheet)
}

// ParseSpreadsheet locates the named worksheet and returns its first table.
// The first row is the header; each later row becomes one Record.
func ParseSpreadsheet(r io.Reader, source, worksheet string) (*Table, error) {
	if worksheet == "" {
		worksheet = DefaultWorksheet
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, faults.WrapIO("read spreadsheet", source, err)
	}

	dec, err := newXMLDecoder(raw)
	if err != nil {
		return nil, &faults.FormatError{Source: source, Element: "spreadsheet encoding", Err: err}
	}
	var wb ssWorkbook
	if err := dec.Decode(&wb); err != nil {
		return nil, &faults.FormatError{Source: source, Element: "spreadsheet xml", Err: err}
	}

	var sheet *ssWorksheet
	for i := range wb.Worksheets {
		if wb.Worksheets[i].Name == worksheet {
			sheet = &wb.Worksheets[i]
			break
		}
	}
	if sheet == nil {
		return nil, &faults.FormatError{Source: source, Element: "worksheet " + worksheet}
	}
	if len(sheet.Tables) == 0 {
		return nil, &faults.FormatError{Source: source, Element: "table in worksheet " + worksheet}
	}

	rows := sheet.Tables[0].Rows
	if len(rows) == 0 {
		return NewTable(source, nil), nil
	}
	header := make([]string, len(rows[0].Cells))
	for i, c := range rows[0].Cells {
		header[i] = c.text()
	}
	t := NewTable(source, header)
	for _, row := range rows[1:] {
		values := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			values[i] = c.text()
		}
		t.AppendRow(values)
	}
	return t, nil
}

// newXMLDecoder undoes a UTF-16 byte-order mark before handing the document to
// encoding/xml; other declared charsets are resolved by x/net's label table.
func newXMLDecoder(raw []byte) (*xml.Decoder, error) {
	if textenc.HasUTF16BOM(raw) {
		s, _, err := textenc.Decode(raw)
		if err != nil {
			return nil, err
		}
		dec := xml.NewDecoder(bytes.NewReader([]byte(s)))
		dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }
		return dec, nil
	}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = charset.NewReaderLabel
	return dec, nil
}
