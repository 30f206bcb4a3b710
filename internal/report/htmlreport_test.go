package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setforge/internal/textenc"
)

const testerReport = `<html><head><title>Strategy Tester</title>
<style>td { color: red; } /* Sharpe ratio 99 */</style>
<script>var profitFactor = 42;</script></head>
<body><table>
<tr><td>Net profit:</td><td><b>$1,234.56</b></td></tr>
<tr><td>Gross profit:</td><td>2&nbsp;500.00</td></tr>
<tr><td>Gross loss:</td><td>-1 265.44</td></tr>
<tr><td>Maximal drawdown:</td><td>310.20 (8.1%)</td></tr>
<tr><td>Relative drawdown:</td><td>9.75% (330.00)</td></tr>
<tr><td>Expected payoff:</td><td>11.43</td></tr>
<tr><td>Profit factor:</td><td>1.98</td></tr>
<tr><td>Recovery factor:</td><td>3.98</td></tr>
<tr><td>Total trades:</td><td>108</td></tr>
<tr><td>Profit trades (% of total):</td><td>57 (52.78%)</td></tr>
<tr><td>Max consecutive losses:</td><td>4 (-120.00)</td></tr>
</table></body></html>`

func TestExtract(t *testing.T) {
	m := NewExtractor().Extract("reports/EURUSD_M15_set_001.html", testerReport)

	assert.Equal(t, "EURUSD_M15_set_001", m.Identifier)

	want := map[string]float64{
		"Net Profit":         1234.56,
		"Gross Profit":       2500,
		"Gross Loss":         -1265.44,
		"Max Drawdown":       310.20,
		"Relative Drawdown":  9.75,
		"Expected Payoff":    11.43,
		"Profit Factor":      1.98,
		"Recovery Factor":    3.98,
		"Trades":             108,
		"Win Rate":           52.78,
		"Consecutive Losses": 4,
	}
	for name, v := range want {
		assert.InDelta(t, v, m.Values[name], 1e-9, name)
	}

	// Sharpe only appears inside <style>, which is not visible text.
	assert.Equal(t, 0.0, m.Values["Sharpe Ratio"])
	assert.True(t, m.Defaulted["Sharpe Ratio"])
	assert.False(t, m.Unparsed["Sharpe Ratio"])
	assert.False(t, m.Defaulted["Net Profit"])
}

func TestExtractMarksUnparsed(t *testing.T) {
	m := NewExtractor().Extract("a.html", "<p>Net profit: -$ -5.00</p>")
	assert.Equal(t, 0.0, m.Values["Net Profit"])
	assert.True(t, m.Defaulted["Net Profit"])
	assert.True(t, m.Unparsed["Net Profit"])
	assert.Len(t, m.Unparsed, 1)
}

func TestExtractNeverFails(t *testing.T) {
	m := NewExtractor().Extract("empty.htm", "")
	assert.Equal(t, "empty", m.Identifier)
	for _, r := range DefaultRules() {
		if r.Kind == FromFilename {
			continue
		}
		assert.Equal(t, 0.0, m.Values[r.Name], r.Name)
		assert.True(t, m.Defaulted[r.Name], r.Name)
	}
}

func TestCleanNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$1,234.56", 1234.56, true},
		{"-1 265.44", -1265.44, true},
		{"52.78%", 52.78, true},
		{"1 000", 1000, true},
		{"  7 ", 7, true},
		{"n/a", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := CleanNumber(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestVisibleText(t *testing.T) {
	got := VisibleText(`<p>Profit &amp; loss</p><script>hidden()</script><div>  shown  </div>`)
	assert.Equal(t, "Profit & loss\nshown", got)
}

func TestCustomRule(t *testing.T) {
	ex := NewExtractor(NewRule("Bars", "Bars in test", Count))
	m := ex.Extract("a.html", "<td>Bars in test</td><td>12,345</td>")
	assert.Equal(t, 12345.0, m.Values["Bars"])
	assert.Len(t, ex.Rules(), 1)
}

func TestExtractDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.html"), []byte(testerReport), 0644))

	utf16, err := textenc.EncodeUTF16LE(`<td>Profit factor</td><td>2.5</td>`)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.htm"), utf16, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("Profit factor 9"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.html"), 0755))

	ex := NewExtractor()
	batch, err := ex.ExtractDir(dir)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Identifier)
	assert.Equal(t, 2.5, batch[0].Values["Profit Factor"])
	assert.Equal(t, "b", batch[1].Identifier)

	tbl := ex.Table(dir, batch)
	assert.Equal(t, IdentifierColumn, tbl.Columns[0])
	assert.Equal(t, "a", tbl.Records[0][IdentifierColumn])
	assert.Equal(t, "2.5", tbl.Records[0]["Profit Factor"])
	assert.Equal(t, "1234.56", tbl.Records[1]["Net Profit"])
}

func TestExtractFileCharsets(t *testing.T) {
	dir := t.TempDir()
	body := "<body><p>R\xe9sultats</p><table>" +
		"<tr><td>Net profit:</td><td>$1\xa0234.56</td></tr>" +
		"<tr><td>Profit factor:</td><td>1.75</td></tr></table></body></html>"
	tests := []struct {
		name    string
		content string
	}{
		{"meta charset", `<html><head><meta charset="windows-1252"></head>` + body},
		{"http-equiv charset", `<html><head><meta http-equiv="Content-Type" content="text/html; charset=windows-1252"></head>` + body},
		{"undeclared 8-bit", "<html>" + body},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "report.html")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			m, err := NewExtractor().ExtractFile(path)
			require.NoError(t, err)
			assert.Equal(t, 1234.56, m.Values["Net Profit"])
			assert.Equal(t, 1.75, m.Values["Profit Factor"])
			assert.False(t, m.Defaulted["Net Profit"])
		})
	}
}
