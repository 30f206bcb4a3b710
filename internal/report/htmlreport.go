package report

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"setforge/internal/faults"
	"setforge/internal/textenc"
)

// RuleKind selects how a metric is found in report text.
type RuleKind int

const (
	// FromFilename derives the value from the report file name.
	FromFilename RuleKind = iota
	Currency
	Percent
	Ratio
	Count
)

// Thousands may be grouped with commas, spaces or no-break spaces.
var kindPatterns = map[RuleKind]string{
	Currency: `-?\$?\s?-?\d[\d, \x{00A0}]*(?:\.\d+)?`,
	Percent:  `-?\d[\d, \x{00A0}]*(?:\.\d+)?\s?%`,
	Ratio:    `-?\d+(?:\.\d+)?`,
	Count:    `\d[\d, \x{00A0}]*`,
}

// Rule extracts one named metric.
type Rule struct {
	Name  string
	Label string
	Kind  RuleKind
	re    *regexp.Regexp
}

// NewRule builds a label-anchored rule. The label is matched
// case-insensitively and may be separated from its number by anything,
// line breaks included.
func NewRule(name, label string, kind RuleKind) Rule {
	r := Rule{Name: name, Label: label, Kind: kind}
	if kind != FromFilename {
		r.re = regexp.MustCompile(`(?is)` + regexp.QuoteMeta(label) + `.*?(` + kindPatterns[kind] + `)`)
	}
	return r
}

// IdentifierColumn is the column that carries the report file name.
const IdentifierColumn = "Setfile"

// DefaultRules mirrors the metric set of the forward-test result sheet.
func DefaultRules() []Rule {
	return []Rule{
		NewRule(IdentifierColumn, "", FromFilename),
		NewRule("Net Profit", "Net profit", Currency),
		NewRule("Gross Profit", "Gross profit", Currency),
		NewRule("Gross Loss", "Gross loss", Currency),
		NewRule("Max Drawdown", "Maximal drawdown", Currency),
		NewRule("Relative Drawdown", "Relative drawdown", Percent),
		NewRule("Expected Payoff", "Expected payoff", Currency),
		NewRule("Profit Factor", "Profit factor", Ratio),
		NewRule("Recovery Factor", "Recovery factor", Ratio),
		NewRule("Sharpe Ratio", "Sharpe ratio", Ratio),
		NewRule("Win Rate", "Profit trades", Percent),
		NewRule("Trades", "Total trades", Count),
		NewRule("Consecutive Losses", "Max consecutive losses", Count),
	}
}

// Metrics is the complete result of extracting one report.
type Metrics struct {
	Source     string
	Identifier string
	Values     map[string]float64
	// Defaulted marks metrics whose 0.0 comes from a missing label or an
	// unparsable number rather than from the report.
	Defaulted map[string]bool
	// Unparsed is the subset of Defaulted whose label was found but whose
	// number did not parse.
	Unparsed map[string]bool
}

// Extractor applies an ordered rule list to report text.
type Extractor struct {
	rules []Rule
}

// NewExtractor returns an extractor using rules, or DefaultRules when none are given.
func NewExtractor(rules ...Rule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Extractor{rules: rules}
}

// Rules returns the extractor's rules in order.
func (e *Extractor) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Extract never fails: every numeric rule yields a value, 0.0 when absent.
func (e *Extractor) Extract(filename, content string) *Metrics {
	text := VisibleText(content)
	m := &Metrics{
		Source:    filename,
		Values:    make(map[string]float64, len(e.rules)),
		Defaulted: make(map[string]bool),
		Unparsed:  make(map[string]bool),
	}
	for _, r := range e.rules {
		if r.Kind == FromFilename {
			base := filepath.Base(filename)
			m.Identifier = strings.TrimSuffix(base, filepath.Ext(base))
			continue
		}
		match := r.re.FindStringSubmatch(text)
		if match == nil {
			m.Values[r.Name] = 0
			m.Defaulted[r.Name] = true
			continue
		}
		v, ok := CleanNumber(match[1])
		m.Values[r.Name] = v
		if !ok {
			m.Defaulted[r.Name] = true
			m.Unparsed[r.Name] = true
		}
	}
	return m
}

// ExtractFile reads and extracts a single report.
func (e *Extractor) ExtractFile(path string) (*Metrics, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.WrapIO("read report", path, err)
	}
	content, err := decodeReport(raw)
	if err != nil {
		return nil, &faults.FormatError{Source: path, Element: "report encoding", Err: err}
	}
	return e.Extract(path, content), nil
}

// decodeReport reads marked and UTF-16 reports with textenc. Anything else
// goes by the document's meta charset, then UTF-8, then Windows-1252.
func decodeReport(raw []byte) (string, error) {
	if textenc.HasBOM(raw) || bytes.IndexByte(raw, 0) >= 0 {
		s, _, err := textenc.Decode(raw)
		return s, err
	}
	enc, _, _ := charset.DetermineEncoding(raw, "text/html")
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ExtractDir extracts every .htm/.html file in dir, in name order.
func (e *Extractor) ExtractDir(dir string) ([]*Metrics, error) {
	paths, err := ReportFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make([]*Metrics, 0, len(paths))
	for _, p := range paths {
		m, err := e.ExtractFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ReportFiles lists the HTML reports in dir.
func ReportFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, faults.WrapIO("read report dir", dir, err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".html", ".htm":
			out = append(out, filepath.Join(dir, entry.Name()))
		}
	}
	return out, nil
}

// Table lays a batch of extracted reports out as one table, columns in rule order.
func (e *Extractor) Table(source string, batch []*Metrics) *Table {
	cols := make([]string, len(e.rules))
	for i, r := range e.rules {
		cols[i] = r.Name
	}
	t := NewTable(source, cols)
	for _, m := range batch {
		values := make([]string, len(e.rules))
		for i, r := range e.rules {
			if r.Kind == FromFilename {
				values[i] = m.Identifier
				continue
			}
			values[i] = strconv.FormatFloat(m.Values[r.Name], 'f', -1, 64)
		}
		t.AppendRow(values)
	}
	return t
}

var numberNoise = strings.NewReplacer("\u00a0", "", "%", "", ",", "", "$", "", " ", "")

// CleanNumber strips separators, currency and percent signs and parses what is
// left. It returns 0 and false when nothing numeric remains.
func CleanNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(numberNoise.Replace(strings.TrimSpace(s)), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// VisibleText drops markup, scripts and styles and joins the remaining text
// runs with line breaks. Entities are unescaped.
func VisibleText(content string) string {
	z := html.NewTokenizer(strings.NewReader(content))
	var (
		sb   strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or a tokenizer error; either way the text so far is all there is.
			return sb.String()
		case html.StartTagToken:
			if name, _ := z.TagName(); isHiddenTag(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHiddenTag(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.TrimSpace(string(z.Text()))
			if text == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(text)
		}
	}
}

func isHiddenTag(name []byte) bool {
	switch string(name) {
	case "script", "style", "noscript":
		return true
	}
	return false
}
