package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"setforge/internal/normalize"
	"setforge/internal/report"
)

// Timeframes accepted for the timeframe field.
var Timeframes = []string{"M1", "M5", "M15", "M30", "H1", "H4", "D1", "W1", "MN"}

var symbolPattern = regexp.MustCompile(`^[A-Z]{3,6}$`)

// DateLayout is the terminal's date format.
const DateLayout = "2006.01.02"

// Metadata identifies the optimization run a table came from.
type Metadata struct {
	Symbol    string
	Timeframe string
	ISStart   string
	ISEnd     string
	OOSStart  string
	OOSEnd    string
}

// ValidSymbol reports whether s looks like a terminal symbol such as EURUSD.
func ValidSymbol(s string) bool { return symbolPattern.MatchString(s) }

// ValidTimeframe reports whether tf is one of Timeframes, ignoring case.
func ValidTimeframe(tf string) bool {
	tf = strings.ToUpper(strings.TrimSpace(tf))
	for _, v := range Timeframes {
		if v == tf {
			return true
		}
	}
	return false
}

var dateNoise = regexp.MustCompile(`[^0-9\-]`)

// ParseDate accepts YYYY-MM-DD, YYYY/MM/DD or YYYY.MM.DD.
func ParseDate(s string) (time.Time, error) {
	clean := strings.NewReplacer("/", "-", ".", "-").Replace(strings.TrimSpace(s))
	clean = dateNoise.ReplaceAllString(clean, "")
	t, err := time.Parse("2006-01-02", clean)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// NewMetadata validates its arguments and derives the out-of-sample start
// as the day after the in-sample end. Dates come back as YYYY.MM.DD.
func NewMetadata(symbol, timeframe, isStart, isEnd, oosEnd string) (Metadata, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !ValidSymbol(symbol) {
		return Metadata{}, fmt.Errorf("invalid symbol %q: want 3 to 6 letters such as EURUSD", symbol)
	}
	timeframe = strings.ToUpper(strings.TrimSpace(timeframe))
	if !ValidTimeframe(timeframe) {
		return Metadata{}, fmt.Errorf("invalid timeframe %q: want one of %s", timeframe, strings.Join(Timeframes, ", "))
	}
	start, err := ParseDate(isStart)
	if err != nil {
		return Metadata{}, fmt.Errorf("is_start: %w", err)
	}
	end, err := ParseDate(isEnd)
	if err != nil {
		return Metadata{}, fmt.Errorf("is_end: %w", err)
	}
	oos, err := ParseDate(oosEnd)
	if err != nil {
		return Metadata{}, fmt.Errorf("oos_end: %w", err)
	}
	if end.Before(start) {
		return Metadata{}, fmt.Errorf("is_end %s is before is_start %s", end.Format(DateLayout), start.Format(DateLayout))
	}
	oosStart := end.AddDate(0, 0, 1)
	if oos.Before(oosStart) {
		return Metadata{}, fmt.Errorf("oos_end %s is before oos_start %s", oos.Format(DateLayout), oosStart.Format(DateLayout))
	}
	return Metadata{
		Symbol:    symbol,
		Timeframe: timeframe,
		ISStart:   start.Format(DateLayout),
		ISEnd:     end.Format(DateLayout),
		OOSStart:  oosStart.Format(DateLayout),
		OOSEnd:    oos.Format(DateLayout),
	}, nil
}

// Apply writes the metadata into every record of t as identity columns,
// replacing columns that already spell the same field differently.
func (m Metadata) Apply(t *report.Table) {
	for _, f := range []struct{ name, value string }{
		{normalize.Symbol, m.Symbol},
		{normalize.Timeframe, m.Timeframe},
		{normalize.ISStart, m.ISStart},
		{normalize.ISEnd, m.ISEnd},
		{normalize.OOSStart, m.OOSStart},
		{normalize.OOSEnd, m.OOSEnd},
	} {
		col := f.name
		for _, c := range t.Columns {
			if normalize.ColumnName(c) == f.name {
				col = c
				break
			}
		}
		t.SetColumn(col, f.value)
	}
}

// CSVName is the processed table name for this run.
func (m Metadata) CSVName() string {
	return fmt.Sprintf("%s_%s_optimization.csv", m.Symbol, m.Timeframe)
}
