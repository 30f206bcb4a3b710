// Package normalize maps report columns onto a closed metric vocabulary.
package normalize

import (
	"errors"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"setforge/internal/faults"
	"setforge/internal/report"
)

// Metric is one entry of the canonical vocabulary.
type Metric string

const (
	Profit         Metric = "profit"
	MaxDrawdown    Metric = "maxdrawdown"
	Trades         Metric = "trades"
	ProfitFactor   Metric = "profitfactor"
	SharpeRatio    Metric = "sharperatio"
	ExpectedPayoff Metric = "expectedpayoff"
	RecoveryFactor Metric = "recoveryfactor"
	WinRate        Metric = "winrate"
)

// Vocabulary lists every canonical metric in output order.
var Vocabulary = []Metric{
	Profit, MaxDrawdown, Trades, ProfitFactor,
	SharpeRatio, ExpectedPayoff, RecoveryFactor, WinRate,
}

// LookupMetric resolves a metric by name. Case, spaces and a "%" sign are
// ignored the same way column names are.
func LookupMetric(name string) (Metric, bool) {
	m := Metric(ColumnName(name))
	for _, v := range Vocabulary {
		if v == m {
			return m, true
		}
	}
	return "", false
}

// Identity fields are copied from the source verbatim.
const (
	Symbol    = "symbol"
	Timeframe = "timeframe"
	ISStart   = "is_start"
	ISEnd     = "is_end"
	OOSStart  = "oos_start"
	OOSEnd    = "oos_end"
)

// IdentityFields lists the passthrough identity columns.
var IdentityFields = []string{Symbol, Timeframe, ISStart, ISEnd, OOSStart, OOSEnd}

// ForwardResult is the optimizer column winrate falls back to.
const ForwardResult = "forwardresult"

// sources lists candidate columns per metric, best first.
var sources = map[Metric][]string{
	Profit:         {"profit", "netprofit"},
	MaxDrawdown:    {"equityddpercent", "relativedrawdown", "maxdrawdown"},
	Trades:         {"trades"},
	ProfitFactor:   {"profitfactor"},
	SharpeRatio:    {"sharperatio"},
	ExpectedPayoff: {"expectedpayoff"},
	RecoveryFactor: {"recoveryfactor"},
	WinRate:        {"winrate"},
}

// ErrMissingColumn is the cause recorded when no source column exists.
var ErrMissingColumn = errors.New("no source column")

// ColumnName lower-cases a column label, drops spaces and spells "%" as
// "percent", so "Equity DD %" becomes "equityddpercent".
func ColumnName(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, "%", "percent")
}

// Value is one coerced metric.
type Value struct {
	Number float64

	// Defaulted is set when Number is a fallback zero rather than a reading.
	Defaulted bool
	Reason    error

	// Column is the source column label; empty when no column was found.
	Column      string
	DerivedFrom string
}

// Missing reports whether the batch had no column for this metric at all.
func (v Value) Missing() bool { return v.Column == "" }

// Field is one raw column of the source record.
type Field struct {
	Name  string
	Value string
}

// Record is the canonical form of one backtest run.
type Record struct {
	Index   int
	Source  string
	Fields  []Field
	Metrics map[Metric]Value
}

// Metric returns the coerced value of m. Every vocabulary metric is present
// on a record built by Normalize.
func (r Record) Metric(m Metric) Value { return r.Metrics[m] }

// Identity returns the raw value of an identity field, or "".
func (r Record) Identity(name string) string {
	for _, f := range r.Fields {
		if ColumnName(f.Name) == name {
			return strings.TrimSpace(f.Value)
		}
	}
	return ""
}

// Values lists the record as name/value pairs: every source column in order,
// followed by the metrics that were actually read.
func (r Record) Values() []Field {
	out := make([]Field, 0, len(r.Fields)+len(Vocabulary))
	out = append(out, r.Fields...)
	for _, m := range Vocabulary {
		v, ok := r.Metrics[m]
		if !ok || v.Defaulted {
			continue
		}
		out = append(out, Field{Name: string(m), Value: FormatNumber(v.Number)})
	}
	return out
}

// FormatNumber renders a metric the way it is written to CSV.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Normalizer turns raw tables into canonical records.
type Normalizer struct {
	logger zerolog.Logger

	// WinrateFromForwardResult copies forwardresult into winrate when the
	// export has no winrate column but does have trades.
	WinrateFromForwardResult bool
}

// New returns a Normalizer with the forwardresult fallback enabled.
func New(logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		logger:                   logger.With().Str("component", "normalize").Logger(),
		WinrateFromForwardResult: true,
	}
}

type plan struct {
	column      map[Metric]string
	derivedFrom map[Metric]string
}

func (n *Normalizer) plan(t *report.Table) plan {
	byName := make(map[string]string, len(t.Columns))
	for _, col := range t.Columns {
		key := ColumnName(col)
		if _, dup := byName[key]; !dup {
			byName[key] = col
		}
	}
	p := plan{column: make(map[Metric]string), derivedFrom: make(map[Metric]string)}
	for _, m := range Vocabulary {
		for _, src := range sources[m] {
			if col, ok := byName[src]; ok {
				p.column[m] = col
				break
			}
		}
	}
	if _, ok := p.column[WinRate]; !ok && n.WinrateFromForwardResult {
		fr, hasFR := byName[ForwardResult]
		_, hasTrades := byName[string(Trades)]
		if hasFR && hasTrades {
			p.column[WinRate] = fr
			p.derivedFrom[WinRate] = ForwardResult
			n.logger.Warn().
				Str("source", t.Source).
				Str("column", fr).
				Msg("winrate column absent; using forwardresult as winrate")
		}
	}
	return p
}

// Normalize builds one Record per table row. Coercion problems never fail
// the batch; they are recorded on the Value and counted in the log.
func (n *Normalizer) Normalize(t *report.Table) []Record {
	if t.Len() == 0 {
		return nil
	}
	p := n.plan(t)
	for _, m := range Vocabulary {
		if _, ok := p.column[m]; !ok {
			n.logger.Debug().Str("source", t.Source).Str("metric", string(m)).Msg("no source column")
		}
	}

	out := make([]Record, t.Len())
	coerced := 0
	for i := range t.Records {
		row := t.Row(i)
		rec := Record{
			Index:   i,
			Source:  t.Source,
			Fields:  make([]Field, len(t.Columns)),
			Metrics: make(map[Metric]Value, len(Vocabulary)),
		}
		for j, col := range t.Columns {
			rec.Fields[j] = Field{Name: col, Value: row[j]}
		}
		for _, m := range Vocabulary {
			col, ok := p.column[m]
			if !ok {
				rec.Metrics[m] = Value{
					Defaulted: true,
					Reason:    &faults.CoercionError{Column: string(m), Err: ErrMissingColumn},
				}
				continue
			}
			v := coerce(col, t.Records[i][col])
			v.DerivedFrom = p.derivedFrom[m]
			if v.Defaulted {
				coerced++
			}
			rec.Metrics[m] = v
		}
		out[i] = rec
	}
	if coerced > 0 {
		n.logger.Warn().Str("source", t.Source).Int("values", coerced).Msg("unparsable metric values defaulted to 0")
	}
	return out
}

func coerce(col, raw string) Value {
	s := strings.TrimSpace(raw)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if cleaned, ok := report.CleanNumber(s); ok {
			return Value{Number: cleaned, Column: col}
		}
		return Value{
			Defaulted: true,
			Column:    col,
			Reason:    &faults.CoercionError{Column: col, Raw: raw, Err: err},
		}
	}
	return Value{Number: f, Column: col}
}

// ToTable lays records back out as a table: the source columns unchanged plus
// a column per sourced metric that the source did not already spell exactly.
func ToTable(source string, records []Record) *report.Table {
	if len(records) == 0 {
		return report.NewTable(source, nil)
	}
	first := records[0]
	cols := make([]string, 0, len(first.Fields)+len(Vocabulary))
	have := make(map[string]bool, len(first.Fields))
	for _, f := range first.Fields {
		cols = append(cols, f.Name)
		have[f.Name] = true
	}
	var added []Metric
	for _, m := range Vocabulary {
		if first.Metrics[m].Missing() || have[string(m)] {
			continue
		}
		cols = append(cols, string(m))
		added = append(added, m)
	}

	t := report.NewTable(source, cols)
	for _, r := range records {
		row := make([]string, 0, len(cols))
		for _, f := range r.Fields {
			row = append(row, f.Value)
		}
		for _, m := range added {
			v := r.Metrics[m]
			if v.Defaulted {
				// left blank so a second pass defaults it again
				row = append(row, "")
				continue
			}
			row = append(row, FormatNumber(v.Number))
		}
		t.AppendRow(row)
	}
	return t
}
