package normalize

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setforge/internal/faults"
	"setforge/internal/report"
)

func table(cols []string, rows ...[]string) *report.Table {
	t := report.NewTable("opt.csv", cols)
	for _, r := range rows {
		t.AppendRow(r)
	}
	return t
}

func TestColumnName(t *testing.T) {
	tests := map[string]string{
		"Equity DD %":  "equityddpercent",
		" Profit ":     "profit",
		"Sharpe Ratio": "sharperatio",
		"is_start":     "is_start",
		"Win %":        "winpercent",
	}
	for in, want := range tests {
		assert.Equal(t, want, ColumnName(in), in)
	}
}

func TestLookupMetric(t *testing.T) {
	m, ok := LookupMetric("Profit Factor")
	assert.True(t, ok)
	assert.Equal(t, ProfitFactor, m)

	_, ok = LookupMetric("calmar")
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	tbl := table(
		[]string{"Pass", "Profit", "Equity DD %", "Trades", "Profit Factor", "Sharpe Ratio", "Symbol", "RiskPercent"},
		[]string{"1", "1520.5", "12.3", "60", "1.5", "0.9", "EURUSD", "2.5"},
		[]string{"2", "n/a", "8", "", "1,234.5"},
	)
	recs := New(zerolog.Nop()).Normalize(tbl)
	require.Len(t, recs, 2)

	r := recs[0]
	assert.Equal(t, 1520.5, r.Metric(Profit).Number)
	assert.Equal(t, 12.3, r.Metric(MaxDrawdown).Number)
	assert.Equal(t, "Equity DD %", r.Metric(MaxDrawdown).Column)
	assert.Equal(t, 60.0, r.Metric(Trades).Number)
	assert.Equal(t, "EURUSD", r.Identity(Symbol))
	assert.Equal(t, "", r.Identity(Timeframe))

	// no column at all
	rf := r.Metric(RecoveryFactor)
	assert.True(t, rf.Defaulted)
	assert.True(t, rf.Missing())
	assert.ErrorIs(t, rf.Reason, ErrMissingColumn)

	// unparsable and empty cells default to zero but keep the column
	bad := recs[1].Metric(Profit)
	assert.Equal(t, 0.0, bad.Number)
	assert.True(t, bad.Defaulted)
	assert.False(t, bad.Missing())
	var ce *faults.CoercionError
	require.True(t, errors.As(bad.Reason, &ce))
	assert.Equal(t, "n/a", ce.Raw)

	assert.True(t, recs[1].Metric(Trades).Defaulted)
	assert.Equal(t, 1234.5, recs[1].Metric(ProfitFactor).Number)
	assert.False(t, recs[1].Metric(ProfitFactor).Defaulted)
}

func TestNormalizeSourcePriority(t *testing.T) {
	tbl := table(
		[]string{"Net Profit", "Relative Drawdown", "Max Drawdown"},
		[]string{"100", "9.5", "300"},
	)
	r := New(zerolog.Nop()).Normalize(tbl)[0]
	assert.Equal(t, 100.0, r.Metric(Profit).Number)
	assert.Equal(t, 9.5, r.Metric(MaxDrawdown).Number)
}

func TestWinrateFallback(t *testing.T) {
	cols := []string{"Forward Result", "Trades"}

	var buf bytes.Buffer
	n := New(zerolog.New(&buf))
	recs := n.Normalize(table(cols, []string{"55.5", "80"}, []string{"40", "70"}))
	wr := recs[0].Metric(WinRate)
	assert.Equal(t, 55.5, wr.Number)
	assert.Equal(t, ForwardResult, wr.DerivedFrom)
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("forwardresult as winrate")))

	n.WinrateFromForwardResult = false
	recs = n.Normalize(table(cols, []string{"55.5", "80"}))
	assert.True(t, recs[0].Metric(WinRate).Missing())

	// without trades there is no fallback
	recs = New(zerolog.Nop()).Normalize(table([]string{"Forward Result"}, []string{"55.5"}))
	assert.True(t, recs[0].Metric(WinRate).Missing())

	// a real winrate column always wins
	recs = New(zerolog.Nop()).Normalize(table([]string{"Forward Result", "Trades", "Win Rate"}, []string{"55.5", "80", "61"}))
	assert.Equal(t, 61.0, recs[0].Metric(WinRate).Number)
	assert.Empty(t, recs[0].Metric(WinRate).DerivedFrom)
}

func TestNormalizeIdempotent(t *testing.T) {
	tbl := table(
		[]string{"Pass", "Net Profit", "Equity DD %", "Forward Result", "Trades", "Sharpe Ratio", "symbol"},
		[]string{"1", "1,520.50", "12.3", "51", "60", "bad", "EURUSD"},
		[]string{"2", "-20", "30", "49", "", "1.1", "EURUSD"},
	)
	n := New(zerolog.Nop())
	first := n.Normalize(tbl)
	second := n.Normalize(ToTable(tbl.Source, first))
	third := n.Normalize(ToTable(tbl.Source, second))

	require.Len(t, second, len(first))
	for i := range first {
		for _, m := range Vocabulary {
			a, b, c := first[i].Metric(m), second[i].Metric(m), third[i].Metric(m)
			assert.Equal(t, a.Number, b.Number, "%s row %d", m, i)
			assert.Equal(t, a.Defaulted, b.Defaulted, "%s row %d", m, i)
			assert.Equal(t, b, c, "%s row %d", m, i)
		}
		assert.Equal(t, first[i].Identity(Symbol), second[i].Identity(Symbol))
	}
}

func TestToTable(t *testing.T) {
	tbl := table([]string{"Net Profit", "trades"}, []string{"10", "5"}, []string{"x", "6"})
	out := ToTable("out", New(zerolog.Nop()).Normalize(tbl))

	// trades is already spelled exactly and maxdrawdown has no source
	assert.Equal(t, []string{"Net Profit", "trades", "profit"}, out.Columns)
	assert.Equal(t, []string{"10", "5", "10"}, out.Row(0))
	assert.Equal(t, []string{"x", "6", ""}, out.Row(1))

	assert.Equal(t, 0, ToTable("empty", nil).Len())
}

func TestRecordValues(t *testing.T) {
	tbl := table([]string{"Profit", "RiskPercent"}, []string{"1,000", "2.5"})
	r := New(zerolog.Nop()).Normalize(tbl)[0]
	assert.Equal(t, []Field{
		{Name: "Profit", Value: "1,000"},
		{Name: "RiskPercent", Value: "2.5"},
		{Name: "profit", Value: "1000"},
	}, r.Values())
}

func TestNormalizeEmpty(t *testing.T) {
	assert.Nil(t, New(zerolog.Nop()).Normalize(table([]string{"Profit"})))
}
