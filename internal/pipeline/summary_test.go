package pipeline

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"setforge/internal/faults"
	"setforge/internal/normalize"
	"setforge/internal/report"
)

func TestSummaryOutcome(t *testing.T) {
	tests := []struct {
		name string
		s    Summary
		want string
	}{
		{"ok", Summary{}, "ok"},
		{"write errors", Summary{WriteErrors: 2}, "write_errors"},
		{"empty input", Summary{Empty: &faults.EmptyResultError{Stage: faults.StageInput}}, "empty_input"},
		{"empty filter", Summary{Empty: &faults.EmptyResultError{Stage: faults.StageFilter}, WriteErrors: 1}, "empty_filter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.s.Outcome())
		})
	}
}

func TestSummaryFinish(t *testing.T) {
	s := &Summary{Stage: StageRun, Started: time.Unix(0, 0)}
	empty := &faults.EmptyResultError{Stage: faults.StageFilter, Source: "t.csv"}
	s.finish(time.Unix(125, 0), fmt.Errorf("run: %w", empty))

	assert.Same(t, empty, s.Empty)
	out := s.String()
	assert.Contains(t, out, "run finished in 2m05s")
	assert.Contains(t, out, "nothing to do: no records from t.csv passed filtering")

	s2 := &Summary{Stage: StageRun}
	s2.finish(time.Now(), fmt.Errorf("disk full"))
	assert.Nil(t, s2.Empty)
}

func TestSurvivorTable(t *testing.T) {
	src := report.NewTable("t.csv", []string{"symbol", "Profit", "RiskPercent"})
	src.AppendRow([]string{"EURUSD", "100", "2.5"})
	src.AppendRow([]string{"EURUSD", "bad", "1.0"})
	records := normalizeTable(t, src)

	entries := []SurvivorEntry{
		{Filename: "EURUSD_M15_set_001.set", Record: records[0], Comment: "fine"},
		{Filename: "EURUSD_M15_set_002.set", Record: records[1], Comment: "meh"},
	}
	tbl := SurvivorTable(entries, true)
	assert.Equal(t, []string{"filename", "symbol", "Profit", "RiskPercent", "profit", "comment"}, tbl.Columns)
	assert.Equal(t, []string{"EURUSD_M15_set_001.set", "EURUSD", "100", "2.5", "100", "fine"}, tbl.Row(0))
	// unparsable profit stays blank rather than a fabricated 0
	assert.Equal(t, "", tbl.Records[1]["profit"])

	path := filepath.Join(t.TempDir(), SurvivorLogName)
	require.NoError(t, WriteSurvivorLog(path, entries, false))
	back, err := report.LoadCSV(path)
	require.NoError(t, err)
	assert.NotContains(t, back.Columns, "comment")
	assert.Equal(t, 2, back.Len())
}

func normalizeTable(t *testing.T, tbl *report.Table) []normalize.Record {
	t.Helper()
	n := normalize.New(zerolog.Nop())
	records := n.Normalize(tbl)
	require.Len(t, records, tbl.Len())
	return records
}
