package pipeline

import (
	"setforge/internal/normalize"
	"setforge/internal/report"
)

// SurvivorLogName is the file written to the results folder on every run.
const SurvivorLogName = "survivors_list.csv"

// SurvivorEntry is one row of the survivor log.
type SurvivorEntry struct {
	Filename string
	Record   normalize.Record
	Comment  string
}

// SurvivorTable lays the survivors out as filename, every source column,
// the sourced metrics and, when withComment is set, the scorer's comment.
func SurvivorTable(entries []SurvivorEntry, withComment bool) *report.Table {
	records := make([]normalize.Record, len(entries))
	for i, e := range entries {
		records[i] = e.Record
	}
	body := normalize.ToTable(SurvivorLogName, records)

	cols := append([]string{"filename"}, body.Columns...)
	if withComment {
		cols = append(cols, "comment")
	}
	t := report.NewTable(SurvivorLogName, cols)
	for i, e := range entries {
		row := append([]string{e.Filename}, body.Row(i)...)
		if withComment {
			row = append(row, e.Comment)
		}
		t.AppendRow(row)
	}
	return t
}

// WriteSurvivorLog replaces the survivor log at path.
func WriteSurvivorLog(path string, entries []SurvivorEntry, withComment bool) error {
	return report.WriteCSV(path, SurvivorTable(entries, withComment))
}
