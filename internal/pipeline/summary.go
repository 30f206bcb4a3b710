package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"setforge/internal/config"
	"setforge/internal/faults"
)

// Stage names used in summaries, logs and metric labels.
const (
	StageConvert     = "convert"
	StageRun         = "run"
	StageExtractHTML = "extract-html"
	StageReview      = "review"
)

// Summary is the human-readable outcome of one stage.
type Summary struct {
	RunID string
	Stage string
	Input string

	Records         int
	Defaulted       int
	Missing         int
	Survivors       int
	SetfilesWritten int
	WriteErrors     int
	StaleRemoved    int

	// Output is the table a stage wrote, SurvivorLog the survivor list.
	Output      string
	SurvivorLog string
	Reviewed    []ReviewEntry

	Started  time.Time
	Finished time.Time

	// Empty is set when the stage stopped early without failing.
	Empty *faults.EmptyResultError
}

// Outcome classifies the run for metrics and the desktop status line.
func (s *Summary) Outcome() string {
	switch {
	case s.Empty != nil && s.Empty.Stage == faults.StageInput:
		return "empty_input"
	case s.Empty != nil:
		return "empty_filter"
	case s.WriteErrors > 0:
		return "write_errors"
	}
	return "ok"
}

func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s finished in %s", s.Stage, config.FormatDuration(s.Finished.Sub(s.Started)))
	if s.Input != "" {
		fmt.Fprintf(&b, "\ninput: %s", s.Input)
	}
	if s.Empty != nil {
		fmt.Fprintf(&b, "\nnothing to do: %s", s.Empty.Error())
	}
	fmt.Fprintf(&b, "\nSummary: %d records, %d survivors, %d setfiles created, %d errors.",
		s.Records, s.Survivors, s.SetfilesWritten, s.WriteErrors)
	if s.Defaulted > 0 {
		fmt.Fprintf(&b, "\n%d unparsable metric values were treated as 0", s.Defaulted)
	}
	if s.Missing > 0 {
		fmt.Fprintf(&b, "\n%d metric labels were not found and were treated as 0", s.Missing)
	}
	if s.StaleRemoved > 0 {
		fmt.Fprintf(&b, "\nremoved %d old file(s)", s.StaleRemoved)
	}
	if s.Output != "" {
		fmt.Fprintf(&b, "\noutput: %s", s.Output)
	}
	if s.SurvivorLog != "" {
		fmt.Fprintf(&b, "\nsurvivor log: %s", s.SurvivorLog)
	}
	for _, r := range s.Reviewed {
		fmt.Fprintf(&b, "\n%s passed (sharpe %.2f) - comment: %s", r.Report, r.Sharpe, r.Comment)
	}
	return b.String()
}

// finish stamps the end time and, when err is an EmptyResultError, records
// it on the summary.
func (s *Summary) finish(now time.Time, err error) {
	s.Finished = now
	var empty *faults.EmptyResultError
	if errors.As(err, &empty) {
		s.Empty = empty
	}
}
