// Package pipeline wires extraction, normalization, filtering and setfile
// emission into the commands the CLI and the desktop window run.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"setforge/internal/config"
	"setforge/internal/faults"
	"setforge/internal/filter"
	"setforge/internal/normalize"
	"setforge/internal/report"
	"setforge/internal/scoring"
	"setforge/internal/setfile"
)

// ForwardResultsName is the table extract-html writes to the results folder.
const ForwardResultsName = "forward_test_results.csv"

// Pipeline runs the batch stages against one configuration.
type Pipeline struct {
	cfg        *config.Config
	logger     zerolog.Logger
	files      *FileManager
	normalizer *normalize.Normalizer
	extractor  *report.Extractor
	annotator  *scoring.Annotator
	metrics    *Metrics
	runID      string
	now        func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithAnnotator attaches the scoring collaborator.
func WithAnnotator(a *scoring.Annotator) Option { return func(p *Pipeline) { p.annotator = a } }

// WithMetrics records every finished stage in m.
func WithMetrics(m *Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option { return func(p *Pipeline) { p.runID = id } }

// WithExtractor replaces the default report rules.
func WithExtractor(e *report.Extractor) Option { return func(p *Pipeline) { p.extractor = e } }

// New returns a Pipeline. Without WithAnnotator every comment is the
// disabled placeholder.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		logger:    logger,
		files:     NewFileManager(cfg, logger),
		extractor: report.NewExtractor(),
		runID:     uuid.NewString(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.annotator == nil {
		p.annotator = scoring.NewAnnotator(nil, scoring.Options{}, logger)
	}
	p.normalizer = normalize.New(logger)
	p.normalizer.WinrateFromForwardResult = cfg.Normalize.WinrateFromForwardResult
	return p
}

// Config returns the configuration the pipeline runs against.
func (p *Pipeline) Config() *config.Config { return p.cfg }

// Files exposes the pipeline's file manager.
func (p *Pipeline) Files() *FileManager { return p.files }

func (p *Pipeline) start(stage, input string) *Summary {
	return &Summary{RunID: p.runID, Stage: stage, Input: input, Started: p.now()}
}

func (p *Pipeline) done(s *Summary, err error) (*Summary, error) {
	s.finish(p.now(), err)
	ev := p.logger.Info()
	if err != nil && s.Empty == nil {
		ev = p.logger.Error().Err(err)
	}
	ev.Str("stage", s.Stage).
		Str("outcome", s.Outcome()).
		Int("records", s.Records).
		Int("survivors", s.Survivors).
		Int("setfiles", s.SetfilesWritten).
		Int("write_errors", s.WriteErrors).
		Msg("stage finished")
	if err == nil || s.Empty != nil {
		p.metrics.Observe(s)
		if merr := p.metrics.WriteTextfile(p.cfg.Metrics.Textfile); merr != nil {
			p.logger.Warn().Err(merr).Msg("could not write metrics textfile")
		}
	}
	return s, err
}

func defaultedCount(records []normalize.Record) int {
	n := 0
	for _, r := range records {
		for _, m := range normalize.Vocabulary {
			if v := r.Metric(m); v.Defaulted && !v.Missing() {
				n++
			}
		}
	}
	return n
}

// reportDefaults counts the values that fell back to 0 because the number
// next to the label did not parse, and those whose label was absent.
func reportDefaults(batch []*report.Metrics) (unparsed, missing int) {
	for _, m := range batch {
		unparsed += len(m.Unparsed)
		missing += len(m.Defaulted) - len(m.Unparsed)
	}
	return unparsed, missing
}

// Convert turns an optimizer export into the processed CSV, tagging every
// row with meta. An empty input uses the newest export in the raw folder.
func (p *Pipeline) Convert(ctx context.Context, input string, meta Metadata) (*Summary, error) {
	if input == "" {
		latest, err := p.files.LatestXML()
		if err != nil {
			return p.done(p.start(StageConvert, ""), err)
		}
		input = latest
	}
	s := p.start(StageConvert, input)
	p.logger.Info().Str("file", filepath.Base(input)).Msg("converting latest XML")

	tbl, err := report.LoadSpreadsheet(input, p.cfg.Output.Worksheet)
	if err != nil {
		return p.done(s, err)
	}
	if tbl.Dropped > 0 {
		p.logger.Warn().Int("cells", tbl.Dropped).Msg("cells beyond the header row were dropped")
	}
	if tbl.Len() == 0 {
		return p.done(s, &faults.EmptyResultError{Stage: faults.StageInput, Source: input})
	}

	records := p.normalizer.Normalize(tbl)
	s.Records = len(records)
	s.Defaulted = defaultedCount(records)

	// the previous table is only replaced once the new export has parsed
	if err := os.MkdirAll(p.cfg.Paths.ProcessedCSV, 0755); err != nil {
		return p.done(s, faults.WrapIO("create directory", p.cfg.Paths.ProcessedCSV, err))
	}
	removed, err := p.files.RemoveFiles(p.cfg.Paths.ProcessedCSV, ".csv")
	if err != nil {
		p.logger.Warn().Err(err).Msg("old CSVs could not all be removed")
	}
	s.StaleRemoved = len(removed)

	out := normalize.ToTable(input, records)
	meta.Apply(out)
	s.Output = filepath.Join(p.cfg.Paths.ProcessedCSV, meta.CSVName())
	if err := report.WriteCSV(s.Output, out); err != nil {
		return p.done(s, err)
	}
	p.logger.Info().Str("path", s.Output).Msg("saved converted CSV")
	return p.done(s, nil)
}

// loadTable reads an export or processed table by extension.
func (p *Pipeline) loadTable(path string) (*report.Table, error) {
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		return report.LoadSpreadsheet(path, p.cfg.Output.Worksheet)
	}
	return report.LoadCSV(path)
}

// Run filters the newest processed table (or input) and writes one setfile
// per survivor to every destination, followed by the survivor log.
func (p *Pipeline) Run(ctx context.Context, input string) (*Summary, error) {
	if input == "" {
		latest, err := p.files.LatestCSV()
		if err != nil {
			return p.done(p.start(StageRun, ""), err)
		}
		input = latest
	}
	s := p.start(StageRun, input)
	p.logger.Info().Str("file", filepath.Base(input)).Msg("using optimization table")

	tbl, err := p.loadTable(input)
	if err != nil {
		return p.done(s, err)
	}
	tpl, err := setfile.LoadTemplate(p.cfg.Paths.Template)
	if err != nil {
		return p.done(s, err)
	}
	p.logger.Info().Str("template", tpl.Source).Int("params", tpl.Len()).Msg("loaded template")

	dests := p.cfg.Destinations()
	before := 0
	for _, d := range dests {
		if files, err := p.files.ListFiles(d, ".set"); err == nil {
			before += len(files)
		}
	}
	if err := p.files.PrepareDestinations(dests, p.cfg.Output.StalePolicy); err != nil {
		return p.done(s, err)
	}
	s.StaleRemoved = before
	if err := os.MkdirAll(p.cfg.Paths.Results, 0755); err != nil {
		return p.done(s, faults.WrapIO("create directory", p.cfg.Paths.Results, err))
	}

	if tbl.Len() == 0 {
		return p.done(s, &faults.EmptyResultError{Stage: faults.StageInput, Source: input})
	}
	records := p.normalizer.Normalize(tbl)
	s.Records = len(records)
	s.Defaulted = defaultedCount(records)

	spec := p.cfg.ThresholdSpec()
	p.logger.Info().Str("thresholds", spec.String()).Msg("filtering")
	survivors := filter.New(spec, p.logger).Apply(records)
	s.Survivors = len(survivors)
	if len(survivors) == 0 {
		p.logger.Warn().Msg("no setfiles passed filtering")
		return p.done(s, &faults.EmptyResultError{Stage: faults.StageFilter, Source: input})
	}

	entries := make([]SurvivorEntry, 0, len(survivors))
	for i, r := range survivors {
		sf := setfile.MergeRecord(tpl, i, r)
		data, err := sf.Encode()
		if err != nil {
			p.logger.Error().Err(err).Str("setfile", sf.Name).Msg("could not encode setfile")
			s.WriteErrors += len(dests)
			continue
		}
		for _, dir := range dests {
			path := filepath.Join(dir, sf.Name)
			if err := os.WriteFile(path, data, 0644); err != nil {
				p.logger.Error().Err(err).Str("path", path).Msg("could not save setfile")
				s.WriteErrors++
				continue
			}
			s.SetfilesWritten++
			p.logger.Info().Str("path", path).Strs("updated", sf.Updated).Msg("saved setfile")
		}

		entry := SurvivorEntry{Filename: sf.Name, Record: r}
		if p.annotator.Enabled() {
			entry.Comment = p.annotator.Annotate(ctx, scoring.SetfilePrompt(stats(sf.Name, r)))
		}
		entries = append(entries, entry)
	}

	s.SurvivorLog = filepath.Join(p.cfg.Paths.Results, SurvivorLogName)
	if err := WriteSurvivorLog(s.SurvivorLog, entries, p.annotator.Enabled()); err != nil {
		p.logger.Error().Err(err).Msg("could not save survivor log")
		s.WriteErrors++
		s.SurvivorLog = ""
	} else {
		p.logger.Info().Str("path", s.SurvivorLog).Msg("survivor log saved")
	}
	return p.done(s, nil)
}

func stats(filename string, r normalize.Record) map[string]string {
	out := map[string]string{"filename": filename}
	for _, f := range r.Values() {
		out[f.Name] = f.Value
	}
	return out
}

// ExtractHTML extracts every tester report in dir (the configured report
// folder when empty) into the forward results table.
func (p *Pipeline) ExtractHTML(ctx context.Context, dir string) (*Summary, error) {
	if dir == "" {
		dir = p.cfg.Paths.HTMLReports
	}
	s := p.start(StageExtractHTML, dir)
	batch, err := p.extractor.ExtractDir(dir)
	if err != nil {
		return p.done(s, err)
	}
	if len(batch) == 0 {
		return p.done(s, &faults.EmptyResultError{Stage: faults.StageInput, Source: dir})
	}
	s.Records = len(batch)
	s.Defaulted, s.Missing = reportDefaults(batch)
	if err := os.MkdirAll(p.cfg.Paths.Results, 0755); err != nil {
		return p.done(s, faults.WrapIO("create directory", p.cfg.Paths.Results, err))
	}
	s.Output = filepath.Join(p.cfg.Paths.Results, ForwardResultsName)
	if err := report.WriteCSV(s.Output, p.extractor.Table(dir, batch)); err != nil {
		return p.done(s, err)
	}
	p.logger.Info().Str("path", s.Output).Int("reports", len(batch)).Msg("extracted forward test results")
	return p.done(s, nil)
}

// ReviewEntry is one report promoted to the survivors folder.
type ReviewEntry struct {
	Report  string
	Sharpe  float64
	Profit  float64
	Comment string
}

// Review filters forward-test reports, retrying once with the relaxed
// thresholds when nothing passes, and copies the best reports by Sharpe
// ratio into the survivors folder.
func (p *Pipeline) Review(ctx context.Context, dir string) (*Summary, error) {
	if dir == "" {
		dir = p.cfg.Paths.HTMLReports
	}
	s := p.start(StageReview, dir)
	batch, err := p.extractor.ExtractDir(dir)
	if err != nil {
		return p.done(s, err)
	}
	if len(batch) == 0 {
		return p.done(s, &faults.EmptyResultError{Stage: faults.StageInput, Source: dir})
	}
	records := p.normalizer.Normalize(p.extractor.Table(dir, batch))
	s.Records = len(records)
	s.Defaulted, s.Missing = reportDefaults(batch)

	survivors := filter.New(p.cfg.Review.Thresholds, p.logger).Apply(records)
	if len(survivors) == 0 && len(p.cfg.Review.Relaxed) > 0 {
		p.logger.Warn().Str("thresholds", filter.Spec(p.cfg.Review.Relaxed).String()).Msg("no survivors; retrying with relaxed thresholds")
		survivors = filter.New(p.cfg.Review.Relaxed, p.logger).Apply(records)
	}
	s.Survivors = len(survivors)
	if len(survivors) == 0 {
		return p.done(s, &faults.EmptyResultError{Stage: faults.StageFilter, Source: dir})
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].Metric(normalize.SharpeRatio).Number > survivors[j].Metric(normalize.SharpeRatio).Number
	})
	if len(survivors) > p.cfg.Review.TopN {
		survivors = survivors[:p.cfg.Review.TopN]
	}

	if err := os.MkdirAll(p.cfg.Paths.Survivors, 0755); err != nil {
		return p.done(s, faults.WrapIO("create directory", p.cfg.Paths.Survivors, err))
	}
	for _, r := range survivors {
		src := batch[r.Index].Source
		name := filepath.Base(src)
		if err := p.files.CopyFile(src, filepath.Join(p.cfg.Paths.Survivors, name)); err != nil {
			p.logger.Error().Err(err).Str("report", name).Msg("could not copy report")
			s.WriteErrors++
			continue
		}
		entry := ReviewEntry{
			Report:  name,
			Sharpe:  r.Metric(normalize.SharpeRatio).Number,
			Profit:  r.Metric(normalize.Profit).Number,
			Comment: p.annotator.Annotate(ctx, scoring.ReportPrompt(name)),
		}
		p.logger.Info().Str("report", name).Str("comment", entry.Comment).Msg("report passed")
		s.Reviewed = append(s.Reviewed, entry)
	}
	s.Output = p.cfg.Paths.Survivors
	return p.done(s, nil)
}

// Validation is the result of checking a setfile folder.
type Validation struct {
	Valid   []string
	Invalid map[string]error
}

// ErrNotSetfile marks a file in a setfile folder that is not a .set file.
var ErrNotSetfile = errors.New("not a .set file")

// Validate decodes every file in dir and reports which are well-formed setfiles.
func (p *Pipeline) Validate(dir string) (*Validation, error) {
	if dir == "" {
		dir = p.cfg.Paths.Setfiles
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, faults.WrapIO("read directory", dir, err)
	}
	v := &Validation{Invalid: make(map[string]error)}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.EqualFold(filepath.Ext(name), ".set") {
			v.Invalid[name] = ErrNotSetfile
			continue
		}
		if _, err := setfile.ReadFile(filepath.Join(dir, name)); err != nil {
			v.Invalid[name] = err
			continue
		}
		v.Valid = append(v.Valid, name)
	}
	p.logger.Info().Str("dir", dir).Int("valid", len(v.Valid)).Int("invalid", len(v.Invalid)).Msg("validated setfiles")
	return v, nil
}
