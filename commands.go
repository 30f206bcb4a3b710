package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"setforge/internal/config"
	"setforge/internal/faults"
	"setforge/internal/filter"
	"setforge/internal/pipeline"
	"setforge/internal/watch"
)

var (
	inputPath   string
	dirPath     string
	templateArg string
	stalePolicy string
	worksheet   string
	reviewTop   int

	metaSymbol    string
	metaTimeframe string
	metaISStart   string
	metaISEnd     string
	metaOOSEnd    string
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert the newest optimizer export into a processed CSV",
	Long: `Convert reads the newest SpreadsheetML export in the raw folder (or --input),
adds the run's symbol, timeframe and sample dates to every row and writes
{symbol}_{timeframe}_optimization.csv to the processed folder.

Example:
  setforge convert --symbol EURUSD --timeframe M15 \
    --is-start 2023-01-01 --is-end 2023-06-30 --oos-end 2023-12-31`,
	RunE: runConvert,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Filter the newest processed table and write one setfile per survivor",
	Long: `Run loads the newest processed CSV (or --input, which may also be a raw
export), keeps the rows that clear every threshold and merges each survivor
into the gold template. Thresholds come from the config file and can be
overridden per metric:

  setforge run --profitfactor 1.5 --trades 100`,
	RunE: runRun,
}

var extractCmd = &cobra.Command{
	Use:   "extract-html",
	Short: "Extract metrics from tester HTML reports into forward_test_results.csv",
	RunE:  runExtract,
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Promote the best forward-test reports to the survivors folder",
	RunE:  runReview,
}

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Check that every file in a setfile folder decodes",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run convert and run whenever a new export lands in the raw folder",
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(convertCmd, runCmd, extractCmd, reviewCmd, validateCmd, watchCmd)

	convertCmd.Flags().StringVar(&inputPath, "input", "", "export to convert (default: newest .xml in the raw folder)")
	convertCmd.Flags().StringVar(&worksheet, "worksheet", "", "worksheet holding the results (default from config)")
	for _, c := range []*cobra.Command{convertCmd, watchCmd} {
		addMetadataFlags(c.Flags())
	}

	runCmd.Flags().StringVar(&inputPath, "input", "", "table to filter (default: newest .csv in the processed folder)")
	for _, c := range []*cobra.Command{runCmd, watchCmd} {
		c.Flags().StringVar(&templateArg, "template", "", "gold template .set file (default from config)")
		c.Flags().StringVar(&stalePolicy, "stale-policy", "", "what to do with old .set files: clean or fail")
		addThresholdFlags(c.Flags())
	}

	extractCmd.Flags().StringVar(&dirPath, "dir", "", "folder of .htm/.html reports (default from config)")
	reviewCmd.Flags().StringVar(&dirPath, "dir", "", "folder of .htm/.html reports (default from config)")
	reviewCmd.Flags().IntVar(&reviewTop, "top", 0, "how many reports to keep (default from config)")
}

func addMetadataFlags(fs *pflag.FlagSet) {
	fs.StringVar(&metaSymbol, "symbol", "", "symbol, e.g. EURUSD")
	fs.StringVar(&metaTimeframe, "timeframe", "", "timeframe, e.g. M15")
	fs.StringVar(&metaISStart, "is-start", "", "in-sample start date (YYYY-MM-DD)")
	fs.StringVar(&metaISEnd, "is-end", "", "in-sample end date (YYYY-MM-DD)")
	fs.StringVar(&metaOOSEnd, "oos-end", "", "out-of-sample end date (YYYY-MM-DD)")
}

// addThresholdFlags registers one flag per metric of the default filter,
// named after the metric.
func addThresholdFlags(fs *pflag.FlagSet) {
	for _, t := range filter.DefaultSpec() {
		fs.Float64(t.Metric, t.Value, fmt.Sprintf("threshold value for %s", t))
	}
}

// applyFlags copies every changed command-line override into cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	for _, t := range filter.DefaultSpec() {
		if fs.Lookup(t.Metric) == nil || !fs.Changed(t.Metric) {
			continue
		}
		v, err := fs.GetFloat64(t.Metric)
		if err != nil {
			return err
		}
		cfg.SetThreshold(t.Metric, v)
	}
	set := func(name string, dst *string, val string) {
		if fs.Lookup(name) != nil && fs.Changed(name) {
			*dst = val
		}
	}
	set("template", &cfg.Paths.Template, templateArg)
	set("stale-policy", &cfg.Output.StalePolicy, stalePolicy)
	set("worksheet", &cfg.Output.Worksheet, worksheet)
	set("symbol", &cfg.Metadata.Symbol, metaSymbol)
	set("timeframe", &cfg.Metadata.Timeframe, metaTimeframe)
	set("is-start", &cfg.Metadata.ISStart, metaISStart)
	set("is-end", &cfg.Metadata.ISEnd, metaISEnd)
	set("oos-end", &cfg.Metadata.OOSEnd, metaOOSEnd)
	if fs.Lookup("top") != nil && fs.Changed("top") {
		cfg.Review.TopN = reviewTop
	}
	return cfg.Validate()
}

// setup loads config, applies the command's flags and opens the run.
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	return newEnv(cmd.Context(), cfg, cmd.Name())
}

func metadata(cfg *config.Config) (pipeline.Metadata, error) {
	m := cfg.Metadata
	return pipeline.NewMetadata(m.Symbol, m.Timeframe, m.ISStart, m.ISEnd, m.OOSEnd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	meta, err := metadata(e.cfg)
	if err != nil {
		return err
	}
	s, err := e.pipeline.Convert(cmd.Context(), inputPath, meta)
	return report(cmd.OutOrStdout(), s, err)
}

func runRun(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	s, err := e.pipeline.Run(cmd.Context(), inputPath)
	return report(cmd.OutOrStdout(), s, err)
}

func runExtract(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	s, err := e.pipeline.ExtractHTML(cmd.Context(), dirPath)
	return report(cmd.OutOrStdout(), s, err)
}

func runReview(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	s, err := e.pipeline.Review(cmd.Context(), dirPath)
	return report(cmd.OutOrStdout(), s, err)
}

func runValidate(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}
	v, err := e.pipeline.Validate(dir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, name := range v.Valid {
		fmt.Fprintf(out, "ok      %s\n", name)
	}
	names := make([]string, 0, len(v.Invalid))
	for name := range v.Invalid {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "invalid %s: %v\n", name, v.Invalid[name])
	}
	if len(names) > 0 {
		return fmt.Errorf("%d of %d files are not valid setfiles", len(names), len(names)+len(v.Valid))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	meta, err := metadata(e.cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	handler := func(ctx context.Context, path string) error {
		s, err := e.pipeline.Convert(ctx, path, meta)
		if err := report(out, s, err); err != nil || s == nil || s.Empty != nil {
			return err
		}
		s, err = e.pipeline.Run(ctx, "")
		return report(out, s, err)
	}
	w := watch.New(e.cfg.Paths.RawXML, ".xml", e.cfg.Watch.Debounce, handler, e.logger)
	err = w.Run(cmd.Context())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// isEmpty reports whether err only says there was nothing to do.
func isEmpty(err error) bool {
	return errors.Is(err, faults.ErrEmptyResult)
}
