package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"setforge/internal/config"
	"setforge/internal/faults"
	"setforge/internal/logging"
	"setforge/internal/pipeline"
	"setforge/internal/scoring"
)

var (
	configPath string
	logLevel   string
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "setforge",
	Short: "Turn MT5 optimizer exports into filtered tester setfiles",
	Long: `setforge converts MetaTrader 5 optimizer exports and tester reports into
normalized tables, keeps the passes that clear every threshold, and writes one
UTF-16 setfile per survivor into the working and terminal setfile folders.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default ./"+config.DefaultFile+" when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log to the run's log file")
}

// env is what every command needs: configuration, a run logger and the
// pipeline built on them.
type env struct {
	cfg      *config.Config
	session  *logging.Session
	logger   zerolog.Logger
	metrics  *pipeline.Metrics
	pipeline *pipeline.Pipeline
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newEnv opens the run's log session under name and builds the pipeline.
// extra writers receive a plain copy of every log line.
func newEnv(ctx context.Context, cfg *config.Config, name string, extra ...io.Writer) (*env, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	opts := logging.Options{Dir: cfg.Paths.Logs, Name: name, Level: cfg.Logging.Level, Extra: extra}
	if quiet {
		opts.Console = io.Discard
	}
	session, err := logging.New(opts)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, session: session, logger: session.Logger, metrics: pipeline.NewMetrics()}

	pipeOpts := []pipeline.Option{pipeline.WithMetrics(e.metrics), pipeline.WithRunID(session.RunID)}
	annotator, err := newAnnotator(ctx, cfg, e.logger)
	if err != nil {
		session.Close()
		return nil, err
	}
	pipeOpts = append(pipeOpts, pipeline.WithAnnotator(annotator))
	e.pipeline = pipeline.New(cfg, e.logger, pipeOpts...)
	return e, nil
}

func newAnnotator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*scoring.Annotator, error) {
	opts := scoring.Options{Attempts: cfg.Scoring.Attempts, Backoff: cfg.Scoring.Backoff}
	if !cfg.Scoring.Enabled {
		return scoring.NewAnnotator(nil, opts, logger), nil
	}
	key := os.Getenv(cfg.Scoring.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("scoring is enabled but %s is not set", cfg.Scoring.APIKeyEnv)
	}
	scorer, err := scoring.NewGenAIScorer(ctx, key, cfg.Scoring.Model, cfg.Scoring.MaxOutputTokens)
	if err != nil {
		return nil, err
	}
	scorer.Timeout = cfg.Scoring.Timeout
	logger.Info().Str("model", cfg.Scoring.Model).Msg("scoring enabled")
	return scoring.NewAnnotator(scorer, opts, logger), nil
}

func (e *env) close() {
	if e.session.Path != "" {
		e.logger.Info().Str("path", e.session.Path).Msg("log saved")
	}
	e.session.Close()
}

// report prints a stage summary. An empty result is not a failure: the
// summary says why nothing was written and the command exits 0.
func report(w io.Writer, s *pipeline.Summary, err error) error {
	if s != nil {
		fmt.Fprintln(w, s.String())
	}
	var empty *faults.EmptyResultError
	if errors.As(err, &empty) {
		switch empty.Stage {
		case faults.StageInput:
			fmt.Fprintln(w, "No input records; nothing was written.")
		default:
			fmt.Fprintln(w, "No records passed the thresholds; nothing was written.")
		}
		return nil
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
