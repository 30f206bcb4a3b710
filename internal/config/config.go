// Package config holds the settings shared by every command.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"setforge/internal/filter"
)

// DefaultFile is read from the working directory when no --config is given.
const DefaultFile = "setforge.yaml"

// Stale setfile policies.
const (
	StaleClean = "clean"
	StaleFail  = "fail"
)

// Config holds all configuration settings
type Config struct {
	Paths      PathsConfig        `yaml:"paths"`
	Metadata   MetadataConfig     `yaml:"metadata"`
	Thresholds []filter.Threshold `yaml:"thresholds"`
	Normalize  NormalizeConfig    `yaml:"normalize"`
	Output     OutputConfig       `yaml:"output"`
	Review     ReviewConfig       `yaml:"review"`
	Scoring    ScoringConfig      `yaml:"scoring"`
	Watch      WatchConfig        `yaml:"watch"`
	Metrics    MetricsConfig      `yaml:"metrics"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// PathsConfig holds input and output locations. Relative paths are taken
// from Base.
type PathsConfig struct {
	Base             string `yaml:"base"`
	RawXML           string `yaml:"raw_xml"`
	ProcessedCSV     string `yaml:"processed_csv"`
	HTMLReports      string `yaml:"html_reports"`
	Template         string `yaml:"template"`
	Setfiles         string `yaml:"setfiles"`
	TerminalSetfiles string `yaml:"terminal_setfiles"`
	Results          string `yaml:"results"`
	Survivors        string `yaml:"survivors"`
	Logs             string `yaml:"logs"`
}

// MetadataConfig describes the optimization run being converted.
type MetadataConfig struct {
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
	ISStart   string `yaml:"is_start"`
	ISEnd     string `yaml:"is_end"`
	OOSEnd    string `yaml:"oos_end"`
}

// NormalizeConfig holds metric normalization switches
type NormalizeConfig struct {
	WinrateFromForwardResult bool `yaml:"winrate_from_forward_result"`
}

// OutputConfig holds setfile emission settings
type OutputConfig struct {
	StalePolicy string `yaml:"stale_policy"`
	Worksheet   string `yaml:"worksheet"`
}

// ReviewConfig holds the forward-test review pass settings
type ReviewConfig struct {
	Thresholds []filter.Threshold `yaml:"thresholds"`
	Relaxed    []filter.Threshold `yaml:"relaxed"`
	TopN       int                `yaml:"top_n"`
}

// ScoringConfig holds the qualitative scoring collaborator settings
type ScoringConfig struct {
	Enabled         bool          `yaml:"enabled"`
	APIKeyEnv       string        `yaml:"api_key_env"`
	Model           string        `yaml:"model"`
	MaxOutputTokens int32         `yaml:"max_output_tokens"`
	Attempts        int           `yaml:"attempts"`
	Backoff         time.Duration `yaml:"backoff"`
	Timeout         time.Duration `yaml:"timeout"`
}

// WatchConfig holds folder watcher settings
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// MetricsConfig holds run metrics output settings
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

func defaults() *Config {
	terminal := filepath.Join("terminal", "MQL5", "Profiles", "Tester")
	if runtime.GOOS == "windows" {
		terminal = `C:\MT5_Backtest\MQL5\Profiles\Tester`
	}
	return &Config{
		Paths: PathsConfig{
			Base:             ".",
			RawXML:           "raw_xml",
			ProcessedCSV:     "processed_csv",
			HTMLReports:      "html_reports",
			Template:         "gold_template.set",
			Setfiles:         "setfiles",
			TerminalSetfiles: terminal,
			Results:          "results",
			Survivors:        filepath.Join("results", "survivors"),
			Logs:             "logs",
		},
		Thresholds: filter.DefaultSpec(),
		Normalize: NormalizeConfig{
			WinrateFromForwardResult: true,
		},
		Output: OutputConfig{
			StalePolicy: StaleClean,
			Worksheet:   "Tester Optimizator Results",
		},
		Review: ReviewConfig{
			Thresholds: []filter.Threshold{
				{Metric: "profit", Op: filter.GT, Value: 0},
				{Metric: "sharperatio", Op: filter.GT, Value: 1.0},
				{Metric: "maxdrawdown", Op: filter.LT, Value: 100},
			},
			Relaxed: []filter.Threshold{
				{Metric: "profit", Op: filter.GT, Value: 0},
				{Metric: "maxdrawdown", Op: filter.LT, Value: 150},
			},
			TopN: 5,
		},
		Scoring: ScoringConfig{
			Enabled:         false,
			APIKeyEnv:       "GEMINI_API_KEY",
			Model:           "gemini-2.0-flash",
			MaxOutputTokens: 200,
			Attempts:        3,
			Backoff:         60 * time.Second,
			Timeout:         30 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Default returns the default configuration rooted at the working directory.
func Default() *Config {
	c := defaults()
	c.resolvePaths()
	return c
}

// Load overlays the YAML file at path on the defaults. An empty path reads
// DefaultFile when it exists and falls back to the defaults otherwise.
func Load(path string) (*Config, error) {
	c := defaults()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case !explicit && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	c.resolvePaths()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) resolvePaths() {
	base := c.Paths.Base
	if base == "" {
		base = "."
	}
	if abs, err := filepath.Abs(base); err == nil {
		base = abs
	}
	c.Paths.Base = base
	for _, p := range []*string{
		&c.Paths.RawXML,
		&c.Paths.ProcessedCSV,
		&c.Paths.HTMLReports,
		&c.Paths.Template,
		&c.Paths.Setfiles,
		&c.Paths.TerminalSetfiles,
		&c.Paths.Results,
		&c.Paths.Survivors,
		&c.Paths.Logs,
		&c.Metrics.Textfile,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// Validate checks values a YAML file or flag could have broken.
func (c *Config) Validate() error {
	switch c.Output.StalePolicy {
	case StaleClean, StaleFail:
	default:
		return fmt.Errorf("output.stale_policy %q: want %q or %q", c.Output.StalePolicy, StaleClean, StaleFail)
	}
	for _, spec := range [][]filter.Threshold{c.Thresholds, c.Review.Thresholds, c.Review.Relaxed} {
		for _, t := range spec {
			if !t.Op.Valid() {
				return fmt.Errorf("threshold %s: invalid operator %q", t.Metric, t.Op)
			}
		}
	}
	if c.Review.TopN < 1 {
		return fmt.Errorf("review.top_n must be at least 1, got %d", c.Review.TopN)
	}
	if c.Scoring.Attempts < 1 {
		return fmt.Errorf("scoring.attempts must be at least 1, got %d", c.Scoring.Attempts)
	}
	if c.Scoring.Backoff < 0 {
		return fmt.Errorf("scoring.backoff must not be negative")
	}
	return nil
}

// ThresholdSpec returns a copy of the setfile filter thresholds.
func (c *Config) ThresholdSpec() filter.Spec {
	out := make(filter.Spec, len(c.Thresholds))
	copy(out, c.Thresholds)
	return out
}

// SetThreshold changes the value of every threshold on metric.
func (c *Config) SetThreshold(metric string, value float64) {
	c.Thresholds = c.ThresholdSpec().With(metric, value)
}

// Clone returns a copy that shares no threshold slices with c.
func (c *Config) Clone() *Config {
	out := *c
	out.Thresholds = append([]filter.Threshold(nil), c.Thresholds...)
	out.Review.Thresholds = append([]filter.Threshold(nil), c.Review.Thresholds...)
	out.Review.Relaxed = append([]filter.Threshold(nil), c.Review.Relaxed...)
	return &out
}

// Destinations are the directories every setfile is written to.
func (c *Config) Destinations() []string {
	return []string{c.Paths.Setfiles, c.Paths.TerminalSetfiles}
}

// EnsureDirectories creates necessary directories
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.RawXML,
		c.Paths.ProcessedCSV,
		c.Paths.HTMLReports,
		c.Paths.Setfiles,
		c.Paths.TerminalSetfiles,
		c.Paths.Results,
		c.Paths.Survivors,
		c.Paths.Logs,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

// FormatDuration formats duration for display
func FormatDuration(d time.Duration) string {
	s := int(d.Seconds())
	if s < 60 {
		return fmt.Sprintf("%ds", s)
	}
	if s < 3600 {
		return fmt.Sprintf("%dm%02ds", s/60, s%60)
	}
	return fmt.Sprintf("%dh%02dm", s/3600, (s%3600)/60)
}
