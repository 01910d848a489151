// Package config loads the tbstats settings from defaults, a YAML file and
// TBSTATS_ environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/scanner"
	"github.com/penwyp/go-talkingbook-stats/internal/presentation/formatter"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

// Config is the top-level configuration. Field tags use mapstructure for
// viper unmarshalling and yaml for Dump.
type Config struct {
	Import            ImportConfig    `mapstructure:"import" yaml:"import"`
	Reconcile         ReconcileConfig `mapstructure:"reconcile" yaml:"reconcile"`
	Filter            scanner.Filter  `mapstructure:"filter" yaml:"filter"`
	Output            OutputConfig    `mapstructure:"output" yaml:"output"`
	Log               LogConfig       `mapstructure:"log" yaml:"log"`
	Ledger            LedgerConfig    `mapstructure:"ledger" yaml:"ledger"`
	Postgres          PostgresConfig  `mapstructure:"postgres" yaml:"postgres"`
	Watch             WatchConfig     `mapstructure:"watch" yaml:"watch"`
	OperationalLogDir string          `mapstructure:"operational_log_dir" yaml:"operational_log_dir"`
}

// ImportConfig controls how a transfer package is walked.
type ImportConfig struct {
	Format         string        `mapstructure:"format" yaml:"format"`
	Strict         bool          `mapstructure:"strict" yaml:"strict"`
	Force          bool          `mapstructure:"force" yaml:"force"`
	MinPlaySeconds int           `mapstructure:"min_play_seconds" yaml:"min_play_seconds"`
	MaxTimeWindow  time.Duration `mapstructure:"max_time_window" yaml:"max_time_window"`
	ExtractDir     string        `mapstructure:"extract_dir" yaml:"extract_dir"`
}

// ReconcileConfig selects what the consistency check compares.
type ReconcileConfig struct {
	Threshold float64  `mapstructure:"threshold" yaml:"threshold"`
	Groupings []string `mapstructure:"groupings" yaml:"groupings"`
	Metrics   []string `mapstructure:"metrics" yaml:"metrics"`
}

type OutputConfig struct {
	Format  string `mapstructure:"format" yaml:"format"`
	NoColor bool   `mapstructure:"no_color" yaml:"no_color"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	File   string `mapstructure:"file" yaml:"file"`
	Format string `mapstructure:"format" yaml:"format"`
}

type LedgerConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// PostgresConfig enables the relational sink when DSN is set.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// WatchConfig configures the inbox watched by "tbstats watch".
type WatchConfig struct {
	Dir     string        `mapstructure:"dir" yaml:"dir"`
	Pattern string        `mapstructure:"pattern" yaml:"pattern"`
	Settle  time.Duration `mapstructure:"settle" yaml:"settle"`
}

// Defaults.
const (
	DefaultOutputFormat = "table"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultLogFile      = "~/.tbstats/logs/tbstats.log"
	DefaultLedgerDir    = "~/.tbstats/ledger"
	DefaultWatchPattern = "*.zip"
	DefaultWatchSettle  = 2 * time.Second
)

// DefaultGroupings are the dimensions reconciled when none are configured.
var DefaultGroupings = []string{"content"}

// Sentinel errors for configuration validation.
var (
	ErrInvalidFormat         = errors.New("import.format must be sync, archive or empty")
	ErrInvalidMinPlaySeconds = errors.New("import.min_play_seconds must be positive")
	ErrInvalidTimeWindow     = errors.New("import.max_time_window must be positive")
	ErrInvalidThreshold      = errors.New("reconcile.threshold must be a non-negative number")
	ErrInvalidGrouping       = errors.New("reconcile.groupings holds an unknown grouping")
	ErrInvalidMetric         = errors.New("reconcile.metrics holds an unknown metric")
	ErrInvalidOutputFormat   = errors.New("output.format is not a known format")
	ErrInvalidLogLevel       = errors.New("log.level must be debug, info, warn or error")
	ErrInvalidLogFormat      = errors.New("log.format must be text or json")
	ErrInvalidWatchPattern   = errors.New("watch.pattern must not be empty")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if err := c.validateImport(); err != nil {
		return err
	}
	if err := c.validateReconcile(); err != nil {
		return err
	}
	if !slices.Contains(formatter.Formats, strings.ToLower(c.Output.Format)) && c.Output.Format != "yml" {
		return fmt.Errorf("%w: %q", ErrInvalidOutputFormat, c.Output.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
	switch util.LogFormat(strings.ToLower(c.Log.Format)) {
	case util.FormatText, util.FormatJSON:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format)
	}
	if c.Watch.Pattern == "" {
		return ErrInvalidWatchPattern
	}
	return nil
}

func (c *Config) validateImport() error {
	if _, err := model.ParseDirectoryFormat(c.Import.Format); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, c.Import.Format)
	}
	if c.Import.MinPlaySeconds <= 0 {
		return ErrInvalidMinPlaySeconds
	}
	if c.Import.MaxTimeWindow <= 0 {
		return ErrInvalidTimeWindow
	}
	return nil
}

func (c *Config) validateReconcile() error {
	t := c.Reconcile.Threshold
	if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return ErrInvalidThreshold
	}
	if _, err := c.Groupings(); err != nil {
		return err
	}
	if _, err := c.Metrics(); err != nil {
		return err
	}
	return nil
}

// Groupings parses the configured reconciliation groupings.
func (c *Config) Groupings() ([]model.Grouping, error) {
	out := make([]model.Grouping, 0, len(c.Reconcile.Groupings))
	for _, name := range c.Reconcile.Groupings {
		g, err := model.ParseGrouping(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidGrouping, name)
		}
		out = append(out, g)
	}
	return out, nil
}

// Metrics parses the configured reconciliation metrics.
func (c *Config) Metrics() ([]model.Metric, error) {
	out := make([]model.Metric, 0, len(c.Reconcile.Metrics))
	for _, name := range c.Reconcile.Metrics {
		m, err := model.ParseMetric(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMetric, name)
		}
		out = append(out, m)
	}
	return out, nil
}

func defaultMetrics() []string {
	metrics := model.DefaultConsistencyMetrics()
	out := make([]string, len(metrics))
	for i, m := range metrics {
		out[i] = m.String()
	}
	return out
}
