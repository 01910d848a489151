package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tbstats.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Import.Format)
	assert.Equal(t, 10, cfg.Import.MinPlaySeconds)
	assert.Equal(t, 10*time.Minute, cfg.Import.MaxTimeWindow)
	assert.Equal(t, 0.1, cfg.Reconcile.Threshold)
	assert.Equal(t, []string{"content"}, cfg.Reconcile.Groupings)
	assert.Equal(t, []string{"tenSecondPlays", "finishedPlays", "surveyTaken", "surveyUseless", "surveyApplied"},
		cfg.Reconcile.Metrics)
	assert.Equal(t, DefaultOutputFormat, cfg.Output.Format)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultLedgerDir, cfg.Ledger.Dir)
	assert.Equal(t, DefaultWatchPattern, cfg.Watch.Pattern)
	assert.Equal(t, DefaultWatchSettle, cfg.Watch.Settle)
	assert.True(t, cfg.Filter.IsZero())

	metrics, err := cfg.Metrics()
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConsistencyMetrics(), metrics)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
import:
  format: archive
  strict: true
  max_time_window: 15m
reconcile:
  threshold: 0.25
  groupings: [content, village]
  metrics: [finishedPlays]
filter:
  device: laptop-1
  talking_book: B-0001
output:
  format: json
postgres:
  dsn: postgres://stats:secret@db:5432/tb?sslmode=disable
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "archive", cfg.Import.Format)
	assert.True(t, cfg.Import.Strict)
	assert.Equal(t, 15*time.Minute, cfg.Import.MaxTimeWindow)
	assert.Equal(t, 0.25, cfg.Reconcile.Threshold)
	assert.Equal(t, "laptop-1", cfg.Filter.Device)
	assert.Equal(t, "B-0001", cfg.Filter.TalkingBook)
	assert.Equal(t, "json", cfg.Output.Format)

	groupings, err := cfg.Groupings()
	require.NoError(t, err)
	assert.Equal(t, []model.Grouping{model.GroupByContent, model.GroupByVillage}, groupings)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("TBSTATS_RECONCILE_THRESHOLD", "0.5")
	t.Setenv("TBSTATS_IMPORT_FORCE", "true")

	cfg, err := LoadConfig(writeConfig(t, "reconcile:\n  threshold: 0.2\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Reconcile.Threshold)
	assert.True(t, cfg.Import.Force)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"format", "import:\n  format: floppy\n", ErrInvalidFormat},
		{"min play", "import:\n  min_play_seconds: 0\n", ErrInvalidMinPlaySeconds},
		{"threshold", "reconcile:\n  threshold: -0.1\n", ErrInvalidThreshold},
		{"grouping", "reconcile:\n  groupings: [district]\n", ErrInvalidGrouping},
		{"metric", "reconcile:\n  metrics: [downloads]\n", ErrInvalidMetric},
		{"output", "output:\n  format: xml\n", ErrInvalidOutputFormat},
		{"log level", "log:\n  level: loud\n", ErrInvalidLogLevel},
		{"log format", "log:\n  format: xml\n", ErrInvalidLogFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://stats:xxxxx@db:5432/tb", RedactDSN("postgres://stats:secret@db:5432/tb"))
	assert.Equal(t, "host=db user=stats password=xxxxx dbname=tb", RedactDSN("host=db user=stats password=secret dbname=tb"))
	assert.Equal(t, "", RedactDSN(""))
}

func TestDump(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "postgres:\n  dsn: host=db password=secret\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Dump(cfg, &buf))
	assert.NotContains(t, buf.String(), "secret")

	var decoded Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, cfg.Import, decoded.Import)
	assert.Equal(t, cfg.Reconcile, decoded.Reconcile)
	assert.Equal(t, "host=db password=xxxxx", decoded.Postgres.DSN)
	// The loaded configuration is left untouched.
	assert.Equal(t, "host=db password=secret", cfg.Postgres.DSN)
}
