package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/penwyp/go-talkingbook-stats/internal/core/constants"
	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".tbstats"

const configType = "yaml"

// envPrefix is the environment variable prefix, e.g. TBSTATS_IMPORT_STRICT.
const envPrefix = "TBSTATS"

const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars and defaults. An empty
// configPath searches .tbstats.yaml in the working directory, then $HOME; a
// missing file there is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("import.format", "")
	v.SetDefault("import.strict", false)
	v.SetDefault("import.force", false)
	v.SetDefault("import.min_play_seconds", constants.DefaultMinPlaySeconds)
	v.SetDefault("import.max_time_window", constants.DefaultMaxTimeWindow)
	v.SetDefault("import.extract_dir", "")

	v.SetDefault("reconcile.threshold", constants.DefaultConsistencyThreshold)
	v.SetDefault("reconcile.groupings", DefaultGroupings)
	v.SetDefault("reconcile.metrics", defaultMetrics())

	v.SetDefault("filter.device", "")
	v.SetDefault("filter.deployment", "")
	v.SetDefault("filter.village", "")
	v.SetDefault("filter.talking_book", "")

	v.SetDefault("output.format", DefaultOutputFormat)
	v.SetDefault("output.no_color", false)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", DefaultLogFile)
	v.SetDefault("log.format", DefaultLogFormat)

	v.SetDefault("ledger.dir", DefaultLedgerDir)
	v.SetDefault("postgres.dsn", "")

	v.SetDefault("watch.dir", "")
	v.SetDefault("watch.pattern", DefaultWatchPattern)
	v.SetDefault("watch.settle", DefaultWatchSettle)

	v.SetDefault("operational_log_dir", "")
}
