package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/penwyp/go-talkingbook-stats/internal/config"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
	"github.com/spf13/cobra"
)

var (
	// Configuration file
	cfgFile string

	// Logging related
	debug bool

	// Output related
	outputFormat string
	noColor      bool

	// cfg is the loaded configuration with flag overrides applied.
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "tbstats",
		Short: "Talking Book usage statistics importer",
		Long: `tbstats imports the statistics uploaded by Talking Book carrier devices.

A transfer package is a zip of one or more project roots. Each root is
validated against the operational data of the carrier tool, its logs,
flash snapshots and statistics files are replayed into the configured
sinks, and the aggregated views are reconciled against each other.

Examples:
  tbstats import upload.zip                      # Import one transfer package
  tbstats import upload.zip -o json              # Print the import report as JSON
  tbstats import ./extracted --format archive    # Import an extracted package
  tbstats manifest ./extracted                   # Print the manifest of each root
  tbstats watch ~/inbox                          # Import packages as they arrive
  tbstats config                                 # Show the effective configuration`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file (default .tbstats.yaml in the working directory or $HOME)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"Enable debug mode")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "",
		"Output format (table, json, csv, yaml, summary)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"Disable coloured output")
}

// setup loads the configuration and installs the logger before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	if outputFormat != "" {
		loaded.Output.Format = outputFormat
	}
	if noColor {
		loaded.Output.NoColor = true
	}
	if debug {
		loaded.Log.Level = "debug"
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	logFile := util.ExpandPath(cfg.Log.File)
	if err := util.EnsureDir(filepath.Dir(logFile)); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := util.InitLogger(strings.ToLower(cfg.Log.Level), logFile, util.LogFormat(strings.ToLower(cfg.Log.Format)), debug); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	util.LogDebug("Configuration loaded", util.F("config", cfgFile), util.F("output", cfg.Output.Format))
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func Execute() error {
	defer util.CloseLogger()
	return rootCmd.Execute()
}
