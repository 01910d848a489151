package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/penwyp/go-talkingbook-stats/internal/analyzer"
	"github.com/penwyp/go-talkingbook-stats/internal/config"
	"github.com/penwyp/go-talkingbook-stats/internal/data/cache"
	"github.com/penwyp/go-talkingbook-stats/internal/sink"
	"github.com/penwyp/go-talkingbook-stats/internal/sink/postgres"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
	"github.com/spf13/cobra"
)

var (
	// Walk related flags
	importFormat         string
	importStrict         bool
	importForce          bool
	importMinPlaySeconds int
	importMaxTimeWindow  time.Duration
	importExtractDir     string

	// Reconciliation flags
	importThreshold float64
	importGroupBy   []string
	importMetrics   []string

	// Filtering flags
	importDevice      string
	importDeployment  string
	importVillage     string
	importTalkingBook string

	// Storage flags
	importLedgerDir         string
	importPostgresDSN       string
	importOperationalLogDir string
	importReset             bool
)

var importCmd = &cobra.Command{
	Use:   "import <package>",
	Short: "Import a transfer package",
	Long: `Imports a transfer package zip, or an already extracted package directory.

The package is validated against the operational data of the carrier tool
first. A package with validation errors is rejected unless --force is given.
A package the ledger records as imported is skipped unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	addImportFlags(importCmd)
}

// addImportFlags registers the flags shared by import and watch.
func addImportFlags(cmd *cobra.Command) {
	// Walk flags
	cmd.Flags().StringVar(&importFormat, "format", "",
		"Expected directory format (sync, archive); empty accepts the manifest's")
	cmd.Flags().BoolVar(&importStrict, "strict", false,
		"Fail a root on format or naming inconsistencies")
	cmd.Flags().BoolVarP(&importForce, "force", "f", false,
		"Import despite validation errors or an earlier import")
	cmd.Flags().IntVar(&importMinPlaySeconds, "min-play-seconds", 0,
		"Seconds a play must last to count as a ten second play")
	cmd.Flags().DurationVar(&importMaxTimeWindow, "max-time-window", 0,
		"Window matching legacy sync directories to operational data")
	cmd.Flags().StringVar(&importExtractDir, "extract-dir", "",
		"Directory for temporary package extraction")

	// Reconciliation flags
	cmd.Flags().Float64Var(&importThreshold, "threshold", 0,
		"Relative disparity above which views are reported as inconsistent")
	cmd.Flags().StringSliceVar(&importGroupBy, "group-by", nil,
		"Reconciliation groupings (content, village, talkingbook)")
	cmd.Flags().StringSliceVar(&importMetrics, "metrics", nil,
		"Reconciled metrics (e.g. tenSecondPlays,finishedPlays)")

	// Filter flags
	cmd.Flags().StringVar(&importDevice, "device", "", "Only import this carrier device")
	cmd.Flags().StringVar(&importDeployment, "deployment", "", "Only import this deployment")
	cmd.Flags().StringVar(&importVillage, "village", "", "Only import this village")
	cmd.Flags().StringVar(&importTalkingBook, "talking-book", "", "Only import this talking book")

	// Storage flags
	cmd.Flags().StringVar(&importLedgerDir, "ledger-dir", "",
		"Import ledger directory")
	cmd.Flags().StringVar(&importPostgresDSN, "postgres-dsn", "",
		"PostgreSQL DSN; without it the operation log is printed to stderr")
	cmd.Flags().StringVar(&importOperationalLogDir, "operational-log-dir", "",
		"Directory accumulating the carrier tool's operational logs")
	cmd.Flags().BoolVarP(&importReset, "reset", "r", false,
		"Clear the import ledger first")
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := applyImportFlags(cmd, cfg); err != nil {
		return err
	}
	ctx, stop := signalContext(cmd)
	defer stop()

	a, s, err := newAnalyzer(ctx, cmd, cfg, args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	return a.Run(ctx)
}

// applyImportFlags overrides c with the flags given on the command line.
func applyImportFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("format") {
		c.Import.Format = importFormat
	}
	if flags.Changed("strict") {
		c.Import.Strict = importStrict
	}
	if flags.Changed("force") {
		c.Import.Force = importForce
	}
	if flags.Changed("min-play-seconds") {
		c.Import.MinPlaySeconds = importMinPlaySeconds
	}
	if flags.Changed("max-time-window") {
		c.Import.MaxTimeWindow = importMaxTimeWindow
	}
	if flags.Changed("extract-dir") {
		c.Import.ExtractDir = importExtractDir
	}
	if flags.Changed("threshold") {
		c.Reconcile.Threshold = importThreshold
	}
	if flags.Changed("group-by") {
		c.Reconcile.Groupings = importGroupBy
	}
	if flags.Changed("metrics") {
		c.Reconcile.Metrics = importMetrics
	}
	if flags.Changed("device") {
		c.Filter.Device = importDevice
	}
	if flags.Changed("deployment") {
		c.Filter.Deployment = importDeployment
	}
	if flags.Changed("village") {
		c.Filter.Village = importVillage
	}
	if flags.Changed("talking-book") {
		c.Filter.TalkingBook = importTalkingBook
	}
	if flags.Changed("ledger-dir") {
		c.Ledger.Dir = importLedgerDir
	}
	if flags.Changed("postgres-dsn") {
		c.Postgres.DSN = importPostgresDSN
	}
	if flags.Changed("operational-log-dir") {
		c.OperationalLogDir = importOperationalLogDir
	}
	return c.Validate()
}

// analyzerConfig translates the loaded configuration for one package.
func analyzerConfig(c *config.Config, pkg string) (*analyzer.Config, error) {
	groupings, err := c.Groupings()
	if err != nil {
		return nil, err
	}
	metrics, err := c.Metrics()
	if err != nil {
		return nil, err
	}
	ac := &analyzer.Config{
		Package:        pkg,
		Format:         c.Import.Format,
		Strict:         c.Import.Strict,
		Force:          c.Import.Force,
		MinPlaySeconds: c.Import.MinPlaySeconds,
		MaxTimeWindow:  c.Import.MaxTimeWindow,
		Threshold:      c.Reconcile.Threshold,
		Groupings:      groupings,
		Metrics:        metrics,
		Filter:         c.Filter,
		OutputFormat:   c.Output.Format,
	}
	if pkg != "" {
		ac.Package = util.ExpandPath(pkg)
	}
	if c.Import.ExtractDir != "" {
		ac.ExtractDir = util.ExpandPath(c.Import.ExtractDir)
	}
	if c.Ledger.Dir != "" {
		ac.LedgerDir = util.ExpandPath(c.Ledger.Dir)
	}
	if c.OperationalLogDir != "" {
		ac.OperationalLogDir = util.ExpandPath(c.OperationalLogDir)
	}
	return ac, nil
}

// openSink returns the postgres store when a DSN is configured, otherwise a
// console operation log on w, coloured only on a terminal.
func openSink(ctx context.Context, c *config.Config, w io.Writer) (sink.Sink, error) {
	if c.Postgres.DSN == "" {
		return sink.NewConsole(w, c.Output.NoColor || !util.IsTerminal(w)), nil
	}
	db, err := postgres.Open(ctx, c.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	store := postgres.NewStore(postgres.NewSQLDB(db), db)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	util.LogInfo("Writing to postgres", util.F("dsn", config.RedactDSN(c.Postgres.DSN)))
	return store, nil
}

// newAnalyzer builds an analyzer writing reports to the command's output and
// returns the sink the caller must close.
func newAnalyzer(ctx context.Context, cmd *cobra.Command, c *config.Config, pkg string) (*analyzer.Analyzer, sink.Sink, error) {
	ac, err := analyzerConfig(c, pkg)
	if err != nil {
		return nil, nil, err
	}

	if importReset && ac.LedgerDir != "" {
		if err := clearLedger(ac.LedgerDir); err != nil {
			return nil, nil, fmt.Errorf("failed to clear ledger: %w", err)
		}
		util.LogInfo("Ledger cleared")
	}

	s, err := openSink(ctx, c, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	a, err := analyzer.New(ac, analyzer.WithSink(s), analyzer.WithOutput(cmd.OutOrStdout()))
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return a, s, nil
}

func clearLedger(dir string) error {
	ledger, err := cache.NewFileLedger(dir)
	if err != nil {
		return err
	}
	return ledger.Clear()
}
