package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/penwyp/go-talkingbook-stats/internal/core/constants"
	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/aggregator"
	"github.com/penwyp/go-talkingbook-stats/internal/data/cache"
	"github.com/penwyp/go-talkingbook-stats/internal/data/pipeline"
	"github.com/penwyp/go-talkingbook-stats/internal/data/scanner"
	"github.com/penwyp/go-talkingbook-stats/internal/data/syncdir"
	"github.com/penwyp/go-talkingbook-stats/internal/presentation/formatter"
	"github.com/penwyp/go-talkingbook-stats/internal/report"
	"github.com/penwyp/go-talkingbook-stats/internal/sink"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
	"github.com/penwyp/go-talkingbook-stats/internal/validation"
)

const (
	opImport     = "import"
	opValidation = "validation"
	opSync       = "sync"
)

var (
	ErrValidationFailed = errors.New("operational validation failed")
	ErrNoRoots          = errors.New("package holds no processing roots")
)

type Config struct {
	// Package is a transfer package zip or an already extracted directory.
	Package string
	// Format is "", "sync" or "archive".
	Format         string
	Strict         bool
	Force          bool
	MinPlaySeconds int
	MaxTimeWindow  time.Duration
	// ExtractDir holds the temporary extraction of a zip; empty uses the OS default.
	ExtractDir string

	Threshold float64
	Groupings []model.Grouping
	Metrics   []model.Metric

	Filter            scanner.Filter
	OutputFormat      string
	LedgerDir         string
	OperationalLogDir string
}

type Analyzer struct {
	config *Config
	format model.DirectoryFormat
	ledger cache.Ledger
	sink   sink.Sink
	out    io.Writer
	stats  *LedgerStats
}

type Option func(*Analyzer)

// WithSink sends events, aggregations and the operation log to s.
func WithSink(s sink.Sink) Option {
	return func(a *Analyzer) { a.sink = s }
}

// WithLedger replaces the file ledger built from Config.LedgerDir.
func WithLedger(l cache.Ledger) Option {
	return func(a *Analyzer) { a.ledger = l }
}

// WithOutput sets where reports are written; stdout by default.
func WithOutput(w io.Writer) Option {
	return func(a *Analyzer) { a.out = w }
}

func New(config *Config, opts ...Option) (*Analyzer, error) {
	if config.MinPlaySeconds <= 0 {
		config.MinPlaySeconds = constants.DefaultMinPlaySeconds
	}
	if config.MaxTimeWindow <= 0 {
		config.MaxTimeWindow = constants.DefaultMaxTimeWindow
	}
	if len(config.Groupings) == 0 {
		config.Groupings = []model.Grouping{model.GroupByContent}
	}
	if len(config.Metrics) == 0 {
		config.Metrics = model.DefaultConsistencyMetrics()
	}
	if err := checkThreshold(config.Threshold); err != nil {
		return nil, err
	}
	format, err := model.ParseDirectoryFormat(config.Format)
	if err != nil {
		return nil, err
	}

	a := &Analyzer{
		config: config,
		format: format,
		sink:   sink.Nop{},
		out:    os.Stdout,
		stats:  NewLedgerStats(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.ledger == nil && config.LedgerDir != "" {
		ledger, err := cache.NewFileLedger(util.ExpandPath(config.LedgerDir))
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		if err := ledger.Preload(); err != nil {
			util.LogWarn(fmt.Sprintf("Ledger preload failed: %v", err))
		}
		a.ledger = ledger
	}
	return a, nil
}

// Stats returns the ledger outcomes of every Import so far.
func (a *Analyzer) Stats() *LedgerStats {
	return a.stats
}

// Run imports Config.Package and writes its report.
func (a *Analyzer) Run(ctx context.Context) error {
	err := a.RunPackage(ctx, a.config.Package)
	a.stats.PrintFinalStats()
	return err
}

// RunPackage imports the package at path and writes its report.
func (a *Analyzer) RunPackage(ctx context.Context, path string) error {
	rep, err := a.Import(ctx, path)
	if rep != nil {
		outputStart := time.Now()
		if outErr := a.formatAndOutput(rep); outErr != nil {
			err = multierror.Append(err, outErr).ErrorOrNil()
		}
		util.LogDebug(fmt.Sprintf("Formatting and output duration: %v", time.Since(outputStart)))
	}
	return err
}

// Import runs one transfer package through validation, the sinks and
// reconciliation. The report is returned whenever the package was looked at,
// also alongside an error.
func (a *Analyzer) Import(ctx context.Context, path string) (*formatter.Report, error) {
	startTime := time.Now()
	runID := sink.NewRunID()
	util.LogInfo("Starting import", util.F("package", path), util.F("run", runID.String()))

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat package: %w", err)
	}
	a.stats.IncrementTotal()

	rep := &formatter.Report{
		RunID:     runID.String(),
		Package:   filepath.Base(path),
		Threshold: a.config.Threshold,
		Counts:    make(map[string]int),
	}
	defer func() { rep.Duration = time.Since(startTime) }()

	// Phase 1: ledger
	ledgerStart := time.Now()
	var rec *cache.Record
	if !info.IsDir() {
		rep.PackageSize = info.Size()
		if a.ledger != nil {
			res, err := a.ledger.Lookup(path)
			if err != nil {
				a.stats.IncrementFailure()
				return nil, fmt.Errorf("ledger lookup: %w", err)
			}
			a.stats.IncrementMiss(path, res.MissReason)
			if res.Found && res.Record.State.Completed() && !a.config.Force {
				util.LogInfo(fmt.Sprintf("Package %s already imported, skipping", filepath.Base(path)),
					util.F("state", res.Record.State), util.F("run", res.Record.RunID.String()))
				a.stats.IncrementSkipped()
				rep.State = string(res.Record.State)
				rep.Message = fmt.Sprintf("already imported by run %s", res.Record.RunID)
				return rep, nil
			}
			if rec, err = a.ledger.Begin(path, res.Fingerprint); err != nil {
				a.stats.IncrementFailure()
				return nil, fmt.Errorf("ledger begin: %w", err)
			}
			rec.RunID = runID
			rep.State = string(rec.State)
		}
	}
	util.LogDebug(fmt.Sprintf("Phase 1 - Ledger duration: %v", time.Since(ledgerStart)))

	// Phase 2: extraction
	extractStart := time.Now()
	// The walk expands sync-session zips in place, so it always runs on a
	// tree owned by this run.
	dir, err := os.MkdirTemp(a.config.ExtractDir, "tbstats-")
	if err != nil {
		return a.fail(ctx, runID, rec, rep, fmt.Errorf("create extraction directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			util.LogWarn(fmt.Sprintf("Could not remove %s: %v", dir, err))
		}
	}()
	packageRoot := dir
	if info.IsDir() {
		if packageRoot, err = scanner.CopyPackage(path, dir); err != nil {
			return a.fail(ctx, runID, rec, rep, err)
		}
	} else if err := scanner.ExtractZip(path, dir); err != nil {
		return a.fail(ctx, runID, rec, rep, fmt.Errorf("extract %s: %w", filepath.Base(path), err))
	}
	util.LogDebug(fmt.Sprintf("Phase 2 - Extraction duration: %v", time.Since(extractStart)))

	result := report.NewResultTree(filepath.Base(path))
	var opLogs *scanner.OperationalLogAppender
	if a.config.OperationalLogDir != "" {
		if opLogs, err = scanner.NewOperationalLogAppender(a.config.OperationalLogDir); err != nil {
			return a.fail(ctx, runID, rec, rep, err)
		}
		defer func() {
			if err := opLogs.Close(); err != nil {
				util.LogWarn(fmt.Sprintf("Closing operational logs: %v", err))
			}
		}()
	}
	walker := scanner.NewWalker(scanner.Options{
		Format:          a.format,
		Strict:          a.config.Strict,
		Result:          result,
		OperationalLogs: opLogs,
	})

	// Phase 3: operational validation
	validateStart := time.Now()
	validator := validation.NewValidator(result, validation.Options{
		MaxTimeWindow: a.config.MaxTimeWindow,
		Strict:        a.config.Strict,
	})
	if err := walker.Walk(packageRoot, scanner.NewFilteringVisitor(validator, a.config.Filter)); err != nil {
		util.LogWarn(fmt.Sprintf("Validation walk: %v", err))
	}
	if len(walker.Roots()) == 0 {
		return a.fail(ctx, runID, rec, rep, ErrNoRoots)
	}
	verrs := validator.Errors()
	rep.Validation = verrs
	a.writeValidation(ctx, runID, verrs)
	util.LogDebug(fmt.Sprintf("Phase 3 - Validation duration: %v, errors: %d", time.Since(validateStart), len(verrs)))

	if len(verrs) > 0 && !a.config.Force {
		rep.Results = result.Rows()
		err := fmt.Errorf("%w: %d errors, first: %s", ErrValidationFailed, len(verrs), verrs[0].Message)
		return a.fail(ctx, runID, rec, rep, err)
	}
	message := ""
	if len(verrs) > 0 {
		message = fmt.Sprintf("forced past %d validation errors, first: %s", len(verrs), verrs[0].Message)
	}
	a.transition(rec, rep, cache.StateAccepted, message)

	if err := ctx.Err(); err != nil {
		return a.fail(ctx, runID, rec, rep, err)
	}

	// Phase 4: sync session processing
	processStart := time.Now()
	agg := aggregator.NewAggregationProcessor(a.config.MinPlaySeconds)
	writer := sink.NewWriter(ctx, runID, a.sink, a.sink)
	processor := syncdir.NewDirectoryProcessor(result, pipeline.Processors{agg, writer})
	processor.SetStrict(a.config.Strict)
	walkErr := walker.Walk(packageRoot, scanner.NewFilteringVisitor(processor, a.config.Filter))
	roots := walker.Roots()
	rep.Roots = rootSummaries(roots, processor)
	util.LogDebug(fmt.Sprintf("Phase 4 - Processing duration: %v, sync dirs: %d", time.Since(processStart), processor.SyncDirs()))

	if failed := failedRoots(roots); failed == len(roots) && walkErr != nil {
		rep.Results = result.Rows()
		return a.fail(ctx, runID, rec, rep, walkErr)
	}
	a.transition(rec, rep, cache.StateImported, "")

	// Phase 5: reconciliation
	reconcileStart := time.Now()
	disparities, err := NewBestViewChecker(agg).Reconcile(a.config.Groupings, a.config.Metrics, a.config.Threshold)
	if err != nil {
		return a.fail(ctx, runID, rec, rep, err)
	}
	for _, d := range disparities {
		a.logOperation(ctx, runID, sink.SeverityWarning, opSync, "Disparity between best view and device logs", d.String())
		rep.Disparities = append(rep.Disparities, formatter.DisparityRow{
			Deployment: d.Deployment.String(),
			Grouping:   d.Grouping.String(),
			Metric:     d.Metric.String(),
			Key:        d.Key,
			Count1:     d.Count1,
			Count2:     d.Count2,
			Disparity:  d.Disparity,
		})
	}
	a.logOperation(ctx, runID, sink.SeverityNormal, opSync, "finished sync",
		fmt.Sprintf("%d disparities at threshold %s", len(disparities), util.FormatRatio(a.config.Threshold)))
	util.LogDebug(fmt.Sprintf("Phase 5 - Reconciliation duration: %v, disparities: %d", time.Since(reconcileStart), len(disparities)))

	rep.Results = result.Rows()
	rep.Counts["syncDirs"] = processor.SyncDirs()
	rep.Counts["records"] = writer.Written()
	rep.Counts["sinkFailures"] = writer.Failures()
	rep.Counts["corruptFlashFiles"] = agg.CorruptFlashFiles()
	rep.Counts["deployments"] = len(NewBestViewChecker(agg).Deployments())

	if rec != nil {
		rec.Roots = len(roots)
		rec.SyncDirs = processor.SyncDirs()
		rec.Disparities = len(disparities)
	}
	doneMessage := fmt.Sprintf("%d roots, %d sync dirs", len(roots), processor.SyncDirs())
	if walkErr != nil {
		doneMessage = fmt.Sprintf("%s, %d roots failed", doneMessage, failedRoots(roots))
	}
	a.transition(rec, rep, cache.StateDone, doneMessage)
	a.stats.IncrementImported()

	util.LogInfo(fmt.Sprintf("Imported %s: %s sync dirs, %d validation errors, %d disparities in %s",
		rep.Package, util.FormatCount(int64(processor.SyncDirs())), len(verrs), len(disparities),
		util.FormatDuration(time.Since(startTime))))
	return rep, walkErr
}

// fail marks the package failed and returns cause.
func (a *Analyzer) fail(ctx context.Context, runID uuid.UUID, rec *cache.Record, rep *formatter.Report, cause error) (*formatter.Report, error) {
	util.LogError(fmt.Sprintf("Import of %s failed: %v", rep.Package, cause))
	a.stats.IncrementFailure()
	a.logOperation(ctx, runID, sink.SeverityError, opImport, "import failed", cause.Error())
	a.transition(rec, rep, cache.StateFailed, cause.Error())
	rep.Message = cause.Error()
	return rep, cause
}

func (a *Analyzer) transition(rec *cache.Record, rep *formatter.Report, to cache.State, message string) {
	if rec == nil || a.ledger == nil {
		rep.State = string(to)
		return
	}
	if err := a.ledger.Transition(rec, to, message); err != nil {
		util.LogWarn(fmt.Sprintf("Ledger update of %s failed: %v", rep.Package, err))
	}
	rep.State = string(rec.State)
}

// writeValidation stores findings in a validation sink when the sink is one,
// and in the operation log otherwise.
func (a *Analyzer) writeValidation(ctx context.Context, runID uuid.UUID, verrs []validation.Error) {
	vs, ok := a.sink.(sink.ValidationSink)
	for _, e := range verrs {
		if ok {
			if err := vs.WriteValidationError(ctx, runID, e); err != nil {
				util.LogWarn(fmt.Sprintf("Writing validation error failed: %v", err))
			}
			continue
		}
		a.logOperation(ctx, runID, sink.SeverityError, opValidation, e.Kind.String()+": "+e.Message, e.Path)
	}
}

func (a *Analyzer) logOperation(ctx context.Context, runID uuid.UUID, severity sink.Severity, operation, message, detail string) {
	err := a.sink.WriteOperationLog(ctx, sink.OperationLog{
		RunID:     runID,
		Operation: operation,
		Severity:  severity,
		Message:   message,
		Detail:    detail,
		Time:      time.Now(),
	})
	if err != nil {
		util.LogWarn(fmt.Sprintf("Writing operation log failed: %v", err))
	}
}

func (a *Analyzer) formatAndOutput(rep *formatter.Report) error {
	f, err := formatter.New(a.config.OutputFormat, a.out)
	if err != nil {
		return err
	}
	return f.Format(rep)
}

func rootSummaries(roots []scanner.RootResult, processor *syncdir.DirectoryProcessor) []formatter.RootSummary {
	out := make([]formatter.RootSummary, 0, len(roots))
	for _, r := range roots {
		s := formatter.RootSummary{
			Name:     r.Project,
			Format:   r.Format.String(),
			SyncDirs: processor.SyncDirsOf(r.Project),
		}
		switch {
		case r.Err != nil:
			s.Error = r.Err.Error()
		case r.Missing:
			s.Error = "missing " + constants.TalkingBookDataDir
		}
		out = append(out, s)
	}
	return out
}

func failedRoots(roots []scanner.RootResult) int {
	n := 0
	for _, r := range roots {
		if r.Err != nil {
			n++
		}
	}
	return n
}
