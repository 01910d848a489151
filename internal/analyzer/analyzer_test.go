package analyzer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/cache"
	"github.com/penwyp/go-talkingbook-stats/internal/presentation/formatter"
	"github.com/penwyp/go-talkingbook-stats/internal/report"
	"github.com/penwyp/go-talkingbook-stats/internal/sink"
	"github.com/penwyp/go-talkingbook-stats/internal/testing/fixtures"
)

const (
	device     = "laptop-1"
	deployment = "2018-2"
	village    = "JIRAPA"
	talkingBk  = "B-000C1234"
	syncName   = "2018y03m07d14h32m05s-laptop-1"
	opFile     = "tbData-v03-2018y03m07d-laptop-1.csv"
)

type memorySink struct {
	sink.Nop
	mu     sync.Mutex
	events []sink.Event
	oplog  []sink.OperationLog
}

func (m *memorySink) WriteEvent(_ context.Context, e sink.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memorySink) WriteOperationLog(_ context.Context, l sink.OperationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oplog = append(m.oplog, l)
	return nil
}

func (m *memorySink) severities() []sink.Severity {
	out := make([]sink.Severity, len(m.oplog))
	for i, l := range m.oplog {
		out[i] = l.Severity
	}
	return out
}

func operationalRow(community string) fixtures.OperationalRow {
	return fixtures.OperationalRow{
		"PROJECT":          "UWR",
		"UPDATE_DATE_TIME": "2018y03m07d14h32m05s",
		"ACTION":           "update",
		"OUT-SN":           talkingBk,
		"OUT-DEPLOYMENT":   "2018-3",
		"OUT-COMMUNITY":    village,
		"IN-SN":            talkingBk,
		"IN-DEPLOYMENT":    deployment,
		"IN-COMMUNITY":     community,
	}
}

// buildPackage zips an Archive project with one sync session holding a short
// play of C1, which the logs count and no snapshot does.
func buildPackage(t *testing.T, community string) string {
	t.Helper()
	gen := fixtures.NewPackageGenerator(filepath.Join(t.TempDir(), "pkg"))
	dir, err := gen.ArchiveSyncDir("UWR", deployment, device, village, talkingBk, syncName)
	require.NoError(t, err)
	require.NoError(t, gen.WriteLog(dir, fixtures.PlayedLine(60, "C1", 15, 100, false)))
	_, err = gen.WriteOperationalData("UWR", device, opFile, []fixtures.OperationalRow{operationalRow(community)})
	require.NoError(t, err)

	m := model.NewManifest(model.FormatArchive)
	m.Observe(device, time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC))
	m.Observe(device, time.Date(2018, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, gen.WriteManifest("UWR", m))

	zipPath := filepath.Join(t.TempDir(), "upload.zip")
	require.NoError(t, gen.ZipPackage(zipPath))
	return zipPath
}

func newAnalyzer(t *testing.T, config *Config, opts ...Option) *Analyzer {
	t.Helper()
	if config.ExtractDir == "" {
		config.ExtractDir = t.TempDir()
	}
	a, err := New(config, opts...)
	require.NoError(t, err)
	return a
}

func TestNewDefaults(t *testing.T) {
	a := newAnalyzer(t, &Config{Threshold: 0.1})
	assert.Equal(t, 10, a.config.MinPlaySeconds)
	assert.Equal(t, 10*time.Minute, a.config.MaxTimeWindow)
	assert.Equal(t, []model.Grouping{model.GroupByContent}, a.config.Groupings)
	assert.Equal(t, model.DefaultConsistencyMetrics(), a.config.Metrics)
	assert.Equal(t, model.FormatUnknown, a.format)
	assert.Nil(t, a.ledger)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(&Config{Threshold: -1})
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = New(&Config{Format: "floppy"})
	assert.Error(t, err)
}

func TestImportReconcilesViews(t *testing.T) {
	pkg := buildPackage(t, village)
	ledger, err := cache.NewFileLedger(t.TempDir())
	require.NoError(t, err)
	mem := &memorySink{}
	a := newAnalyzer(t, &Config{Format: "archive", Threshold: 0.1}, WithSink(mem), WithLedger(ledger))

	rep, err := a.Import(context.Background(), pkg)
	require.NoError(t, err)
	require.NotNil(t, rep)

	assert.Equal(t, "upload.zip", rep.Package)
	assert.Equal(t, string(cache.StateDone), rep.State)
	assert.Empty(t, rep.Validation)
	require.Len(t, rep.Roots, 1)
	assert.Equal(t, formatter.RootSummary{Name: "UWR", Format: "Archive", SyncDirs: 1}, rep.Roots[0])
	assert.Equal(t, 1, rep.Counts["syncDirs"])

	require.Len(t, rep.Disparities, 1)
	d := rep.Disparities[0]
	assert.Equal(t, "C1", d.Key)
	assert.Equal(t, "tenSecondPlays", d.Metric)
	assert.Equal(t, 0, d.Count1)
	assert.Equal(t, 1, d.Count2)
	assert.Equal(t, 1.0, d.Disparity)

	assert.Equal(t, []sink.Severity{sink.SeverityWarning, sink.SeverityNormal}, mem.severities())
	assert.Equal(t, "finished sync", mem.oplog[1].Message)

	records := ledger.Records()
	require.Len(t, records, 1)
	assert.Equal(t, cache.StateDone, records[0].State)
	assert.Equal(t, 1, records[0].Disparities)
	assert.Equal(t, rep.RunID, records[0].RunID.String())
}

func TestImportSkipsImportedPackage(t *testing.T) {
	pkg := buildPackage(t, village)
	ledger, err := cache.NewFileLedger(t.TempDir())
	require.NoError(t, err)
	a := newAnalyzer(t, &Config{Threshold: 0.1}, WithLedger(ledger))

	first, err := a.Import(context.Background(), pkg)
	require.NoError(t, err)

	second, err := a.Import(context.Background(), pkg)
	require.NoError(t, err)
	assert.Equal(t, string(cache.StateDone), second.State)
	assert.Contains(t, second.Message, first.RunID)
	assert.Empty(t, second.Roots)

	total, skipped, imported, _ := a.Stats().GetStats()
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), skipped)
	assert.Equal(t, int64(1), imported)

	forced := newAnalyzer(t, &Config{Threshold: 0.1, Force: true}, WithLedger(ledger))
	third, err := forced.Import(context.Background(), pkg)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, third.RunID)
	assert.Len(t, third.Roots, 1)
}

func TestImportFailsOnValidationErrors(t *testing.T) {
	pkg := buildPackage(t, "TAMALE")
	ledger, err := cache.NewFileLedger(t.TempDir())
	require.NoError(t, err)
	mem := &memorySink{}
	a := newAnalyzer(t, &Config{Threshold: 0.1}, WithSink(mem), WithLedger(ledger))

	rep, err := a.Import(context.Background(), pkg)
	require.ErrorIs(t, err, ErrValidationFailed)
	require.NotNil(t, rep)
	assert.Equal(t, string(cache.StateFailed), rep.State)
	require.Len(t, rep.Validation, 1)
	assert.Empty(t, rep.Disparities)
	// One entry per validation error, then the failure itself.
	assert.Equal(t, []sink.Severity{sink.SeverityError, sink.SeverityError}, mem.severities())
	assert.Empty(t, mem.events)

	forced := newAnalyzer(t, &Config{Threshold: 0.1, Force: true}, WithLedger(ledger))
	rep, err = forced.Import(context.Background(), pkg)
	require.NoError(t, err)
	assert.Equal(t, string(cache.StateDone), rep.State)
	assert.Len(t, rep.Validation, 1)
}

func TestImportDirectory(t *testing.T) {
	gen := fixtures.NewPackageGenerator(t.TempDir())
	dir, err := gen.ArchiveSyncDir("UWR", deployment, device, village, talkingBk, syncName)
	require.NoError(t, err)
	require.NoError(t, gen.WriteLog(dir, fixtures.PlayedLine(60, "C1", 100, 100, true)))

	a := newAnalyzer(t, &Config{Format: "archive", Threshold: 0.1, Force: true})
	rep, err := a.Import(context.Background(), gen.GetBaseDir())
	require.NoError(t, err)
	assert.Zero(t, rep.PackageSize)
	assert.Equal(t, string(cache.StateDone), rep.State)
	require.Len(t, rep.Roots, 1)
	assert.Equal(t, 1, rep.Roots[0].SyncDirs)
}

func TestImportDirectoryLeavesInputUntouched(t *testing.T) {
	gen := fixtures.NewPackageGenerator(t.TempDir())
	dir, err := gen.ArchiveSyncDir("UWR", deployment, device, village, talkingBk, syncName)
	require.NoError(t, err)
	require.NoError(t, gen.WriteLog(dir, fixtures.PlayedLine(60, "C1", 100, 100, true)))
	corrupt := dir + ".zip"
	require.NoError(t, os.WriteFile(corrupt, []byte("not a zip"), 0644))

	staged := filepath.Join(t.TempDir(), "2018y03m08d10h00m00s-laptop-1")
	require.NoError(t, gen.WriteLog(staged, fixtures.PlayedLine(60, "C2", 100, 100, true)))
	unit := filepath.Join(filepath.Dir(dir), filepath.Base(staged)+".zip")
	require.NoError(t, gen.ZipDir(staged, unit, true))

	a := newAnalyzer(t, &Config{Format: "archive", Threshold: 0.1, Force: true})
	rep, err := a.Import(context.Background(), gen.GetBaseDir())
	require.NoError(t, err)
	require.Len(t, rep.Roots, 1)
	assert.Equal(t, "UWR", rep.Roots[0].Name)
	assert.Equal(t, 2, rep.Roots[0].SyncDirs)
	assert.Contains(t, rep.Results, report.Row{
		Path:  []string{"UWR", device, deployment, village, talkingBk},
		Key:   report.AttrCorruptTBZip,
		Value: syncName + ".zip",
	})

	assert.FileExists(t, corrupt)
	assert.FileExists(t, filepath.Join(dir, "log", "log.txt"))
	assert.FileExists(t, unit)
	assert.NoDirExists(t, filepath.Join(filepath.Dir(dir), filepath.Base(staged)))
}

func TestImportWithoutRoots(t *testing.T) {
	a := newAnalyzer(t, &Config{Threshold: 0.1})
	rep, err := a.Import(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoRoots)
	require.NotNil(t, rep)
	assert.Equal(t, string(cache.StateFailed), rep.State)
}

func TestImportMissingPackage(t *testing.T) {
	a := newAnalyzer(t, &Config{Threshold: 0.1})
	rep, err := a.Import(context.Background(), filepath.Join(t.TempDir(), "absent.zip"))
	assert.Error(t, err)
	assert.Nil(t, rep)
}

func TestRunWritesReport(t *testing.T) {
	pkg := buildPackage(t, village)
	var out bytes.Buffer
	a := newAnalyzer(t, &Config{Package: pkg, Threshold: 0.1, OutputFormat: "json"}, WithOutput(&out))

	require.NoError(t, a.Run(context.Background()))

	var decoded formatter.Report
	require.NoError(t, sonic.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "upload.zip", decoded.Package)
	assert.Len(t, decoded.Disparities, 1)
}

func TestRunRejectsUnknownOutputFormat(t *testing.T) {
	pkg := buildPackage(t, village)
	a := newAnalyzer(t, &Config{Package: pkg, Threshold: 0.1, OutputFormat: "xml"}, WithOutput(&bytes.Buffer{}))
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}
