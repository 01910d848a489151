package syncdir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penwyp/go-talkingbook-stats/internal/core/constants"
	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/aggregator"
	"github.com/penwyp/go-talkingbook-stats/internal/data/pipeline"
	"github.com/penwyp/go-talkingbook-stats/internal/data/scanner"
	"github.com/penwyp/go-talkingbook-stats/internal/data/snapshot"
	"github.com/penwyp/go-talkingbook-stats/internal/data/tbdata"
	"github.com/penwyp/go-talkingbook-stats/internal/report"
	"github.com/penwyp/go-talkingbook-stats/internal/testing/fixtures"
)

const (
	syncDir1 = "2018y03m07d14h32m05s-laptop-1"
	syncDir2 = "2018y03m09d09h00m00s-laptop-1"
	tbPath   = "UWR/laptop-1/2018-2/JIRAPA/B-000C1234"
)

type contextRecorder struct {
	pipeline.NopProcessor
	contexts []model.SyncProcessingContext
	corrupt  []string
	files    []string
	tbStarts int
	tbEnds   int
}

func (r *contextRecorder) OnTalkingBookStart(model.ProcessingContext) { r.tbStarts++ }
func (r *contextRecorder) OnTalkingBookEnd(model.ProcessingContext)   { r.tbEnds++ }

func (r *contextRecorder) OnSyncProcessingStart(ctx model.SyncProcessingContext) {
	r.contexts = append(r.contexts, ctx)
}

func (r *contextRecorder) OnLogFileStart(name string) {
	r.files = append(r.files, name)
}

func (r *contextRecorder) MarkStatsFileAsCorrupted(_ model.SyncProcessingContext, contentID, _ string) {
	r.corrupt = append(r.corrupt, contentID)
}

func newSyncDir(t *testing.T, gen *fixtures.PackageGenerator, name string) string {
	t.Helper()
	dir, err := gen.ArchiveSyncDir("UWR", "2018-2", "laptop-1", "JIRAPA", "B-000C1234", name)
	require.NoError(t, err)
	return dir
}

func writeSysFile(t *testing.T, syncDir, name, content string) {
	t.Helper()
	path := filepath.Join(syncDir, constants.SystemDir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func walk(t *testing.T, gen *fixtures.PackageGenerator, p pipeline.Processor) (*report.ResultTree, *DirectoryProcessor) {
	t.Helper()
	require.NoError(t, gen.WriteManifest("UWR", model.NewManifest(model.FormatArchive)))
	result := report.NewResultTree("test.zip")
	w := scanner.NewWalker(scanner.Options{Result: result})
	dp := NewDirectoryProcessor(result, p)
	require.NoError(t, w.Walk(gen.GetBaseDir(), dp))
	return result, dp
}

func TestParseLBTimestamp(t *testing.T) {
	ts, ok := ParseLBTimestamp("2018y03m07d14h32m05s-laptop")
	require.True(t, ok)
	assert.Equal(t, time.Date(2018, 3, 7, 14, 32, 5, 0, time.UTC), ts)

	_, ok = ParseLBTimestamp("2018y02m30d00h00m00s")
	assert.False(t, ok)
	_, ok = ParseLBTimestamp("yesterday")
	assert.False(t, ok)
}

func TestDetermineContext(t *testing.T) {
	loc := Location{Device: "laptop-1", Deployment: "2018-2", Village: "JIRAPA", TalkingBook: "B-000C1234", Project: "UWR"}

	t.Run("directory names only", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), syncDir1)
		require.NoError(t, os.MkdirAll(dir, 0755))

		ctx := DetermineContext(dir, loc, nil, nil)
		assert.Equal(t, "UWR", ctx.Project)
		assert.Equal(t, "2018-2", ctx.ContentPackage)
		assert.Equal(t, "JIRAPA", ctx.Village)
		assert.Equal(t, "B-000C1234", ctx.TalkingBookID)
		assert.Equal(t, "laptop-1", ctx.DeviceSyncedFrom)
		assert.Equal(t, 2018, ctx.DeploymentID.Year)
		assert.Equal(t, time.Date(2018, 3, 7, 14, 32, 5, 0, time.UTC), ctx.SyncTime)
		assert.True(t, ctx.DeploymentTime.IsZero())
	})

	t.Run("marker files and sysdata", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), syncDir1)
		writeSysFile(t, dir, "CARE.prj", "")
		writeSysFile(t, dir, constants.SysDataFile, "IMAGE:pkg-from-sysdata\nPROJECT:IGNORED\n")
		writeSysFile(t, dir, constants.LastUpdatedFile, "2018y02m20d08h00m00s\n")

		ctx := DetermineContext(dir, loc, nil, nil)
		assert.Equal(t, "CARE", ctx.Project)
		assert.Equal(t, "pkg-from-sysdata", ctx.ContentPackage)
		assert.Equal(t, time.Date(2018, 2, 20, 8, 0, 0, 0, time.UTC), ctx.DeploymentTime)
	})

	t.Run("flash package beats marker file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), syncDir1)
		writeSysFile(t, dir, "ENGLISH-1.pkg", "")
		fd := &snapshot.FlashData{Header: snapshot.FlashHeader{ContentPackage: "FLASH-PKG"}}

		ctx := DetermineContext(dir, loc, fd, nil)
		assert.Equal(t, "FLASH-PKG", ctx.ContentPackage)

		ctx = DetermineContext(dir, loc, &snapshot.FlashData{}, nil)
		assert.Equal(t, "ENGLISH-1", ctx.ContentPackage)
	})

	t.Run("deployment properties win", func(t *testing.T) {
		gen := fixtures.NewPackageGenerator(t.TempDir())
		dir := newSyncDir(t, gen, syncDir1)
		writeSysFile(t, dir, "CARE.prj", "")
		require.NoError(t, gen.WriteDeploymentProperties(dir, map[string]string{
			PropProject:        "MEDA",
			PropDeployment:     "2019-1",
			PropPackage:        "MEDA-2019-1-en",
			PropCommunity:      "TAMALE",
			PropTalkingBookID:  "C-00010002",
			PropRecipientID:    "abc123",
			PropTimestamp:      "20190105T101500.000Z",
			PropDeploymentUUID: "2c1f7a4e-0f44-4f0a-9c7e-0c0c0c0c0c0c",
		}))
		props := LoadDeploymentProperties(dir)
		require.NotNil(t, props)

		ctx := DetermineContext(dir, loc, nil, props)
		assert.Equal(t, "MEDA", ctx.Project)
		assert.Equal(t, "MEDA-2019-1-en", ctx.ContentPackage)
		assert.Equal(t, "TAMALE", ctx.Village)
		assert.Equal(t, "C-00010002", ctx.TalkingBookID)
		assert.Equal(t, "abc123", ctx.RecipientID)
		assert.Equal(t, 2019, ctx.DeploymentID.Year)
		assert.Equal(t, "2c1f7a4e-0f44-4f0a-9c7e-0c0c0c0c0c0c", ctx.DeploymentUUID)
		assert.Equal(t, time.Date(2019, 1, 5, 10, 15, 0, 0, time.UTC), ctx.DeploymentTime)
	})

	t.Run("missing properties file", func(t *testing.T) {
		assert.Nil(t, LoadDeploymentProperties(t.TempDir()))
	})
}

func TestProcessSyncDirs(t *testing.T) {
	gen := fixtures.NewPackageGenerator(t.TempDir())
	dir1 := newSyncDir(t, gen, syncDir1)
	dir2 := newSyncDir(t, gen, syncDir2)

	require.NoError(t, gen.WriteFlashData(dir1, &snapshot.FlashData{
		Header: snapshot.FlashHeader{TrackedCount: 1, ContentPackage: "UWR-2018-2"},
		Messages: []snapshot.FlashMessageStats{
			{ContentID: "C1", Started: 5, Quarter: 1, Completed: 3, TotalSecondsPlayed: 600},
		},
	}))
	require.NoError(t, gen.WriteLog(dir1,
		fixtures.PlayedLine(100, "C1", 30, 100, false),
		"1r0001c001p001d00h00m05s400/400/400V:PLAY missing-volume",
	))
	require.NoError(t, gen.WriteArchivedLog(dir1, "log_001.txt", fixtures.PlayedLine(200, "C1", 100, 100, true)))

	// The second session carries the same archived log plus a new one.
	require.NoError(t, gen.WriteLog(dir2, fixtures.PlayedLine(300, "C1", 12, 100, false)))
	require.NoError(t, gen.WriteArchivedLog(dir2, "log_001.txt", fixtures.PlayedLine(200, "C1", 100, 100, true)))
	require.NoError(t, gen.WriteArchivedLog(dir2, "log_002.txt", fixtures.PlayedLine(400, "C1", 80, 100, false)))
	require.NoError(t, gen.WriteStatsFile(dir2, "UWR-2018-2", "C1", &snapshot.StatsFile{OpenCount: 4, CompletionCount: 2}))
	require.NoError(t, os.WriteFile(filepath.Join(dir2, constants.StatisticsDir, "UWR-2018-2^C2.stat"), []byte("short"), 0644))

	agg := aggregator.NewAggregationProcessor(10)
	rec := &contextRecorder{}
	result, dp := walk(t, gen, pipeline.Processors{agg, rec})

	assert.Equal(t, 2, dp.SyncDirs())
	assert.Equal(t, 1, rec.tbStarts)
	assert.Equal(t, 1, rec.tbEnds)
	require.Len(t, rec.contexts, 2)
	assert.Equal(t, "UWR-2018-2", rec.contexts[0].ContentPackage)
	assert.Equal(t, "UWR", rec.contexts[0].Project)
	assert.Equal(t, []string{"log.txt", "log_001.txt", "log.txt", "log_002.txt"}, rec.files)
	assert.Equal(t, []string{"C2"}, rec.corrupt)

	dep := model.ParseDeploymentId("2018-2")
	logs := agg.Logs.Deployment(dep)
	assert.Equal(t, 1, logs.Get(model.GroupByContent, "C1", model.MetricQuarterPlays))
	assert.Equal(t, 1, logs.Get(model.GroupByContent, "C1", model.MetricFinishedPlays))
	assert.Equal(t, 1, logs.Get(model.GroupByContent, "C1", model.MetricThreeQuartersPlays))
	assert.Equal(t, 1, logs.Get(model.GroupByContent, "C1", model.MetricTenSecondPlays))

	flash := agg.Flash.Deployment(dep)
	assert.Equal(t, 3, flash.Get(model.GroupByTalkingBook, "B-000C1234", model.MetricFinishedPlays))
	assert.Equal(t, 600, flash.Get(model.GroupByContent, "C1", model.MetricTotalTimePlayed))
	assert.Same(t, agg.Flash, agg.BestView(dep))

	stats := agg.Stats.Deployment(dep)
	assert.Equal(t, 4, stats.Get(model.GroupByContent, "C1", model.MetricTenSecondPlays))
	assert.Equal(t, 1, stats.Get(model.GroupByContent, "C2", model.MetricCorruptedFiles))

	files, _ := result.Get(splitPath(tbPath), report.AttrNumLogFiles)
	assert.Equal(t, "4", files)
	withErrors, _ := result.Get(splitPath(tbPath), report.AttrNumLogFilesWithErrors)
	assert.Equal(t, "1", withErrors)
	errs, _ := result.Get(splitPath(tbPath), report.AttrNumLogFileErrors)
	assert.Equal(t, "1", errs)
	_, corruptDir := result.Get(splitPath(tbPath), report.AttrCorruptStatisticsDir)
	assert.False(t, corruptDir)
}

func TestProcessSyncDirWithoutStatistics(t *testing.T) {
	gen := fixtures.NewPackageGenerator(t.TempDir())
	dir := newSyncDir(t, gen, syncDir1)
	require.NoError(t, gen.WriteLog(dir, fixtures.PlayedLine(100, "C1", 30, 100, false)))

	result, _ := walk(t, gen, aggregator.NewAggregationProcessor(0))

	v, ok := result.Get(splitPath(tbPath), report.AttrCorruptStatisticsDir)
	require.True(t, ok)
	assert.Equal(t, syncDir1, v)
	files, _ := result.Get(splitPath(tbPath), report.AttrNumLogFiles)
	assert.Equal(t, "1", files)
	_, ok = result.Get(splitPath(tbPath), report.AttrNumLogFileErrors)
	assert.False(t, ok)
}

func TestProcessOperationalData(t *testing.T) {
	gen := fixtures.NewPackageGenerator(t.TempDir())
	newSyncDir(t, gen, syncDir1)
	_, err := gen.WriteOperationalData("UWR", "laptop-1", "tbData-v03-2018y03m07d-laptop-1.csv", []fixtures.OperationalRow{
		{"PROJECT": "UWR", "UPDATE_DATE_TIME": "2018y03m07d14h32m05s", "ACTION": "update", "OUT-SN": "B-000C1234",
			"OUT-DEPLOYMENT": "2018-2", "OUT-COMMUNITY": "JIRAPA", "IN-SN": "B-000C1234"},
	})
	require.NoError(t, err)

	var lines []model.OperationalLogLine
	rec := &opRecorder{lines: &lines}
	walk(t, gen, rec)

	require.Len(t, lines, 1)
	assert.Equal(t, "B-000C1234", lines[0].OutSN)
	assert.Equal(t, "update", lines[0].Action)
}

func TestProcessOperationalDataUnknownSchema(t *testing.T) {
	gen := fixtures.NewPackageGenerator(t.TempDir())
	newSyncDir(t, gen, syncDir1)
	_, err := gen.WriteOperationalData("UWR", "laptop-1", "tbData-v07-2018y03m07d-laptop-1.csv", []fixtures.OperationalRow{
		{"PROJECT": "UWR", "UPDATE_DATE_TIME": "2018y03m07d14h32m05s", "ACTION": "update", "OUT-SN": "B-000C1234"},
	})
	require.NoError(t, err)

	var lines []model.OperationalLogLine
	walk(t, gen, &opRecorder{lines: &lines})
	require.Len(t, lines, 1)
	assert.Equal(t, "B-000C1234", lines[0].OutSN)

	result := report.NewResultTree("test.zip")
	w := scanner.NewWalker(scanner.Options{Result: result})
	dp := NewDirectoryProcessor(result, &opRecorder{lines: &lines})
	dp.SetStrict(true)
	err = w.Walk(gen.GetBaseDir(), dp)
	assert.ErrorIs(t, err, tbdata.ErrUnknownSchema)
	require.Len(t, w.Roots(), 1)
	assert.Error(t, w.Roots()[0].Err)
}

type opRecorder struct {
	pipeline.NopProcessor
	lines *[]model.OperationalLogLine
}

func (r *opRecorder) ProcessOperationalLine(line model.OperationalLogLine) {
	*r.lines = append(*r.lines, line)
}

func splitPath(p string) []string {
	return strings.Split(p, "/")
}
