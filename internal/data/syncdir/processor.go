// Package syncdir replays the sync sessions found by the scanner into the
// pipeline processors: flash snapshots, device logs and legacy stats files.
package syncdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/penwyp/go-talkingbook-stats/internal/core/constants"
	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/parser"
	"github.com/penwyp/go-talkingbook-stats/internal/data/pipeline"
	"github.com/penwyp/go-talkingbook-stats/internal/data/scanner"
	"github.com/penwyp/go-talkingbook-stats/internal/data/snapshot"
	"github.com/penwyp/go-talkingbook-stats/internal/data/tbdata"
	"github.com/penwyp/go-talkingbook-stats/internal/report"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

// DirectoryProcessor is the scanner visitor that feeds a pipeline.Processor.
type DirectoryProcessor struct {
	*scanner.BaseVisitor

	processor pipeline.Processor
	current   model.ProcessingContext
	// Archived logs are copied into every later sync session of a talking
	// book; each is replayed once per talking book.
	processedLogs map[string]struct{}
	syncDirs      int
	perProject    map[string]int
	strict        bool
}

func NewDirectoryProcessor(result *report.ResultTree, processor pipeline.Processor) *DirectoryProcessor {
	return &DirectoryProcessor{
		BaseVisitor:   scanner.NewBaseVisitor(result),
		processor:     processor,
		processedLogs: make(map[string]struct{}),
		perProject:    make(map[string]int),
	}
}

// SetStrict makes an operational data file that cannot be read in full fail
// its root.
func (d *DirectoryProcessor) SetStrict(strict bool) {
	d.strict = strict
}

// SyncDirs returns the number of sync sessions processed.
func (d *DirectoryProcessor) SyncDirs() int {
	return d.syncDirs
}

// SyncDirsOf returns the number of sync sessions processed in one project.
func (d *DirectoryProcessor) SyncDirsOf(project string) int {
	return d.perProject[project]
}

func (d *DirectoryProcessor) StartProcessing(root string, manifest *model.Manifest, format model.DirectoryFormat) bool {
	util.LogInfo(fmt.Sprintf("Processing %s (%s)", filepath.Base(root), format))
	return d.BaseVisitor.StartProcessing(root, manifest, format)
}

func (d *DirectoryProcessor) StartDeviceOperationalData(device string) bool {
	d.BaseVisitor.StartDeviceOperationalData(device)
	return true
}

func (d *DirectoryProcessor) ProcessTbDataFile(path string, includesHeaders bool) error {
	util.LogDebug("Parsing operational data", util.F("file", filepath.Base(path)))
	lines, err := tbdata.ParseFile(path, includesHeaders)
	if err != nil && d.strict {
		return fmt.Errorf("operational data %s: %w", path, err)
	}
	if err != nil && !errors.Is(err, tbdata.ErrUnknownSchema) {
		util.LogError(fmt.Sprintf("Operational data %s read partially: %v", filepath.Base(path), err))
	}
	for _, line := range lines {
		d.processor.ProcessOperationalLine(line)
	}
	return nil
}

func (d *DirectoryProcessor) StartDeviceDeployment(pair model.DeviceDeploymentPair) bool {
	util.LogDebug(fmt.Sprintf("  %s (%s)", pair.Deployment, pair.Device))
	return d.BaseVisitor.StartDeviceDeployment(pair)
}

func (d *DirectoryProcessor) StartVillage(village string) bool {
	util.LogDebug("    " + village)
	return d.BaseVisitor.StartVillage(village)
}

func (d *DirectoryProcessor) StartTalkingBook(talkingBook string) bool {
	d.BaseVisitor.StartTalkingBook(talkingBook)
	d.current = model.NewProcessingContext(talkingBook, d.Village, d.Deployment, d.Device, "")
	d.processor.OnTalkingBookStart(d.current)
	clear(d.processedLogs)
	return true
}

func (d *DirectoryProcessor) EndTalkingBook() {
	d.processor.OnTalkingBookEnd(d.current)
	d.current = model.ProcessingContext{}
	clear(d.processedLogs)
	d.BaseVisitor.EndTalkingBook()
}

// ProcessSyncDir replays one sync session: flash snapshot, logs, then stats files.
func (d *DirectoryProcessor) ProcessSyncDir(id model.SyncDirId, dir string) error {
	start := time.Now()
	flashPath := filepath.Join(dir, constants.StatisticsDir, constants.FlashDataFile)
	fd, flashErr := snapshot.LoadFlashDataFile(flashPath)

	loc := Location{
		Device:      d.Device,
		Deployment:  d.Deployment,
		Village:     d.Village,
		TalkingBook: d.TalkingBook,
		Project:     d.Project,
	}
	ctx := DetermineContext(dir, loc, fd, LoadDeploymentProperties(dir))

	d.processor.OnSyncProcessingStart(ctx)
	switch {
	case flashErr != nil:
		d.processor.ProcessCorruptFlashData(ctx, flashPath, flashErr.Error())
	case fd != nil:
		if problems := fd.Validate(); len(problems) > 0 {
			util.LogError(fmt.Sprintf("Flash data looks possibly corrupt: %s", flashPath), util.F("problems", problems))
		}
		if err := d.processor.ProcessFlashData(ctx, fd); err != nil {
			return fmt.Errorf("process flash data of %s: %w", id.DirName, err)
		}
	}

	d.processLogs(dir, ctx)
	d.processStats(dir, ctx)
	d.processor.OnSyncProcessingEnd(ctx)

	d.syncDirs++
	d.perProject[d.Project]++
	util.LogDebug(fmt.Sprintf("Sync dir %s processed in %v", id.DirName, time.Since(start)))
	return nil
}

func (d *DirectoryProcessor) processLogs(dir string, ctx model.SyncProcessingContext) {
	p := parser.NewLogFileParser(d.processor, ctx)
	files, withErrors, errorCount := 0, 0, 0

	count := func(n int) {
		files++
		errorCount += n
		if n > 0 {
			withErrors++
		}
	}

	if logFile := filepath.Join(dir, constants.SyncLogDir, constants.SyncLogFile); isReadable(logFile) {
		count(d.parseLog(p, logFile))
	}

	archive := filepath.Join(dir, constants.SyncLogArchiveDir)
	if entries, err := os.ReadDir(archive); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if ok, _ := doublestar.Match(constants.SyncLogArchiveGlob, e.Name()); !ok {
				continue
			}
			if _, seen := d.processedLogs[e.Name()]; seen {
				continue
			}
			d.processedLogs[e.Name()] = struct{}{}
			count(d.parseLog(p, filepath.Join(archive, e.Name())))
		}
	}

	path := d.TalkingBookPath()
	d.Result.Add(path, report.AttrNumLogFiles, files)
	if withErrors > 0 {
		d.Result.Add(path, report.AttrNumLogFilesWithErrors, withErrors)
	}
	if errorCount > 0 {
		d.Result.Add(path, report.AttrNumLogFileErrors, errorCount)
	}
}

// parseLog returns the number of bad lines; an unreadable file counts as one.
func (d *DirectoryProcessor) parseLog(p *parser.LogFileParser, path string) int {
	n, err := p.ParseFile(path)
	if err != nil {
		util.LogError(fmt.Sprintf("Unable to process %s: %v", path, err))
		return 1
	}
	return n
}

func (d *DirectoryProcessor) processStats(dir string, ctx model.SyncProcessingContext) {
	statDir := filepath.Join(dir, constants.StatisticsDir)
	if !util.IsDir(statDir) {
		util.LogError(fmt.Sprintf("%s is missing or not a directory", statDir))
		d.Result.Set(d.TalkingBookPath(), report.AttrCorruptStatisticsDir, filepath.Base(dir))
		return
	}

	entries, err := os.ReadDir(statDir)
	if err != nil {
		util.LogError(fmt.Sprintf("Cannot read %s: %v", statDir, err))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := doublestar.Match(constants.StatsFileGlob, e.Name()); !ok {
			continue
		}
		path := filepath.Join(statDir, e.Name())
		_, contentID := snapshot.StatsFileContentID(path)
		sf, err := snapshot.ReadStatsFile(path)
		switch {
		case errors.Is(err, snapshot.ErrCorruptFile):
			d.processor.MarkStatsFileAsCorrupted(ctx, contentID, err.Error())
		case err != nil:
			util.LogError(fmt.Sprintf("Could not load stats file %s: %v", path, err))
		default:
			d.processor.ProcessStatsFile(ctx, contentID, sf)
		}
	}
}

func isReadable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
