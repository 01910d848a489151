package aggregator

import (
	"fmt"

	"github.com/penwyp/go-talkingbook-stats/internal/core/constants"
	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/pipeline"
	"github.com/penwyp/go-talkingbook-stats/internal/data/snapshot"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

// BucketPlayed classifies a finished playback. Exactly one bucket applies,
// first match wins: ended, then three quarters, half, quarter, then a play of
// at least minSeconds. ok is false when no bucket applies.
func BucketPlayed(secondsPlayed, secondsTotal int, ended bool, minSeconds int) (bucket model.Metric, ok bool) {
	if ended {
		return model.MetricFinishedPlays, true
	}
	fraction := 0.0
	if secondsTotal > 0 {
		fraction = float64(secondsPlayed) / float64(secondsTotal)
	}
	switch {
	case fraction >= 0.75:
		return model.MetricThreeQuartersPlays, true
	case fraction >= 0.5:
		return model.MetricHalfPlays, true
	case fraction >= 0.25:
		return model.MetricQuarterPlays, true
	case secondsPlayed >= minSeconds:
		return model.MetricTenSecondPlays, true
	}
	return 0, false
}

// AggregationProcessor maintains the three aggregation views of an import:
// flash snapshots, legacy stats files and replayed device logs.
type AggregationProcessor struct {
	pipeline.NopProcessor

	Flash *StatAggregator
	Stats *StatAggregator
	Logs  *StatAggregator

	minPlaySeconds    int
	lastRecorded      string
	corruptFlashFiles int
}

// NewAggregationProcessor creates empty views. A non-positive minPlaySeconds
// uses the default.
func NewAggregationProcessor(minPlaySeconds int) *AggregationProcessor {
	if minPlaySeconds <= 0 {
		minPlaySeconds = constants.DefaultMinPlaySeconds
	}
	return &AggregationProcessor{
		Flash:          NewStatAggregator("flash"),
		Stats:          NewStatAggregator("stats"),
		Logs:           NewStatAggregator("logs"),
		minPlaySeconds: minPlaySeconds,
	}
}

// BestView returns the most authoritative view holding deployment: flash data
// when present, the legacy stats files otherwise.
func (p *AggregationProcessor) BestView(deployment model.DeploymentId) *StatAggregator {
	if p.Flash.Has(deployment) {
		return p.Flash
	}
	return p.Stats
}

// CorruptFlashFiles counts flash snapshots ignored as corrupt.
func (p *AggregationProcessor) CorruptFlashFiles() int {
	return p.corruptFlashFiles
}

func (p *AggregationProcessor) ProcessFlashData(ctx model.SyncProcessingContext, fd *snapshot.FlashData) error {
	if fd == nil {
		return nil
	}
	for _, msg := range fd.Messages {
		if msg.ContentID == "" {
			util.LogWarn("Flash record without content id",
				util.F("syncDir", ctx.SyncDirName), util.F("talkingBook", ctx.TalkingBookID), util.F("index", msg.Index))
			continue
		}
		add := func(metric model.Metric, n uint16) {
			p.Flash.Add(ctx.DeploymentID, metric, msg.ContentID, ctx.Village, ctx.TalkingBookID, int(n))
		}
		add(model.MetricStartedPlays, msg.Started)
		add(model.MetricQuarterPlays, msg.Quarter)
		add(model.MetricHalfPlays, msg.Half)
		add(model.MetricThreeQuartersPlays, msg.ThreeQuarters)
		add(model.MetricFinishedPlays, msg.Completed)
		add(model.MetricSurveyApplied, msg.Applied)
		add(model.MetricSurveyUseless, msg.Useless)
		add(model.MetricTotalTimePlayed, msg.TotalSecondsPlayed)
	}
	return nil
}

func (p *AggregationProcessor) ProcessCorruptFlashData(ctx model.SyncProcessingContext, path, reason string) {
	p.corruptFlashFiles++
	util.LogWarn(fmt.Sprintf("Ignoring corrupt flash data %s: %s", path, reason),
		util.F("talkingBook", ctx.TalkingBookID), util.F("deployment", ctx.DeploymentID.String()))
}

func (p *AggregationProcessor) ProcessStatsFile(ctx model.SyncProcessingContext, contentID string, sf *snapshot.StatsFile) {
	if sf == nil {
		return
	}
	add := func(metric model.Metric, n uint32) {
		p.Stats.Add(ctx.DeploymentID, metric, contentID, ctx.Village, ctx.TalkingBookID, int(n))
	}
	add(model.MetricTenSecondPlays, sf.OpenCount)
	add(model.MetricFinishedPlays, sf.CompletionCount)
	add(model.MetricSurveyTaken, sf.SurveyCount)
	add(model.MetricSurveyApplied, sf.AppliedCount)
	add(model.MetricSurveyUseless, sf.UselessCount)
}

func (p *AggregationProcessor) MarkStatsFileAsCorrupted(ctx model.SyncProcessingContext, contentID, reason string) {
	util.LogWarn(fmt.Sprintf("Corrupt stats file for %s: %s", contentID, reason),
		util.F("syncDir", ctx.SyncDirName), util.F("talkingBook", ctx.TalkingBookID))
	p.Stats.Add(ctx.DeploymentID, model.MetricCorruptedFiles, contentID, ctx.Village, ctx.TalkingBookID, 1)
}

func (p *AggregationProcessor) OnLogFileStart(string) {
	p.lastRecorded = ""
}

func (p *AggregationProcessor) OnLogEvent(ev model.LogEvent) {
	sync := ev.State().Sync
	if sync == nil {
		return
	}
	add := func(metric model.Metric, contentID string, n int) {
		p.Logs.Add(sync.DeploymentID, metric, contentID, sync.Village, sync.TalkingBookID, n)
	}

	switch e := ev.(type) {
	case model.PlayedEvent:
		if bucket, ok := BucketPlayed(e.SecondsPlayed, e.SecondsTotal, e.Ended, p.minPlaySeconds); ok {
			add(bucket, e.ContentID, 1)
		}
		if e.SecondsPlayed >= p.minPlaySeconds {
			add(model.MetricTotalTimePlayed, e.ContentID, e.SecondsPlayed)
		}
	case model.SurveyEvent:
		add(model.MetricSurveyTaken, e.ContentID, 1)
	case model.SurveyCompletedEvent:
		if e.Useful {
			add(model.MetricSurveyApplied, e.ContentID, 1)
		} else {
			add(model.MetricSurveyUseless, e.ContentID, 1)
		}
	case model.RecordEvent:
		p.lastRecorded = e.ContentID
		add(model.MetricRecording, e.ContentID, 1)
	case model.RecordedEvent:
		if p.lastRecorded != "" {
			add(model.MetricRecordingTime, p.lastRecorded, e.Seconds)
		}
	}
}

func (p *AggregationProcessor) OnCorruptedLine(state model.LineState, contentID string) {
	if state.Sync == nil {
		return
	}
	p.Logs.Add(state.Sync.DeploymentID, model.MetricCorruptedLines, contentID, state.Sync.Village, state.Sync.TalkingBookID, 1)
}
