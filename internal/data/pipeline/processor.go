// Package pipeline defines the callbacks a sync-session walk delivers to its
// consumers: aggregators, event writers and persistence sinks.
package pipeline

import (
	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/snapshot"
)

// Processor consumes the data found in Talking Book sync sessions.
type Processor interface {
	OnTalkingBookStart(ctx model.ProcessingContext)
	OnTalkingBookEnd(ctx model.ProcessingContext)
	OnSyncProcessingStart(ctx model.SyncProcessingContext)
	OnSyncProcessingEnd(ctx model.SyncProcessingContext)

	OnLogFileStart(fileName string)
	OnLogFileEnd()
	OnLogEvent(ev model.LogEvent)
	// OnCorruptedLine reports a line whose prelude could not be parsed.
	// contentID is the last content played, or "UNKNOWN".
	OnCorruptedLine(state model.LineState, contentID string)

	ProcessFlashData(ctx model.SyncProcessingContext, fd *snapshot.FlashData) error
	ProcessCorruptFlashData(ctx model.SyncProcessingContext, path, reason string)
	ProcessStatsFile(ctx model.SyncProcessingContext, contentID string, sf *snapshot.StatsFile)
	MarkStatsFileAsCorrupted(ctx model.SyncProcessingContext, contentID, reason string)

	ProcessOperationalLine(line model.OperationalLogLine)
}

// NopProcessor implements every callback as a no-op. Embed it and override
// only the callbacks of interest.
type NopProcessor struct{}

func (NopProcessor) OnTalkingBookStart(model.ProcessingContext) {}
func (NopProcessor) OnTalkingBookEnd(model.ProcessingContext) {}
func (NopProcessor) OnSyncProcessingStart(model.SyncProcessingContext) {}
func (NopProcessor) OnSyncProcessingEnd(model.SyncProcessingContext) {}
func (NopProcessor) OnLogFileStart(string) {}
func (NopProcessor) OnLogFileEnd() {}
func (NopProcessor) OnLogEvent(model.LogEvent) {}
func (NopProcessor) OnCorruptedLine(model.LineState, string) {}
func (NopProcessor) ProcessFlashData(model.SyncProcessingContext, *snapshot.FlashData) error {
	return nil
}
func (NopProcessor) ProcessCorruptFlashData(model.SyncProcessingContext, string, string) {}
func (NopProcessor) ProcessStatsFile(model.SyncProcessingContext, string, *snapshot.StatsFile) {}
func (NopProcessor) MarkStatsFileAsCorrupted(model.SyncProcessingContext, string, string) {}
func (NopProcessor) ProcessOperationalLine(model.OperationalLogLine) {}

// Processors fans every callback out to each member in order.
type Processors []Processor

func (ps Processors) OnTalkingBookStart(ctx model.ProcessingContext) {
	for _, p := range ps {
		p.OnTalkingBookStart(ctx)
	}
}

func (ps Processors) OnTalkingBookEnd(ctx model.ProcessingContext) {
	for _, p := range ps {
		p.OnTalkingBookEnd(ctx)
	}
}

func (ps Processors) OnSyncProcessingStart(ctx model.SyncProcessingContext) {
	for _, p := range ps {
		p.OnSyncProcessingStart(ctx)
	}
}

func (ps Processors) OnSyncProcessingEnd(ctx model.SyncProcessingContext) {
	for _, p := range ps {
		p.OnSyncProcessingEnd(ctx)
	}
}

func (ps Processors) OnLogFileStart(fileName string) {
	for _, p := range ps {
		p.OnLogFileStart(fileName)
	}
}

func (ps Processors) OnLogFileEnd() {
	for _, p := range ps {
		p.OnLogFileEnd()
	}
}

func (ps Processors) OnLogEvent(ev model.LogEvent) {
	for _, p := range ps {
		p.OnLogEvent(ev)
	}
}

func (ps Processors) OnCorruptedLine(state model.LineState, contentID string) {
	for _, p := range ps {
		p.OnCorruptedLine(state, contentID)
	}
}

// ProcessFlashData delivers to every member and returns the first error.
func (ps Processors) ProcessFlashData(ctx model.SyncProcessingContext, fd *snapshot.FlashData) error {
	var first error
	for _, p := range ps {
		if err := p.ProcessFlashData(ctx, fd); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (ps Processors) ProcessCorruptFlashData(ctx model.SyncProcessingContext, path, reason string) {
	for _, p := range ps {
		p.ProcessCorruptFlashData(ctx, path, reason)
	}
}

func (ps Processors) ProcessStatsFile(ctx model.SyncProcessingContext, contentID string, sf *snapshot.StatsFile) {
	for _, p := range ps {
		p.ProcessStatsFile(ctx, contentID, sf)
	}
}

func (ps Processors) MarkStatsFileAsCorrupted(ctx model.SyncProcessingContext, contentID, reason string) {
	for _, p := range ps {
		p.MarkStatsFileAsCorrupted(ctx, contentID, reason)
	}
}

func (ps Processors) ProcessOperationalLine(line model.OperationalLogLine) {
	for _, p := range ps {
		p.ProcessOperationalLine(line)
	}
}
