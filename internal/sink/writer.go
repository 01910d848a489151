package sink

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/pipeline"
	"github.com/penwyp/go-talkingbook-stats/internal/data/snapshot"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

// Writer is the pipeline processor that forwards events and usage rollups to
// the sinks. Sink failures are logged and counted, never returned to the walk.
type Writer struct {
	pipeline.NopProcessor

	ctx          context.Context
	runID        uuid.UUID
	events       EventSink
	aggregations AggregationSink

	// Per log file state.
	lastPlay        *model.PlayEvent
	openSurvey      *model.SurveyEvent
	recordedContent string

	written  int
	failures int
}

func NewWriter(ctx context.Context, runID uuid.UUID, events EventSink, aggregations AggregationSink) *Writer {
	if events == nil {
		events = Nop{}
	}
	if aggregations == nil {
		aggregations = Nop{}
	}
	return &Writer{ctx: ctx, runID: runID, events: events, aggregations: aggregations}
}

// Written returns the number of records delivered.
func (w *Writer) Written() int { return w.written }

// Failures returns the number of records a sink rejected.
func (w *Writer) Failures() int { return w.failures }

func (w *Writer) OnLogFileStart(string) {
	w.lastPlay = nil
	w.openSurvey = nil
	w.recordedContent = ""
}

func (w *Writer) OnLogEvent(ev model.LogEvent) {
	switch e := ev.(type) {
	case model.PlayEvent:
		w.lastPlay = &e
	case model.PlayedEvent:
		if e.Info != nil {
			percent := 0.0
			if e.SecondsTotal > 0 {
				percent = float64(e.SecondsPlayed) / float64(e.SecondsTotal)
			}
			w.writeEvent(e.LineState, "played", e.ContentID, map[string]any{
				"timePlayed":  e.SecondsPlayed,
				"totalTime":   e.SecondsTotal,
				"percentDone": percent,
				"volume":      e.Volume,
				"finished":    e.Ended,
			})
		}
		w.lastPlay = nil
	case model.RecordEvent:
		w.recordedContent = e.ContentID
	case model.RecordedEvent:
		if e.Info != nil && w.recordedContent != "" {
			w.writeEvent(e.LineState, "recorded", w.recordedContent, map[string]any{"secondsRecorded": e.Seconds})
		}
	case model.SurveyEvent:
		// A survey opened while another is pending closes the first without an answer.
		if w.openSurvey != nil && w.openSurvey.Info != nil {
			w.writeEvent(w.openSurvey.LineState, "survey", w.openSurvey.ContentID, map[string]any{"useful": nil})
		}
		w.openSurvey = &e
	case model.SurveyCompletedEvent:
		if w.openSurvey != nil && e.Info != nil {
			w.writeEvent(w.openSurvey.LineState, "survey", e.ContentID, map[string]any{"useful": e.Useful})
		}
		w.openSurvey = nil
	case model.JumpTimeEvent:
		if w.lastPlay != nil {
			w.writeEvent(w.lastPlay.LineState, "jump", w.lastPlay.ContentID, map[string]any{"from": e.From, "to": e.To})
		}
	case model.FasterEvent:
		w.writeEvent(e.LineState, "faster", "", nil)
	case model.SlowerEvent:
		w.writeEvent(e.LineState, "slower", "", nil)
	}
}

func (w *Writer) writeEvent(state model.LineState, kind, contentID string, details map[string]any) {
	ev := Event{
		RunID:     w.runID,
		Kind:      kind,
		ContentID: contentID,
		File:      state.Position.File,
		Line:      state.Position.Line,
		Details:   details,
	}
	if state.Sync != nil {
		ev.Location = locationOf(*state.Sync)
	}
	if info := state.Info; info != nil {
		ev.Rotation = info.Rotation
		ev.Cycle = info.Cycle
		ev.Period = info.Period
		ev.Day = info.DayInPeriod
	}
	w.record(fmt.Sprintf("%s event at %s", kind, state.Position), w.events.WriteEvent(w.ctx, ev))
}

func (w *Writer) ProcessFlashData(ctx model.SyncProcessingContext, fd *snapshot.FlashData) error {
	if fd == nil {
		return nil
	}
	loc := locationOf(ctx)
	if loc.ContentPackage == "" {
		loc.ContentPackage = fd.Header.ContentPackage
	}
	for _, msg := range fd.Messages {
		if msg.ContentID == "" {
			continue
		}
		agg := Aggregation{
			RunID:           w.runID,
			Source:          SourceFlashData,
			Location:        loc,
			ContentID:       msg.ContentID,
			Started:         int(msg.Started),
			Quarter:         int(msg.Quarter),
			Half:            int(msg.Half),
			ThreeQuarters:   int(msg.ThreeQuarters),
			Completed:       int(msg.Completed),
			Applied:         int(msg.Applied),
			Useless:         int(msg.Useless),
			TotalTimePlayed: int(msg.TotalSecondsPlayed),
		}
		w.record("flash aggregation of "+msg.ContentID, w.aggregations.WriteAggregation(w.ctx, agg))
	}
	return nil
}

func (w *Writer) ProcessStatsFile(ctx model.SyncProcessingContext, contentID string, sf *snapshot.StatsFile) {
	if sf == nil {
		return
	}
	agg := Aggregation{
		RunID:     w.runID,
		Source:    SourceStatFiles,
		Location:  locationOf(ctx),
		ContentID: contentID,
		Started:   int(sf.OpenCount),
		Completed: int(sf.CompletionCount),
		Applied:   int(sf.AppliedCount),
		Useless:   int(sf.UselessCount),
	}
	w.record("stats aggregation of "+contentID, w.aggregations.WriteAggregation(w.ctx, agg))
}

func (w *Writer) record(what string, err error) {
	if err != nil {
		w.failures++
		util.LogError(fmt.Sprintf("Failed to write %s: %v", what, err))
		return
	}
	w.written++
}

func locationOf(ctx model.SyncProcessingContext) Location {
	return Location{
		Project:        ctx.Project,
		Deployment:     ctx.DeploymentID.String(),
		Device:         ctx.DeviceSyncedFrom,
		Village:        ctx.Village,
		TalkingBook:    ctx.TalkingBookID,
		SyncDir:        ctx.SyncDirName,
		ContentPackage: ctx.ContentPackage,
	}
}

var _ pipeline.Processor = (*Writer)(nil)
