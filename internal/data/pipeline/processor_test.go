package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/snapshot"
)

type recorder struct {
	NopProcessor
	name  string
	calls *[]string
	err   error
}

func (r recorder) OnLogFileStart(fileName string) {
	*r.calls = append(*r.calls, r.name+":start:"+fileName)
}

func (r recorder) OnCorruptedLine(_ model.LineState, contentID string) {
	*r.calls = append(*r.calls, r.name+":corrupt:"+contentID)
}

func (r recorder) ProcessFlashData(model.SyncProcessingContext, *snapshot.FlashData) error {
	*r.calls = append(*r.calls, r.name+":flash")
	return r.err
}

func TestProcessorsFanOutInOrder(t *testing.T) {
	var calls []string
	ps := Processors{
		recorder{name: "a", calls: &calls},
		recorder{name: "b", calls: &calls},
	}

	ps.OnLogFileStart("log.txt")
	ps.OnCorruptedLine(model.LineState{}, "UNKNOWN")
	// Callbacks a member does not override fall through to NopProcessor.
	ps.OnLogFileEnd()
	ps.ProcessStatsFile(model.SyncProcessingContext{}, "C1", nil)

	assert.Equal(t, []string{"a:start:log.txt", "b:start:log.txt", "a:corrupt:UNKNOWN", "b:corrupt:UNKNOWN"}, calls)
}

func TestProcessorsFlashDataReturnsFirstError(t *testing.T) {
	var calls []string
	first := errors.New("first")
	ps := Processors{
		recorder{name: "a", calls: &calls},
		recorder{name: "b", calls: &calls, err: first},
		recorder{name: "c", calls: &calls, err: errors.New("second")},
	}

	err := ps.ProcessFlashData(model.SyncProcessingContext{}, &snapshot.FlashData{})
	assert.ErrorIs(t, err, first)
	// Every member still receives the snapshot.
	assert.Equal(t, []string{"a:flash", "b:flash", "c:flash"}, calls)
}

func TestEmptyProcessors(t *testing.T) {
	var ps Processors
	assert.NotPanics(t, func() {
		ps.OnTalkingBookStart(model.ProcessingContext{})
		ps.ProcessOperationalLine(model.OperationalLogLine{})
	})
	assert.NoError(t, ps.ProcessFlashData(model.SyncProcessingContext{}, nil))
}
