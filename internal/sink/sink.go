// Package sink receives what an import produces: device log events, per
// content usage rollups and the operation log of the run.
package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/penwyp/go-talkingbook-stats/internal/validation"
)

// Severity of an operation log entry.
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityWarning
	SeverityError
)

var severityNames = []string{"NORMAL", "WARNING", "ERROR"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity resolves a severity by name, ignoring case.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(n, name) {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

// DataSource tells which view an aggregation row was taken from.
type DataSource int

const (
	SourceLogEvents DataSource = iota + 1
	SourceStatFiles
	SourceFlashData
)

func (d DataSource) String() string {
	switch d {
	case SourceLogEvents:
		return "logEvents"
	case SourceStatFiles:
		return "statFiles"
	case SourceFlashData:
		return "flashData"
	default:
		return fmt.Sprintf("DataSource(%d)", int(d))
	}
}

// Location is the sync session a record was collected in.
type Location struct {
	Project        string `json:"project,omitempty"`
	Deployment     string `json:"deployment"`
	Device         string `json:"device"`
	Village        string `json:"village"`
	TalkingBook    string `json:"talkingBook"`
	SyncDir        string `json:"syncDir"`
	ContentPackage string `json:"contentPackage,omitempty"`
}

// Event is one device log event worth keeping.
type Event struct {
	RunID uuid.UUID `json:"runId"`
	Location
	Kind      string `json:"kind"`
	ContentID string `json:"contentId,omitempty"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Rotation  int    `json:"rotation"`
	Cycle     int    `json:"cycle"`
	Period    int    `json:"period"`
	Day       int    `json:"dayInPeriod"`
	// Details holds the kind specific values, e.g. seconds played.
	Details map[string]any `json:"details,omitempty"`
}

// Aggregation is the usage of one content item in one sync session.
type Aggregation struct {
	RunID  uuid.UUID  `json:"runId"`
	Source DataSource `json:"source"`
	Location
	ContentID       string `json:"contentId"`
	Started         int    `json:"started"`
	Quarter         int    `json:"quarter"`
	Half            int    `json:"half"`
	ThreeQuarters   int    `json:"threeQuarters"`
	Completed       int    `json:"completed"`
	Applied         int    `json:"applied"`
	Useless         int    `json:"useless"`
	TotalTimePlayed int    `json:"totalTimePlayed"`
}

// OperationLog is one human readable entry about the import itself.
type OperationLog struct {
	RunID     uuid.UUID `json:"runId"`
	Operation string    `json:"operation"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	Time      time.Time `json:"time"`
}

type EventSink interface {
	WriteEvent(ctx context.Context, e Event) error
}

type AggregationSink interface {
	WriteAggregation(ctx context.Context, a Aggregation) error
}

type OperationLogSink interface {
	WriteOperationLog(ctx context.Context, l OperationLog) error
}

// ValidationSink stores the findings of operational validation.
type ValidationSink interface {
	WriteValidationError(ctx context.Context, runID uuid.UUID, e validation.Error) error
}

// Sink receives every kind of record.
type Sink interface {
	EventSink
	AggregationSink
	OperationLogSink
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) WriteEvent(context.Context, Event) error               { return nil }
func (Nop) WriteAggregation(context.Context, Aggregation) error   { return nil }
func (Nop) WriteOperationLog(context.Context, OperationLog) error { return nil }
func (Nop) Close() error                                          { return nil }

// NewRunID returns the identity shared by every record of one import run.
func NewRunID() uuid.UUID {
	return uuid.New()
}
