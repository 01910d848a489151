package model

import (
	"fmt"
	"time"
)

// EventKind discriminates the LogEvent variants.
type EventKind int

const (
	EventPlay EventKind = iota + 1
	EventPlayed
	EventRecord
	EventRecorded
	EventPause
	EventUnpause
	EventSurvey
	EventSurveyCompleted
	EventJumpTime
	EventFaster
	EventSlower
	EventVoltageDrop
	EventCategory
	EventShuttingDown
)

var eventKindNames = map[EventKind]string{
	EventPlay:            "play",
	EventPlayed:          "played",
	EventRecord:          "record",
	EventRecorded:        "recorded",
	EventPause:           "pause",
	EventUnpause:         "unpause",
	EventSurvey:          "survey",
	EventSurveyCompleted: "surveyCompleted",
	EventJumpTime:        "jumpTime",
	EventFaster:          "faster",
	EventSlower:          "slower",
	EventVoltageDrop:     "voltageDrop",
	EventCategory:        "category",
	EventShuttingDown:    "shuttingDown",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// LineInfo is the device state decoded from a log line prelude.
type LineInfo struct {
	Rotation      int           `json:"rotation"`
	Cycle         int           `json:"cycle"`
	Period        int           `json:"period"`
	DayInPeriod   int           `json:"dayInPeriod"`
	TimeInDay     time.Duration `json:"timeInDay"`
	HighVoltage   float64       `json:"highVoltage"`
	SteadyVoltage float64       `json:"steadyVoltage"`
	LowVoltage    float64       `json:"lowVoltage"`
}

// LinePosition locates a line in a log file, 1-based.
type LinePosition struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

func (p LinePosition) String() string {
	return fmt.Sprintf("%s:%d", p.File, p.Line)
}

// LineState is carried by every event. Info is nil when the prelude could not be parsed.
type LineState struct {
	Info     *LineInfo              `json:"info,omitempty"`
	Position LinePosition           `json:"position"`
	Sync     *SyncProcessingContext `json:"-"`
}

// State returns the line state; promoted to every event type.
func (s LineState) State() LineState {
	return s
}

// LogEvent is one semantic event decoded from a device log line.
type LogEvent interface {
	Kind() EventKind
	State() LineState
	// Content is the content item the event refers to, or "" when none applies.
	Content() string
}

type PlayEvent struct {
	LineState
	ContentID string
	Volume    int
	Voltage   float64
}

func (PlayEvent) Kind() EventKind { return EventPlay }
func (e PlayEvent) Content() string { return e.ContentID }

type PlayedEvent struct {
	LineState
	ContentID     string
	SecondsPlayed int
	SecondsTotal  int
	Volume        int
	Voltage       float64
	Ended         bool
}

func (PlayedEvent) Kind() EventKind { return EventPlayed }
func (e PlayedEvent) Content() string { return e.ContentID }

// RecordEvent carries a number the firmware logs after the arrow; it has no known meaning.
type RecordEvent struct {
	LineState
	ContentID string
	Number    int
}

func (RecordEvent) Kind() EventKind { return EventRecord }
func (e RecordEvent) Content() string { return e.ContentID }

type RecordedEvent struct {
	LineState
	Seconds int
}

func (RecordedEvent) Kind() EventKind { return EventRecorded }
func (RecordedEvent) Content() string { return "" }

type PauseEvent struct {
	LineState
	ContentID string
}

func (PauseEvent) Kind() EventKind { return EventPause }
func (e PauseEvent) Content() string { return e.ContentID }

type UnpauseEvent struct {
	LineState
	ContentID string
}

func (UnpauseEvent) Kind() EventKind { return EventUnpause }
func (e UnpauseEvent) Content() string { return e.ContentID }

type SurveyEvent struct {
	LineState
	ContentID string
}

func (SurveyEvent) Kind() EventKind { return EventSurvey }
func (e SurveyEvent) Content() string { return e.ContentID }

type SurveyCompletedEvent struct {
	LineState
	ContentID string
	Useful    bool
}

func (SurveyCompletedEvent) Kind() EventKind { return EventSurveyCompleted }
func (e SurveyCompletedEvent) Content() string { return e.ContentID }

type JumpTimeEvent struct {
	LineState
	ContentID string
	From      int
	To        int
}

func (JumpTimeEvent) Kind() EventKind { return EventJumpTime }
func (e JumpTimeEvent) Content() string { return e.ContentID }

type FasterEvent struct {
	LineState
}

func (FasterEvent) Kind() EventKind { return EventFaster }
func (FasterEvent) Content() string { return "" }

type SlowerEvent struct {
	LineState
}

func (SlowerEvent) Kind() EventKind { return EventSlower }
func (SlowerEvent) Content() string { return "" }

// VoltageDropEvent may follow any action; Action names the action it was attached to.
type VoltageDropEvent struct {
	LineState
	Action       string
	VoltsDropped float64
	Seconds      int
}

func (VoltageDropEvent) Kind() EventKind { return EventVoltageDrop }
func (VoltageDropEvent) Content() string { return "" }

type CategoryEvent struct {
	LineState
	CategoryID string
}

func (CategoryEvent) Kind() EventKind { return EventCategory }
func (CategoryEvent) Content() string { return "" }

type ShuttingDownEvent struct {
	LineState
}

func (ShuttingDownEvent) Kind() EventKind { return EventShuttingDown }
func (ShuttingDownEvent) Content() string { return "" }
