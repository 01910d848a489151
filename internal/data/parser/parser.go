// Package parser decodes Talking Book device log files into semantic events.
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/data/pipeline"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

// UnknownContent stands in for the content of a line when nothing has played yet.
const UnknownContent = "UNKNOWN"

var errNumberTooLarge = errors.New("number exceeds 16-bit range")

// sessionState is the context carried from one line of a log file to the next.
//
// Transitions:
//   - PLAY or PLAYED sets lastPlayed. A survey still open at that point is abandoned.
//   - SURVEY taken opens a survey against lastPlayed.
//   - SURVEY apply or useless completes the open survey, or one against lastPlayed when none is open.
//   - A new file starts from the zero state.
type sessionState struct {
	lastPlayed *string
	openSurvey *string
}

func (s *sessionState) played(contentID string) {
	if s.openSurvey != nil && *s.openSurvey != contentID {
		util.LogDebug("Survey abandoned", util.F("content", *s.openSurvey))
	}
	s.openSurvey = nil
	s.lastPlayed = &contentID
}

func (s *sessionState) content() string {
	if s.lastPlayed == nil {
		return UnknownContent
	}
	return *s.lastPlayed
}

func (s *sessionState) takeSurvey() string {
	c := s.content()
	s.openSurvey = &c
	return c
}

func (s *sessionState) completeSurvey() string {
	c := s.content()
	if s.openSurvey != nil {
		c = *s.openSurvey
	}
	s.openSurvey = nil
	return c
}

// LogFileParser turns each line of a device log into a LogEvent delivered to
// a pipeline.Processor. One parser serves one sync session.
type LogFileParser struct {
	processor pipeline.Processor
	sync      *model.SyncProcessingContext
	state     sessionState
}

// NewLogFileParser creates a parser for log files of one sync session.
func NewLogFileParser(processor pipeline.Processor, sync model.SyncProcessingContext) *LogFileParser {
	return &LogFileParser{processor: processor, sync: &sync}
}

// ParseFile parses the log file at path, returning the number of lines that
// could not be understood.
func (p *LogFileParser) ParseFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return p.Parse(filepath.Base(path), f)
}

// Parse reads log lines from r. Lines without an action and unknown actions
// are skipped silently; lines that match a known action but not its grammar
// are counted as errors.
func (p *LogFileParser) Parse(fileName string, r io.Reader) (int, error) {
	p.state = sessionState{}
	p.processor.OnLogFileStart(fileName)
	defer p.processor.OnLogFileEnd()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	numErrors := 0
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !p.parseLine(model.LinePosition{File: fileName, Line: lineNumber}, line) {
			numErrors++
		}
	}
	if err := scanner.Err(); err != nil {
		util.LogDebug(fmt.Sprintf("Error scanning log file: %s - %v", fileName, err))
		return numErrors, err
	}
	return numErrors, nil
}

func (p *LogFileParser) parseLine(pos model.LinePosition, line string) bool {
	m := logLinePattern.FindStringSubmatch(line)
	if m == nil {
		util.LogDebug("Skipping log line without an action", util.F("position", pos.String()), util.F("line", line))
		return true
	}
	prelude, actionName, args := m[1], m[2], m[3]

	act, known := actions[strings.ToLower(actionName)]
	if !known {
		return true
	}

	info, err := ParseLineInfo(prelude)
	if err != nil {
		util.LogDebug("Bad log line prelude", util.F("position", pos.String()), util.F("error", err))
	}
	state := model.LineState{Info: info, Position: pos, Sync: p.sync}
	if info == nil {
		p.processor.OnCorruptedLine(state, p.state.content())
	}

	if vm := voltageDropPattern.FindStringSubmatch(args); vm != nil {
		volts, err := strconv.ParseFloat(vm[1], 64)
		if err != nil {
			return p.mismatch(pos, actionName, args)
		}
		secs, _ := strconv.Atoi(vm[2])
		p.processor.OnLogEvent(model.VoltageDropEvent{LineState: state, Action: actionName, VoltsDropped: volts, Seconds: secs})
		return true
	}

	switch act {
	case actionPlay:
		return p.play(state, actionName, args)
	case actionPlayed:
		return p.playedEvent(state, actionName, args)
	case actionPlaying:
		return true
	case actionCategory:
		p.processor.OnLogEvent(model.CategoryEvent{LineState: state, CategoryID: strings.TrimSpace(args)})
		return true
	case actionPaused:
		p.processor.OnLogEvent(model.PauseEvent{LineState: state, ContentID: p.state.content()})
		return true
	case actionUnpaused:
		p.processor.OnLogEvent(model.UnpauseEvent{LineState: state, ContentID: p.state.content()})
		return true
	case actionRecord:
		return p.record(state, actionName, args)
	case actionTimeRecorded:
		rm := recordedArgsPattern.FindStringSubmatch(args)
		if rm == nil {
			return p.mismatch(pos, actionName, args)
		}
		secs, _ := strconv.Atoi(rm[1])
		p.processor.OnLogEvent(model.RecordedEvent{LineState: state, Seconds: secs})
		return true
	case actionSurvey:
		return p.survey(state, actionName, args)
	case actionShuttingDown:
		p.processor.OnLogEvent(model.ShuttingDownEvent{LineState: state})
		return true
	case actionJumpTime:
		jm := jumpTimeArgsPattern.FindStringSubmatch(args)
		if jm == nil {
			return p.mismatch(pos, actionName, args)
		}
		from, _ := strconv.Atoi(jm[1])
		to, _ := strconv.Atoi(jm[2])
		p.processor.OnLogEvent(model.JumpTimeEvent{LineState: state, ContentID: p.state.content(), From: from, To: to})
		return true
	case actionFaster:
		p.processor.OnLogEvent(model.FasterEvent{LineState: state})
		return true
	case actionSlower:
		p.processor.OnLogEvent(model.SlowerEvent{LineState: state})
		return true
	}
	return true
}

func (p *LogFileParser) play(state model.LineState, actionName, args string) bool {
	m := playArgsPattern.FindStringSubmatch(args)
	if m == nil {
		return p.mismatch(state.Position, actionName, args)
	}
	volume, _ := strconv.Atoi(m[2])
	voltage, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return p.mismatch(state.Position, actionName, args)
	}
	p.state.played(m[1])
	p.processor.OnLogEvent(model.PlayEvent{LineState: state, ContentID: m[1], Volume: volume, Voltage: voltage / 100})
	return true
}

func (p *LogFileParser) playedEvent(state model.LineState, actionName, args string) bool {
	m := playedArgsPattern.FindStringSubmatch(args)
	if m == nil {
		return p.mismatch(state.Position, actionName, args)
	}
	played, err1 := parseShort(m[2])
	total, err2 := parseShort(m[3])
	if err1 != nil || err2 != nil {
		return p.mismatch(state.Position, actionName, args)
	}
	volume, _ := strconv.Atoi(m[4])
	parts := strings.Split(m[5], "-")
	voltage, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return p.mismatch(state.Position, actionName, args)
	}
	ended := len(parts) == 2 && strings.EqualFold(parts[1], "ended")

	p.state.played(m[1])
	p.processor.OnLogEvent(model.PlayedEvent{
		LineState:     state,
		ContentID:     m[1],
		SecondsPlayed: played,
		SecondsTotal:  total,
		Volume:        volume,
		Voltage:       voltage / 100,
		Ended:         ended,
	})
	return true
}

func (p *LogFileParser) record(state model.LineState, actionName, args string) bool {
	// "Record" with a capital R and nothing else is a firmware comment.
	if actionName == "Record" {
		return true
	}
	if args == "" {
		return p.mismatch(state.Position, actionName, args)
	}
	m := recordArgsPattern.FindStringSubmatch(args)
	if m == nil {
		return p.mismatch(state.Position, actionName, args)
	}
	number, err := strconv.Atoi(m[2])
	if err != nil {
		number = 0
	}
	p.processor.OnLogEvent(model.RecordEvent{LineState: state, ContentID: m[1], Number: number})
	return true
}

func (p *LogFileParser) survey(state model.LineState, actionName, args string) bool {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "taken":
		p.processor.OnLogEvent(model.SurveyEvent{LineState: state, ContentID: p.state.takeSurvey()})
	case "apply":
		p.processor.OnLogEvent(model.SurveyCompletedEvent{LineState: state, ContentID: p.state.completeSurvey(), Useful: true})
	case "useless":
		p.processor.OnLogEvent(model.SurveyCompletedEvent{LineState: state, ContentID: p.state.completeSurvey(), Useful: false})
	default:
		return p.mismatch(state.Position, actionName, args)
	}
	return true
}

func (p *LogFileParser) mismatch(pos model.LinePosition, actionName, args string) bool {
	if args != "Feedback" {
		util.LogDebug("Log line arguments do not match action",
			util.F("position", pos.String()), util.F("action", actionName), util.F("args", args))
	}
	return false
}

// ParseLineInfo decodes a line prelude such as "2r0096c008p023d18h18m53s401/314/314V".
// Times that overflow their unit carry into the next one.
func ParseLineInfo(prelude string) (*model.LineInfo, error) {
	if m := newPreludePattern.FindStringSubmatch(prelude); m != nil && preludePattern.MatchString(m[1]) {
		prelude = m[1]
	}
	m := preludePattern.FindStringSubmatch(prelude)
	if m == nil {
		return nil, fmt.Errorf("unrecognized prelude %q", prelude)
	}

	rotation := 0
	if m[1] != "0" {
		r, err := parseShort(m[2])
		if err != nil {
			return nil, err
		}
		rotation = r
	}
	cycle, err := parseShort(m[3])
	if err != nil {
		return nil, err
	}
	period, err := parseShort(m[4])
	if err != nil {
		return nil, err
	}
	day, err := parseShort(m[5])
	if err != nil {
		return nil, err
	}
	hour, _ := strconv.Atoi(m[6])
	minute, _ := strconv.Atoi(m[7])
	second, _ := strconv.Atoi(m[8])

	minute += second / 60
	second %= 60
	hour += minute / 60
	minute %= 60
	day += hour / 24
	hour %= 24

	high, _ := strconv.ParseFloat(m[9], 64)
	steady, _ := strconv.ParseFloat(m[10], 64)
	low, _ := strconv.ParseFloat(m[11], 64)

	return &model.LineInfo{
		Rotation:      rotation,
		Cycle:         cycle,
		Period:        period,
		DayInPeriod:   day,
		TimeInDay:     time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute + time.Duration(second)*time.Second,
		HighVoltage:   high / 100,
		SteadyVoltage: steady / 100,
		LowVoltage:    low / 100,
	}, nil
}

func parseShort(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n > maxShort {
		return 0, fmt.Errorf("%w: %d", errNumberTooLarge, n)
	}
	return n, nil
}
