package parser

import "regexp"

// Log line grammar. A line is "prelude:ACTION:params", for example
//
//	2r0096c008p023d18h18m53s401/314/314V:PLAY TB000248_372AB558 @VOL=03 @Volt=314
var (
	logLinePattern = regexp.MustCompile(`^([^:]*):(\w+):*\s*(.*)$`)

	// rotation r cycle c period p day d hour h minute m second s high/steady/low V
	preludePattern = regexp.MustCompile(`^(0|(\d+)r)(\d+)c(\d+)p\D*(\d+)d(\d+)h(\d+)m(\d+)s(\d+)/(\d+)/(\d+)V$`)

	// Newer firmware prefixes the prelude with "0p".
	newPreludePattern = regexp.MustCompile(`^\d+p(.*)$`)

	playArgsPattern     = regexp.MustCompile(`^(\S+)\s+@VOL=(\d+)\s+@Volt=(\S+)\s*$`)
	playedArgsPattern   = regexp.MustCompile(`^(\S+)\s+(\d+)/(\d+)sec\s+@VOL=(\d+)\s+@Volt=(\S+)\s*$`)
	recordArgsPattern   = regexp.MustCompile(`^(\S+)\s+->\s+(\$?\d+(?:-\d)*)\s*$`)
	recordedArgsPattern = regexp.MustCompile(`^RECORDED\s+\(secs\):\s*(\d+)\s*$`)
	jumpTimeArgsPattern = regexp.MustCompile(`^(?:JUMP_TIME:)?(\d+)->(\d+)$`)
	voltageDropPattern  = regexp.MustCompile(`^VOLTAGE DROP:\s*([0-9.]+)v\s*in\s*(\d+)\s+sec$`)
)

type action int

const (
	actionPlay action = iota + 1
	actionPlaying
	actionPlayed
	actionCategory
	actionPaused
	actionUnpaused
	actionRecord
	actionTimeRecorded
	actionSurvey
	actionShuttingDown
	actionJumpTime
	actionFaster
	actionSlower
)

// Action names are matched ignoring case. Anything else is firmware noise.
var actions = map[string]action{
	"play":          actionPlay,
	"playing":       actionPlaying,
	"played":        actionPlayed,
	"category":      actionCategory,
	"pause":         actionPaused,
	"paused":        actionPaused,
	"unpause":       actionUnpaused,
	"unpaused":      actionUnpaused,
	"record":        actionRecord,
	"time":          actionTimeRecorded,
	"survey":        actionSurvey,
	"shutting_down": actionShuttingDown,
	"shuttingdown":  actionShuttingDown,
	"jump_time":     actionJumpTime,
	"faster":        actionFaster,
	"slower":        actionSlower,
}

// maxShort bounds fields the firmware stores as signed 16-bit values.
const maxShort = 32767
