package tbdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/penwyp/go-talkingbook-stats/internal/core/model"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

// Between 2017-07-24 and late 2017 the carrier tool dropped five columns
// (OUT-DEPLOYMENT through OUT-ROTATION-DATE) from "stats-only" rows, which
// slid IN-SN into the OUT-DEPLOYMENT column.
const (
	statsOnlyMissingColumns = 5
	statsOnlyFixStart       = "2017Y07M24"
)

var serialNumberPattern = regexp.MustCompile(`(?i)^[AB]-[0-9a-f]{8}$`)

type setter func(line *model.OperationalLogLine, value string)

func dateSetter(heading string, set func(*model.OperationalLogLine, time.Time)) setter {
	return func(line *model.OperationalLogLine, value string) {
		if value == "" {
			return
		}
		t, err := dateparse.ParseAny(value)
		if err != nil {
			util.LogError(fmt.Sprintf("Invalid date value %s. Ignoring field %s.", value, heading))
			return
		}
		set(line, t)
	}
}

var setters = map[string]setter{
	colProject:        func(l *model.OperationalLogLine, v string) { l.Project = v },
	colUpdateDateTime: func(l *model.OperationalLogLine, v string) { l.UpdateDateTime = v },
	colOutSyncDir:     func(l *model.OperationalLogLine, v string) { l.OutSyncDir = v },
	colLocation:       func(l *model.OperationalLogLine, v string) { l.Location = v },
	colAction:         func(l *model.OperationalLogLine, v string) { l.Action = v },
	colDurationSec: func(l *model.OperationalLogLine, v string) {
		n, err := strconv.Atoi(v)
		if err != nil {
			util.LogError(fmt.Sprintf("Invalid integer value %s. Ignoring field %s.", v, colDurationSec))
			return
		}
		l.DurationSec = n
	},
	colOutSN:           func(l *model.OperationalLogLine, v string) { l.OutSN = v },
	colOutDeployment:   func(l *model.OperationalLogLine, v string) { l.OutDeployment = v },
	colOutImage:        func(l *model.OperationalLogLine, v string) { l.OutImage = v },
	colOutFwRev:        func(l *model.OperationalLogLine, v string) { l.OutFirmware = v },
	colOutCommunity:    func(l *model.OperationalLogLine, v string) { l.OutCommunity = v },
	colOutRotationDate: dateSetter(colOutRotationDate, func(l *model.OperationalLogLine, t time.Time) { l.OutRotationDate = t }),
	colInSN:            func(l *model.OperationalLogLine, v string) { l.InSN = v },
	colInDeployment:    func(l *model.OperationalLogLine, v string) { l.InDeployment = v },
	colInImage:         func(l *model.OperationalLogLine, v string) { l.InImage = v },
	colInFwRev:         func(l *model.OperationalLogLine, v string) { l.InFirmware = v },
	colInCommunity:     func(l *model.OperationalLogLine, v string) { l.InCommunity = v },
	colInLastUpdated:   dateSetter(colInLastUpdated, func(l *model.OperationalLogLine, t time.Time) { l.InLastUpdated = t }),
	colInSyncDir:       func(l *model.OperationalLogLine, v string) { l.InSyncDir = v },
	colInDiskLabel:     func(l *model.OperationalLogLine, v string) { l.InDiskLabel = v },
	colChkdskCorruption: func(l *model.OperationalLogLine, v string) {
		l.DiskCorrupted = v
	},
	"FLASH-SN":           func(l *model.OperationalLogLine, v string) { l.FlashSN = v },
	"FLASH-REFLASHES":    func(l *model.OperationalLogLine, v string) { l.FlashReflashes = v },
	"FLASH-DEPLOYMENT":   func(l *model.OperationalLogLine, v string) { l.FlashDeployment = v },
	"FLASH-IMAGE":        func(l *model.OperationalLogLine, v string) { l.FlashImage = v },
	"FLASH-COMMUNITY":    func(l *model.OperationalLogLine, v string) { l.FlashCommunity = v },
	"FLASH-LAST-UPDATED": func(l *model.OperationalLogLine, v string) { l.FlashLastUpdated = v },
	"FLASH-CUM-DAYS":     func(l *model.OperationalLogLine, v string) { l.FlashCumDays = v },
	"FLASH-VOLT":         func(l *model.OperationalLogLine, v string) { l.FlashVolt = v },
	"FLASH-POWERUPS":     func(l *model.OperationalLogLine, v string) { l.FlashPowerups = v },
	"FLASH-PERIODS":      func(l *model.OperationalLogLine, v string) { l.FlashPeriods = v },
	"FLASH-ROTATIONS":    func(l *model.OperationalLogLine, v string) { l.FlashRotations = v },
	"FLASH-MSGS":         func(l *model.OperationalLogLine, v string) { l.FlashMsgs = v },
	"FLASH-MINUTES":      func(l *model.OperationalLogLine, v string) { l.FlashMinutes = v },
	"FLASH-STARTS":       func(l *model.OperationalLogLine, v string) { l.FlashStarts = v },
	"FLASH-PARTIAL":      func(l *model.OperationalLogLine, v string) { l.FlashPartial = v },
	"FLASH-HALF":         func(l *model.OperationalLogLine, v string) { l.FlashHalf = v },
	"FLASH-MOST":         func(l *model.OperationalLogLine, v string) { l.FlashMost = v },
	"FLASH-ALL":          func(l *model.OperationalLogLine, v string) { l.FlashAll = v },
	"FLASH-APPLIED":      func(l *model.OperationalLogLine, v string) { l.FlashApplied = v },
	"FLASH-USELESS":      func(l *model.OperationalLogLine, v string) { l.FlashUseless = v },
}

// ParseFile reads a tbData CSV file. When includesHeaders is set and the
// first row starts with the layout's anchor heading, that row defines the
// columns; otherwise the layout implied by the file name is used.
func ParseFile(path string, includesHeaders bool) ([]model.OperationalLogLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(filepath.Base(path), f, includesHeaders)
}

// Parse reads tbData rows from r. name selects the layout. A name without a
// known layout is read with the current one and the rows are returned together
// with an error wrapping ErrUnknownSchema.
func Parse(name string, r io.Reader, includesHeaders bool) ([]model.OperationalLogLine, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	schema, schemaErr := SchemaForFile(name)
	if schemaErr != nil {
		util.LogWarn("Reading operational data with the current layout", util.F("file", name), util.F("error", schemaErr.Error()))
	}
	fix := statsOnlyFix{}
	var lines []model.OperationalLogLine

	for rowNumber := 1; ; rowNumber++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return lines, fmt.Errorf("failed to read %s row %d: %w", name, rowNumber, err)
		}

		if rowNumber == 1 && includesHeaders {
			if len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), schema.Anchor) {
				var dupes int
				schema, dupes = schemaFromHeader(schema.Version, row)
				fix = newStatsOnlyFix(schema, len(schema.Columns)+dupes-statsOnlyMissingColumns)
				continue
			}
			fix = newStatsOnlyFix(schema, len(schema.Columns)-statsOnlyMissingColumns)
		}

		row = fix.apply(row)
		line := decodeRow(row, schema)
		line.SourceFile = name
		line.LineNumber = rowNumber
		lines = append(lines, line)
	}
	return lines, schemaErr
}

func decodeRow(row []string, schema Schema) model.OperationalLogLine {
	var line model.OperationalLogLine
	for heading, set := range setters {
		i, ok := schema.index(heading)
		if !ok || i >= len(row) {
			continue
		}
		set(&line, row[i])
	}
	return line
}

// statsOnlyFix re-inserts the columns dropped from "stats-only" rows.
type statsOnlyFix struct {
	enabled        bool
	length         int
	updateIndex    int
	actionIndex    int
	firstMissingIx int
}

func newStatsOnlyFix(schema Schema, length int) statsOnlyFix {
	u, ok1 := schema.index(colUpdateDateTime)
	a, ok2 := schema.index(colAction)
	m, ok3 := schema.index(colOutDeployment)
	return statsOnlyFix{
		enabled:        ok1 && ok2 && ok3,
		length:         length,
		updateIndex:    u,
		actionIndex:    a,
		firstMissingIx: m,
	}
}

func (f statsOnlyFix) apply(row []string) []string {
	if !f.enabled || len(row) != f.length {
		return row
	}
	if f.updateIndex >= len(row) || f.actionIndex >= len(row) || f.firstMissingIx >= len(row) {
		return row
	}
	if !strings.EqualFold(row[f.actionIndex], model.ActionStatsOnly) ||
		strings.ToUpper(row[f.updateIndex]) <= statsOnlyFixStart ||
		!serialNumberPattern.MatchString(row[f.firstMissingIx]) {
		return row
	}
	util.LogWarn("Applying 'stats-only' column fix", util.F("updateDateTime", row[f.updateIndex]))

	fixed := make([]string, 0, len(row)+statsOnlyMissingColumns)
	fixed = append(fixed, row[:f.firstMissingIx]...)
	fixed = append(fixed, make([]string, statsOnlyMissingColumns)...)
	fixed = append(fixed, row[f.firstMissingIx:]...)
	return fixed
}
