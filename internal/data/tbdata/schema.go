// Package tbdata reads the CSV operational records ("tbData" files) written by
// the carrier tool each time it syncs a Talking Book.
package tbdata

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrUnknownSchema reports a file whose name carries no known layout version.
var ErrUnknownSchema = errors.New("unknown tbData schema version")

// Schema maps a column heading to its index in a row. Headings may share an
// index: the oldest layouts use the timestamp column as the sync directory too.
type Schema struct {
	Version int
	// Anchor is the heading expected in column 0 of a header row.
	Anchor  string
	Columns map[string]int
}

func (s Schema) index(heading string) (int, bool) {
	i, ok := s.Columns[heading]
	return i, ok
}

// Column headings.
const (
	colProject          = "PROJECT"
	colUpdateDateTime   = "UPDATE_DATE_TIME"
	colOutSyncDir       = "OUT_SYNCH_DIR"
	colLocation         = "LOCATION"
	colAction           = "ACTION"
	colDurationSec      = "DURATION_SEC"
	colOutSN            = "OUT-SN"
	colOutDeployment    = "OUT-DEPLOYMENT"
	colOutImage         = "OUT-IMAGE"
	colOutFwRev         = "OUT-FW-REV"
	colOutCommunity     = "OUT-COMMUNITY"
	colOutRotationDate  = "OUT-ROTATION-DATE"
	colInSN             = "IN-SN"
	colInDeployment     = "IN-DEPLOYMENT"
	colInImage          = "IN-IMAGE"
	colInFwRev          = "IN-FW-REV"
	colInCommunity      = "IN-COMMUNITY"
	colInLastUpdated    = "IN-LAST-UPDATED"
	colInSyncDir        = "IN-SYNCH-DIR"
	colInDiskLabel      = "IN-DISK-LABEL"
	colChkdskCorruption = "CHKDSK CORRUPTION?"
)

// SchemaV3 is the current layout. The FLASH-*-R* columns repeat per rotation.
var SchemaV3 = Schema{
	Version: 3,
	Anchor:  colProject,
	Columns: map[string]int{
		colProject: 0, colUpdateDateTime: 1, colOutSyncDir: 2, colLocation: 3, colAction: 4,
		colDurationSec: 5, colOutSN: 6, colOutDeployment: 7, colOutImage: 8, colOutFwRev: 9,
		colOutCommunity: 10, colOutRotationDate: 11, colInSN: 12, colInDeployment: 13,
		colInImage: 14, colInFwRev: 15, colInCommunity: 16, colInLastUpdated: 17,
		colInSyncDir: 18, colInDiskLabel: 19, colChkdskCorruption: 20,
		"FLASH-SN": 21, "FLASH-REFLASHES": 22, "FLASH-DEPLOYMENT": 23, "FLASH-IMAGE": 24,
		"FLASH-COMMUNITY": 25, "FLASH-LAST-UPDATED": 26, "FLASH-CUM-DAYS": 27,
		"FLASH-CORRUPTION-DAY": 28, "FLASH-VOLT": 29, "FLASH-POWERUPS": 30, "FLASH-PERIODS": 31,
		"FLASH-ROTATIONS": 32, "FLASH-MSGS": 33, "FLASH-MINUTES": 34, "FLASH-STARTS": 35,
		"FLASH-PARTIAL": 36, "FLASH-HALF": 37, "FLASH-MOST": 38, "FLASH-ALL": 39,
		"FLASH-APPLIED": 40, "FLASH-USELESS": 41,
		"FLASH-MINUTES-R0": 41, "FLASH-PERIOD-R0": 42, "FLASH-HRS-POST-UPDATE-R0": 43, "FLASH-VOLT-R0": 44,
		"FLASH-ROTATION": 45,
		"FLASH-MINUTES-R1": 46, "FLASH-PERIOD-R1": 47, "FLASH-HRS-POST-UPDATE-R1": 48, "FLASH-VOLT-R1": 49,
		"FLASH-MINUTES-R2": 50, "FLASH-PERIOD-R2": 51, "FLASH-HRS-POST-UPDATE-R2": 52, "FLASH-VOLT-R2": 53,
		"FLASH-MINUTES-R3": 54, "FLASH-PERIOD-R3": 55, "FLASH-HRS-POST-UPDATE-R3": 56, "FLASH-VOLT-R3": 57,
		"FLASH-MINUTES-R4": 58, "FLASH-PERIOD-R4": 59, "FLASH-HRS-POST-UPDATE-R4": 60, "FLASH-VOLT-R4": 61,
	},
}

// SchemaV1 is the 2016 layout.
var SchemaV1 = Schema{
	Version: 1,
	Anchor:  colUpdateDateTime,
	Columns: map[string]int{
		colUpdateDateTime: 0, colInSyncDir: 0, colInSN: 2, colAction: 3, colInDeployment: 4,
		colInCommunity: 5, colOutSN: 8, colOutDeployment: 9, colOutCommunity: 10,
	},
}

// SchemaV0 is the original layout.
var SchemaV0 = Schema{
	Version: 0,
	Anchor:  colUpdateDateTime,
	Columns: map[string]int{
		colUpdateDateTime: 0, colInSyncDir: 0, colAction: 2, colOutSN: 3, colOutDeployment: 4,
		colOutCommunity: 7, colInSN: 9, colInDeployment: 10, colInCommunity: 13,
	},
}

// SchemaForFile picks the layout from the two characters after "tbData-v"
// ("tbData-v03-..." is version 3). A name that is too short, not numeric there
// or names a version without a layout gets the current layout and an error
// wrapping ErrUnknownSchema.
func SchemaForFile(name string) (Schema, error) {
	if len(name) < 10 {
		return SchemaV3, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	v, err := strconv.Atoi(name[8:10])
	if err != nil {
		return SchemaV3, fmt.Errorf("%w: %s has version %q", ErrUnknownSchema, name, name[8:10])
	}
	switch v {
	case 0:
		return SchemaV0, nil
	case 1:
		return SchemaV1, nil
	case 3:
		return SchemaV3, nil
	default:
		return SchemaV3, fmt.Errorf("%w: %s has version %d", ErrUnknownSchema, name, v)
	}
}

// schemaFromHeader builds a layout from a header row. Repeated headings keep
// their last index; the count of repeats is returned alongside.
func schemaFromHeader(version int, row []string) (Schema, int) {
	cols := make(map[string]int, len(row))
	dupes := 0
	for i, h := range row {
		if _, seen := cols[h]; seen {
			dupes++
		}
		cols[h] = i
	}
	anchor := ""
	if len(row) > 0 {
		anchor = row[0]
	}
	return Schema{Version: version, Anchor: anchor, Columns: cols}, dupes
}
