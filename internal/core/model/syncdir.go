package model

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	SyncVersion1 = 1
	SyncVersion2 = 2
)

var (
	// SyncTimePatternV1 is the legacy sync directory name: month, day, hour, minute, second.
	SyncTimePatternV1 = regexp.MustCompile(`(?i)^(\d+)m(\d+)d(\d+)h(\d+)m(\d+)s$`)
	// SyncTimePatternV2 is the current name: full timestamp then the carrier device id.
	SyncTimePatternV2 = regexp.MustCompile(`(?i)^(\d+)y(\d+)m(\d+)d(\d+)h(\d+)m(\d+)s-(.*)$`)
)

// SyncDirId identifies one sync session. Legacy (v1) names lack a year, which is
// inferred from the deployment. A zero DateTime marks a name that did not parse.
type SyncDirId struct {
	DirName    string    `json:"dirName"`
	DateTime   time.Time `json:"dateTime"`
	Uniquifier string    `json:"uniquifier,omitempty"`
	Version    int       `json:"version"`
}

// ParseSyncDirId parses a sync directory name. The v2 form is tried first; the
// v1 form takes its year from deployment with a correction for sessions that
// crossed a calendar year relative to the deployment's update number.
func ParseSyncDirId(deployment DeploymentId, dirName string) SyncDirId {
	if m := SyncTimePatternV2.FindStringSubmatch(dirName); m != nil {
		dt, ok := buildTime(m[1], m[2], m[3], m[4], m[5], m[6])
		if !ok {
			return SyncDirId{DirName: dirName, Uniquifier: strings.ToUpper(m[7]), Version: SyncVersion2}
		}
		return SyncDirId{DirName: dirName, DateTime: dt, Uniquifier: strings.ToUpper(m[7]), Version: SyncVersion2}
	}

	id := SyncDirId{DirName: dirName, Version: SyncVersion1}
	m := SyncTimePatternV1.FindStringSubmatch(dirName)
	if m == nil {
		return id
	}

	dt, ok := buildTime(strconv.Itoa(deployment.Year), m[1], m[2], m[3], m[4], m[5])
	if !ok {
		return id
	}

	switch month := dt.Month(); {
	case (month == time.January || month == time.February) && deployment.Update != 1 && deployment.Update != 2:
		dt = dt.AddDate(1, 0, 0)
	case (month == time.November || month == time.December) && deployment.Update == 1:
		dt = dt.AddDate(-1, 0, 0)
	}
	id.DateTime = dt
	return id
}

// OperationalSyncDirName is the sync directory name an operational record
// refers to: its update timestamp joined with the carrier device id.
func OperationalSyncDirName(updateDateTime, device string) string {
	return updateDateTime + "-" + device
}

func buildTime(year, month, day, hour, minute, second string) (time.Time, bool) {
	vals := make([]int, 6)
	for i, s := range []string{year, month, day, hour, minute, second} {
		v, err := strconv.Atoi(s)
		if err != nil {
			return time.Time{}, false
		}
		vals[i] = v
	}
	if vals[1] < 1 || vals[1] > 12 || vals[2] < 1 || vals[2] > 31 ||
		vals[3] > 23 || vals[4] > 59 || vals[5] > 59 {
		return time.Time{}, false
	}

	dt := time.Date(vals[0], time.Month(vals[1]), vals[2], vals[3], vals[4], vals[5], 0, time.UTC)
	if dt.Day() != vals[2] {
		// Day past the end of the month.
		return time.Time{}, false
	}
	return dt, true
}

// Valid reports whether the name carried a usable timestamp.
func (s SyncDirId) Valid() bool {
	return !s.DateTime.IsZero()
}

// AddMilli returns a copy one millisecond later, used to keep keys unique.
func (s SyncDirId) AddMilli() SyncDirId {
	s.DateTime = s.DateTime.Add(time.Millisecond)
	return s
}

// Equal compares directory names ignoring case.
func (s SyncDirId) Equal(o SyncDirId) bool {
	return strings.EqualFold(s.DirName, o.DirName)
}

// Key is the identity used for name-based lookups.
func (s SyncDirId) Key() string {
	return strings.ToLower(s.DirName)
}

// CompareSyncDirTime orders by timestamp, unparsed names first, then by uniquifier.
func CompareSyncDirTime(a, b SyncDirId) int {
	switch {
	case !a.Valid() && b.Valid():
		return -1
	case a.Valid() && !b.Valid():
		return 1
	case a.DateTime.Before(b.DateTime):
		return -1
	case a.DateTime.After(b.DateTime):
		return 1
	}
	return strings.Compare(a.Uniquifier, b.Uniquifier)
}

func (s SyncDirId) String() string {
	return s.DirName
}
