package snapshot

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StatsFileSize is the length of a .stat record: five little-endian uint32 counters.
const StatsFileSize = 20

const statsFileExt = ".stat"

// StatsFile is the legacy per-content counter record.
type StatsFile struct {
	OpenCount       uint32 `json:"openCount"`
	CompletionCount uint32 `json:"completionCount"`
	SurveyCount     uint32 `json:"surveyCount"`
	AppliedCount    uint32 `json:"appliedCount"`
	UselessCount    uint32 `json:"uselessCount"`
}

// DecodeStatsFile decodes a .stat record. Any length other than StatsFileSize
// is reported as ErrCorruptFile.
func DecodeStatsFile(b []byte) (*StatsFile, error) {
	if len(b) != StatsFileSize {
		return nil, fmt.Errorf("%w: stats file is %d bytes, want %d", ErrCorruptFile, len(b), StatsFileSize)
	}
	le := binary.LittleEndian
	return &StatsFile{
		OpenCount:       le.Uint32(b[0:]),
		CompletionCount: le.Uint32(b[4:]),
		SurveyCount:     le.Uint32(b[8:]),
		AppliedCount:    le.Uint32(b[12:]),
		UselessCount:    le.Uint32(b[16:]),
	}, nil
}

// Encode renders the record in its on-disk form.
func (s *StatsFile) Encode() []byte {
	b := make([]byte, StatsFileSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], s.OpenCount)
	le.PutUint32(b[4:], s.CompletionCount)
	le.PutUint32(b[8:], s.SurveyCount)
	le.PutUint32(b[12:], s.AppliedCount)
	le.PutUint32(b[16:], s.UselessCount)
	return b
}

// ReadStatsFile loads and decodes a .stat file.
func ReadStatsFile(path string) (*StatsFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeStatsFile(b)
}

// StatsFileContentID splits a "package^contentId.stat" file name. A name
// without "^" is taken whole as the content id.
func StatsFileContentID(path string) (pkg, contentID string) {
	name := strings.TrimSuffix(filepath.Base(path), statsFileExt)
	if i := strings.IndexByte(name, '^'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
