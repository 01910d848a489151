// Package snapshot decodes the binary usage counters a Talking Book keeps in
// NOR flash (flashData.bin) and the older per-content .stat files.
//
// flashData.bin layout, little-endian, 6708 bytes in total:
//
//	header (308 bytes)
//	  0  uint16  header type
//	  2  uint16  current rotation
//	  4  uint16  period
//	  6  uint16  cumulative days
//	  8  uint16  power-ups
//	 10  uint16  number of tracked messages
//	 12  [32]    serial number
//	 44  [32]    deployment name
//	 76  [32]    location (community)
//	108  [32]    content package
//	140  ...     reserved
//	message records, 100 x 64 bytes starting at 308
//	  0  uint16  struct type
//	  2  uint16  index
//	  4  uint16  profile
//	  6  uint16  rotation
//	  8  [40]    content id
//	 48  uint16  started, quarter, half, three quarters, completed,
//	             applied, useless, total seconds played
//
// Strings are ASCII padded with NUL bytes.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	FlashDataSize    = 6708
	FlashHeaderSize  = 308
	FlashRecordSize  = 64
	MaxFlashMessages = 100

	flashStringSize    = 32
	flashContentIDSize = 40
)

// ErrCorruptFile reports a snapshot whose size or content cannot be decoded.
var ErrCorruptFile = errors.New("corrupt snapshot file")

// FlashHeader is the system data block at the start of flashData.bin.
type FlashHeader struct {
	HeaderType     uint16 `json:"headerType"`
	Rotation       uint16 `json:"rotation"`
	Period         uint16 `json:"period"`
	CumulativeDays uint16 `json:"cumulativeDays"`
	Powerups       uint16 `json:"powerups"`
	TrackedCount   uint16 `json:"trackedCount"`
	SerialNumber   string `json:"serialNumber"`
	Deployment     string `json:"deployment"`
	Location       string `json:"location"`
	ContentPackage string `json:"contentPackage"`
}

// FlashMessageStats holds the counters for one content item.
type FlashMessageStats struct {
	StructType         uint16 `json:"structType"`
	Index              uint16 `json:"index"`
	Profile            uint16 `json:"profile"`
	Rotation           uint16 `json:"rotation"`
	ContentID          string `json:"contentId"`
	Started            uint16 `json:"started"`
	Quarter            uint16 `json:"quarter"`
	Half               uint16 `json:"half"`
	ThreeQuarters      uint16 `json:"threeQuarters"`
	Completed          uint16 `json:"completed"`
	Applied            uint16 `json:"applied"`
	Useless            uint16 `json:"useless"`
	TotalSecondsPlayed uint16 `json:"totalSecondsPlayed"`
}

// IsEmpty reports a record with no content id and no counts.
func (m FlashMessageStats) IsEmpty() bool {
	return m.ContentID == "" && m.Started == 0 && m.Completed == 0 && m.TotalSecondsPlayed == 0
}

// FlashData is a decoded flashData.bin.
type FlashData struct {
	Header   FlashHeader         `json:"header"`
	Messages []FlashMessageStats `json:"messages"`
}

// DecodeFlashData decodes a flashData.bin image. Only the first TrackedCount
// records are returned, capped at MaxFlashMessages.
func DecodeFlashData(b []byte) (*FlashData, error) {
	if len(b) != FlashDataSize {
		return nil, fmt.Errorf("%w: flash data is %d bytes, want %d", ErrCorruptFile, len(b), FlashDataSize)
	}

	le := binary.LittleEndian
	h := FlashHeader{
		HeaderType:     le.Uint16(b[0:]),
		Rotation:       le.Uint16(b[2:]),
		Period:         le.Uint16(b[4:]),
		CumulativeDays: le.Uint16(b[6:]),
		Powerups:       le.Uint16(b[8:]),
		TrackedCount:   le.Uint16(b[10:]),
		SerialNumber:   readString(b[12 : 12+flashStringSize]),
		Deployment:     readString(b[44 : 44+flashStringSize]),
		Location:       readString(b[76 : 76+flashStringSize]),
		ContentPackage: readString(b[108 : 108+flashStringSize]),
	}

	count := int(h.TrackedCount)
	if count > MaxFlashMessages {
		count = MaxFlashMessages
	}

	fd := &FlashData{Header: h, Messages: make([]FlashMessageStats, 0, count)}
	for i := 0; i < count; i++ {
		r := b[FlashHeaderSize+i*FlashRecordSize : FlashHeaderSize+(i+1)*FlashRecordSize]
		fd.Messages = append(fd.Messages, FlashMessageStats{
			StructType:         le.Uint16(r[0:]),
			Index:              le.Uint16(r[2:]),
			Profile:            le.Uint16(r[4:]),
			Rotation:           le.Uint16(r[6:]),
			ContentID:          readString(r[8 : 8+flashContentIDSize]),
			Started:            le.Uint16(r[48:]),
			Quarter:            le.Uint16(r[50:]),
			Half:               le.Uint16(r[52:]),
			ThreeQuarters:      le.Uint16(r[54:]),
			Completed:          le.Uint16(r[56:]),
			Applied:            le.Uint16(r[58:]),
			Useless:            le.Uint16(r[60:]),
			TotalSecondsPlayed: le.Uint16(r[62:]),
		})
	}
	return fd, nil
}

// EncodeFlashData is the inverse of DecodeFlashData.
func EncodeFlashData(fd *FlashData) []byte {
	b := make([]byte, FlashDataSize)
	le := binary.LittleEndian

	h := fd.Header
	le.PutUint16(b[0:], h.HeaderType)
	le.PutUint16(b[2:], h.Rotation)
	le.PutUint16(b[4:], h.Period)
	le.PutUint16(b[6:], h.CumulativeDays)
	le.PutUint16(b[8:], h.Powerups)
	le.PutUint16(b[10:], h.TrackedCount)
	writeString(b[12:12+flashStringSize], h.SerialNumber)
	writeString(b[44:44+flashStringSize], h.Deployment)
	writeString(b[76:76+flashStringSize], h.Location)
	writeString(b[108:108+flashStringSize], h.ContentPackage)

	for i, m := range fd.Messages {
		if i >= MaxFlashMessages {
			break
		}
		r := b[FlashHeaderSize+i*FlashRecordSize : FlashHeaderSize+(i+1)*FlashRecordSize]
		le.PutUint16(r[0:], m.StructType)
		le.PutUint16(r[2:], m.Index)
		le.PutUint16(r[4:], m.Profile)
		le.PutUint16(r[6:], m.Rotation)
		writeString(r[8:8+flashContentIDSize], m.ContentID)
		for j, v := range []uint16{m.Started, m.Quarter, m.Half, m.ThreeQuarters, m.Completed, m.Applied, m.Useless, m.TotalSecondsPlayed} {
			le.PutUint16(r[48+2*j:], v)
		}
	}
	return b
}

// LoadFlashDataFile reads a flashData.bin. A missing file or one that is not
// exactly FlashDataSize bytes yields nil with no error; the caller falls back
// to other sources.
func LoadFlashDataFile(path string) (*FlashData, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if info.IsDir() || info.Size() != FlashDataSize {
		return nil, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flash data %s: %w", path, err)
	}
	return DecodeFlashData(b)
}

// Validate returns descriptions of suspected corruption. A non-empty result
// does not make the data unusable.
func (fd *FlashData) Validate() []string {
	var problems []string
	if int(fd.Header.TrackedCount) > MaxFlashMessages {
		problems = append(problems, fmt.Sprintf("tracked message count %d exceeds %d", fd.Header.TrackedCount, MaxFlashMessages))
	}
	if !isASCII(fd.Header.SerialNumber) {
		problems = append(problems, "serial number is not ASCII")
	}

	for i, m := range fd.Messages {
		if int(m.Index) != i {
			problems = append(problems, fmt.Sprintf("message %d has index %d", i, m.Index))
		}
		if m.ContentID == "" {
			problems = append(problems, fmt.Sprintf("message %d has no content id", i))
		} else if !isASCII(m.ContentID) {
			problems = append(problems, fmt.Sprintf("message %d content id is not ASCII", i))
		}
		if m.Completed > m.Started {
			problems = append(problems, fmt.Sprintf("message %q completed %d more than started %d", m.ContentID, m.Completed, m.Started))
		}
		if int(m.Applied)+int(m.Useless) > int(m.Started) {
			problems = append(problems, fmt.Sprintf("message %q has more survey answers than plays", m.ContentID))
		}
	}
	return problems
}

func readString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

func writeString(dst []byte, s string) {
	copy(dst, s)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 || s[i] < 32 {
			return false
		}
	}
	return true
}
