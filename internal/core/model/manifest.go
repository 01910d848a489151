package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/bytedance/sonic"
)

// Manifest is the StatsPackageManifest.json document at the top of a processing root.
type Manifest struct {
	FormatVersion int                  `json:"formatVersion"`
	Devices       map[string]SyncRange `json:"devices"`
}

// SyncRange is the window in which a carrier device performed syncs.
type SyncRange struct {
	StartTime ManifestTime `json:"startTime"`
	EndTime   ManifestTime `json:"endTime"`
}

// ManifestTime accepts epoch milliseconds or any date string dateparse understands.
// It is written back as epoch milliseconds.
type ManifestTime struct {
	time.Time
}

func (mt *ManifestTime) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		mt.Time = time.Time{}
		return nil
	}

	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		mt.Time = time.UnixMilli(ms).UTC()
		return nil
	}

	var str string
	if err := sonic.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("manifest time must be a number or a string: %w", err)
	}
	t, err := dateparse.ParseIn(str, time.UTC)
	if err != nil {
		return fmt.Errorf("parse manifest time %q: %w", str, err)
	}
	mt.Time = t.UTC()
	return nil
}

func (mt ManifestTime) MarshalJSON() ([]byte, error) {
	if mt.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(mt.UnixMilli(), 10)), nil
}

// NewManifest returns an empty manifest for the given format.
func NewManifest(format DirectoryFormat) *Manifest {
	return &Manifest{
		FormatVersion: format.Version(),
		Devices:       make(map[string]SyncRange),
	}
}

// DecodeManifest parses a manifest document.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Devices == nil {
		m.Devices = make(map[string]SyncRange)
	}
	return &m, nil
}

// Encode renders the manifest as indented JSON.
func (m *Manifest) Encode() ([]byte, error) {
	return sonic.ConfigStd.MarshalIndent(m, "", "  ")
}

// Format returns the directory format the manifest declares.
func (m *Manifest) Format() (DirectoryFormat, error) {
	return DirectoryFormatFromVersion(m.FormatVersion)
}

// Observe widens the device's range to include t.
func (m *Manifest) Observe(device string, t time.Time) {
	if t.IsZero() {
		return
	}
	r, ok := m.Devices[device]
	if !ok {
		m.Devices[device] = SyncRange{StartTime: ManifestTime{t}, EndTime: ManifestTime{t}}
		return
	}
	if r.StartTime.IsZero() || t.Before(r.StartTime.Time) {
		r.StartTime = ManifestTime{t}
	}
	if r.EndTime.IsZero() || t.After(r.EndTime.Time) {
		r.EndTime = ManifestTime{t}
	}
	m.Devices[device] = r
}

// Contains reports whether t lies inside the device's range. ok is false when
// the device has no complete range.
func (m *Manifest) Contains(device string, t time.Time) (inRange, ok bool) {
	r, found := m.Devices[device]
	if !found || r.StartTime.IsZero() || r.EndTime.IsZero() {
		return false, false
	}
	return !t.Before(r.StartTime.Time) && !t.After(r.EndTime.Time), true
}
