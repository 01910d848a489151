package model

import (
	"fmt"
	"strings"
)

// DirectoryFormat is the on-disk layout of a processing root.
type DirectoryFormat int

const (
	// FormatUnknown means no format was declared and none has been resolved yet.
	FormatUnknown DirectoryFormat = 0
	// FormatSync is the legacy layout: device/collected-data/deployment/village/unit/sync.
	FormatSync DirectoryFormat = 1
	// FormatArchive is the current layout: TalkingBookData/deployment/device/village/unit/sync.
	FormatArchive DirectoryFormat = 2
)

// DirectoryFormatFromVersion maps a manifest format version to a DirectoryFormat.
func DirectoryFormatFromVersion(version int) (DirectoryFormat, error) {
	switch version {
	case 1:
		return FormatSync, nil
	case 2:
		return FormatArchive, nil
	default:
		return FormatUnknown, fmt.Errorf("no directory format corresponds to version %d", version)
	}
}

// ParseDirectoryFormat accepts "sync", "archive", "1", "2" or "" (unknown).
func ParseDirectoryFormat(s string) (DirectoryFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return FormatUnknown, nil
	case "sync", "1":
		return FormatSync, nil
	case "archive", "2":
		return FormatArchive, nil
	default:
		return FormatUnknown, fmt.Errorf("unknown directory format %q", s)
	}
}

// Version is the numeric form stored in manifests.
func (f DirectoryFormat) Version() int {
	return int(f)
}

func (f DirectoryFormat) String() string {
	switch f {
	case FormatSync:
		return "Sync"
	case FormatArchive:
		return "Archive"
	default:
		return "Unknown"
	}
}
