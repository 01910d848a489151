// Package validation cross-checks the carrier tool's operational records
// against the sync directories actually present in a transfer package.
package validation

import (
	"fmt"
	"strings"
)

// Kind classifies a validation finding.
type Kind int

const (
	KindNoMatchingOperationalData Kind = iota
	KindMultipleOperationalMatches
	KindUnmatchedOperationalEntries
	KindIncorrectSyncDirProperties
	KindOperationalFileInvalidProperties
	KindEmptySyncDirectory
	KindInvalidSyncDirFormat
	KindManifestDoesNotContainDevice
	KindManifestHasWrongDeviceRanges
)

var kindNames = map[Kind]string{
	KindNoMatchingOperationalData:        "NoMatchingOperationalData",
	KindMultipleOperationalMatches:       "MultipleOperationalMatches",
	KindUnmatchedOperationalEntries:      "UnmatchedOperationalEntries",
	KindIncorrectSyncDirProperties:       "IncorrectSyncDirProperties",
	KindOperationalFileInvalidProperties: "OperationalFileInvalidProperties",
	KindEmptySyncDirectory:               "EmptySyncDirectory",
	KindInvalidSyncDirFormat:             "InvalidSyncDirFormat",
	KindManifestDoesNotContainDevice:     "ManifestDoesNotContainDevice",
	KindManifestHasWrongDeviceRanges:     "ManifestHasWrongDeviceRanges",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON and YAML output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// PropertyMismatch is one value that disagrees between an operational record
// and what was found on disk.
type PropertyMismatch struct {
	Property string `json:"property" yaml:"property"`
	Expected string `json:"expected" yaml:"expected"`
	Actual   string `json:"actual" yaml:"actual"`
	// Line is the row of the operational file, when the mismatch is in one.
	Line int `json:"line,omitempty" yaml:"line,omitempty"`
}

func (p PropertyMismatch) String() string {
	s := fmt.Sprintf("%s: expected %q, found %q", p.Property, p.Expected, p.Actual)
	if p.Line > 0 {
		s = fmt.Sprintf("line %d %s", p.Line, s)
	}
	return s
}

// Error is one validation finding. Findings never abort an import; they are
// collected and reported at the end of the run.
type Error struct {
	Kind    Kind   `json:"kind" yaml:"kind"`
	Message string `json:"message" yaml:"message"`
	// Path is the directory or file the finding is about.
	Path       string             `json:"path,omitempty" yaml:"path,omitempty"`
	Mismatches []PropertyMismatch `json:"mismatches,omitempty" yaml:"mismatches,omitempty"`
	// Entries lists the unmatched operational records.
	Entries []string `json:"entries,omitempty" yaml:"entries,omitempty"`
}

func (e Error) String() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	for _, m := range e.Mismatches {
		sb.WriteString("\n  ")
		sb.WriteString(m.String())
	}
	for _, entry := range e.Entries {
		sb.WriteString("\n  ")
		sb.WriteString(entry)
	}
	return sb.String()
}
