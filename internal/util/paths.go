package util

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// ExpandPath expands a leading "~" and makes the path absolute.
func ExpandPath(path string) string {
	if expanded, err := homedir.Expand(path); err == nil {
		path = expanded
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}

func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// IsHiddenName reports names skipped during discovery: dot files and
// "_"-prefixed folders such as __MACOSX.
func IsHiddenName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

// ListSubdirs returns the non-hidden subdirectory names of dir in directory order.
// A missing or unreadable dir yields no entries.
func ListSubdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !IsHiddenName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// FindChildFold returns the child of dir whose name equals name ignoring case.
func FindChildFold(dir, name string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name(), name) {
			return filepath.Join(dir, e.Name()), true
		}
	}
	return "", false
}
