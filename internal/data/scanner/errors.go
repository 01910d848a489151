package scanner

import (
	"errors"
	"fmt"
)

var (
	ErrRootNotFound      = errors.New("processing root does not exist")
	ErrNoFormat          = errors.New("no manifest and no directory format set")
	ErrFormatMismatch    = errors.New("manifest format differs from the requested format")
	ErrIllegalDeployment = errors.New("illegal deployment")
	ErrLegacySyncDir     = errors.New("archive layout holds a legacy sync directory")
	ErrNoTalkingBookData = errors.New("missing required directory")
)

// MissingDirectoryError reports a root without any device/deployment data.
// It matches ErrNoTalkingBookData.
type MissingDirectoryError struct {
	Parent    string
	Directory string
}

func (e *MissingDirectoryError) Error() string {
	return fmt.Sprintf("%s: %s/%s", ErrNoTalkingBookData, e.Parent, e.Directory)
}

func (e *MissingDirectoryError) Is(target error) bool {
	return target == ErrNoTalkingBookData
}

// Path is the value recorded in the report.
func (e *MissingDirectoryError) Path() string {
	return e.Parent + "/" + e.Directory
}
