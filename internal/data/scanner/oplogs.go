package scanner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

type opLogKind struct {
	pattern *regexp.Regexp
	target  string
}

var opLogKinds = []opLogKind{
	{regexp.MustCompile(`(?i)^tbData-(\d+)y(\d+)m(\d+)d-(.*).log$`), "tbDataAll.log"},
	{regexp.MustCompile(`(?i)^statsData-(\d+)y(\d+)m(\d+)d-(.*).log$`), "statsDataAll.log"},
	{regexp.MustCompile(`(?i)^deployments-(\d+)y(\d+)m(\d+)d-(.*).log$`), "deploymentsAll.log"},
}

// OperationalLogAppender concatenates the carrier tool's .log files into one
// file per kind. Target files are truncated the first time they are written
// in a run.
type OperationalLogAppender struct {
	dir   string
	files map[string]*os.File
}

// NewOperationalLogAppender accumulates into dir, which must exist.
func NewOperationalLogAppender(dir string) (*OperationalLogAppender, error) {
	dir = util.ExpandPath(dir)
	if !util.IsDir(dir) {
		return nil, fmt.Errorf("operational log directory %s must exist and be a directory", dir)
	}
	return &OperationalLogAppender{dir: dir, files: make(map[string]*os.File)}, nil
}

// Dir returns the accumulation directory.
func (a *OperationalLogAppender) Dir() string {
	return a.dir
}

// AppendDir appends every operational log in tbDataDir and returns how many
// files were appended.
func (a *OperationalLogAppender) AppendDir(tbDataDir string) (int, error) {
	entries, err := os.ReadDir(tbDataDir)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", tbDataDir, err)
	}

	count := 0
	for _, kind := range opLogKinds {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if ok, _ := doublestar.Match("*.log", strings.ToLower(e.Name())); !ok || !kind.pattern.MatchString(e.Name()) {
				continue
			}
			if err := a.append(kind.target, filepath.Join(tbDataDir, e.Name())); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func (a *OperationalLogAppender) append(target, source string) error {
	out, ok := a.files[target]
	if !ok {
		var err error
		out, err = os.OpenFile(filepath.Join(a.dir, target), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("open %s: %w", target, err)
		}
		a.files[target] = out
	}

	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open %s: %w", source, err)
	}
	defer in.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("append %s to %s: %w", source, target, err)
	}
	// Files should end with a newline but not all do.
	_, err = out.Write([]byte("\n"))
	return err
}

// Close flushes and closes every accumulated file.
func (a *OperationalLogAppender) Close() error {
	var result *multierror.Error
	for name, f := range a.files {
		if err := f.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", name, err))
		}
		delete(a.files, name)
	}
	return result.ErrorOrNil()
}
