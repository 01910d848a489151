package formatter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/penwyp/go-talkingbook-stats/internal/report"
	"github.com/penwyp/go-talkingbook-stats/internal/validation"
)

// Report is what an import run shows when it finishes.
type Report struct {
	RunID       string             `json:"runId" yaml:"runId"`
	Package     string             `json:"package" yaml:"package"`
	PackageSize int64              `json:"packageSize,omitempty" yaml:"packageSize,omitempty"`
	State       string             `json:"state,omitempty" yaml:"state,omitempty"`
	Message     string             `json:"message,omitempty" yaml:"message,omitempty"`
	Duration    time.Duration      `json:"duration" yaml:"duration"`
	Roots       []RootSummary      `json:"roots" yaml:"roots"`
	Results     []report.Row       `json:"results" yaml:"results"`
	Validation  []validation.Error `json:"validationErrors" yaml:"validationErrors"`
	Threshold   float64            `json:"threshold" yaml:"threshold"`
	Disparities []DisparityRow     `json:"disparities" yaml:"disparities"`
	Counts      map[string]int     `json:"counts,omitempty" yaml:"counts,omitempty"`
}

// RootSummary describes one processing root of the package.
type RootSummary struct {
	Name     string `json:"name" yaml:"name"`
	Format   string `json:"format" yaml:"format"`
	SyncDirs int    `json:"syncDirs" yaml:"syncDirs"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// DisparityRow is one flagged difference between two aggregation views.
type DisparityRow struct {
	Deployment string  `json:"deployment" yaml:"deployment"`
	Grouping   string  `json:"grouping" yaml:"grouping"`
	Metric     string  `json:"metric" yaml:"metric"`
	Key        string  `json:"key" yaml:"key"`
	Count1     int     `json:"count1" yaml:"count1"`
	Count2     int     `json:"count2" yaml:"count2"`
	Disparity  float64 `json:"disparity" yaml:"disparity"`
}

type Formatter interface {
	Format(r *Report) error
}

// Formats lists the accepted output format names.
var Formats = []string{"table", "json", "csv", "yaml", "summary"}

// New returns the formatter for name writing to out (stdout when nil).
func New(name string, out io.Writer) (Formatter, error) {
	if out == nil {
		out = os.Stdout
	}
	switch strings.ToLower(name) {
	case "", "table":
		return NewTableFormatter(out), nil
	case "json":
		return NewJSONFormatter(out), nil
	case "csv":
		return NewCSVFormatter(out), nil
	case "yaml", "yml":
		return NewYAMLFormatter(out), nil
	case "summary":
		return NewSummaryFormatter(out), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want one of %s)", name, strings.Join(Formats, ", "))
	}
}

func joinPath(path []string) string {
	if len(path) == 0 {
		return "/"
	}
	return strings.Join(path, "/")
}
