package formatter

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

// SummaryFormatter prints totals instead of every finding.
type SummaryFormatter struct {
	out io.Writer
}

func NewSummaryFormatter(out io.Writer) *SummaryFormatter {
	return &SummaryFormatter{out: out}
}

func (f *SummaryFormatter) Format(r *Report) error {
	var sb strings.Builder

	sb.WriteString(strings.Repeat("=", 60) + "\n")
	sb.WriteString("Talking Book Statistics Import Summary\n")
	sb.WriteString(strings.Repeat("=", 60) + "\n\n")

	pkg := r.Package
	if r.PackageSize > 0 {
		pkg = fmt.Sprintf("%s (%s)", pkg, util.FormatBytes(r.PackageSize))
	}
	fmt.Fprintf(&sb, "Package:   %s\n", pkg)
	if r.State != "" {
		fmt.Fprintf(&sb, "State:     %s\n", r.State)
	}
	if r.Message != "" {
		fmt.Fprintf(&sb, "Message:   %s\n", r.Message)
	}
	fmt.Fprintf(&sb, "Run:       %s\n", r.RunID)
	fmt.Fprintf(&sb, "Duration:  %s\n\n", util.FormatDuration(r.Duration))

	syncDirs, failed := 0, 0
	for _, root := range r.Roots {
		syncDirs += root.SyncDirs
		if root.Error != "" {
			failed++
		}
	}
	sb.WriteString("Processing:\n")
	fmt.Fprintf(&sb, "  Roots:            %s (%d failed)\n", util.FormatCount(int64(len(r.Roots))), failed)
	fmt.Fprintf(&sb, "  Sync directories: %s\n", util.FormatCount(int64(syncDirs)))
	for _, key := range sortedKeys(r.Counts) {
		fmt.Fprintf(&sb, "  %-17s %s\n", key+":", util.FormatCount(int64(r.Counts[key])))
	}
	sb.WriteString("\n")

	findings := make(map[string]int)
	for _, row := range r.Results {
		findings[row.Key]++
	}
	if len(findings) > 0 {
		sb.WriteString("Findings:\n")
		for _, key := range sortedKeys(findings) {
			fmt.Fprintf(&sb, "  %-28s %s\n", key, util.FormatCount(int64(findings[key])))
		}
		sb.WriteString("\n")
	}

	kinds := make(map[string]int)
	for _, e := range r.Validation {
		kinds[e.Kind.String()]++
	}
	fmt.Fprintf(&sb, "Validation errors: %s\n", util.FormatCount(int64(len(r.Validation))))
	for _, kind := range sortedKeys(kinds) {
		fmt.Fprintf(&sb, "  %-34s %d\n", kind, kinds[kind])
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "Disparities (threshold %s): %s\n", util.FormatRatio(r.Threshold), util.FormatCount(int64(len(r.Disparities))))
	sb.WriteString("\n" + strings.Repeat("=", 60) + "\n")

	_, err := io.WriteString(f.out, sb.String())
	return err
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
