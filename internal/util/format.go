package util

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatCount renders a count with thousands separators.
func FormatCount(n int64) string {
	return humanize.Comma(n)
}

// FormatBytes renders a byte size in SI units, e.g. "6.7 kB".
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// FormatDuration renders a duration compactly for progress lines.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		minutes := int(d.Minutes())
		return fmt.Sprintf("%dm %ds", minutes, int(d.Seconds())-minutes*60)
	}
}

// FormatRatio renders a disparity ratio as a percentage.
func FormatRatio(r float64) string {
	return fmt.Sprintf("%.1f%%", r*100)
}
