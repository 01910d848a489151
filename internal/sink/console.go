package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Console prints the operation log to a terminal and discards events and
// aggregations.
type Console struct {
	Nop

	mu      sync.Mutex
	out     io.Writer
	counts  map[Severity]int
	colored map[Severity]*color.Color
}

// NewConsole writes to out, or stdout when out is nil. Colour follows the
// fatih/color terminal detection unless noColor is set.
func NewConsole(out io.Writer, noColor bool) *Console {
	if out == nil {
		out = os.Stdout
	}
	c := &Console{
		out:    out,
		counts: make(map[Severity]int),
		colored: map[Severity]*color.Color{
			SeverityNormal:  color.New(color.FgGreen),
			SeverityWarning: color.New(color.FgYellow),
			SeverityError:   color.New(color.FgRed, color.Bold),
		},
	}
	if noColor {
		for _, col := range c.colored {
			col.DisableColor()
		}
	}
	return c
}

func (c *Console) WriteOperationLog(_ context.Context, l OperationLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[l.Severity]++
	col, ok := c.colored[l.Severity]
	if !ok {
		col = color.New(color.Reset)
	}
	if _, err := col.Fprintf(c.out, "[%s] %s: %s\n", l.Severity, l.Operation, l.Message); err != nil {
		return fmt.Errorf("write operation log: %w", err)
	}
	if l.Detail != "" {
		if _, err := fmt.Fprintf(c.out, "    %s\n", l.Detail); err != nil {
			return fmt.Errorf("write operation log: %w", err)
		}
	}
	return nil
}

// Count returns how many entries of a severity were written.
func (c *Console) Count(s Severity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[s]
}
