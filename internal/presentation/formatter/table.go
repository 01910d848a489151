package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/penwyp/go-talkingbook-stats/internal/util"
)

// TableFormatter renders each non-empty section of a report as a table sized
// to the terminal.
type TableFormatter struct {
	out   io.Writer
	width int
}

func NewTableFormatter(out io.Writer) *TableFormatter {
	return &TableFormatter{out: out, width: util.TerminalWidth()}
}

// WithWidth overrides the detected terminal width.
func (f *TableFormatter) WithWidth(width int) *TableFormatter {
	f.width = width
	return f
}

func (f *TableFormatter) newTable(title string) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(f.out)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(title)
	tbl.Style().Options.SeparateRows = false
	return tbl
}

func (f *TableFormatter) Format(r *Report) error {
	roots := f.newTable(fmt.Sprintf("Package %s", r.Package))
	roots.AppendHeader(table.Row{"Root", "Format", "Sync Dirs", "Status"})
	roots.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
	total := 0
	for _, root := range r.Roots {
		status := "ok"
		if root.Error != "" {
			status = f.truncate(root.Error, 3)
		}
		roots.AppendRow(table.Row{root.Name, root.Format, util.FormatCount(int64(root.SyncDirs)), status})
		total += root.SyncDirs
	}
	roots.AppendFooter(table.Row{"Total", "", util.FormatCount(int64(total)), ""})
	roots.Render()

	if len(r.Results) > 0 {
		results := f.newTable("Results")
		results.AppendHeader(table.Row{"Path", "Attribute", "Value"})
		for _, row := range r.Results {
			results.AppendRow(table.Row{f.truncate(joinPath(row.Path), 2), row.Key, f.truncate(row.Value, 4)})
		}
		results.Render()
	}

	if len(r.Validation) > 0 {
		errs := f.newTable("Validation Errors")
		errs.AppendHeader(table.Row{"Kind", "Path", "Message"})
		for _, e := range r.Validation {
			msg := e.Message
			if n := len(e.Mismatches) + len(e.Entries); n > 0 {
				msg = fmt.Sprintf("%s (+%d)", msg, n)
			}
			errs.AppendRow(table.Row{e.Kind.String(), f.truncate(e.Path, 3), f.truncate(msg, 2)})
		}
		errs.AppendFooter(table.Row{"Total", "", util.FormatCount(int64(len(r.Validation)))})
		errs.Render()
	}

	if len(r.Disparities) > 0 {
		dis := f.newTable(fmt.Sprintf("Disparities (threshold %s)", util.FormatRatio(r.Threshold)))
		dis.AppendHeader(table.Row{"Deployment", "Grouping", "Key", "Metric", "Best View", "Logs", "Disparity"})
		dis.SetColumnConfigs([]table.ColumnConfig{
			{Number: 5, Align: text.AlignRight},
			{Number: 6, Align: text.AlignRight},
			{Number: 7, Align: text.AlignRight},
		})
		for _, d := range r.Disparities {
			dis.AppendRow(table.Row{
				d.Deployment, d.Grouping, f.truncate(d.Key, 5), d.Metric,
				util.FormatCount(int64(d.Count1)), util.FormatCount(int64(d.Count2)), util.FormatRatio(d.Disparity),
			})
		}
		dis.Render()
	}

	if len(r.Results) == 0 && len(r.Validation) == 0 && len(r.Disparities) == 0 {
		_, err := io.WriteString(f.out, "No findings.\n")
		return err
	}
	return nil
}

// truncate fits s into the share of the terminal given to a column; share is
// the divisor of the width.
func (f *TableFormatter) truncate(s string, share int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return util.TruncateDisplay(s, f.width/share)
}
