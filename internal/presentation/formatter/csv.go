package formatter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSVFormatter writes one row per finding: result tree attributes, validation
// errors and disparities, distinguished by the first column.
type CSVFormatter struct {
	out io.Writer
}

func NewCSVFormatter(out io.Writer) *CSVFormatter {
	return &CSVFormatter{out: out}
}

func (f *CSVFormatter) Format(r *Report) error {
	w := csv.NewWriter(f.out)

	headers := []string{"Section", "Path", "Key", "Value", "Count1", "Count2", "Disparity"}
	if err := w.Write(headers); err != nil {
		return err
	}

	for _, root := range r.Roots {
		record := []string{"root", root.Name, root.Format, strconv.Itoa(root.SyncDirs), "", "", ""}
		if root.Error != "" {
			record[3] = root.Error
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	for _, row := range r.Results {
		if err := w.Write([]string{"result", joinPath(row.Path), row.Key, row.Value, "", "", ""}); err != nil {
			return err
		}
	}

	for _, e := range r.Validation {
		details := make([]string, 0, len(e.Mismatches)+len(e.Entries))
		for _, m := range e.Mismatches {
			details = append(details, m.String())
		}
		details = append(details, e.Entries...)
		value := e.Message
		if len(details) > 0 {
			value += ": " + strings.Join(details, "; ")
		}
		if err := w.Write([]string{"validation", e.Path, e.Kind.String(), value, "", "", ""}); err != nil {
			return err
		}
	}

	for _, d := range r.Disparities {
		record := []string{
			"disparity",
			d.Deployment + "/" + d.Grouping + "/" + d.Key,
			d.Metric,
			"",
			strconv.Itoa(d.Count1),
			strconv.Itoa(d.Count2),
			fmt.Sprintf("%.4f", d.Disparity),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
