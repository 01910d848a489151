package formatter

import (
	"io"

	"github.com/bytedance/sonic"
)

type JSONFormatter struct {
	out io.Writer
}

func NewJSONFormatter(out io.Writer) *JSONFormatter {
	return &JSONFormatter{out: out}
}

func (f *JSONFormatter) Format(r *Report) error {
	encoder := sonic.ConfigStd.NewEncoder(f.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}
