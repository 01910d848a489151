package formatter

import (
	"io"

	"gopkg.in/yaml.v3"
)

type YAMLFormatter struct {
	out io.Writer
}

func NewYAMLFormatter(out io.Writer) *YAMLFormatter {
	return &YAMLFormatter{out: out}
}

func (f *YAMLFormatter) Format(r *Report) error {
	encoder := yaml.NewEncoder(f.out)
	encoder.SetIndent(2)
	if err := encoder.Encode(r); err != nil {
		return err
	}
	return encoder.Close()
}
