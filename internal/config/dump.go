package config

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var dsnPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|\S+)`)

// RedactDSN hides the password of a URL or key=value postgres DSN.
func RedactDSN(dsn string) string {
	if strings.Contains(dsn, "://") {
		if u, err := url.Parse(dsn); err == nil {
			return u.Redacted()
		}
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}xxxxx")
}

// Dump writes the effective configuration as YAML with the postgres password
// redacted.
func Dump(cfg *Config, w io.Writer) error {
	redacted := *cfg
	redacted.Postgres.DSN = RedactDSN(cfg.Postgres.DSN)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&redacted); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
