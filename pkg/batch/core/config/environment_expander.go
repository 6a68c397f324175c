package config

import (
	"os"
	"strings"
)

// EnvironmentExpander expands environment variable placeholders within configuration data.
type EnvironmentExpander interface {
	// Expand returns input with ${VAR} and $VAR placeholders replaced.
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander expands placeholders from the process environment.
// ${VAR:-default} yields default when VAR is unset or empty.
type OsEnvironmentExpander struct {
	lookup func(string) (string, bool)
}

// NewOsEnvironmentExpander creates and returns a new instance of OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{lookup: os.LookupEnv}
}

// Expand implements EnvironmentExpander. Unset variables expand to the empty string.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	expanded := os.Expand(string(input), func(name string) string {
		def := ""
		if i := strings.Index(name, ":-"); i >= 0 {
			name, def = name[:i], name[i+2:]
		}
		if v, ok := e.lookup(name); ok && v != "" {
			return v
		}
		return def
	})
	return []byte(expanded), nil
}
