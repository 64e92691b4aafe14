package config

import (
	"os"
	"strings"
)

// ParseEnvFile reads KEY=VALUE pairs from a dotenv-style file. Blank lines,
// comments and an optional "export " prefix are accepted; surrounding quotes
// are stripped from values.
func ParseEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		s := strings.TrimSpace(line)
		if s == "" || s[0] == '#' {
			continue
		}
		s = strings.TrimPrefix(s, "export ")
		eqIdx := strings.IndexByte(s, '=')
		if eqIdx < 0 {
			continue
		}
		key := strings.TrimSpace(s[:eqIdx])
		if key == "" {
			continue
		}
		vars[key] = stripQuotes(strings.TrimSpace(s[eqIdx+1:]))
	}
	return vars, nil
}

// LoadEnvFile sets every variable from path that is not already present in
// the process environment.
func LoadEnvFile(path string) error {
	vars, err := ParseEnvFile(path)
	if err != nil {
		return err
	}
	for k, v := range vars {
		if _, ok := os.LookupEnv(k); !ok {
			os.Setenv(k, v)
		}
	}
	return nil
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
