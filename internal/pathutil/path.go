package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandUserAndEnv expands environment variable tokens (via os.ExpandEnv) and
// a leading "~/" or "~\" in p. The result is not made absolute.
func ExpandUserAndEnv(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	p = os.ExpandEnv(p)
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch {
	case len(p) == 1:
		return home, nil
	case p[1] == '/' || p[1] == '\\':
		return filepath.Join(home, p[2:]), nil
	}
	return p, nil
}

// Absolute expands p like ExpandUserAndEnv and returns a cleaned absolute
// path. Empty input yields empty output.
func Absolute(p string) (string, error) {
	expanded, err := ExpandUserAndEnv(p)
	if err != nil || expanded == "" {
		return expanded, err
	}
	return filepath.Abs(expanded)
}
