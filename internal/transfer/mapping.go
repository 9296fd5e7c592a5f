package transfer

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Mapping translates local paths under From to destination paths under To.
type Mapping struct {
	From string
	To   string
}

// String renders m in the from=>to form accepted by ParseMapping.
func (m Mapping) String() string {
	return m.From + "=>" + m.To
}

// SelfCopy reports whether From and To name the same directory, which would
// make a local copy truncate its own source.
func (m Mapping) SelfCopy() bool {
	return strings.EqualFold(cleanLocal(m.From), cleanLocal(m.To))
}

// ParseMapping parses a "from=>to" entry.
func ParseMapping(entry string) (Mapping, error) {
	from, to, ok := strings.Cut(entry, "=>")
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if !ok || from == "" || to == "" {
		return Mapping{}, fmt.Errorf("transfer: mapping %q must be from=>to", entry)
	}
	return Mapping{From: from, To: to}, nil
}

// ParseMappings parses every non-blank entry, preserving order.
func ParseMappings(entries []string) ([]Mapping, error) {
	out := make([]Mapping, 0, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		m, err := ParseMapping(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Remainder returns file's path below m.From with forward slashes. The match
// is a case-insensitive prefix match that must end at a path boundary.
func (m Mapping) Remainder(file string) (string, bool) {
	from := cleanLocal(m.From)
	abs := cleanLocal(file)
	if len(abs) <= len(from) || !strings.EqualFold(abs[:len(from)], from) {
		return "", false
	}
	rest := abs[len(from):]
	if !isSeparator(rest[0]) && !isSeparator(from[len(from)-1]) {
		return "", false
	}
	rest = strings.TrimLeft(strings.ReplaceAll(rest, `\`, "/"), "/")
	if rest == "" {
		return "", false
	}
	return rest, true
}

// Match returns the first mapping whose From prefixes file, together with
// the remainder.
func Match(mappings []Mapping, file string) (Mapping, string, bool) {
	for _, m := range mappings {
		if rest, ok := m.Remainder(file); ok {
			return m, rest, true
		}
	}
	return Mapping{}, "", false
}

func cleanLocal(p string) string {
	return filepath.Clean(strings.TrimSpace(p))
}

func isSeparator(c byte) bool {
	return c == '/' || c == '\\'
}
