// Package resolve turns user-supplied page locations (absolute URLs,
// root-relative paths or bare relative paths) into relative file paths under
// a local site root.
//
// Normalization is lenient: traversal segments are dropped rather than
// rejected. Every filesystem access made on behalf of a resolved path goes
// through Contain, which rejects anything that still lands outside the base.
package resolve

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// DefaultDocument is appended to paths that name a directory.
const DefaultDocument = "index.html"

// ErrOutsideBase reports a path that escapes its base directory.
var ErrOutsideBase = errors.New("resolve: path escapes base directory")

// Path converts raw into a relative path using the platform separator. It
// never fails; malformed input degrades to a best-effort relative path. The
// result never starts with a separator and never contains a ".." element.
func Path(raw string) string {
	rel := raw
	if u, ok := parseURL(raw); ok {
		rel = u.Path
	}
	rel = strings.ReplaceAll(rel, `\`, "/")
	rel = strings.TrimPrefix(rel, "/")
	rel = dropParentSegments(rel)
	rel = strings.TrimLeft(rel, "/")
	if rel == "" || strings.HasSuffix(rel, "/") {
		rel += DefaultDocument
	}
	return filepath.FromSlash(rel)
}

// Paths resolves every entry of raws, preserving order.
func Paths(raws []string) []string {
	out := make([]string, len(raws))
	for i, raw := range raws {
		out[i] = Path(raw)
	}
	return out
}

// parseURL accepts inputs carrying a scheme and either a host or the file
// scheme. Single-letter schemes are Windows drive letters, not URLs.
func parseURL(raw string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || len(u.Scheme) < 2 {
		return nil, false
	}
	if u.Host == "" && !strings.EqualFold(u.Scheme, "file") {
		return nil, false
	}
	return u, true
}

func dropParentSegments(p string) string {
	if !strings.Contains(p, "..") {
		return p
	}
	parts := strings.Split(p, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part == ".." {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "/")
}

// Contain joins rel onto base and returns the cleaned absolute result,
// or ErrOutsideBase when the result is not base itself or a descendant of it.
func Contain(base, rel string) (string, error) {
	root := filepath.Clean(base)
	abs := filepath.Join(root, rel)
	if !Within(root, abs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBase, rel)
	}
	return abs, nil
}

// Within reports whether path equals base or lies beneath it.
func Within(base, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// FindMissing returns, in input order, the absolute paths of the entries in
// rels that are not regular files under base. Entries escaping base are
// always reported missing.
func FindMissing(base string, rels []string) []string {
	var missing []string
	for _, rel := range rels {
		abs, err := Contain(base, rel)
		if err != nil {
			missing = append(missing, filepath.Join(base, rel))
			continue
		}
		if !isRegular(abs) {
			missing = append(missing, abs)
		}
	}
	return missing
}

// Resolution describes one input for diagnostic callers.
type Resolution struct {
	Input  string
	Rel    string
	Abs    string
	Exists bool
}

// Describe resolves each input against base without failing on any of them.
func Describe(base string, inputs []string) []Resolution {
	out := make([]Resolution, 0, len(inputs))
	for _, input := range inputs {
		rel := Path(input)
		res := Resolution{Input: input, Rel: rel, Abs: filepath.Join(base, rel)}
		if abs, err := Contain(base, rel); err == nil {
			res.Abs = abs
			res.Exists = isRegular(abs)
		}
		out = append(out, res)
	}
	return out
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
