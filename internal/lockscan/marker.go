package lockscan

import (
	"regexp"
	"strings"
)

var (
	coderPattern   = regexp.MustCompile(`(?i)\bcoder\s*=\s*"([^"]*)"`)
	taskPattern    = regexp.MustCompile(`(?i)\btask\s*=\s*"([^"]*)"`)
	remPattern     = regexp.MustCompile(`(?i)^rem\s`)
	includePattern = regexp.MustCompile(`(?i)<!--#include\s+(?:file|virtual)\s*=\s*"([^"]+)"\s*-->`)
	headerPattern  = regexp.MustCompile(`(?i)header|masthead|include`)
)

// Marker is an editor claim parsed from page source.
type Marker struct {
	Coder  string
	Task   string
	Locked bool
}

// ParseMarker scans text line by line for coder = "..." and task = "..."
// assignments outside comment lines. Scanning stops once both were seen. The
// boolean reports whether either field was present; the marker is Locked when
// the trimmed coder value is non-empty.
func ParseMarker(text string) (Marker, bool) {
	var (
		m         Marker
		haveCoder bool
		haveTask  bool
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isComment(line) {
			continue
		}
		if match := coderPattern.FindStringSubmatch(line); match != nil {
			m.Coder = strings.TrimSpace(match[1])
			haveCoder = true
		}
		if match := taskPattern.FindStringSubmatch(line); match != nil {
			m.Task = strings.TrimSpace(match[1])
			haveTask = true
		}
		if haveCoder && haveTask {
			break
		}
	}
	if !haveCoder && !haveTask {
		return Marker{}, false
	}
	m.Locked = m.Coder != ""
	return m, true
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "'") || remPattern.MatchString(line)
}

// HeaderIncludes returns up to limit server-side include targets in text
// whose file name mentions a header, masthead or include. A limit <= 0
// returns all of them.
func HeaderIncludes(text string, limit int) []string {
	var out []string
	for _, match := range includePattern.FindAllStringSubmatch(text, -1) {
		target := strings.TrimSpace(match[1])
		if target == "" || !headerPattern.MatchString(target) {
			continue
		}
		out = append(out, target)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
