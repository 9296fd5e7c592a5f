// Package lockscan detects pages that an editor has claimed by leaving a
// coder/task marker in the page source or in one of its header includes.
package lockscan

import (
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"

	"pkt.systems/pushd/internal/resolve"
	"pkt.systems/pushd/internal/svcfields"
)

// DefaultMaxIncludes bounds how many header includes are followed per page.
const DefaultMaxIncludes = 3

// Source reports where a marker was found.
type Source string

const (
	// SourceFile marks a claim found in the page itself.
	SourceFile Source = "file"
	// SourceInclude marks a claim found in a header include.
	SourceInclude Source = "include"
	// SourceNone is used by inspections of pages without markers.
	SourceNone Source = "none"
)

// Info describes the claim state of one page.
type Info struct {
	Rel         string
	Abs         string
	Source      Source
	Coder       string
	Task        string
	Locked      bool
	IncludePath string
	IncludeAbs  string
}

// Inspection is the per-page outcome of a preflight scan.
type Inspection struct {
	Rel    string
	Source Source
	Coder  string
	Task   string
	Locked bool
}

// Scanner reads pages beneath a fixed base directory.
type Scanner struct {
	base        string
	maxIncludes int
	logger      pslog.Logger
}

// Option customises a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger used for unreadable or escaping paths.
func WithLogger(logger pslog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// WithMaxIncludes overrides DefaultMaxIncludes.
func WithMaxIncludes(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxIncludes = n
		}
	}
}

// New returns a Scanner rooted at base.
func New(base string, opts ...Option) *Scanner {
	s := &Scanner{base: filepath.Clean(base), maxIncludes: DefaultMaxIncludes}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = svcfields.WithSubsystem(s.logger, "lockscan")
	return s
}

// Base returns the directory pages are resolved against.
func (s *Scanner) Base() string {
	return s.base
}

// Check returns the claim state of rel, or nil when neither the page nor any
// followed include carries a marker. A claim in the page wins over claims in
// includes. Read failures are never reported as errors.
func (s *Scanner) Check(rel string) *Info {
	abs, err := resolve.Contain(s.base, rel)
	if err != nil {
		s.logger.Debug("lockscan.skip", "rel", rel, "error", err)
		return nil
	}
	text, ok := s.read(abs)
	if !ok {
		return nil
	}
	page, found := ParseMarker(text)
	if found && page.Locked {
		return &Info{Rel: rel, Abs: abs, Source: SourceFile, Coder: page.Coder, Task: page.Task, Locked: true}
	}
	for _, include := range HeaderIncludes(text, s.maxIncludes) {
		includeAbs, ok := s.includeTarget(abs, include)
		if !ok {
			continue
		}
		includeText, ok := s.read(includeAbs)
		if !ok {
			continue
		}
		if m, found := ParseMarker(includeText); found && m.Locked {
			return &Info{
				Rel:         rel,
				Abs:         abs,
				Source:      SourceInclude,
				Coder:       m.Coder,
				Task:        m.Task,
				Locked:      true,
				IncludePath: include,
				IncludeAbs:  includeAbs,
			}
		}
	}
	if found {
		return &Info{Rel: rel, Abs: abs, Source: SourceFile, Coder: page.Coder, Task: page.Task}
	}
	return nil
}

// Collect returns the locked entries among rels in input order.
func (s *Scanner) Collect(rels []string) []Info {
	var locks []Info
	for _, rel := range rels {
		if info := s.Check(rel); info != nil && info.Locked {
			locks = append(locks, *info)
		}
	}
	return locks
}

// Inspect checks every entry of rels and returns both the locked subset and
// one inspection per input.
func (s *Scanner) Inspect(rels []string) ([]Info, []Inspection) {
	var locks []Info
	inspected := make([]Inspection, 0, len(rels))
	for _, rel := range rels {
		info := s.Check(rel)
		if info == nil {
			inspected = append(inspected, Inspection{Rel: rel, Source: SourceNone})
			continue
		}
		if info.Locked {
			locks = append(locks, *info)
		}
		inspected = append(inspected, Inspection{
			Rel:    rel,
			Source: info.Source,
			Coder:  info.Coder,
			Task:   info.Task,
			Locked: info.Locked,
		})
	}
	return locks, inspected
}

// includeTarget resolves an include reference: "/x" is relative to the base,
// anything else to the directory of the including page.
func (s *Scanner) includeTarget(pageAbs, include string) (string, bool) {
	ref := strings.ReplaceAll(include, `\`, "/")
	var candidate string
	if strings.HasPrefix(ref, "/") {
		candidate = filepath.Join(s.base, filepath.FromSlash(strings.TrimLeft(ref, "/")))
	} else {
		candidate = filepath.Join(filepath.Dir(pageAbs), filepath.FromSlash(ref))
	}
	if !resolve.Within(s.base, candidate) {
		s.logger.Debug("lockscan.include.outside", "include", include, "page", pageAbs)
		return "", false
	}
	return candidate, true
}

func (s *Scanner) read(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Debug("lockscan.read", "path", path, "error", err)
		return "", false
	}
	return string(data), true
}
