// Package auditlog appends one JSON line per event to a file named after the
// UTC day of the event. Values stored under a "password" key are replaced
// with a placeholder before anything is written or echoed.
package auditlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/pushd/internal/clock"
	"pkt.systems/pushd/internal/svcfields"
)

// Redacted replaces secret values.
const Redacted = "***"

// Detail carries the event fields besides ts and event.
type Detail map[string]any

// Log is safe for concurrent use. A nil *Log discards records.
type Log struct {
	dir    string
	clock  clock.Clock
	logger pslog.Logger
	mu     sync.Mutex
}

// Option customises a Log.
type Option func(*Log)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Log) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger echoes every record to logger.
func WithLogger(logger pslog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// Open creates dir when needed and returns a Log writing into it.
func Open(dir string, opts ...Option) (*Log, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("auditlog: directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("auditlog: create %s: %w", dir, err)
	}
	l := &Log{dir: dir, clock: clock.Real{}}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = svcfields.WithSubsystem(l.logger, "audit")
	return l, nil
}

// Dir returns the directory log files are written to.
func (l *Log) Dir() string {
	if l == nil {
		return ""
	}
	return l.dir
}

// PathFor returns the log file that receives records stamped at t.
func (l *Log) PathFor(t time.Time) string {
	return filepath.Join(l.dir, "app-"+t.UTC().Format("20060102")+".log")
}

// Record writes event with detail. Write failures are reported to the process
// logger and otherwise ignored.
func (l *Log) Record(event string, detail Detail) {
	if l == nil {
		return
	}
	now := l.clock.Now().UTC()
	safe := sanitize(detail)
	line, err := encodeLine(now, event, safe)
	if err != nil {
		l.logger.Warn("audit.encode", "event", event, "error", err)
		return
	}
	l.echo(event, safe)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := appendLine(l.PathFor(now), line); err != nil {
		l.logger.Warn("audit.write", "event", event, "error", err)
	}
}

func (l *Log) echo(event string, safe map[string]any) {
	keys := sortedKeys(safe)
	keyvals := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		keyvals = append(keyvals, k, safe[k])
	}
	l.logger.Info(event, keyvals...)
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// encodeLine renders {"ts":...,"event":...,<detail keys sorted>}\n.
func encodeLine(ts time.Time, event string, detail map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"ts":`)
	if err := writeJSON(&buf, ts.Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}
	buf.WriteString(`,"event":`)
	if err := writeJSON(&buf, event); err != nil {
		return nil, err
	}
	for _, k := range sortedKeys(detail) {
		buf.WriteByte(',')
		if err := writeJSON(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSON(&buf, detail[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

// sanitize drops the reserved ts/event keys, flattens values to their JSON
// form and redacts passwords at any depth.
func sanitize(detail Detail) map[string]any {
	out := make(map[string]any, len(detail))
	for k, v := range detail {
		if k == "ts" || k == "event" {
			continue
		}
		if isSecretKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = Redact(normalize(v))
	}
	return out
}

// normalize converts structs and typed slices into maps and []any so Redact
// can walk them. Scalars pass through untouched.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int64, int32, uint, uint64, float64, float32, time.Duration:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}

// Redact returns v with every map value under a password key replaced.
func Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSecretKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Redact(val)
		}
		return out
	default:
		return v
	}
}

func isSecretKey(k string) bool {
	return strings.EqualFold(k, "password")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
