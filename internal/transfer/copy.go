package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pkt.systems/pslog"

	"pkt.systems/pushd/internal/svcfields"
)

// CopyConfig describes a local or mapped-drive destination.
type CopyConfig struct {
	Label    string
	Mappings []Mapping
	Logger   pslog.Logger
}

// Copy promotes files by copying them between local directory trees.
type Copy struct {
	label    string
	mappings []Mapping
	logger   pslog.Logger
}

// NewCopy returns a Copy backend.
func NewCopy(cfg CopyConfig) (*Copy, error) {
	if len(cfg.Mappings) == 0 {
		return nil, errors.New("transfer: copy needs at least one mapping")
	}
	for _, m := range cfg.Mappings {
		if m.SelfCopy() {
			return nil, fmt.Errorf("transfer: copy mapping %s copies onto itself", m)
		}
	}
	label := cfg.Label
	if label == "" {
		label = "local"
	}
	return &Copy{
		label:    label,
		mappings: cfg.Mappings,
		logger:   svcfields.WithTarget(svcfields.WithSubsystem(cfg.Logger, "transfer", "copy"), label),
	}, nil
}

// Name returns the configured label.
func (c *Copy) Name() string { return c.label }

// Mappings returns the configured mappings.
func (c *Copy) Mappings() []Mapping { return c.mappings }

// Push copies each mapped file. Credentials are ignored.
func (c *Copy) Push(ctx context.Context, _ Credentials, files []string) (Report, error) {
	report := Report{Outcomes: make([]Outcome, 0, len(files))}
	for _, file := range files {
		outcome := c.copyOne(file)
		if outcome.Status == StatusError {
			c.logger.Warn("transfer.copy.file.error", "file", file, "dest", outcome.Destination, "error", outcome.Err)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	sum := report.Summary()
	c.logger.Info("transfer.copy.done", "ok", sum.OK, "err", sum.Failed, "skipped", sum.Skipped)
	return report, nil
}

func (c *Copy) copyOne(file string) Outcome {
	m, rest, ok := Match(c.mappings, file)
	if !ok {
		return skippedOutcome(file)
	}
	dest := filepath.Join(m.To, filepath.FromSlash(rest))
	n, err := copyFile(file, dest)
	if err != nil {
		return errorOutcome(file, dest, err)
	}
	return okOutcome(file, dest, n)
}

func copyFile(src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("source %s is not a regular file", src)
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create destination directory: %w", err)
	}
	// Opening dst with O_TRUNC would empty src when both are the same file,
	// for example through a symlinked or case-folded destination root.
	if dstInfo, err := os.Stat(dst); err == nil && os.SameFile(info, dstInfo) {
		return 0, fmt.Errorf("destination %s is the source file", dst)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("create destination: %w", err)
	}
	n, err := io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return n, fmt.Errorf("copy contents: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return n, fmt.Errorf("sync destination: %w", err)
	}
	if err := out.Close(); err != nil {
		return n, fmt.Errorf("close destination: %w", err)
	}
	return n, nil
}

// Diagnose verifies that every mapping's destination root exists or can be
// created.
func (c *Copy) Diagnose(ctx context.Context, _ Credentials) Diagnosis {
	d := Diagnosis{Host: c.label}
	for _, m := range c.mappings {
		d.RemoteBase = m.To
		if err := os.MkdirAll(m.To, 0o755); err != nil {
			d.Stage, d.Err = "ensureDir", err.Error()
			return d
		}
	}
	d.OK = true
	return d
}
