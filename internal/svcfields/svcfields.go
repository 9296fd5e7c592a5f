package svcfields

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey is the canonical key for subsystem tags.
const SubsystemKey = pslog.TrustedString("sys")

// TargetKey tags entries that concern a single upload destination.
const TargetKey = pslog.TrustedString("target")

// Subsystem joins parts into a dot-delimited subsystem path, dropping empty
// fragments.
func Subsystem(parts ...string) string {
	filtered := parts[:0:0]
	for _, part := range parts {
		if part = strings.Trim(part, ". "); part != "" {
			filtered = append(filtered, part)
		}
	}
	return strings.Join(filtered, ".")
}

// Ensure returns logger, or a no-op logger when logger is nil.
func Ensure(logger pslog.Logger) pslog.Logger {
	if logger == nil {
		return pslog.NoopLogger()
	}
	return logger
}

// WithSubsystem attaches a subsystem tag to every log entry.
func WithSubsystem(logger pslog.Logger, parts ...string) pslog.Logger {
	logger = Ensure(logger)
	sys := Subsystem(parts...)
	if sys == "" {
		return logger
	}
	return logger.With(SubsystemKey, sys)
}

// WithTarget tags logger with the destination label used for a transfer.
func WithTarget(logger pslog.Logger, target string) pslog.Logger {
	logger = Ensure(logger)
	if target = strings.TrimSpace(target); target == "" {
		return logger
	}
	return logger.With(TargetKey, target)
}
