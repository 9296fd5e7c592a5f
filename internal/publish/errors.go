package publish

import (
	"fmt"
	"strings"

	"pkt.systems/pushd/internal/lockscan"
)

// InputError rejects a request before any I/O.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

func errMissingParams() *InputError {
	return &InputError{Msg: "Missing parameters (urls/username/password)."}
}

// MissingFilesError lists resolved absolute paths absent from the local base.
type MissingFilesError struct {
	Files []string
}

func (e *MissingFilesError) Error() string {
	return "Some files were not found locally."
}

// LockConflictError reports pages claimed by an editor on an unforced publish.
type LockConflictError struct {
	Locks []lockscan.Info
}

func (e *LockConflictError) Error() string {
	return "Locked pages detected. Ask the coder to clear 'coder' or proceed with force:true."
}

// Coders returns the distinct claimants in first-seen order.
func (e *LockConflictError) Coders() []string {
	seen := make(map[string]struct{}, len(e.Locks))
	var out []string
	for _, l := range e.Locks {
		key := strings.ToLower(l.Coder)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l.Coder)
	}
	return out
}

// HostError reports the failure of the only destination of a profile.
type HostError struct {
	Host   string
	Err    error
	Result *Result
}

func (e *HostError) Error() string {
	return fmt.Sprintf("%s: %v", e.Host, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }
