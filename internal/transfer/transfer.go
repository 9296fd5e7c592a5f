// Package transfer delivers local files to publish destinations. Every
// backend reports one Outcome per input file, in input order, so callers
// never branch on result shape.
package transfer

import (
	"context"
	"errors"
	"fmt"
)

// Status is the per-file result of a push.
type Status string

const (
	// StatusOK marks a file delivered to its destination.
	StatusOK Status = "ok"
	// StatusSkipped marks a file no mapping matched.
	StatusSkipped Status = "skipped"
	// StatusError marks a file that failed; Outcome.Err is always set.
	StatusError Status = "error"
)

// MsgNoMapping is the Err text recorded for skipped files.
const MsgNoMapping = "No mapping matched"

// Credentials authenticate against a destination. Backends that do not need
// them ignore the value.
type Credentials struct {
	Username string
	Password string
}

// Outcome reports what happened to one local file.
type Outcome struct {
	File        string
	Status      Status
	Destination string
	Err         string
	Bytes       int64
}

// Report is the ordered list of outcomes from one push.
type Report struct {
	Outcomes []Outcome
}

// Summary totals a Report.
type Summary struct {
	OK      int
	Skipped int
	Failed  int
	Bytes   int64
}

// Summary counts outcomes by status.
func (r Report) Summary() Summary {
	var s Summary
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusOK:
			s.OK++
			s.Bytes += o.Bytes
		case StatusSkipped:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	return s
}

// FailAll builds a report marking every file as failed with err.
func FailAll(files []string, err error) Report {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	out := make([]Outcome, len(files))
	for i, file := range files {
		out[i] = Outcome{File: file, Status: StatusError, Err: msg}
	}
	return Report{Outcomes: out}
}

// Backend delivers files to a single destination. Push returns an error only
// when the destination as a whole is unusable (connect, login, missing
// bucket); per-file failures are recorded in the report.
type Backend interface {
	Name() string
	Push(ctx context.Context, creds Credentials, files []string) (Report, error)
}

// Preparer is implemented by backends that can create destination
// directories ahead of a push.
type Preparer interface {
	Prepare(ctx context.Context, creds Credentials, files []string) error
}

// PreflightError is the best-effort directory preparation failure. Callers log
// it and carry on; the push that follows reports any real problem.
type PreflightError struct {
	Target string
	Err    error
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("preflight %s: %v", e.Target, e.Err)
}

func (e *PreflightError) Unwrap() error {
	return e.Err
}

// Prepare runs b's preflight when it has one. The returned error is always a
// *PreflightError or nil.
func Prepare(ctx context.Context, b Backend, creds Credentials, files []string) error {
	p, ok := b.(Preparer)
	if !ok {
		return nil
	}
	err := p.Prepare(ctx, creds, files)
	if err == nil {
		return nil
	}
	var pe *PreflightError
	if errors.As(err, &pe) {
		return pe
	}
	return &PreflightError{Target: b.Name(), Err: err}
}

func okOutcome(file, dest string, n int64) Outcome {
	return Outcome{File: file, Status: StatusOK, Destination: dest, Bytes: n}
}

func skippedOutcome(file string) Outcome {
	return Outcome{File: file, Status: StatusSkipped, Err: MsgNoMapping}
}

func errorOutcome(file, dest string, err error) Outcome {
	return Outcome{File: file, Status: StatusError, Destination: dest, Err: err.Error()}
}
