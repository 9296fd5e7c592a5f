package publish

import (
	"context"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"pkt.systems/pushd/internal/auditlog"
	"pkt.systems/pushd/internal/lockscan"
	"pkt.systems/pushd/internal/resolve"
	"pkt.systems/pushd/internal/transfer"
)

// DefaultDiagnoseTimeout bounds each target's connectivity check.
const DefaultDiagnoseTimeout = 15 * time.Second

// LockReport is the read-only outcome of a lock preflight.
type LockReport struct {
	Locks     []lockscan.Info
	Inspected []lockscan.Inspection
}

// CheckLocks scans the pages behind urls without transferring anything.
func (o *Orchestrator) CheckLocks(ctx context.Context, profile *Profile, urls []string) LockReport {
	_, span := o.tracer.Start(ctx, "publish.check_locks")
	defer span.End()
	rels := resolve.Paths(urls)
	locks, inspected := lockscan.New(profile.Base, lockscan.WithLogger(o.logger)).Inspect(rels)
	o.event(profile, "locks.check", auditlog.Detail{"count": len(rels), "locked": len(locks)})
	return LockReport{Locks: locks, Inspected: inspected}
}

// PromoteResult reports a local copy run.
type PromoteResult struct {
	ID       string
	Promoted int
	Errors   int
	Skipped  int
	Outcomes []transfer.Outcome
}

// Promote copies absolute local files through backend. Per-file failures are
// counted, not returned.
func (o *Orchestrator) Promote(ctx context.Context, backend transfer.Backend, files []string) (*PromoteResult, error) {
	const event = "promote"
	started := o.clock.Now()
	if len(files) == 0 {
		o.metrics.recordRun(ctx, event, "invalid", 0)
		return nil, &InputError{Msg: "Missing parameters (files)."}
	}
	o.audit.Record(event+".start", auditlog.Detail{"files": files, "target": backend.Name()})
	report, err := backend.Push(context.WithoutCancel(ctx), transfer.Credentials{}, files)
	if err != nil {
		o.audit.Record(event+".error", auditlog.Detail{"error": err.Error()})
		o.metrics.recordRun(ctx, event, "error", o.clock.Since(started))
		return nil, err
	}
	sum := report.Summary()
	res := &PromoteResult{
		ID:       xid.New().String(),
		Promoted: sum.OK,
		Errors:   sum.Failed,
		Skipped:  sum.Skipped,
		Outcomes: report.Outcomes,
	}
	o.audit.Record(event+".end", auditlog.Detail{"id": res.ID, "promoted": res.Promoted, "errors": res.Errors, "skipped": res.Skipped})
	o.metrics.recordHost(ctx, event, HostSummary{Host: backend.Name(), OK: sum.OK, Err: sum.Failed, Skipped: sum.Skipped, Bytes: sum.Bytes})
	o.metrics.recordRun(ctx, event, "success", o.clock.Since(started))
	return res, nil
}

// Diagnoser is implemented by targets that can check connectivity without
// transferring files.
type Diagnoser interface {
	Diagnose(ctx context.Context, creds transfer.Credentials) transfer.Diagnosis
}

// DiagnoseReport collects one diagnosis per target in profile order.
type DiagnoseReport struct {
	OK      bool
	Results []transfer.Diagnosis
}

// Diagnose checks every target of profile with the request's credentials.
func (o *Orchestrator) Diagnose(ctx context.Context, profile *Profile, req Request) (DiagnoseReport, error) {
	creds, ok := profile.credentials(req)
	if !ok {
		return DiagnoseReport{}, &InputError{Msg: "Missing parameters (username/password)."}
	}
	o.event(profile, "diagnose.start", auditlog.Detail{"username": creds.Username})
	results := make([]transfer.Diagnosis, len(profile.Targets))
	g := new(errgroup.Group)
	g.SetLimit(o.parallelism)
	for i, target := range profile.Targets {
		g.Go(func() error {
			results[i] = diagnoseOne(ctx, target, creds)
			return nil
		})
	}
	_ = g.Wait()
	report := DiagnoseReport{OK: len(results) > 0, Results: results}
	for _, r := range results {
		report.OK = report.OK && r.OK
	}
	o.event(profile, "diagnose.end", auditlog.Detail{"ok": report.OK, "results": results})
	return report, nil
}

func diagnoseOne(ctx context.Context, target transfer.Backend, creds transfer.Credentials) transfer.Diagnosis {
	d, ok := target.(Diagnoser)
	if !ok {
		return transfer.Diagnosis{Host: target.Name(), Stage: "unsupported", Err: "target cannot be diagnosed"}
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultDiagnoseTimeout)
	defer cancel()
	return d.Diagnose(ctx, creds)
}
