// Package publish sequences a publish call: resolve the submitted locations,
// require every file locally, refuse pages claimed by an editor unless
// forced, then push to each target of a profile and summarize per host.
package publish

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"pkt.systems/pslog"

	"pkt.systems/pushd/internal/auditlog"
	"pkt.systems/pushd/internal/clock"
	"pkt.systems/pushd/internal/lockscan"
	"pkt.systems/pushd/internal/resolve"
	"pkt.systems/pushd/internal/svcfields"
	"pkt.systems/pushd/internal/transfer"
)

// DefaultHostParallelism caps concurrent target pushes per call.
const DefaultHostParallelism = 4

// HostSummary aggregates one target's outcomes.
type HostSummary struct {
	Host     string
	Port     int
	OK       int
	Err      int
	Skipped  int
	Bytes    int64
	Note     string
	Error    string
	Outcomes []transfer.Outcome
}

// Result is the response to a completed publish call.
type Result struct {
	ID       string
	Profile  string
	Success  bool
	Message  string
	Hosts    []HostSummary
	Locks    []lockscan.Info
	Started  time.Time
	Duration time.Duration
}

// Totals sums OK and Err across hosts.
func (r *Result) Totals() (ok, failed int) {
	for _, h := range r.Hosts {
		ok += h.OK
		failed += h.Err
	}
	return ok, failed
}

// Orchestrator runs publish calls. It holds no per-call state and is safe for
// concurrent use.
type Orchestrator struct {
	logger      pslog.Logger
	audit       *auditlog.Log
	clock       clock.Clock
	parallelism int
	tracer      trace.Tracer
	metrics     *publishMetrics
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the process logger.
func WithLogger(logger pslog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithAudit records call milestones in the audit log.
func WithAudit(log *auditlog.Log) Option {
	return func(o *Orchestrator) { o.audit = log }
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithHostParallelism caps concurrent target pushes. Values below 1 select
// DefaultHostParallelism.
func WithHostParallelism(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// New returns an Orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		clock:       clock.Real{},
		parallelism: DefaultHostParallelism,
		tracer:      otel.Tracer("pkt.systems/pushd/publish"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = svcfields.WithSubsystem(o.logger, "publish", "orchestrator")
	o.metrics = newPublishMetrics(o.logger)
	return o
}

// Publish runs req against profile. Client-side failures come back as
// *InputError, *MissingFilesError or *LockConflictError with no transfer
// attempted; a failed single-target push comes back as *HostError. Multi-target
// host failures are reported in the Result.
func (o *Orchestrator) Publish(ctx context.Context, profile *Profile, req Request) (res *Result, err error) {
	started := o.clock.Now()
	ctx, span := o.tracer.Start(ctx, "publish."+profile.Name,
		trace.WithAttributes(attribute.Int("pushd.publish.urls", len(req.URLs)), attribute.Bool("pushd.publish.force", req.Force)))
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("publish %s: panic: %v", profile.Name, r)
			o.event(profile, "crash", auditlog.Detail{"error": err.Error()})
		}
		o.metrics.recordRun(ctx, profile.Name, outcomeLabel(err), o.clock.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	creds, credsOK := profile.credentials(req)
	o.event(profile, "start", auditlog.Detail{"urls": req.URLs, "username": creds.Username, "force": req.Force, "targets": req.Targets})
	if len(req.URLs) == 0 || !credsOK {
		return nil, errMissingParams()
	}
	targets, err := profile.selectTargets(req.Targets)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("publish %s: no targets configured", profile.Name)
	}

	rels := resolve.Paths(req.URLs)
	missing := resolve.FindMissing(profile.Base, rels)
	o.event(profile, "resolve", auditlog.Detail{"base": profile.Base, "rels": rels, "missingCount": len(missing)})
	if len(missing) > 0 {
		o.event(profile, "missing", auditlog.Detail{"missing": missing})
		return nil, &MissingFilesError{Files: missing}
	}

	scanner := lockscan.New(profile.Base, lockscan.WithLogger(o.logger))
	locks := scanner.Collect(rels)
	if len(locks) > 0 {
		detail := auditlog.Detail{"count": len(locks), "locks": lockDetail(locks)}
		if !req.Force {
			o.event(profile, "locks.block", detail)
			return nil, &LockConflictError{Locks: locks}
		}
		o.event(profile, "locks.force", detail)
	}

	files := make([]string, len(rels))
	for i, rel := range rels {
		files[i] = filepath.Join(filepath.Clean(profile.Base), rel)
	}

	// Transfers run to completion even if the caller goes away.
	hosts := o.pushAll(context.WithoutCancel(ctx), profile, targets, creds, files)

	res = &Result{
		ID:       xid.New().String(),
		Profile:  profile.Name,
		Success:  true,
		Hosts:    hosts,
		Locks:    locks,
		Started:  started,
		Duration: o.clock.Since(started),
	}
	totalOK, totalErr := res.Totals()
	res.Message = summaryMessage(profile, totalOK, totalErr, len(hosts))
	o.event(profile, "end", auditlog.Detail{"id": res.ID, "hosts": hostDetail(hosts), "totalOk": totalOK, "totalErr": totalErr})

	if profile.Single {
		if err := singleHostFailure(hosts[0]); err != nil {
			return nil, &HostError{Host: hosts[0].Host, Err: err, Result: res}
		}
	}
	return res, nil
}

// singleHostFailure returns the host-level error, or the first per-file
// error when the host accepted the session but rejected files.
func singleHostFailure(h HostSummary) error {
	if h.Error != "" {
		return errors.New(h.Error)
	}
	if h.Err == 0 {
		return nil
	}
	for _, o := range h.Outcomes {
		if o.Status == transfer.StatusError {
			return fmt.Errorf("%s: %s", o.File, o.Err)
		}
	}
	return fmt.Errorf("%d file(s) failed", h.Err)
}

func (o *Orchestrator) pushAll(ctx context.Context, profile *Profile, targets []transfer.Backend, creds transfer.Credentials, files []string) []HostSummary {
	hosts := make([]HostSummary, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(o.parallelism)
	for i, target := range targets {
		g.Go(func() error {
			hosts[i] = o.pushHost(ctx, profile, target, creds, files)
			return nil
		})
	}
	_ = g.Wait()
	return hosts
}

// pushHost never fails: connection errors and panics become a summary with
// every file errored.
func (o *Orchestrator) pushHost(ctx context.Context, profile *Profile, target transfer.Backend, creds transfer.Credentials, files []string) (summary HostSummary) {
	summary = HostSummary{Host: target.Name(), Port: portOf(target)}
	ctx, span := o.tracer.Start(ctx, "publish.push", trace.WithAttributes(attribute.String("pushd.target", summary.Host)))
	logger := svcfields.WithTarget(o.logger, summary.Host)
	defer func() {
		if r := recover(); r != nil {
			summary = failedSummary(summary, files, fmt.Errorf("panic: %v", r))
		}
		if summary.Error != "" {
			span.SetStatus(codes.Error, summary.Error)
			o.event(profile, "push.error", auditlog.Detail{"host": summary.Host, "error": summary.Error})
		} else {
			o.event(profile, "push.done", auditlog.Detail{"host": summary.Host, "ok": summary.OK, "err": summary.Err, "skipped": summary.Skipped, "note": summary.Note})
		}
		o.metrics.recordHost(ctx, profile.Name, summary)
		span.End()
	}()

	o.event(profile, "push.connect", auditlog.Detail{"host": summary.Host, "port": summary.Port, "count": len(files)})
	if profile.Preflight {
		o.preflight(ctx, profile, target, creds, files, logger)
	}
	report, err := target.Push(ctx, creds, files)
	if err != nil {
		return failedSummary(summary, files, err)
	}
	sum := report.Summary()
	summary.OK, summary.Err, summary.Skipped, summary.Bytes = sum.OK, sum.Failed, sum.Skipped, sum.Bytes
	summary.Outcomes = report.Outcomes
	if sum.Skipped > 0 {
		summary.Note = fmt.Sprintf("%d file(s) matched no mapping", sum.Skipped)
	}
	return summary
}

func (o *Orchestrator) preflight(ctx context.Context, profile *Profile, target transfer.Backend, creds transfer.Credentials, files []string, logger pslog.Logger) {
	timeout := profile.PreflightTimeout
	if timeout <= 0 {
		timeout = DefaultPreflightTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := transfer.Prepare(pctx, target, creds, files); err != nil {
		logger.Warn("publish.preflight.failed", "error", err)
	}
}

func failedSummary(s HostSummary, files []string, err error) HostSummary {
	report := transfer.FailAll(files, err)
	s.OK, s.Skipped, s.Bytes = 0, 0, 0
	s.Err = len(files)
	s.Error = err.Error()
	s.Outcomes = report.Outcomes
	return s
}

func (o *Orchestrator) event(profile *Profile, name string, detail auditlog.Detail) {
	o.audit.Record(profile.Name+"."+name, detail)
}

func summaryMessage(profile *Profile, ok, failed, hosts int) string {
	if profile.Single {
		name := profile.TargetNames()[0]
		if failed > 0 {
			return fmt.Sprintf("Completed with errors. Uploaded %d item(s) to %s.", ok, name)
		}
		return fmt.Sprintf("Uploaded %d item(s) to %s.", ok, name)
	}
	if failed > 0 {
		return fmt.Sprintf("Completed with errors. Uploaded %d item(s) across %d host(s).", ok, hosts)
	}
	return fmt.Sprintf("Uploaded %d item(s) to %d host(s).", ok, hosts)
}

type porter interface {
	Port() int
}

func portOf(b transfer.Backend) int {
	if p, ok := b.(porter); ok {
		return p.Port()
	}
	return 0
}

func lockDetail(locks []lockscan.Info) []map[string]string {
	out := make([]map[string]string, len(locks))
	for i, l := range locks {
		out[i] = map[string]string{"rel": l.Rel, "coder": l.Coder, "task": l.Task, "src": string(l.Source)}
	}
	return out
}

func hostDetail(hosts []HostSummary) []map[string]any {
	out := make([]map[string]any, len(hosts))
	for i, h := range hosts {
		out[i] = map[string]any{"host": h.Host, "port": h.Port, "ok": h.OK, "err": h.Err, "note": h.Note, "error": h.Error}
	}
	return out
}

func outcomeLabel(err error) string {
	var (
		inputErr   *InputError
		missingErr *MissingFilesError
		lockErr    *LockConflictError
		hostErr    *HostError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &inputErr):
		return "invalid"
	case errors.As(err, &missingErr):
		return "missing"
	case errors.As(err, &lockErr):
		return "locked"
	case errors.As(err, &hostErr):
		return "host_error"
	default:
		return "error"
	}
}
