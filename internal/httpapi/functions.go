package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/pslog"

	"pkt.systems/pushd/api"
	"pkt.systems/pushd/internal/correlation"
	"pkt.systems/pushd/internal/lockscan"
	"pkt.systems/pushd/internal/publish"
	"pkt.systems/pushd/internal/transfer"
)

const genericFailure = "Unexpected server error."

func routerSys(operation string) string {
	parts := strings.FieldsFunc(operation, func(r rune) bool {
		switch r {
		case '.', '/', '-', '_':
			return true
		}
		return false
	})
	if len(parts) == 0 {
		return "api.http.router"
	}
	return "api.http.router." + strings.Join(parts, ".")
}

func applyCorrelation(ctx context.Context, logger pslog.Logger, span trace.Span) (context.Context, pslog.Logger) {
	if id := correlation.ID(ctx); id != "" {
		logger = logger.With("cid", id)
		if span != nil {
			span.SetAttributes(attribute.String("pushd.correlation_id", id))
		}
	}
	return pslog.ContextWithLogger(ctx, logger), logger
}

// convertPublishError maps orchestrator error kinds onto HTTP statuses.
// Errors it does not recognise are returned unchanged.
func convertPublishError(err error) error {
	var (
		httpErr    httpError
		inputErr   *publish.InputError
		missingErr *publish.MissingFilesError
		lockErr    *publish.LockConflictError
		hostErr    *publish.HostError
		tooLarge   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr
	case errors.As(err, &inputErr):
		return httpError{Status: http.StatusBadRequest, Code: "missing_params", Detail: inputErr.Msg}
	case errors.As(err, &missingErr):
		return httpError{Status: http.StatusBadRequest, Code: "missing_files", Detail: missingErr.Error()}
	case errors.As(err, &lockErr):
		return httpError{Status: http.StatusConflict, Code: "locked", Detail: lockErr.Error()}
	case errors.As(err, &hostErr):
		return httpError{Status: http.StatusInternalServerError, Code: "host_error", Detail: hostErr.Error()}
	case errors.As(err, &tooLarge):
		return httpError{Status: http.StatusRequestEntityTooLarge, Code: "body_too_large", Detail: "request body too large"}
	}
	return err
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := h.loggerFrom(ctx)
	resp := api.ErrorResponse{CorrelationID: correlation.ID(ctx)}

	converted := convertPublishError(err)
	var httpErr httpError
	if !errors.As(converted, &httpErr) {
		var recovered panicError
		if errors.As(err, &recovered) {
			logger.Error("http.request.panic", "error", err)
		} else {
			logger.Error("http.request.unexpected", "error", err)
		}
		resp.ErrorCode = "internal_error"
		resp.Error = genericFailure
		h.writeJSON(w, http.StatusInternalServerError, resp, nil)
		return
	}

	resp.ErrorCode = httpErr.Code
	resp.Error = httpErr.Detail
	var (
		missingErr *publish.MissingFilesError
		lockErr    *publish.LockConflictError
		hostErr    *publish.HostError
	)
	switch {
	case errors.As(err, &missingErr):
		resp.MissingFiles = missingErr.Files
	case errors.As(err, &lockErr):
		resp.Locks = lockInfos(lockErr.Locks)
		resp.Coders = lockErr.Coders()
	case errors.As(err, &hostErr):
		if hostErr.Result != nil {
			results := publishResults(hostErr.Result)
			resp.Results = &results
		}
	}
	if httpErr.Status >= http.StatusInternalServerError {
		logger.Warn("http.request.failure", "status", httpErr.Status, "code", httpErr.Code, "detail", httpErr.Detail)
	} else {
		logger.Debug("http.request.failure", "status", httpErr.Status, "code", httpErr.Code, "detail", httpErr.Detail)
	}
	h.writeJSON(w, httpErr.Status, resp, nil)
}

func lockInfos(locks []lockscan.Info) []api.LockInfo {
	out := make([]api.LockInfo, len(locks))
	for i, l := range locks {
		out[i] = api.LockInfo{
			Rel:         l.Rel,
			Abs:         l.Abs,
			Source:      string(l.Source),
			Coder:       l.Coder,
			Task:        l.Task,
			Locked:      l.Locked,
			IncludePath: l.IncludePath,
			IncludeAbs:  l.IncludeAbs,
		}
	}
	return out
}

func inspections(in []lockscan.Inspection) []api.Inspection {
	out := make([]api.Inspection, len(in))
	for i, v := range in {
		out[i] = api.Inspection{Rel: v.Rel, Source: string(v.Source), Coder: v.Coder, Task: v.Task, Locked: v.Locked}
	}
	return out
}

func transferOutcomes(outcomes []transfer.Outcome) []api.TransferOutcome {
	out := make([]api.TransferOutcome, len(outcomes))
	for i, o := range outcomes {
		out[i] = api.TransferOutcome{File: o.File, Status: string(o.Status), Dest: o.Destination, Error: o.Err}
	}
	return out
}

func publishResults(res *publish.Result) api.PublishResults {
	hosts := make([]api.HostSummary, len(res.Hosts))
	for i, h := range res.Hosts {
		hosts[i] = api.HostSummary{
			Host:    h.Host,
			Port:    h.Port,
			OK:      h.OK,
			Err:     h.Err,
			Skipped: h.Skipped,
			Bytes:   h.Bytes,
			Note:    h.Note,
			Error:   h.Error,
			Files:   transferOutcomes(h.Outcomes),
		}
	}
	return api.PublishResults{Hosts: hosts, Locks: lockInfos(res.Locks)}
}

func diagnoseResults(in []transfer.Diagnosis) []api.DiagnoseResult {
	out := make([]api.DiagnoseResult, len(in))
	for i, d := range in {
		out[i] = api.DiagnoseResult{Host: d.Host, OK: d.OK, Stage: d.Stage, Pwd: d.Pwd, RemoteBase: d.RemoteBase, Error: d.Err}
	}
	return out
}
