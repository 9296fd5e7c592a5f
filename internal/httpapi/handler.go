package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/pslog"

	"pkt.systems/pushd/api"
	"pkt.systems/pushd/internal/clock"
	"pkt.systems/pushd/internal/correlation"
	"pkt.systems/pushd/internal/publish"
	"pkt.systems/pushd/internal/svcfields"
	"pkt.systems/pushd/internal/transfer"
	"pkt.systems/pushd/internal/uuidv7"
)

// DefaultJSONMaxBytes caps request bodies when Config.JSONMaxBytes is zero.
const DefaultJSONMaxBytes int64 = 2 << 20

const headerCorrelationID = correlation.Header

// Handler wires HTTP endpoints to publish operations.
type Handler struct {
	orchestrator       *publish.Orchestrator
	external           *publish.Profile
	internal           *publish.Profile
	promote            transfer.Backend
	defaults           api.Defaults
	logger             pslog.Logger
	clock              clock.Clock
	jsonMaxBytes       int64
	tracer             trace.Tracer
	httpTracingEnabled bool
}

// Config carries the dependencies of a Handler.
type Config struct {
	Orchestrator *publish.Orchestrator
	External     *publish.Profile
	Internal     *publish.Profile
	// Promote is the local copy backend behind /api/promote. Nil disables it.
	Promote transfer.Backend
	// Defaults is reported verbatim by /api/health.
	Defaults           api.Defaults
	Logger             pslog.Logger
	Clock              clock.Clock
	JSONMaxBytes       int64
	DisableHTTPTracing bool
}

// New constructs a Handler using the supplied configuration.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	orch := cfg.Orchestrator
	if orch == nil {
		orch = publish.New(publish.WithLogger(logger), publish.WithClock(clk))
	}
	jsonMax := cfg.JSONMaxBytes
	if jsonMax <= 0 {
		jsonMax = DefaultJSONMaxBytes
	}
	return &Handler{
		orchestrator:       orch,
		external:           cfg.External,
		internal:           cfg.Internal,
		promote:            cfg.Promote,
		defaults:           cfg.Defaults,
		logger:             svcfields.Ensure(logger),
		clock:              clk,
		jsonMaxBytes:       jsonMax,
		tracer:             otel.Tracer("pkt.systems/pushd/httpapi"),
		httpTracingEnabled: !cfg.DisableHTTPTracing,
	}
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/check/locks", h.wrap("check.locks", h.handleCheckLocks))
	mux.Handle("/api/check/locks-internal", h.wrap("check.locks.internal", h.handleCheckLocksInternal))
	mux.Handle("/api/go-live/external", h.wrap("go.live.external", h.handleGoLiveExternal))
	mux.Handle("/api/go-live/internal", h.wrap("go.live.internal", h.handleGoLiveInternal))
	mux.Handle("/api/promote", h.wrap("promote", h.handlePromote))
	mux.Handle("/api/resolve", h.wrap("resolve", h.handleResolve))
	mux.Handle("/api/diagnose/external", h.wrap("diagnose.external", h.handleDiagnoseExternal))
	mux.Handle("/api/health", h.wrap("health", h.handleHealth))
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	sys := routerSys(operation)
	httpSpanName := "pushd.http." + operation

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		reqID := uuidv7.NewString()
		var span trace.Span
		if h.httpTracingEnabled {
			ctx, span = h.tracer.Start(ctx, "pushd.op."+operation,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("pushd.sys", sys),
					attribute.String("pushd.operation", operation),
					attribute.String("pushd.route", r.URL.Path),
				),
			)
			defer span.End()
		} else {
			span = trace.SpanFromContext(ctx)
		}

		logger := svcfields.WithSubsystem(h.logger, sys).With(
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = correlation.With(ctx, correlation.FromHeader(r.Header.Get(headerCorrelationID)))
		ctx, logger = applyCorrelation(ctx, logger, span)
		w.Header().Set(headerCorrelationID, correlation.ID(ctx))
		r = r.WithContext(ctx)

		logger.Debug("http.request.start", "remote_addr", r.RemoteAddr)

		err := h.invoke(fn, w, r)
		if err == nil {
			span.SetStatus(codes.Ok, "")
			logger.Debug("http.request.complete", "elapsed", time.Since(start))
			return
		}
		span.RecordError(err)
		var httpErr httpError
		if errors.As(convertPublishError(err), &httpErr) {
			span.SetAttributes(
				attribute.String("pushd.error_code", httpErr.Code),
				attribute.Int("pushd.error_status", httpErr.Status),
			)
		} else {
			span.SetAttributes(attribute.String("pushd.error_code", "internal"))
		}
		span.SetStatus(codes.Error, "handler_error")
		logger.Debug("http.request.error", "elapsed", time.Since(start), "error", err)
		h.handleError(ctx, w, err)
	})

	if !h.httpTracingEnabled {
		return handler
	}
	return otelhttp.NewHandler(handler, httpSpanName)
}

// invoke runs fn and turns a panic into an error so the client still gets a
// structured 500.
func (h *Handler) invoke(fn handlerFunc, w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError{value: rec}
		}
	}()
	return fn(w, r)
}

// panicError carries a value recovered from a handler.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

func (h *Handler) loggerFrom(ctx context.Context) pslog.Logger {
	if logger := pslog.LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return h.logger
}

type httpError struct {
	Status int
	Code   string
	Detail string
}

func (h httpError) Error() string {
	if h.Detail != "" {
		return fmt.Sprintf("%s: %s", h.Code, h.Detail)
	}
	return h.Code
}
