package pushd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/pushd/internal/auditlog"
	"pkt.systems/pushd/internal/clock"
	"pkt.systems/pushd/internal/httpapi"
	"pkt.systems/pushd/internal/publish"
	"pkt.systems/pushd/internal/svcfields"
	"pkt.systems/pushd/internal/transfer"
)

// Server wraps the HTTP server, the publish orchestrator and telemetry.
type Server struct {
	cfg          Config
	logger       pslog.Logger
	handler      http.Handler
	httpSrv      *http.Server
	listener     net.Listener
	audit        *auditlog.Log
	telemetry    *telemetry
	lastServeErr error

	mu        sync.Mutex
	shutdown  bool
	readyOnce sync.Once
	readyCh   chan struct{}
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger       pslog.Logger
	Clock        clock.Clock
	OTLPEndpoint string
	FTPDialer    transfer.Dialer
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// WithOTLPEndpoint overrides the OTLP collector endpoint used for telemetry.
func WithOTLPEndpoint(endpoint string) Option {
	return func(o *options) {
		o.OTLPEndpoint = endpoint
	}
}

// WithFTPDialer replaces the dialer used by every FTP destination (useful for
// tests).
func WithFTPDialer(d transfer.Dialer) Option {
	return func(o *options) {
		o.FTPDialer = d
	}
}

// NewServer constructs a pushd server according to cfg.
// Example:
//
//	cfg := pushd.DefaultConfig()
//	cfg.External.Hosts = []string{"web1.example.com", "web2.example.com"}
//	srv, err := pushd.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := svcfields.Ensure(o.Logger)
	serverClock := o.Clock
	if serverClock == nil {
		serverClock = clock.Real{}
	}
	if endpoint := strings.TrimSpace(o.OTLPEndpoint); endpoint != "" {
		cfg.OTLPEndpoint = endpoint
	}

	tel, err := startTelemetry(context.Background(), telemetrySettings{
		otlpEndpoint:   cfg.OTLPEndpoint,
		metricsListen:  cfg.MetricsListen,
		runtimeMetrics: cfg.EnableRuntimeMetrics,
	}, logger.With("svc", "telemetry"))
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Server, error) {
		if tel != nil {
			_ = tel.Shutdown(context.Background())
		}
		return nil, err
	}

	audit, err := auditlog.Open(cfg.LogDir, auditlog.WithLogger(logger), auditlog.WithClock(serverClock))
	if err != nil {
		return fail(err)
	}
	targets := targetOptions{cfg: cfg, dialer: o.FTPDialer, logger: logger}
	external, internal, err := buildProfiles(targets)
	if err != nil {
		return fail(fmt.Errorf("build profiles: %w", err))
	}
	promote, err := buildPromote(targets)
	if err != nil {
		return fail(fmt.Errorf("build promote: %w", err))
	}
	orchestrator := publish.New(
		publish.WithLogger(logger),
		publish.WithAudit(audit),
		publish.WithClock(serverClock),
		publish.WithHostParallelism(cfg.HostParallelism),
	)
	handler := httpapi.New(httpapi.Config{
		Orchestrator:       orchestrator,
		External:           external,
		Internal:           internal,
		Promote:            promote,
		Defaults:           healthDefaults(cfg, external, internal, promote),
		Logger:             logger,
		Clock:              serverClock,
		JSONMaxBytes:       cfg.JSONMaxBytes,
		DisableHTTPTracing: cfg.DisableHTTPTracing,
	})
	mux := http.NewServeMux()
	handler.Register(mux)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}

	return &Server{
		cfg:       cfg,
		logger:    logger.With("svc", "server"),
		handler:   mux,
		httpSrv:   httpSrv,
		audit:     audit,
		telemetry: tel,
		readyCh:   make(chan struct{}),
	}, nil
}

// Handler returns the underlying HTTP handler so pushd can be mounted inside
// an existing mux.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config returns the validated configuration the server runs with.
func (s *Server) Config() Config {
	return s.cfg
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s): %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.signalReady()
	s.logger.Info("listening",
		"address", ln.Addr().String(),
		"external_hosts", len(s.cfg.External.Hosts),
		"log_dir", s.audit.Dir(),
	)
	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown gracefully stops the server. In-flight publishes finish unless ctx
// ends first. The returned error is nil for clean shutdowns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if ln != nil {
		_ = ln.Close()
	}
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			return err
		}
		s.telemetry = nil
	}
	s.logger.Info("shutdown.complete")
	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the server listener is initialized or context ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// MetricsAddr returns the bound Prometheus address, or "" when disabled.
func (s *Server) MetricsAddr() string {
	return s.telemetry.MetricsAddr()
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	s.lastServeErr = err
	s.mu.Unlock()
}

// LastServeError returns the most recent error reported by the underlying HTTP
// server.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

// StartServer starts a server in the background and returns a stop function.
// The server also stops when ctx is cancelled.
//
//	srv, stop, err := pushd.StartServer(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stop(context.Background())
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	select {
	case <-srv.readyCh:
	case err := <-errCh:
		_ = srv.Close()
		if err == nil {
			err = errors.New("server stopped before becoming ready")
		}
		return nil, nil, err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil, nil, ctx.Err()
	}
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			if shutdownCtx == nil {
				shutdownCtx = context.Background()
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stopErr = err
				return
			}
			if err := <-errCh; err != nil {
				stopErr = err
			}
		})
		return stopErr
	}
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			_ = stop(context.Background())
		}()
	}
	return srv, stop, nil
}
