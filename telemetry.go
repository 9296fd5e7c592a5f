package pushd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"pkt.systems/pslog"

	"pkt.systems/pushd/internal/version"
)

const (
	otlpGRPCPort      = "4317"
	otlpHTTPPort      = "4318"
	otlpExportTimeout = 10 * time.Second
)

type telemetrySettings struct {
	otlpEndpoint   string
	metricsListen  string
	runtimeMetrics bool
}

func (s telemetrySettings) enabled() bool {
	return strings.TrimSpace(s.otlpEndpoint) != "" || strings.TrimSpace(s.metricsListen) != ""
}

// telemetry owns the tracer and meter providers plus the /metrics listener.
// Shutdown releases them in reverse start order.
type telemetry struct {
	logger    pslog.Logger
	metricsLn net.Listener
	stops     []namedStop
}

type namedStop struct {
	name string
	stop func(context.Context) error
}

func (t *telemetry) onShutdown(name string, stop func(context.Context) error) {
	t.stops = append(t.stops, namedStop{name: name, stop: stop})
}

// MetricsAddr returns the bound metrics address, or "" when metrics are off.
func (t *telemetry) MetricsAddr() string {
	if t == nil || t.metricsLn == nil {
		return ""
	}
	return t.metricsLn.Addr().String()
}

func (t *telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	for i := len(t.stops) - 1; i >= 0; i-- {
		s := t.stops[i]
		if err := s.stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Warn("telemetry.shutdown.failure", "component", s.name, "error", err)
			errs = append(errs, fmt.Errorf("%s shutdown: %w", s.name, err))
		}
	}
	t.stops = nil
	if err := errors.Join(errs...); err != nil {
		return err
	}
	t.logger.Debug("telemetry.shutdown.complete")
	return nil
}

type otelErrorHandler struct {
	logger pslog.Logger
}

func (h otelErrorHandler) Handle(err error) {
	if err == nil {
		return
	}
	// The gRPC exporter reports every reconnect attempt.
	if strings.Contains(err.Error(), "waiting for connections to become ready") {
		h.logger.Debug("telemetry.exporter.retry", "error", err)
		return
	}
	h.logger.Warn("telemetry.exporter.error", "error", err)
}

var (
	runtimeMetricsOnce sync.Once
	runtimeMetricsErr  error
)

// startTelemetry installs global OTel providers. It returns nil when neither
// tracing nor metrics are configured.
func startTelemetry(ctx context.Context, settings telemetrySettings, logger pslog.Logger) (_ *telemetry, err error) {
	if !settings.enabled() {
		if settings.runtimeMetrics {
			return nil, errors.New("telemetry: runtime metrics require a metrics listen address")
		}
		return nil, nil
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName(version.AppName()),
			semconv.ServiceVersion(version.Current()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	t := &telemetry{logger: logger}
	defer func() {
		if err != nil {
			_ = t.Shutdown(ctx)
		}
	}()

	if endpoint := strings.TrimSpace(settings.otlpEndpoint); endpoint != "" {
		target, err := resolveOTLPTarget(endpoint)
		if err != nil {
			return nil, err
		}
		provider, err := newTracerProvider(ctx, target, res)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(provider)
		t.onShutdown("trace", provider.Shutdown)
		logger.Info("telemetry.tracing.enabled",
			"protocol", target.protocol,
			"endpoint", target.endpoint,
			"path", target.path,
			"insecure", target.insecure,
		)
	}

	if listen := strings.TrimSpace(settings.metricsListen); listen != "" {
		if err := t.startMetrics(listen, settings.runtimeMetrics, res); err != nil {
			return nil, err
		}
	} else if settings.runtimeMetrics {
		return nil, errors.New("telemetry: runtime metrics require a metrics listen address")
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otelErrorHandler{logger: logger})
	return t, nil
}

func (t *telemetry) startMetrics(listen string, runtimeMetrics bool, res *resource.Resource) error {
	registry := prometheus.NewRegistry()
	exporterOpts := []otelprometheus.Option{otelprometheus.WithRegisterer(registry)}
	if runtimeMetrics {
		exporterOpts = append(exporterOpts, otelprometheus.WithProducer(otelruntime.NewProducer()))
	}
	exporter, err := otelprometheus.New(exporterOpts...)
	if err != nil {
		return fmt.Errorf("telemetry: start prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)
	t.onShutdown("metric", provider.Shutdown)

	if runtimeMetrics {
		runtimeMetricsOnce.Do(func() {
			runtimeMetricsErr = otelruntime.Start(otelruntime.WithMeterProvider(provider))
		})
		if runtimeMetricsErr != nil {
			return fmt.Errorf("telemetry: runtime metrics: %w", runtimeMetricsErr)
		}
		t.logger.Info("telemetry.runtime_metrics.enabled")
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("telemetry: metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Warn("telemetry.metrics.serve_error", "error", err)
		}
	}()
	t.metricsLn = ln
	t.onShutdown("metrics server", srv.Shutdown)
	t.logger.Info("telemetry.metrics.enabled", "listen", ln.Addr().String())
	return nil
}

type otlpTarget struct {
	protocol string // "grpc" or "http"
	endpoint string // host:port
	path     string
	insecure bool
}

func newTracerProvider(ctx context.Context, target otlpTarget, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch target.protocol {
	case "grpc":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(target.endpoint),
			otlptracegrpc.WithTimeout(otlpExportTimeout),
		}
		if target.insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		} else {
			opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, ""))))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(target.endpoint),
			otlptracehttp.WithTimeout(otlpExportTimeout),
		}
		if target.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if target.path != "" && target.path != "/" {
			opts = append(opts, otlptracehttp.WithURLPath(target.path))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("telemetry: unsupported protocol %q", target.protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: start trace exporter (%s): %w", target.protocol, err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
		sdktrace.WithBatcher(exporter),
	), nil
}

// resolveOTLPTarget accepts "host[:port]" (insecure gRPC) or a
// grpc://, grpcs://, http:// or https:// URL.
func resolveOTLPTarget(raw string) (otlpTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return otlpTarget{}, errors.New("telemetry: empty endpoint")
	}
	if !strings.Contains(raw, "://") {
		return otlpTarget{protocol: "grpc", endpoint: withDefaultPort(raw, otlpGRPCPort), insecure: true}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return otlpTarget{}, fmt.Errorf("telemetry: parse endpoint: %w", err)
	}
	host, urlPath := u.Host, u.Path
	if host == "" {
		host, urlPath = strings.TrimPrefix(urlPath, "/"), ""
	}
	if host == "" {
		return otlpTarget{}, errors.New("telemetry: missing endpoint host")
	}
	target := otlpTarget{path: strings.TrimSuffix(urlPath, "/")}
	switch strings.ToLower(u.Scheme) {
	case "grpc", "grpcs":
		target.protocol = "grpc"
		target.endpoint = withDefaultPort(host, otlpGRPCPort)
	case "http", "https":
		target.protocol = "http"
		target.endpoint = withDefaultPort(host, otlpHTTPPort)
	default:
		return otlpTarget{}, fmt.Errorf("telemetry: unknown scheme %q", u.Scheme)
	}
	target.insecure = !strings.HasSuffix(strings.ToLower(u.Scheme), "s")
	return target, nil
}

func withDefaultPort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), port)
}
