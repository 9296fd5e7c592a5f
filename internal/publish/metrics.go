package publish

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"

	"pkt.systems/pushd/internal/transfer"
)

type publishMetrics struct {
	runs       metric.Int64Counter
	duration   metric.Int64Histogram
	files      metric.Int64Counter
	bytes      metric.Int64Counter
	hostErrors metric.Int64Counter
}

func newPublishMetrics(logger pslog.Logger) *publishMetrics {
	meter := otel.Meter("pkt.systems/pushd/publish")
	m := &publishMetrics{}
	var err error

	m.runs, err = meter.Int64Counter(
		"pushd.publish.runs",
		metric.WithDescription("Publish calls by profile and outcome"),
	)
	logMetricInitError(logger, "pushd.publish.runs", err)

	m.duration, err = meter.Int64Histogram(
		"pushd.publish.duration_ms",
		metric.WithDescription("Publish call duration"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "pushd.publish.duration_ms", err)

	m.files, err = meter.Int64Counter(
		"pushd.transfer.files",
		metric.WithDescription("Files handled per target and status"),
	)
	logMetricInitError(logger, "pushd.transfer.files", err)

	m.bytes, err = meter.Int64Counter(
		"pushd.transfer.bytes",
		metric.WithDescription("Bytes delivered per target"),
		metric.WithUnit("By"),
	)
	logMetricInitError(logger, "pushd.transfer.bytes", err)

	m.hostErrors, err = meter.Int64Counter(
		"pushd.transfer.host_errors",
		metric.WithDescription("Targets that could not be reached or authenticated"),
	)
	logMetricInitError(logger, "pushd.transfer.host_errors", err)

	return m
}

func (m *publishMetrics) recordRun(ctx context.Context, profile, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("pushd.profile", profile),
		attribute.String("pushd.publish.outcome", outcome),
	)
	if m.runs != nil {
		m.runs.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Milliseconds(), attrs)
	}
}

func (m *publishMetrics) recordHost(ctx context.Context, profile string, host HostSummary) {
	if m == nil {
		return
	}
	base := []attribute.KeyValue{
		attribute.String("pushd.profile", profile),
		attribute.String("pushd.target", host.Host),
	}
	if host.Error != "" && m.hostErrors != nil {
		m.hostErrors.Add(ctx, 1, metric.WithAttributes(base...))
	}
	if m.files != nil {
		for status, n := range map[transfer.Status]int{
			transfer.StatusOK:      host.OK,
			transfer.StatusSkipped: host.Skipped,
			transfer.StatusError:   host.Err,
		} {
			if n == 0 {
				continue
			}
			attrs := append(base[:len(base):len(base)], attribute.String("pushd.transfer.status", string(status)))
			m.files.Add(ctx, int64(n), metric.WithAttributes(attrs...))
		}
	}
	if m.bytes != nil && host.Bytes > 0 {
		m.bytes.Add(ctx, host.Bytes, metric.WithAttributes(base...))
	}
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}
