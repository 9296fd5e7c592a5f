package pushd

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestResolveOTLPTarget(t *testing.T) {
	cases := []struct {
		raw  string
		want otlpTarget
	}{
		{raw: "collector", want: otlpTarget{protocol: "grpc", endpoint: "collector:4317", insecure: true}},
		{raw: "collector:9999", want: otlpTarget{protocol: "grpc", endpoint: "collector:9999", insecure: true}},
		{raw: "grpc://collector", want: otlpTarget{protocol: "grpc", endpoint: "collector:4317", insecure: true}},
		{raw: "grpcs://collector:443", want: otlpTarget{protocol: "grpc", endpoint: "collector:443"}},
		{raw: "http://collector", want: otlpTarget{protocol: "http", endpoint: "collector:4318", insecure: true}},
		{raw: "https://collector/v1/traces/", want: otlpTarget{protocol: "http", endpoint: "collector:4318", path: "/v1/traces"}},
		{raw: "http://[::1]", want: otlpTarget{protocol: "http", endpoint: "[::1]:4318", insecure: true}},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := resolveOTLPTarget(tc.raw)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
	for _, raw := range []string{"", "ftp://collector", "http://"} {
		if _, err := resolveOTLPTarget(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestStartTelemetryDisabled(t *testing.T) {
	tel, err := startTelemetry(context.Background(), telemetrySettings{}, nil)
	if err != nil {
		t.Fatalf("startTelemetry: %v", err)
	}
	if tel != nil {
		t.Fatal("expected nil telemetry when nothing is configured")
	}
	if _, err := startTelemetry(context.Background(), telemetrySettings{runtimeMetrics: true}, nil); err == nil {
		t.Fatal("expected runtime metrics without listen address to fail")
	}
}

func TestStartTelemetryServesMetrics(t *testing.T) {
	tel, err := startTelemetry(context.Background(), telemetrySettings{metricsListen: "127.0.0.1:0"}, nil)
	if err != nil {
		t.Fatalf("startTelemetry: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(ctx)
	})
	addr := tel.MetricsAddr()
	if addr == "" {
		t.Fatal("expected bound metrics address")
	}
	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		t.Fatalf("read scrape: %v", err)
	}
}
