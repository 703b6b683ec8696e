package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/triage-ai/taskdb/internal/failover"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zapcore"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatal("expected noop tracer and meter")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInit_NoneExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	_, span := p.Tracer.Start(context.Background(), "taskdb.run")
	span.End()
	if _, err := NewMetrics(p.Meter); err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
}

func TestInit_ConfiguredReaderCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none", Reader: reader})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.QueueHooks().OnEnqueue(4, 4)

	got := collect(t, reader)
	if n := sumOf(t, got["taskdb.queue.enqueued"]); n != 4 {
		t.Errorf("expected 4 enqueued, got %d", n)
	}
}

func TestInit_StdoutExportsMetrics(t *testing.T) {
	var buf bytes.Buffer
	p, err := Init(context.Background(), Config{
		Enabled:        true,
		Exporter:       "stdout",
		Writer:         &buf,
		MetricInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.OnTransition(failover.StatePrimaryActive, failover.StateFallbackActive)

	// Shutdown runs the final export.
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "taskdb.failover.transitions") {
		t.Errorf("expected exported metric in stdout output, got:\n%s", buf.String())
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestNewLogger_Levels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "bogus"} {
		logger, err := NewLogger(lvl)
		if err != nil {
			t.Fatalf("NewLogger(%q): %v", lvl, err)
		}
		_ = logger.Sync()
	}
	logger, _ := NewLogger("warn")
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("warn logger should not enable debug")
	}
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected int64 sum, got %T", data)
	}
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_HooksRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp.Meter(ScopeName))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	hooks := m.QueueHooks()
	hooks.OnEnqueue(1, 1)
	hooks.OnEnqueue(2, 3)
	hooks.OnEvict(2)
	hooks.OnFlushBatch(15*time.Millisecond, 3, 0)
	hooks.OnFlushIdle(0)
	m.OnMismatch("insert")
	m.OnTransition(failover.StatePrimaryActive, failover.StateFallbackActive)

	got := collect(t, reader)
	if n := sumOf(t, got["taskdb.queue.enqueued"]); n != 3 {
		t.Errorf("expected 3 enqueued, got %d", n)
	}
	if n := sumOf(t, got["taskdb.queue.evicted"]); n != 2 {
		t.Errorf("expected 2 evicted, got %d", n)
	}
	if n := sumOf(t, got["taskdb.dual.mismatches"]); n != 1 {
		t.Errorf("expected 1 mismatch, got %d", n)
	}
	if n := sumOf(t, got["taskdb.failover.transitions"]); n != 1 {
		t.Errorf("expected 1 transition, got %d", n)
	}

	gauge, ok := got["taskdb.queue.depth"].(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 0 {
		t.Errorf("expected depth gauge at 0, got %+v", got["taskdb.queue.depth"])
	}
	hist, ok := got["taskdb.flush.duration"].(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("expected one flush duration sample, got %+v", got["taskdb.flush.duration"])
	}
}
