package observability

import (
	"context"
	"testing"
	"time"
)

func TestMetricsRecordingNilSafe(t *testing.T) {
	var metrics *Metrics

	metrics.RecordStageStarted("backend")
	metrics.RecordStageFinished("backend", "pass", 100*time.Millisecond)
	metrics.RecordTaskDispatched("backend")
	metrics.RecordTaskFinished("backend", "succeeded", 50*time.Millisecond)
	metrics.RecordTaskRetry("backend")
	metrics.RecordGateCheck("build", "pass", 10*time.Millisecond)
	metrics.RecordCheckpointWrite(5*time.Millisecond, nil)
	metrics.RecordHTTPRequest("GET", "/sessions", 200, 1*time.Millisecond, 0, 128)

	t.Log("nil *Metrics receiver is safe across all Record* methods")
}

func TestNewMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Fatal("expected nil Metrics when disabled")
	}
}

func TestNewMetricsRegistersCollectors(t *testing.T) {
	m, err := NewMetrics(&MetricsConfig{Enabled: true, Namespace: "testns"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics when enabled")
	}

	m.RecordStageStarted("backend")
	m.RecordStageFinished("backend", "pass", 2*time.Second)
	m.RecordGateCheck("test", "fail", 1*time.Second)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestNoopMetrics(t *testing.T) {
	var noopMetrics Recorder = NoopMetrics{}

	noopMetrics.RecordStageStarted("backend")
	noopMetrics.RecordTaskDispatched("backend")
	noopMetrics.RecordGateCheck("build", "pass", time.Millisecond)
	noopMetrics.RecordCheckpointWrite(time.Millisecond, nil)

	resp := NoopMetrics{}.Handler()
	if resp == nil {
		t.Fatal("expected a non-nil handler")
	}
}

func TestNoopTracer(t *testing.T) {
	var tracer NoopTracer

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test_span")
	defer span.End()

	_, span = tracer.StartStage(ctx, "sess-1", "stage-1", "backend")
	defer span.End()

	tracer.AddGateResult(span, "pass")
	tracer.RecordError(span, nil)

	if tracer.Shutdown(ctx) != nil {
		t.Fatal("expected nil-op shutdown to succeed")
	}
}

func TestGlobalMetrics(t *testing.T) {
	noopMetrics := NoopMetrics{}
	SetGlobalMetrics(noopMetrics)

	retrieved := GetGlobalMetrics()
	if retrieved == nil {
		t.Fatal("expected non-nil metrics after SetGlobalMetrics")
	}
	retrieved.RecordStageStarted("backend")
}
