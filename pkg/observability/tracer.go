// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer wraps the OpenTelemetry tracer with driver-phase helpers: one
// span per stage run, task attempt, gate check, and checkpoint write.
type Tracer struct {
	provider       *sdktrace.TracerProvider
	tracer         trace.Tracer
	debugExporter  *DebugExporter
	capturePayload bool
	serviceName    string
}

// TracerOption configures the Tracer.
type TracerOption func(*Tracer)

// WithDebugExporter adds a debug exporter for local span inspection.
func WithDebugExporter(exporter *DebugExporter) TracerOption {
	return func(t *Tracer) {
		t.debugExporter = exporter
	}
}

// WithCapturePayloads enables capturing task prompts/results on spans.
func WithCapturePayloads(capture bool) TracerOption {
	return func(t *Tracer) {
		t.capturePayload = capture
	}
}

// NewTracer creates a new Tracer from configuration.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SamplingRate)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Tracer{
		provider:    provider,
		tracer:      provider.Tracer(cfg.ServiceName),
		serviceName: cfg.ServiceName,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.debugExporter != nil {
		provider.RegisterSpanProcessor(sdktrace.NewSimpleSpanProcessor(t.debugExporter))
	}

	return t, nil
}

// createExporter creates the appropriate span exporter based on configuration.
func createExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		return createOTLPExporter(ctx, cfg)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "jaeger", "zipkin":
		// Modern collectors for both accept OTLP, so route through it too.
		return createOTLPExporter(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
}

// createOTLPExporter creates an OTLP gRPC exporter.
func createOTLPExporter(ctx context.Context, cfg *TracingConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
	}

	if cfg.IsInsecure() {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	return otlptracegrpc.New(ctx, opts...)
}

// Start begins a new span with the given name.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, noopSpan()
	}
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartStage begins a span for one stage's run.
func (t *Tracer) StartStage(ctx context.Context, sessionID, stageID, stageName string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanStage,
		trace.WithAttributes(
			attribute.String(AttrSessionID, sessionID),
			attribute.String(AttrStageID, stageID),
			attribute.String(AttrStageName, stageName),
		),
	)
}

// StartTask begins a span for one task attempt handed to a collaborator.
func (t *Tracer) StartTask(ctx context.Context, sessionID, stageID, taskID string, attempt int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanTask,
		trace.WithAttributes(
			attribute.String(AttrSessionID, sessionID),
			attribute.String(AttrStageID, stageID),
			attribute.String(AttrTaskID, taskID),
			attribute.Int(AttrTaskAttempt, attempt),
		),
	)
}

// StartGateCheck begins a span for one quality gate check.
func (t *Tracer) StartGateCheck(ctx context.Context, sessionID, gateName string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanGateCheck,
		trace.WithAttributes(
			attribute.String(AttrSessionID, sessionID),
			attribute.String(AttrGateName, gateName),
		),
	)
}

// StartCheckpointWrite begins a span for a checkpoint save.
func (t *Tracer) StartCheckpointWrite(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanCheckpointWrite,
		trace.WithAttributes(
			attribute.String(AttrSessionID, sessionID),
		),
	)
}

// AddGateResult records a gate check's outcome on its span.
func (t *Tracer) AddGateResult(span trace.Span, result string) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String(AttrGateResult, result))
}

// AddPhase records the driver's current phase on a span.
func (t *Tracer) AddPhase(span trace.Span, phase string) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String(AttrPhase, phase))
}

// AddTaskPayload adds a task's prompt and result to its span, when
// payload capture is enabled in configuration.
func (t *Tracer) AddTaskPayload(span trace.Span, prompt, result string) {
	if span == nil || t == nil || !t.capturePayload {
		return
	}
	if prompt != "" {
		span.SetAttributes(attribute.String(AttrTaskPrompt, prompt))
	}
	if result != "" {
		span.SetAttributes(attribute.String(AttrTaskResult, result))
	}
}

// RecordError records an error on a span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String(AttrErrorType, fmt.Sprintf("%T", err)),
		attribute.String(AttrErrorMessage, err.Error()),
	)
}

// DebugExporter returns the debug exporter if configured.
func (t *Tracer) DebugExporter() *DebugExporter {
	if t == nil {
		return nil
	}
	return t.debugExporter
}

// Shutdown gracefully shuts down the tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// noopSpan returns a no-op span that satisfies the trace.Span interface.
func noopSpan() trace.Span {
	_, span := trace.NewNoopTracerProvider().Tracer("noop").Start(context.Background(), "noop")
	return span
}
