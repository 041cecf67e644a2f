// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

var (
	globalMetrics Recorder
	metricsMu     sync.RWMutex
)

// SetGlobalMetrics installs the process-wide Recorder used by call sites
// that have no direct reference to the driver's Metrics instance.
func SetGlobalMetrics(m Recorder) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide Recorder, or a NoopMetrics
// if none has been installed.
func GetGlobalMetrics() Recorder {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if globalMetrics == nil {
		return NoopMetrics{}
	}
	return globalMetrics
}

// =============================================================================
// No-op Manager
// =============================================================================

// NoopManager returns a no-operation Manager that does nothing.
// Use this when observability is completely disabled.
func NoopManager() *Manager {
	return &Manager{}
}

// =============================================================================
// No-op Tracer
// =============================================================================

// NoopTracer returns a no-operation Tracer.
type NoopTracer struct{}

// Start returns a no-op span.
func (NoopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// StartStage returns a no-op span.
func (NoopTracer) StartStage(ctx context.Context, _, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// StartTask returns a no-op span.
func (NoopTracer) StartTask(ctx context.Context, _, _, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// StartGateCheck returns a no-op span.
func (NoopTracer) StartGateCheck(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// StartCheckpointWrite returns a no-op span.
func (NoopTracer) StartCheckpointWrite(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// AddGateResult is a no-op.
func (NoopTracer) AddGateResult(_ trace.Span, _ string) {}

// AddPhase is a no-op.
func (NoopTracer) AddPhase(_ trace.Span, _ string) {}

// AddTaskPayload is a no-op.
func (NoopTracer) AddTaskPayload(_ trace.Span, _, _ string) {}

// RecordError is a no-op.
func (NoopTracer) RecordError(_ trace.Span, _ error) {}

// DebugExporter returns nil.
func (NoopTracer) DebugExporter() *DebugExporter { return nil }

// Shutdown is a no-op.
func (NoopTracer) Shutdown(_ context.Context) error { return nil }

// =============================================================================
// No-op Metrics
// =============================================================================

// NoopMetrics is a metrics implementation that does nothing.
type NoopMetrics struct{}

// Stage metrics - no-op
func (NoopMetrics) RecordStageStarted(_ string)                      {}
func (NoopMetrics) RecordStageFinished(_, _ string, _ time.Duration) {}

// Task metrics - no-op
func (NoopMetrics) RecordTaskDispatched(_ string)                   {}
func (NoopMetrics) RecordTaskFinished(_, _ string, _ time.Duration) {}
func (NoopMetrics) RecordTaskRetry(_ string)                        {}

// Gate metrics - no-op
func (NoopMetrics) RecordGateCheck(_, _ string, _ time.Duration) {}

// Checkpoint metrics - no-op
func (NoopMetrics) RecordCheckpointWrite(_ time.Duration, _ error) {}

// HTTP metrics - no-op
func (NoopMetrics) RecordHTTPRequest(_, _ string, _ int, _ time.Duration, _, _ int64) {}

// Handler returns a handler that returns 503 Service Unavailable.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

// =============================================================================
// Recorder Interface
// =============================================================================

// Recorder defines the interface for recording driver/scheduler/gate
// metrics. This allows for dependency injection and easier testing.
type Recorder interface {
	// Stage metrics
	RecordStageStarted(stageName string)
	RecordStageFinished(stageName, result string, duration time.Duration)

	// Task metrics
	RecordTaskDispatched(stageName string)
	RecordTaskFinished(stageName, status string, duration time.Duration)
	RecordTaskRetry(stageName string)

	// Gate metrics
	RecordGateCheck(gateName, result string, duration time.Duration)

	// Checkpoint metrics
	RecordCheckpointWrite(duration time.Duration, err error)

	// HTTP metrics
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64)
}

// Ensure implementations satisfy the interface.
var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)
