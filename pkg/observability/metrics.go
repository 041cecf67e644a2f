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
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for the driver's stage
// loop, the scheduler, the quality gate runner, and the checkpoint store.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	// Stage metrics
	stagesStarted  *prometheus.CounterVec
	stagesFinished *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	stagesActive   *prometheus.GaugeVec

	// Task metrics
	tasksDispatched *prometheus.CounterVec
	tasksFinished   *prometheus.CounterVec
	taskRetries     *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec

	// Gate metrics
	gateChecksTotal   *prometheus.CounterVec
	gateCheckDuration *prometheus.HistogramVec

	// Checkpoint metrics
	checkpointWrites   *prometheus.CounterVec
	checkpointDuration *prometheus.HistogramVec
	checkpointErrors   *prometheus.CounterVec

	// HTTP metrics (the control-plane surface in pkg/control)
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpRequestSize  *prometheus.HistogramVec
	httpResponseSize *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance from configuration.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	m.initStageMetrics()
	m.initTaskMetrics()
	m.initGateMetrics()
	m.initCheckpointMetrics()
	m.initHTTPMetrics()

	return m, nil
}

func (m *Metrics) initStageMetrics() {
	m.stagesStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "stage",
			Name:      "started_total",
			Help:      "Total number of stages started",
		},
		[]string{"stage_name"},
	)

	m.stagesFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "stage",
			Name:      "finished_total",
			Help:      "Total number of stages finished, by pass-rule outcome",
		},
		[]string{"stage_name", "result"},
	)

	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Stage wall-clock duration in seconds, from dispatch to pass-rule evaluation",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~4.5h
		},
		[]string{"stage_name"},
	)

	m.stagesActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.config.Namespace,
			Subsystem: "stage",
			Name:      "active",
			Help:      "Number of stages currently running",
		},
		[]string{"stage_name"},
	)

	m.registry.MustRegister(m.stagesStarted, m.stagesFinished, m.stageDuration, m.stagesActive)
}

func (m *Metrics) initTaskMetrics() {
	m.tasksDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "task",
			Name:      "dispatched_total",
			Help:      "Total number of tasks dispatched to a collaborator",
		},
		[]string{"stage_name"},
	)

	m.tasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "task",
			Name:      "finished_total",
			Help:      "Total number of tasks finished, by terminal status",
		},
		[]string{"stage_name", "status"},
	)

	m.taskRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "task",
			Name:      "retries_total",
			Help:      "Total number of task retries after a failed attempt",
		},
		[]string{"stage_name"},
	)

	m.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Task attempt duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 15),
		},
		[]string{"stage_name"},
	)

	m.registry.MustRegister(m.tasksDispatched, m.tasksFinished, m.taskRetries, m.taskDuration)
}

func (m *Metrics) initGateMetrics() {
	m.gateChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "gate",
			Name:      "checks_total",
			Help:      "Total number of quality gate checks, by gate name and result",
		},
		[]string{"gate_name", "result"},
	)

	m.gateCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "gate",
			Name:      "check_duration_seconds",
			Help:      "Quality gate check duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~160s
		},
		[]string{"gate_name"},
	)

	m.registry.MustRegister(m.gateChecksTotal, m.gateCheckDuration)
}

func (m *Metrics) initCheckpointMetrics() {
	m.checkpointWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "checkpoint",
			Name:      "writes_total",
			Help:      "Total number of checkpoint writes",
		},
		[]string{},
	)

	m.checkpointDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "checkpoint",
			Name:      "write_duration_seconds",
			Help:      "Checkpoint write latency in seconds (write-temp-then-rename)",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{},
	)

	m.checkpointErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "checkpoint",
			Name:      "write_errors_total",
			Help:      "Total number of failed checkpoint writes",
		},
		[]string{},
	)

	m.registry.MustRegister(m.checkpointWrites, m.checkpointDuration, m.checkpointErrors)
}

func (m *Metrics) initHTTPMetrics() {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests against the control plane",
		},
		[]string{"method", "path", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.httpRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 7),
		},
		[]string{"method", "path"},
	)

	m.httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 7),
		},
		[]string{"method", "path"},
	)

	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.httpRequestSize, m.httpResponseSize)
}

// =============================================================================
// Stage Metrics
// =============================================================================

// RecordStageStarted marks a stage as dispatched.
func (m *Metrics) RecordStageStarted(stageName string) {
	if m == nil {
		return
	}
	m.stagesStarted.WithLabelValues(stageName).Inc()
	m.stagesActive.WithLabelValues(stageName).Inc()
}

// RecordStageFinished records a stage's pass-rule outcome and duration.
// result is typically "pass" or "fail".
func (m *Metrics) RecordStageFinished(stageName, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stagesFinished.WithLabelValues(stageName, result).Inc()
	m.stageDuration.WithLabelValues(stageName).Observe(duration.Seconds())
	m.stagesActive.WithLabelValues(stageName).Dec()
}

// =============================================================================
// Task Metrics
// =============================================================================

// RecordTaskDispatched records a task being handed to a collaborator.
func (m *Metrics) RecordTaskDispatched(stageName string) {
	if m == nil {
		return
	}
	m.tasksDispatched.WithLabelValues(stageName).Inc()
}

// RecordTaskFinished records a task's terminal status and attempt duration.
func (m *Metrics) RecordTaskFinished(stageName, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(stageName, status).Inc()
	m.taskDuration.WithLabelValues(stageName).Observe(duration.Seconds())
}

// RecordTaskRetry records a task being retried after a failed attempt.
func (m *Metrics) RecordTaskRetry(stageName string) {
	if m == nil {
		return
	}
	m.taskRetries.WithLabelValues(stageName).Inc()
}

// =============================================================================
// Gate Metrics
// =============================================================================

// RecordGateCheck records a quality gate check's result and duration.
// result is "pass", "fail", "warn", or "not_applicable".
func (m *Metrics) RecordGateCheck(gateName, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gateChecksTotal.WithLabelValues(gateName, result).Inc()
	m.gateCheckDuration.WithLabelValues(gateName).Observe(duration.Seconds())
}

// =============================================================================
// Checkpoint Metrics
// =============================================================================

// RecordCheckpointWrite records a checkpoint save and its latency.
func (m *Metrics) RecordCheckpointWrite(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.checkpointWrites.WithLabelValues().Inc()
	m.checkpointDuration.WithLabelValues().Observe(duration.Seconds())
	if err != nil {
		m.checkpointErrors.WithLabelValues().Inc()
	}
}

// =============================================================================
// HTTP Metrics
// =============================================================================

// RecordHTTPRequest records an HTTP request against the control plane.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	status := statusCodeLabel(statusCode)
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if reqSize > 0 {
		m.httpRequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	}
	if respSize > 0 {
		m.httpResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
	}
}

// statusCodeLabel converts a status code to a label string.
func statusCodeLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// =============================================================================
// HTTP Handler
// =============================================================================

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
