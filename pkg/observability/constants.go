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

// Package observability provides OpenTelemetry tracing and Prometheus
// metrics for the driver's stage loop, the scheduler, the quality gate
// runner, and the checkpoint store.
//
// # Architecture
//
// The observability system has three main components:
//
//  1. Tracing: OpenTelemetry spans with OTLP export, one span per stage,
//     task attempt, gate check, and checkpoint write.
//  2. Metrics: Prometheus counters and histograms for the same events.
//  3. Debug: in-memory span capture for local inspection.
//
// # Configuration
//
// Configure observability under the driver's config file:
//
//	observability:
//	  tracing:
//	    enabled: true
//	    exporter: otlp
//	    endpoint: localhost:4317
//	    sampling_rate: 1.0
//	    service_name: longagent
//	  metrics:
//	    enabled: true
//	    endpoint: /metrics
package observability

// =============================================================================
// Service Attributes (OpenTelemetry Semantic Conventions)
// =============================================================================

const (
	// AttrServiceName is the logical name of the service.
	AttrServiceName = "service.name"

	// AttrServiceVersion is the version of the service.
	AttrServiceVersion = "service.version"

	// AttrServiceInstance is the instance ID of the service.
	AttrServiceInstance = "service.instance.id"
)

// =============================================================================
// Driver-Domain Attributes
// =============================================================================

const (
	// AttrSessionID is the orchestrated session's id.
	AttrSessionID = "longagent.session_id"

	// AttrStageID is the stage id within a frozen plan.
	AttrStageID = "longagent.stage_id"

	// AttrStageName is the human-readable stage name.
	AttrStageName = "longagent.stage_name"

	// AttrTaskID is the task id within a stage.
	AttrTaskID = "longagent.task_id"

	// AttrTaskAttempt is the 1-based attempt number for a task.
	AttrTaskAttempt = "longagent.task_attempt"

	// AttrGateName is the quality gate's name (build, test, review, health, budget).
	AttrGateName = "longagent.gate_name"

	// AttrGateResult is a gate check's outcome: pass, fail, warn, or not_applicable.
	AttrGateResult = "longagent.gate_result"

	// AttrPhase is the driver's current lifecycle phase.
	AttrPhase = "longagent.phase"

	// AttrTaskPrompt is a task's collaborator prompt (optional, for debugging).
	AttrTaskPrompt = "longagent.task.prompt"

	// AttrTaskResult is a task's collaborator result (optional, for debugging).
	AttrTaskResult = "longagent.task.result"
)

// =============================================================================
// HTTP Attributes
// =============================================================================

const (
	// AttrHTTPMethod is the HTTP method.
	AttrHTTPMethod = "http.method"

	// AttrHTTPPath is the raw HTTP request path (r.URL.Path).
	AttrHTTPPath = "http.route"

	// AttrHTTPStatusCode is the HTTP response status code.
	AttrHTTPStatusCode = "http.status_code"

	// AttrHTTPRequestSize is the request body size in bytes.
	AttrHTTPRequestSize = "http.request.body.size"

	// AttrHTTPResponseSize is the response body size in bytes.
	AttrHTTPResponseSize = "http.response.body.size"
)

// =============================================================================
// Error Attributes
// =============================================================================

const (
	// AttrErrorType is the type of error that occurred.
	AttrErrorType = "error.type"

	// AttrErrorMessage is the error message.
	AttrErrorMessage = "error.message"
)

// =============================================================================
// Span Names
// =============================================================================

const (
	// SpanStage is the top-level span for a stage's run, from dispatch to
	// pass-rule evaluation.
	SpanStage = "longagent.stage.run"

	// SpanTask is a span for a single task attempt handed to a collaborator.
	SpanTask = "longagent.task.run"

	// SpanGateCheck is a span for one quality gate check.
	SpanGateCheck = "longagent.gate.check"

	// SpanCheckpointWrite is a span for a checkpoint write-temp-then-rename.
	SpanCheckpointWrite = "longagent.checkpoint.write"

	// SpanHTTPRequest is a span for control-plane HTTP request handling.
	SpanHTTPRequest = "longagent.http.request"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultServiceName is the default service name for tracing.
	DefaultServiceName = "longagent"

	// DefaultSamplingRate is the default trace sampling rate.
	DefaultSamplingRate = 1.0

	// DefaultOTLPEndpoint is the default OTLP endpoint.
	DefaultOTLPEndpoint = "localhost:4317"

	// DefaultMetricsPath is the default Prometheus metrics endpoint.
	DefaultMetricsPath = "/metrics"
)
