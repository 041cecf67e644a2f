// Package scheduler implements the Stage Scheduler / Barrier (spec
// §4.5): concurrency-limited dispatch of a stage's tasks, per-task
// retry, a barrier wait until all tasks reach a terminal state, a budget
// circuit-breaker, and a runtime file-ownership audit.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kkelly-oss/kkcode/pkg/events"
	"github.com/kkelly-oss/kkcode/pkg/observability"
	"github.com/kkelly-oss/kkcode/pkg/plan"
	"github.com/kkelly-oss/kkcode/pkg/state"
	"github.com/kkelly-oss/kkcode/pkg/util"
	"github.com/kkelly-oss/kkcode/pkg/worker"
	"go.opentelemetry.io/otel/trace"
)

// pollInterval is the fixed cooperative-dispatch sleep between rounds.
const pollInterval = 300 * time.Millisecond

// Config is the per-stage configuration (spec §4.5).
type Config struct {
	MaxConcurrency int
	TaskTimeoutMs  int
	TaskMaxRetries int
	BudgetLimitUsd float64
}

// DefaultConfig returns the spec's stated per-stage defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 3, TaskTimeoutMs: 600000, TaskMaxRetries: 2}
}

// Input bundles everything one RunStage call needs.
type Input struct {
	Stage            plan.Stage
	SessionID        string
	Config           Config
	Provider         string
	Model            string
	SeedTaskProgress map[string]state.TaskProgress
	Objective        string
	StageIndex       int
	PriorContext     string
}

// Summary is the barrier's return value (spec §4.5 step 4).
type Summary struct {
	AllSuccess           bool
	SuccessCount         int
	FailCount            int
	RetryCount           int
	RemainingFiles       []string
	CompletionMarkerSeen bool
	TotalCost            float64
	FileChanges          []state.FileChange
	TaskProgress         map[string]state.TaskProgress
}

// ownershipError is returned (as *OwnershipError) when the stage's own
// plannedFiles overlap — a plan bug, fatal for the whole stage.
type OwnershipError struct {
	Path  string
	Tasks []string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("file %q claimed by multiple tasks: %s", e.Path, strings.Join(e.Tasks, ", "))
}

const completionSentinel = "[task_complete]"

// Scheduler runs stages against a Worker Pool, emitting events as it
// goes.
type Scheduler struct {
	pool worker.Pool
	bus  events.Sink

	// Metrics and Tracer are optional; both are nil-safe.
	Metrics observability.Recorder
	Tracer  *observability.Tracer
}

// New creates a Scheduler dispatching onto pool and emitting through bus.
func New(pool worker.Pool, bus events.Sink) *Scheduler {
	if bus == nil {
		bus = noopSink{}
	}
	return &Scheduler{pool: pool, bus: bus}
}

type noopSink struct{}

func (noopSink) Emit(events.Event) {}

// taskState tracks one task's in-flight bookkeeping during RunStage.
type taskState struct {
	task           plan.Task
	attempt        int
	status         string // pending, running, retrying, completed, error, cancelled
	handle         worker.Handle
	hasHandle      bool
	completedFiles map[string]bool
	remainingFiles map[string]bool
	lastError      string
	lastReply      string
	lastCost       float64
	fileChanges    []state.FileChange
	dispatchedAt   time.Time
	span           trace.Span
}

// RunStage executes one stage to completion per spec §4.5's algorithm.
func (sch *Scheduler) RunStage(in Input) (Summary, error) {
	stageStart := time.Now()
	_, stageSpan := sch.Tracer.StartStage(context.Background(), in.SessionID, in.Stage.StageID, in.Stage.Name)
	defer stageSpan.End()
	if sch.Metrics != nil {
		sch.Metrics.RecordStageStarted(in.Stage.Name)
	}

	summary, err := sch.runStage(in)

	result := "pass"
	if err != nil || !summary.AllSuccess {
		result = "fail"
	}
	sch.Tracer.RecordError(stageSpan, err)
	if sch.Metrics != nil {
		sch.Metrics.RecordStageFinished(in.Stage.Name, result, time.Since(stageStart))
	}
	return summary, err
}

func (sch *Scheduler) runStage(in Input) (Summary, error) {
	cfg := in.Config
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if cfg.TaskTimeoutMs <= 0 {
		cfg.TaskTimeoutMs = DefaultConfig().TaskTimeoutMs
	}

	// 1. Ownership precheck.
	fileOwner := map[string]string{}
	for _, t := range in.Stage.Tasks {
		for _, f := range t.PlannedFiles {
			if owner, dup := fileOwner[f]; dup {
				err := &OwnershipError{Path: f, Tasks: []string{owner, t.TaskID}}
				sch.bus.Emit(events.Event{Name: events.StageStarted, Payload: map[string]any{
					"stageId": in.Stage.StageID, "taskCount": len(in.Stage.Tasks), "passRule": in.Stage.PassRule,
					"error": err.Error(),
				}})
				return Summary{}, err
			}
			fileOwner[f] = t.TaskID
		}
	}

	sch.bus.Emit(events.Event{Name: events.StageStarted, Payload: map[string]any{
		"stageId": in.Stage.StageID, "taskCount": len(in.Stage.Tasks), "passRule": in.Stage.PassRule,
	}})

	// 2. Seed.
	states := make(map[string]*taskState, len(in.Stage.Tasks))
	order := make([]string, 0, len(in.Stage.Tasks))
	for _, t := range in.Stage.Tasks {
		ts := &taskState{task: t, status: "pending", completedFiles: map[string]bool{}, remainingFiles: map[string]bool{}}
		for _, f := range t.PlannedFiles {
			ts.remainingFiles[f] = true
		}
		if seed, ok := in.SeedTaskProgress[t.TaskID]; ok {
			ts.attempt = seed.Attempt
			ts.lastError = seed.LastError
			ts.lastReply = seed.LastReply
			ts.lastCost = seed.LastCost
			ts.fileChanges = append(ts.fileChanges, seed.FileChanges...)
			for _, f := range seed.CompletedFiles {
				ts.completedFiles[f] = true
				delete(ts.remainingFiles, f)
			}
			if seed.Status == "completed" {
				ts.status = "completed"
			}
		}
		states[t.TaskID] = ts
		order = append(order, t.TaskID)
	}

	// 3. Dispatch loop.
	for {
		sch.pool.Tick(worker.TickConfig{MaxParallel: cfg.MaxConcurrency})

		running := 0
		for _, ts := range states {
			if ts.status == "running" {
				running++
			}
		}

		for running < cfg.MaxConcurrency {
			next := nextDispatchable(states, order)
			if next == "" {
				break
			}
			ts := states[next]
			ts.attempt++
			prompt := ts.task.Prompt
			if ts.attempt > 1 {
				prompt = retryPrompt(ts)
				if sch.Metrics != nil {
					sch.Metrics.RecordTaskRetry(in.Stage.Name)
				}
			}
			ts.status = "running"
			ts.dispatchedAt = time.Now()
			_, ts.span = sch.Tracer.StartTask(context.Background(), in.SessionID, in.Stage.StageID, ts.task.TaskID, ts.attempt)

			handle, err := sch.pool.Launch(worker.Descriptor{
				ParentSessionID: in.SessionID,
				SubSessionID:    fmt.Sprintf("%s/%s", in.SessionID, ts.task.TaskID),
				Prompt:          prompt,
				Provider:        in.Provider,
				Model:           in.Model,
				StageID:         in.Stage.StageID,
				TaskID:          ts.task.TaskID,
				PlannedFiles:    ts.task.PlannedFiles,
				Attempt:         ts.attempt,
				TimeoutMs:       cfg.TaskTimeoutMs,
			})
			if err != nil {
				ts.status = "error"
				ts.lastError = err.Error()
				sch.Tracer.RecordError(ts.span, err)
				ts.span.End()
				continue
			}
			ts.handle = handle
			ts.hasHandle = true
			running++
			if sch.Metrics != nil {
				sch.Metrics.RecordTaskDispatched(in.Stage.Name)
			}

			sch.bus.Emit(events.Event{Name: events.StageTaskDispatched, Payload: map[string]any{
				"stageId": in.Stage.StageID, "taskId": ts.task.TaskID, "workerHandle": string(handle), "attempt": ts.attempt,
			}})
		}

		for _, id := range order {
			ts := states[id]
			if !ts.hasHandle {
				continue
			}
			poll, err := sch.pool.Poll(ts.handle)
			if err != nil {
				continue
			}
			if poll.Status == worker.HandleRunning {
				continue
			}

			ts.hasHandle = false
			sch.finishTask(ts, poll, in.Stage, cfg)

			if ts.lastError != "" {
				sch.Tracer.RecordError(ts.span, fmt.Errorf("%s", ts.lastError))
			}
			if ts.span != nil {
				ts.span.End()
				ts.span = nil
			}
			if sch.Metrics != nil {
				sch.Metrics.RecordTaskFinished(in.Stage.Name, ts.status, time.Since(ts.dispatchedAt))
			}

			sch.bus.Emit(events.Event{Name: events.StageTaskFinished, Payload: map[string]any{
				"stageId": in.Stage.StageID, "taskId": ts.task.TaskID, "status": ts.status,
				"attempt": ts.attempt, "remainingFiles": remainingSlice(ts),
			}})
		}

		// Budget breaker.
		if cfg.BudgetLimitUsd > 0 {
			var total float64
			for _, ts := range states {
				total += ts.lastCost
			}
			if total >= cfg.BudgetLimitUsd {
				for _, ts := range states {
					if ts.status == "pending" || ts.status == "retrying" {
						ts.status = "error"
						ts.lastError = "budget limit exceeded"
					}
					if ts.hasHandle {
						_ = sch.pool.Cancel(ts.handle)
						ts.hasHandle = false
						ts.status = "cancelled"
						ts.span.End()
						if sch.Metrics != nil {
							sch.Metrics.RecordTaskFinished(in.Stage.Name, ts.status, time.Since(ts.dispatchedAt))
						}
					}
				}
				sch.bus.Emit(events.Event{Name: events.Alert, Payload: map[string]any{
					"kind": events.AlertBudgetBreaker, "message": "budget limit exceeded", "stageId": in.Stage.StageID,
				}})
				break
			}
		}

		if !anyPendingRetryingOrRunning(states) {
			break
		}

		time.Sleep(pollInterval)
	}

	return sch.summarize(states, order), nil
}

func nextDispatchable(states map[string]*taskState, order []string) string {
	for _, id := range order {
		ts := states[id]
		if ts.status == "pending" || ts.status == "retrying" {
			return id
		}
	}
	return ""
}

func retryPrompt(ts *taskState) string {
	var remaining []string
	for f := range ts.remainingFiles {
		remaining = append(remaining, f)
	}
	return fmt.Sprintf("%s\n\nRetry attempt %d. Remaining files: %s. Last error: %s",
		ts.task.Prompt, ts.attempt, strings.Join(remaining, ", "), ts.lastError)
}

func (sch *Scheduler) finishTask(ts *taskState, poll worker.PollResult, stage plan.Stage, cfg Config) {
	if poll.Status == worker.HandleCancelled {
		ts.status = "cancelled"
		return
	}
	if poll.Result == nil {
		ts.status = "error"
		if poll.Error != nil {
			ts.lastError = poll.Error.Error()
		}
		return
	}
	result := *poll.Result

	for _, f := range result.CompletedFiles {
		ts.completedFiles[f] = true
		delete(ts.remainingFiles, f)
	}
	if result.RemainingFiles != nil {
		ts.remainingFiles = map[string]bool{}
		for _, f := range result.RemainingFiles {
			ts.remainingFiles[f] = true
		}
	}

	var incoming []state.FileChange
	for _, fc := range result.FileChanges {
		incoming = append(incoming, state.FileChange{
			Path: fc.Path, AddedLines: fc.AddedLines, RemovedLines: fc.RemovedLines,
			StageID: fc.StageID, TaskID: fc.TaskID,
		})
	}
	ts.fileChanges = util.MergeFileChanges(ts.fileChanges, incoming, 0)
	ts.lastReply = result.Reply
	ts.lastCost += result.Cost
	if result.Error != "" {
		ts.lastError = result.Error
	}

	// Ownership audit (non-fatal).
	for _, fc := range result.FileChanges {
		owned := false
		for _, pf := range ts.task.PlannedFiles {
			if pf == fc.Path {
				owned = true
				break
			}
		}
		if !owned {
			sch.bus.Emit(events.Event{Name: events.Alert, Payload: map[string]any{
				"kind": events.AlertFileOwnershipViolation, "message": fmt.Sprintf("task %s touched unowned file %s", ts.task.TaskID, fc.Path),
				"stageId": stage.StageID, "taskId": ts.task.TaskID, "path": fc.Path,
			}})
		}
	}

	maxRetries := cfg.TaskMaxRetries
	if ts.task.MaxRetries != nil {
		maxRetries = *ts.task.MaxRetries
	}

	switch {
	case poll.Status == worker.HandleCompleted && len(ts.remainingFiles) == 0:
		ts.status = "completed"
	case poll.Status == worker.HandleCompleted && ts.attempt <= maxRetries:
		ts.status = "retrying"
	case poll.Status == worker.HandleCompleted:
		ts.status = "error"
	default:
		ts.status = "error"
	}
}

func anyPendingRetryingOrRunning(states map[string]*taskState) bool {
	for _, ts := range states {
		if ts.status == "pending" || ts.status == "retrying" || ts.status == "running" {
			return true
		}
	}
	return false
}

func remainingSlice(ts *taskState) []string {
	var out []string
	for f := range ts.remainingFiles {
		out = append(out, f)
	}
	return out
}

func (sch *Scheduler) summarize(states map[string]*taskState, order []string) Summary {
	summary := Summary{TaskProgress: map[string]state.TaskProgress{}}
	seenRemaining := map[string]bool{}

	for _, id := range order {
		ts := states[id]
		switch ts.status {
		case "completed":
			summary.SuccessCount++
		case "error", "cancelled":
			summary.FailCount++
		}
		if ts.attempt > 1 {
			summary.RetryCount++
		}
		for f := range ts.remainingFiles {
			if !seenRemaining[f] {
				seenRemaining[f] = true
				summary.RemainingFiles = append(summary.RemainingFiles, f)
			}
		}
		summary.TotalCost += ts.lastCost
		summary.FileChanges = util.MergeFileChanges(summary.FileChanges, ts.fileChanges, 0)

		if strings.Contains(strings.ToLower(ts.lastReply), completionSentinel) {
			summary.CompletionMarkerSeen = true
		}

		var completedFiles []string
		for f := range ts.completedFiles {
			completedFiles = append(completedFiles, f)
		}
		summary.TaskProgress[id] = state.TaskProgress{
			Attempt: ts.attempt, Status: ts.status, PlannedFiles: ts.task.PlannedFiles,
			CompletedFiles: completedFiles, RemainingFiles: remainingSlice(ts),
			FileChanges: ts.fileChanges, LastError: ts.lastError, LastReply: ts.lastReply, LastCost: ts.lastCost,
		}
	}

	summary.AllSuccess = summary.FailCount == 0 && summary.SuccessCount == len(order)

	sch.bus.Emit(events.Event{Name: events.StageFinished, Payload: map[string]any{
		"allSuccess": summary.AllSuccess, "successCount": summary.SuccessCount, "failCount": summary.FailCount,
	}})

	return summary
}
