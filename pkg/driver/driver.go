// Package driver implements the top-level state machine (spec §4.7):
// Intake → Plan → Scaffold → Stages → Quality Gates → Merge, with
// per-stage checkpointing, exponential backoff, and abort thresholds.
package driver

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kkelly-oss/kkcode/pkg/checkpoint"
	"github.com/kkelly-oss/kkcode/pkg/events"
	"github.com/kkelly-oss/kkcode/pkg/gate"
	"github.com/kkelly-oss/kkcode/pkg/plan"
	"github.com/kkelly-oss/kkcode/pkg/scheduler"
	"github.com/kkelly-oss/kkcode/pkg/state"
	"github.com/kkelly-oss/kkcode/pkg/util"
)

// Driver wires every core component into the outer loop.
type Driver struct {
	States      state.SessionStore
	Checkpoints *checkpoint.Store
	Scheduler   *scheduler.Scheduler
	Gates       *gate.Runner
	Bus         events.Sink
	Config      Config
	Collab      Collaborators
}

// backoffMs implements the spec's repeated min(1000*2^(n-1), 30000)ms
// exponential backoff, shared by stage recovery and gate recovery.
func backoffMs(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ms := math.Min(1000*math.Pow(2, float64(attempt-1)), 30000)
	return time.Duration(ms) * time.Millisecond
}

// Run drives one session to a terminal status, honoring stop/retry
// control flags on every iteration boundary.
func (d *Driver) Run(ctx context.Context, sessionID, objective string) (Result, error) {
	start := time.Now()
	bus := d.Bus
	if bus == nil {
		bus = noopSink{}
	}

	session, err := d.States.Get(sessionID)
	if err != nil {
		return Result{}, err
	}
	if session == nil {
		blank, err := d.States.Update(sessionID, state.Patch{})
		if err != nil {
			return Result{}, err
		}
		session = blank
	}

	if stopped, result := d.checkControlFlags(sessionID, session); stopped {
		return result, nil
	}

	if !util.IsActionableObjective(objective) {
		d.setPhase(sessionID, phaseIntake, "objective not actionable")
		session, _ = d.States.Update(sessionID, state.Patch{Status: statusPtr(state.StatusBlocked)})
		return d.buildResult(sessionID, session, "objective is not actionable; please provide a concrete task", start), nil
	}

	priorContext := objective
	if d.Collab.IntakeDialogue != nil && d.Config.IntakeQuestionsEnabled {
		if summary, err := d.Collab.IntakeDialogue(objective, d.Config.IntakeQuestionsMaxRounds); err == nil && summary != "" {
			priorContext = summary
		}
	}

	gitActive := false
	var gitBranch string
	if d.Config.GitEnabled && d.Collab.Git != nil && d.Collab.Git.IsRepo() {
		gitActive, gitBranch = d.runGitGateBestEffort(sessionID)
	}

	// Plan freeze.
	if session.StagePlan == nil {
		raw, err := d.Collab.Planner(objective, priorContext)
		if err != nil {
			return Result{}, fmt.Errorf("planner invocation failed: %w", err)
		}
		result := plan.Validate(raw, objective, plan.DefaultDefaults())
		session, err = d.States.Update(sessionID, state.Patch{
			StagePlan:  result.Plan,
			StageCount: intPtr(len(result.Plan.Stages)),
			Phase:      strPtr(phasePlanFrozen),
		})
		if err != nil {
			return Result{}, err
		}
		bus.Emit(events.Event{Name: events.PlanFrozen, Payload: map[string]any{
			"planId": result.Plan.PlanID, "stageCount": len(result.Plan.Stages), "errors": result.Errors,
		}})
	}

	if d.Config.ScaffoldEnabled && d.Collab.Scaffolder != nil && session.StageIndex == 0 && len(session.FileChanges) == 0 {
		d.runScaffold(sessionID, session)
		session, _ = d.States.Get(sessionID)
	}

	// Stage loop.
	seenFiles := util.NewSeenFiles()
	stageNames := make([]string, len(session.StagePlan.Stages))
	for i, s := range session.StagePlan.Stages {
		stageNames[i] = s.Name
	}

	for session.StageIndex < len(session.StagePlan.Stages) {
		if stopped, result := d.checkControlFlags(sessionID, session); stopped {
			return result, nil
		}
		if d.heartbeatStale(session) {
			d.setPhase(sessionID, phaseStageRecov, "heartbeat timeout")
			staleStageID := session.StagePlan.Stages[session.StageIndex].StageID
			session, err = d.States.Update(sessionID, state.Patch{RecoveryCount: intPtr(session.RecoveryCount + 1)})
			if err != nil {
				return Result{}, err
			}
			bus.Emit(events.Event{Name: events.RecoveryEntered, Payload: map[string]any{
				"reason": "heartbeat_timeout", "stageId": staleStageID, "recoveryCount": session.RecoveryCount,
				"iteration": session.Iterations,
			}})
			if session.RecoveryCount >= d.Config.MaxStageRecoveries {
				bus.Emit(events.Event{Name: events.Alert, Payload: map[string]any{
					"kind": events.AlertStageAborted, "message": "max stage recoveries exceeded", "stageId": staleStageID,
				}})
				session, _ = d.States.Update(sessionID, state.Patch{Status: statusPtr(state.StatusError)})
				return d.buildResult(sessionID, session, "stage aborted after max recoveries", start), nil
			}
			time.Sleep(backoffMs(session.RecoveryCount))
		}

		stage := session.StagePlan.Stages[session.StageIndex]
		d.setPhase(sessionID, phaseStageRun, fmt.Sprintf("stage:%s", stage.StageID))
		session = d.touchHeartbeat(sessionID, session)
		if d.Config.CheckpointInterval > 0 && session.Iterations%d.Config.CheckpointInterval == 0 {
			if err := d.Checkpoints.Save(sessionID, checkpoint.Record{
				Name: checkpoint.LatestName, Iteration: session.Iterations, Phase: phaseStageRun,
				GateStatus: session.GateStatus, TaskProgress: session.TaskProgress,
				StageIndex: session.StageIndex, StagePlan: session.StagePlan,
			}); err != nil {
				bus.Emit(events.Event{Name: events.Alert, Payload: map[string]any{"kind": "checkpoint_failed", "message": err.Error()}})
			}
		}

		anchor := util.PlanAnchor(objective, stageNames, session.StageIndex)
		fullContext := anchor + "\n" + priorContext

		summary, err := d.Scheduler.RunStage(scheduler.Input{
			Stage:     stage,
			SessionID: sessionID,
			Config: scheduler.Config{
				MaxConcurrency: d.Config.MaxConcurrency,
				TaskTimeoutMs:  d.Config.TaskTimeoutMs,
				TaskMaxRetries: d.Config.TaskMaxRetries,
				BudgetLimitUsd: d.Config.BudgetLimitUsd,
			},
			SeedTaskProgress: filterTaskProgressForStage(session.TaskProgress, stage),
			Objective:        objective,
			StageIndex:       session.StageIndex,
			PriorContext:     fullContext,
		})
		if err != nil {
			d.setPhase(sessionID, phaseTerminal, "ownership violation: "+err.Error())
			session, _ = d.States.Update(sessionID, state.Patch{Status: statusPtr(state.StatusError)})
			return d.buildResult(sessionID, session, "stage aborted: "+err.Error(), start), nil
		}

		mergedTaskProgress := mergeTaskProgress(session.TaskProgress, summary.TaskProgress)
		mergedFileChanges := util.MergeFileChanges(session.FileChanges, summary.FileChanges, d.Config.FileChangesLimit)

		if summary.AllSuccess {
			if gitActive {
				_ = d.Collab.Git.Commit(fmt.Sprintf("stage %s complete", stage.StageID))
			}
			nextIndex := session.StageIndex + 1
			session, err = d.States.Update(sessionID, state.Patch{
				StageIndex:    intPtr(nextIndex),
				TaskProgress:  mergedTaskProgress,
				FileChanges:   mergedFileChanges,
				RecoveryCount: intPtr(0),
			})
			if err != nil {
				return Result{}, err
			}
			if err := d.Checkpoints.Save(sessionID, checkpoint.Record{
				Name: "stage_" + stage.StageID, Iteration: session.Iterations, Phase: phaseStageRun,
				GateStatus: session.GateStatus, TaskProgress: mergedTaskProgress,
				StageIndex: nextIndex, StagePlan: session.StagePlan,
			}); err != nil {
				bus.Emit(events.Event{Name: events.Alert, Payload: map[string]any{"kind": "checkpoint_failed", "message": err.Error()}})
			}

			priorContext = util.AppendStageSummary(priorContext, summaryToStageSummary(stage, summary), seenFiles)
			continue
		}

		session, err = d.States.Update(sessionID, state.Patch{
			TaskProgress:  mergedTaskProgress,
			FileChanges:   mergedFileChanges,
			RecoveryCount: intPtr(session.RecoveryCount + 1),
		})
		if err != nil {
			return Result{}, err
		}
		bus.Emit(events.Event{Name: events.RecoveryEntered, Payload: map[string]any{
			"reason": "stage_failure", "stageId": stage.StageID, "recoveryCount": session.RecoveryCount,
			"iteration": session.Iterations,
		}})

		if session.RecoveryCount >= d.Config.MaxStageRecoveries {
			bus.Emit(events.Event{Name: events.Alert, Payload: map[string]any{
				"kind": events.AlertStageAborted, "message": "max stage recoveries exceeded", "stageId": stage.StageID,
			}})
			session, _ = d.States.Update(sessionID, state.Patch{Status: statusPtr(state.StatusError)})
			return d.buildResult(sessionID, session, "stage aborted after max recoveries", start), nil
		}

		time.Sleep(backoffMs(session.RecoveryCount))
		session.TaskProgress = resetFailedTasksToRetrying(session.TaskProgress, stage)
	}

	// Completion verification.
	completionMarkerSeen := anyReplyCarriesSentinel(session.TaskProgress)
	if !completionMarkerSeen && d.Collab.CompletionConfirmer != nil {
		if confirmed, _ := d.Collab.CompletionConfirmer(); !confirmed {
			bus.Emit(events.Event{Name: events.Alert, Payload: map[string]any{"kind": "completion_unconfirmed"}})
		}
	}
	completionMarkerStatus := "fail"
	if completionMarkerSeen {
		completionMarkerStatus = "pass"
	}

	status := state.StatusCompleted
	for attempt := 1; attempt <= d.Config.MaxGateAttempts; attempt++ {
		d.setPhase(sessionID, phaseGateCheck, fmt.Sprintf("gate attempt %d", attempt))
		gateSummary := d.Gates.Run(ctx)
		gateStatus := map[string]state.GateResult{
			"completionMarker": {Status: completionMarkerStatus},
		}
		for name, res := range gateSummary.Gates {
			gateStatus[name] = state.GateResult{Status: string(res.Status), Reason: res.Reason, Output: res.Output}
		}
		session, _ = d.States.Update(sessionID, state.Patch{GateStatus: gateStatus})

		if gateSummary.AllPass {
			status = state.StatusCompleted
			break
		}

		if attempt == d.Config.MaxGateAttempts {
			status = state.StatusFailed
			break
		}

		d.setPhase(sessionID, phaseGateRecov, "remediation turn")
		if d.Collab.RemediationTurn != nil {
			failures := make([]string, 0, len(gateSummary.Failures))
			for _, f := range gateSummary.Failures {
				failures = append(failures, f.Gate)
			}
			_ = d.Collab.RemediationTurn(failures)
		}
		time.Sleep(backoffMs(attempt))
	}

	session, err = d.States.Update(sessionID, state.Patch{Status: statusPtr(status), Phase: strPtr(phaseTerminal)})
	if err != nil {
		return Result{}, err
	}

	if gitActive {
		d.mergeGitBestEffort(sessionID, gitBranch)
	}

	_ = d.Checkpoints.Cleanup(sessionID, checkpoint.CleanupOptions{MaxKeep: 10, KeepStageCheckpoints: true})

	reply := "run completed"
	if status == state.StatusFailed {
		reply = "run failed: quality gates did not pass"
	}
	return d.buildResult(sessionID, session, reply, start), nil
}

type noopSink struct{}

func (noopSink) Emit(events.Event) {}

func (d *Driver) checkControlFlags(sessionID string, session *state.SessionState) (bool, Result) {
	if session.StopRequested {
		stopped, _ := d.States.Update(sessionID, state.Patch{Status: statusPtr(state.StatusStopped)})
		return true, d.buildResult(sessionID, stopped, "stop requested", time.Now())
	}
	if session.RetryStageID != "" && session.StagePlan != nil {
		idx := session.StagePlan.StageIndexOf(session.RetryStageID)
		if idx >= 0 {
			wiped := wipeTaskProgressFromStage(session.TaskProgress, session.StagePlan, idx)
			updated, _ := d.States.Update(sessionID, state.Patch{
				StageIndex: intPtr(idx), TaskProgress: wiped, ClearRetryStageID: true,
			})
			*session = *updated
		}
	}
	return false, Result{}
}

func (d *Driver) setPhase(sessionID, phase, reason string) {
	_, _ = d.States.Update(sessionID, state.Patch{Phase: strPtr(phase), CurrentGate: strPtr(reason)})
	d.Bus.Emit(events.Event{Name: events.PhaseChanged, Payload: map[string]any{"nextPhase": phase, "reason": reason}})
}

func (d *Driver) touchHeartbeat(sessionID string, session *state.SessionState) *state.SessionState {
	now := time.Now()
	updated, err := d.States.Update(sessionID, state.Patch{HeartbeatAt: &now, Iterations: intPtr(session.Iterations + 1)})
	if err != nil {
		return session
	}
	return updated
}

func (d *Driver) heartbeatStale(session *state.SessionState) bool {
	if session.HeartbeatAt.IsZero() {
		return false
	}
	return time.Since(session.HeartbeatAt) > time.Duration(d.Config.HeartbeatTimeoutMs)*time.Millisecond
}

func (d *Driver) runScaffold(sessionID string, session *state.SessionState) {
	changes, err := d.Collab.Scaffolder(session.StagePlan.AllFiles())
	if err != nil {
		d.Bus.Emit(events.Event{Name: events.Alert, Payload: map[string]any{"kind": "scaffold_failed", "message": err.Error()}})
		return
	}
	for i := range changes {
		changes[i].StageID = "scaffold"
		changes[i].TaskID = "scaffold"
	}
	merged := util.MergeFileChanges(session.FileChanges, changes, d.Config.FileChangesLimit)
	_, _ = d.States.Update(sessionID, state.Patch{FileChanges: merged, Phase: strPtr(phaseScaffolding)})
}

func (d *Driver) runGitGateBestEffort(sessionID string) (active bool, branch string) {
	git := d.Collab.Git
	if d.Collab.Confirm != nil {
		ok, err := d.Collab.Confirm("Create a feature branch and stash dirty work for this session?")
		if err != nil || !ok {
			return false, ""
		}
	}
	dirty, err := git.HasDirtyWork()
	if err != nil {
		d.Bus.Emit(events.Event{Name: events.Alert, Payload: map[string]any{"kind": "git_gate_failed", "message": err.Error()}})
		return false, ""
	}
	if dirty {
		if err := git.Stash(); err != nil {
			d.Bus.Emit(events.Event{Name: events.Alert, Payload: map[string]any{"kind": "git_gate_failed", "message": err.Error()}})
			return false, ""
		}
	}
	branch = fmt.Sprintf("longagent/%s", sessionID)
	if err := git.CreateBranch(branch); err != nil {
		d.Bus.Emit(events.Event{Name: events.Alert, Payload: map[string]any{"kind": "git_gate_failed", "message": err.Error()}})
		return false, ""
	}
	return true, branch
}

// mergeGitBestEffort implements spec §4.7's TOCTOU-safe merge: the
// status is re-checked under the state lock immediately before merging.
func (d *Driver) mergeGitBestEffort(sessionID, branch string) {
	_ = d.Collab.Git.Commit("final commit")

	_ = d.States.WithLock(func() error {
		session, err := d.States.Get(sessionID)
		if err != nil || session == nil || session.Status != state.StatusCompleted {
			return nil
		}
		if err := d.Collab.Git.CheckoutBase(); err != nil {
			d.Bus.Emit(events.Event{Name: events.Alert, Payload: map[string]any{"kind": events.AlertGitMergeFailed, "message": err.Error()}})
			_ = d.Collab.Git.CheckoutBranch(branch)
			return nil
		}
		if err := d.Collab.Git.Merge(branch); err != nil {
			d.Bus.Emit(events.Event{Name: events.Alert, Payload: map[string]any{"kind": events.AlertGitMergeFailed, "message": err.Error()}})
			_ = d.Collab.Git.CheckoutBranch(branch)
			return nil
		}
		_ = d.Collab.Git.DeleteBranch(branch)
		return nil
	})
}

func (d *Driver) buildResult(sessionID string, session *state.SessionState, reply string, start time.Time) Result {
	progress := util.ComputeProgress(session.TaskProgress)
	return Result{
		SessionID:           sessionID,
		Reply:               reply,
		Iterations:          session.Iterations,
		RecoveryCount:       session.RecoveryCount,
		Phase:               session.Phase,
		GateStatus:          session.GateStatus,
		CurrentGate:         session.CurrentGate,
		Status:              session.Status,
		ElapsedSeconds:      time.Since(start).Seconds(),
		StageIndex:          session.StageIndex,
		StageCount:          session.StageCount,
		CurrentStageID:      session.CurrentStageID,
		PlanFrozen:          session.StagePlan != nil,
		TaskProgress:        session.TaskProgress,
		FileChanges:         session.FileChanges,
		StageProgress:       Progress{Done: progress.Done, Total: progress.Total},
		RemainingFilesCount: progress.RemainingFilesCount,
		Progress: map[string]any{
			"done": progress.Done, "total": progress.Total,
			"remainingFiles": progress.RemainingFiles, "remainingFilesCount": progress.RemainingFilesCount,
		},
	}
}

func statusPtr(s state.Status) *state.Status { return &s }
func strPtr(s string) *string                { return &s }
func intPtr(i int) *int                      { return &i }
