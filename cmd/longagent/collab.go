package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kkelly-oss/kkcode/pkg/driver"
	"github.com/kkelly-oss/kkcode/pkg/state"
	"github.com/kkelly-oss/kkcode/pkg/worker"
)

// ExecCollaborators wires every external-collaborator seam (the LLM
// sub-session transport spec.md §1 deliberately leaves unspecified) to a
// configurable subprocess: one JSON value on stdin, one JSON value on
// stdout. This is the same process-boundary contract ExecGit uses for
// git, generalized to an arbitrary sub-session launcher (a model CLI, an
// internal tool) that an operator points each *Cmd flag at.
type ExecCollaborators struct {
	WorkerCmd      string
	PlannerCmd     string
	ScaffoldCmd    string
	IntakeCmd      string
	ConfirmCmd     string
	RemediationCmd string
	Timeout        time.Duration
}

func runJSONCommand(ctx context.Context, commandLine string, input any, timeout time.Duration) ([]byte, error) {
	if commandLine == "" {
		return nil, fmt.Errorf("no command configured")
	}
	fields := strings.Fields(commandLine)

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, fields[0], fields[1:]...)
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal command input: %w", err)
	}
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", commandLine, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Worker adapts WorkerCmd into a worker.Runner for the in-process
// reference pool: the task descriptor goes out as JSON, a worker.Result
// comes back as JSON.
func (e ExecCollaborators) Worker(ctx context.Context, descriptor worker.Descriptor) (worker.Result, error) {
	out, err := runJSONCommand(ctx, e.WorkerCmd, descriptor, e.Timeout)
	if err != nil {
		return worker.Result{}, err
	}
	var result worker.Result
	if err := json.Unmarshal(out, &result); err != nil {
		return worker.Result{}, fmt.Errorf("decode worker result: %w", err)
	}
	return result, nil
}

type plannerRequest struct {
	Objective    string `json:"objective"`
	PriorContext string `json:"priorContext"`
}

// Planner adapts PlannerCmd into a driver.Planner. The raw value it
// returns is unvalidated; pkg/plan.Validate normalizes it.
func (e ExecCollaborators) Planner(objective, priorContext string) (any, error) {
	out, err := runJSONCommand(context.Background(), e.PlannerCmd, plannerRequest{
		Objective:    objective,
		PriorContext: priorContext,
	}, e.Timeout)
	if err != nil {
		return nil, err
	}
	var raw any
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decode planner output: %w", err)
	}
	return raw, nil
}

type intakeRequest struct {
	Objective string `json:"objective"`
	MaxRounds int    `json:"maxRounds"`
}

type intakeResponse struct {
	Summary string `json:"summary"`
}

// IntakeDialogue adapts IntakeCmd into a driver.IntakeDialogue.
func (e ExecCollaborators) IntakeDialogue(objective string, maxRounds int) (string, error) {
	out, err := runJSONCommand(context.Background(), e.IntakeCmd, intakeRequest{
		Objective: objective,
		MaxRounds: maxRounds,
	}, e.Timeout)
	if err != nil {
		return "", err
	}
	var resp intakeResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", fmt.Errorf("decode intake summary: %w", err)
	}
	return resp.Summary, nil
}

type scaffoldRequest struct {
	PlannedFiles []string `json:"plannedFiles"`
}

// Scaffolder adapts ScaffoldCmd into a driver.Scaffolder.
func (e ExecCollaborators) Scaffolder(plannedFiles []string) ([]state.FileChange, error) {
	out, err := runJSONCommand(context.Background(), e.ScaffoldCmd, scaffoldRequest{
		PlannedFiles: plannedFiles,
	}, e.Timeout)
	if err != nil {
		return nil, err
	}
	var changes []state.FileChange
	if err := json.Unmarshal(out, &changes); err != nil {
		return nil, fmt.Errorf("decode scaffold file changes: %w", err)
	}
	return changes, nil
}

type confirmResponse struct {
	Confirmed bool `json:"confirmed"`
}

// CompletionConfirmer adapts ConfirmCmd into a driver.CompletionConfirmer.
func (e ExecCollaborators) CompletionConfirmer() (bool, error) {
	out, err := runJSONCommand(context.Background(), e.ConfirmCmd, nil, e.Timeout)
	if err != nil {
		return false, err
	}
	var resp confirmResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return false, fmt.Errorf("decode completion confirmation: %w", err)
	}
	return resp.Confirmed, nil
}

type remediationRequest struct {
	Failures []string `json:"failures"`
}

// RemediationTurn adapts RemediationCmd into a driver.RemediationTurn:
// it runs one remediation agent turn over the list of failed gate names
// between gate attempts. The subprocess's stdout is discarded beyond the
// exit code; remediation has no structured reply, only a side effect on
// the working tree the next gate attempt re-checks.
func (e ExecCollaborators) RemediationTurn(failures []string) error {
	_, err := runJSONCommand(context.Background(), e.RemediationCmd, remediationRequest{
		Failures: failures,
	}, e.Timeout)
	return err
}

// Collaborators assembles driver.Collaborators from whichever *Cmd
// fields are non-empty; the rest are left nil so the driver treats the
// corresponding step as an optional no-op, per spec §4.7.
func (e ExecCollaborators) Collaborators(git driver.GitGate) driver.Collaborators {
	collab := driver.Collaborators{Git: git, Planner: e.Planner}
	if e.IntakeCmd != "" {
		collab.IntakeDialogue = e.IntakeDialogue
	}
	if e.ScaffoldCmd != "" {
		collab.Scaffolder = e.Scaffolder
	}
	if e.ConfirmCmd != "" {
		collab.CompletionConfirmer = e.CompletionConfirmer
	}
	if e.RemediationCmd != "" {
		collab.RemediationTurn = e.RemediationTurn
	}
	return collab
}
