package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kkelly-oss/kkcode/pkg/events"
	"github.com/kkelly-oss/kkcode/pkg/gate"
	"github.com/kkelly-oss/kkcode/pkg/observability"
	"github.com/kkelly-oss/kkcode/pkg/state"
)

// gateCommands carries the operator-supplied build/test scripts; a blank
// command makes the corresponding gate not_applicable, per
// gate.NewScriptCheck.
type gateCommands struct {
	BuildCmd string
	TestCmd  string
	Dir      string
}

// reviewState is the on-disk marker NewReviewCheck looks for, written by
// whatever external review collaborator gates a session on human
// approval. Its absence makes the review gate not_applicable.
type reviewState struct {
	Pending int `json:"pending"`
}

func reviewStatePath(checkpointDir, sessionID string) string {
	return filepath.Join(checkpointDir, sessionID, "review-state.json")
}

func readReviewState(checkpointDir, sessionID string) (hasState bool, pending int, err error) {
	data, err := os.ReadFile(reviewStatePath(checkpointDir, sessionID))
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	var rs reviewState
	if err := json.Unmarshal(data, &rs); err != nil {
		return false, 0, fmt.Errorf("decode review state: %w", err)
	}
	return true, rs.Pending, nil
}

// newGateRunner builds the Quality Gate Runner over the fixed build,
// test, review, health, and budget checks (spec §4.6's five named
// gates), bound to one session's checkpoint directory and accumulated
// task cost.
func newGateRunner(bus events.Sink, cmds gateCommands, store state.SessionStore, checkpointDir, sessionID string, budgetLimitUsd float64, mgr *observability.Manager) *gate.Runner {
	checks := map[string]gate.Check{
		"build": gate.NewScriptCheck(gate.ScriptConfig{Command: splitCommand(cmds.BuildCmd), Dir: cmds.Dir}),
		"test":  gate.NewScriptCheck(gate.ScriptConfig{Command: splitCommand(cmds.TestCmd), Dir: cmds.Dir}),
		"review": gate.NewReviewCheck(func() (bool, int, error) {
			return readReviewState(checkpointDir, sessionID)
		}),
		"health": gate.NewHealthCheck(func() error {
			_, err := store.List()
			return err
		}),
		"budget": gate.NewBudgetCheck(func() (gate.BudgetState, error) {
			if budgetLimitUsd <= 0 {
				return gate.BudgetState{HasState: false}, nil
			}
			sess, err := store.Get(sessionID)
			if err != nil {
				return gate.BudgetState{}, err
			}
			if sess == nil {
				return gate.BudgetState{HasState: false}, nil
			}
			var spent float64
			for _, tp := range sess.TaskProgress {
				spent += tp.LastCost
			}
			return gate.BudgetState{HasState: true, Spent: spent, Limit: budgetLimitUsd, Strategy: "block"}, nil
		}),
	}
	runner := gate.New(bus, []string{"build", "test", "review", "health", "budget"}, checks)
	runner.SessionID = sessionID
	if mgr != nil {
		runner.Metrics = mgr.Metrics()
		runner.Tracer = mgr.Tracer()
	}
	return runner
}

func splitCommand(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}
