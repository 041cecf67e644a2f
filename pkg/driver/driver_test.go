package driver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kkelly-oss/kkcode/pkg/checkpoint"
	"github.com/kkelly-oss/kkcode/pkg/events"
	"github.com/kkelly-oss/kkcode/pkg/gate"
	"github.com/kkelly-oss/kkcode/pkg/scheduler"
	"github.com/kkelly-oss/kkcode/pkg/state"
	"github.com/kkelly-oss/kkcode/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T) *Driver {
	dir := t.TempDir()
	store, err := state.New(filepath.Join(dir, "state.json"), 5*time.Second)
	require.NoError(t, err)
	ckpts := checkpoint.New(filepath.Join(dir, "checkpoints"))

	pool := worker.NewInProcessPool(func(ctx context.Context, d worker.Descriptor) (worker.Result, error) {
		return worker.Result{
			Status:         worker.HandleCompleted,
			CompletedFiles: d.PlannedFiles,
			Reply:          "done [task_complete]",
		}, nil
	})
	bus := events.NewBus(nil)
	sch := scheduler.New(pool, bus)

	gates := gate.New(bus, []string{"health"}, map[string]gate.Check{
		"health": gate.NewHealthCheck(func() error { return nil }),
	})

	cfg := DefaultConfig()
	cfg.MaxGateAttempts = 1

	return &Driver{
		States:      store,
		Checkpoints: ckpts,
		Scheduler:   sch,
		Gates:       gates,
		Bus:         bus,
		Config:      cfg,
		Collab: Collaborators{
			Planner: func(objective, priorContext string) (any, error) {
				return map[string]any{
					"plan_id":   "p1",
					"objective": objective,
					"stages": []any{
						map[string]any{
							"stage_id": "s1", "name": "setup", "pass_rule": "all_success",
							"tasks": []any{
								map[string]any{"task_id": "t1", "prompt": "do the thing", "planned_files": []any{"a.go"}},
							},
						},
					},
				}, nil
			},
		},
	}
}

func TestRunCompletesHappyPath(t *testing.T) {
	d := newTestDriver(t)
	result, err := d.Run(context.Background(), "sess1", "implement the login flow")
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, result.Status)
	assert.True(t, result.PlanFrozen)
	assert.Equal(t, 1, result.StageIndex)
	require.Contains(t, result.GateStatus, "completionMarker")
	assert.Equal(t, "pass", result.GateStatus["completionMarker"].Status)
}

func TestRunBlocksNonActionableObjective(t *testing.T) {
	d := newTestDriver(t)
	result, err := d.Run(context.Background(), "sess2", "hi")
	require.NoError(t, err)
	assert.Equal(t, state.StatusBlocked, result.Status)
}

func TestRunHonorsStopRequested(t *testing.T) {
	d := newTestDriver(t)
	_, err := d.States.Stop("sess3")
	require.NoError(t, err)

	result, err := d.Run(context.Background(), "sess3", "implement the login flow")
	require.NoError(t, err)
	assert.Equal(t, state.StatusStopped, result.Status)
}
