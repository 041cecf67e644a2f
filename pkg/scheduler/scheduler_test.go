package scheduler

import (
	"context"
	"testing"

	"github.com/kkelly-oss/kkcode/pkg/events"
	"github.com/kkelly-oss/kkcode/pkg/plan"
	"github.com/kkelly-oss/kkcode/pkg/state"
	"github.com/kkelly-oss/kkcode/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(run worker.Runner) worker.Pool {
	return worker.NewInProcessPool(run)
}

func intPtr(i int) *int { return &i }

func TestRunStageSucceedsFirstAttempt(t *testing.T) {
	pool := newTestPool(func(ctx context.Context, d worker.Descriptor) (worker.Result, error) {
		return worker.Result{
			Status:         worker.HandleCompleted,
			CompletedFiles: d.PlannedFiles,
			FileChanges:    []worker.FileChange{{Path: d.PlannedFiles[0], AddedLines: 5, StageID: d.StageID, TaskID: d.TaskID}},
			Reply:          "done [task_complete]",
			Cost:           0.01,
		}, nil
	})

	sch := New(pool, events.NewBus(nil))
	stage := plan.Stage{
		StageID: "s1", Name: "setup", PassRule: plan.PassRuleAllSuccess,
		Tasks: []plan.Task{{TaskID: "t1", Prompt: "do it", PlannedFiles: []string{"a.go"}, MaxRetries: intPtr(2)}},
	}

	summary, err := sch.RunStage(Input{Stage: stage, SessionID: "sess1", Config: DefaultConfig()})
	require.NoError(t, err)
	assert.True(t, summary.AllSuccess)
	assert.Equal(t, 1, summary.SuccessCount)
	assert.True(t, summary.CompletionMarkerSeen)
	assert.Len(t, summary.FileChanges, 1)
}

func TestRunStageRetriesThenSucceeds(t *testing.T) {
	attempts := map[string]int{}
	pool := newTestPool(func(ctx context.Context, d worker.Descriptor) (worker.Result, error) {
		attempts[d.TaskID]++
		if attempts[d.TaskID] < 2 {
			return worker.Result{Status: worker.HandleCompleted, RemainingFiles: d.PlannedFiles, Error: "transient failure"}, nil
		}
		return worker.Result{Status: worker.HandleCompleted, CompletedFiles: d.PlannedFiles}, nil
	})

	sch := New(pool, events.NewBus(nil))
	stage := plan.Stage{
		StageID: "s1", Name: "setup", PassRule: plan.PassRuleAllSuccess,
		Tasks: []plan.Task{{TaskID: "t1", Prompt: "do it", PlannedFiles: []string{"a.go"}, MaxRetries: intPtr(2)}},
	}

	summary, err := sch.RunStage(Input{Stage: stage, SessionID: "sess1", Config: DefaultConfig()})
	require.NoError(t, err)
	assert.True(t, summary.AllSuccess)
	assert.Equal(t, 1, summary.RetryCount)
	assert.Equal(t, 2, attempts["t1"])
}

func TestRunStageRejectsOwnershipViolation(t *testing.T) {
	pool := newTestPool(func(ctx context.Context, d worker.Descriptor) (worker.Result, error) {
		return worker.Result{Status: worker.HandleCompleted, CompletedFiles: d.PlannedFiles}, nil
	})

	sch := New(pool, events.NewBus(nil))
	stage := plan.Stage{
		StageID: "s1", Name: "setup", PassRule: plan.PassRuleAllSuccess,
		Tasks: []plan.Task{
			{TaskID: "t1", Prompt: "do it", PlannedFiles: []string{"a.go"}},
			{TaskID: "t2", Prompt: "also do it", PlannedFiles: []string{"a.go"}},
		},
	}

	_, err := sch.RunStage(Input{Stage: stage, SessionID: "sess1", Config: DefaultConfig()})
	require.Error(t, err)
	var ownErr *OwnershipError
	require.ErrorAs(t, err, &ownErr)
	assert.Equal(t, "a.go", ownErr.Path)
}

func TestRunStageBudgetBreakerStopsDispatch(t *testing.T) {
	pool := newTestPool(func(ctx context.Context, d worker.Descriptor) (worker.Result, error) {
		return worker.Result{Status: worker.HandleCompleted, CompletedFiles: d.PlannedFiles, Cost: 10}, nil
	})

	sch := New(pool, events.NewBus(nil))
	stage := plan.Stage{
		StageID: "s1", Name: "setup", PassRule: plan.PassRuleAllSuccess,
		Tasks: []plan.Task{
			{TaskID: "t1", Prompt: "do it", PlannedFiles: []string{"a.go"}},
			{TaskID: "t2", Prompt: "also do it", PlannedFiles: []string{"b.go"}},
		},
	}
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 1
	cfg.BudgetLimitUsd = 5

	summary, err := sch.RunStage(Input{Stage: stage, SessionID: "sess1", Config: cfg})
	require.NoError(t, err)
	assert.False(t, summary.AllSuccess)
	assert.Greater(t, summary.FailCount, 0)
}

func TestRunStageSeedsFromPriorTaskProgress(t *testing.T) {
	pool := newTestPool(func(ctx context.Context, d worker.Descriptor) (worker.Result, error) {
		t := d.PlannedFiles
		return worker.Result{Status: worker.HandleCompleted, CompletedFiles: t}, nil
	})

	sch := New(pool, events.NewBus(nil))
	stage := plan.Stage{
		StageID: "s1", Name: "setup", PassRule: plan.PassRuleAllSuccess,
		Tasks: []plan.Task{{TaskID: "t1", Prompt: "do it", PlannedFiles: []string{"a.go", "b.go"}}},
	}

	seed := map[string]state.TaskProgress{
		"t1": {Attempt: 1, Status: "running", PlannedFiles: []string{"a.go", "b.go"}, CompletedFiles: []string{"a.go"}},
	}

	summary, err := sch.RunStage(Input{Stage: stage, SessionID: "sess1", Config: DefaultConfig(), SeedTaskProgress: seed})
	require.NoError(t, err)
	assert.True(t, summary.AllSuccess)
	assert.Equal(t, 2, summary.TaskProgress["t1"].Attempt)
}
