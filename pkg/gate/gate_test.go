package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAllPassWhenEveryGatePassesOrNotApplicable(t *testing.T) {
	checks := map[string]Check{
		"build":  NewScriptCheck(ScriptConfig{}),
		"test":   NewScriptCheck(ScriptConfig{}),
		"review": NewReviewCheck(func() (bool, int, error) { return false, 0, nil }),
		"health": NewHealthCheck(func() error { return nil }),
		"budget": NewBudgetCheck(func() (BudgetState, error) { return BudgetState{}, nil }),
	}
	r := New(nil, []string{"build", "test", "review", "health", "budget"}, checks)

	summary := r.Run(context.Background())
	require.True(t, summary.AllPass)
	assert.Empty(t, summary.Failures)
	assert.Equal(t, StatusNotApplicable, summary.Gates["build"].Status)
	assert.Equal(t, StatusPass, summary.Gates["health"].Status)
}

func TestRunFailsWhenHealthCheckErrors(t *testing.T) {
	checks := map[string]Check{
		"health": NewHealthCheck(func() error { return errors.New("store corrupted") }),
	}
	r := New(nil, []string{"health"}, checks)

	summary := r.Run(context.Background())
	assert.False(t, summary.AllPass)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "health", summary.Failures[0].Gate)
}

func TestBudgetCheckWarnsVsBlocks(t *testing.T) {
	warnCheck := NewBudgetCheck(func() (BudgetState, error) {
		return BudgetState{HasState: true, Spent: 10, Limit: 5, Strategy: "warn"}, nil
	})
	res, err := warnCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusWarn, res.Status)

	blockCheck := NewBudgetCheck(func() (BudgetState, error) {
		return BudgetState{HasState: true, Spent: 10, Limit: 5, Strategy: "block"}, nil
	})
	res, err = blockCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFail, res.Status)
}

func TestCacheMemoizesPassingResultsAndClearForcesRefresh(t *testing.T) {
	calls := 0
	checks := map[string]Check{
		"health": NewHealthCheck(func() error { calls++; return nil }),
	}
	r := New(nil, []string{"health"}, checks)

	r.Run(context.Background())
	r.Run(context.Background())
	assert.Equal(t, 1, calls)

	r.ClearCache()
	r.Run(context.Background())
	assert.Equal(t, 2, calls)
}

func TestCacheDoesNotMemoizeFailures(t *testing.T) {
	calls := 0
	checks := map[string]Check{
		"health": NewHealthCheck(func() error { calls++; return errors.New("nope") }),
	}
	r := New(nil, []string{"health"}, checks)

	r.Run(context.Background())
	r.Run(context.Background())
	assert.Equal(t, 2, calls)
}

func TestUnconfiguredGateIsDisabled(t *testing.T) {
	r := New(nil, []string{"build"}, map[string]Check{})
	summary := r.Run(context.Background())
	assert.False(t, summary.AllPass)
	assert.Equal(t, StatusDisabled, summary.Gates["build"].Status)
}
