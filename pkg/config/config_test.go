package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaultsAppliesSpecDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	assert.Equal(t, 3, cfg.NoProgressWarning)
	assert.Equal(t, 5, cfg.NoProgressLimit)
	assert.Equal(t, 3, cfg.MaxStageRecoveries)
	assert.Equal(t, 5, cfg.MaxGateAttempts)
	assert.Equal(t, 120000, cfg.HeartbeatTimeoutMs)
	assert.Equal(t, 5, cfg.CheckpointInterval)
	assert.Equal(t, 5000, cfg.LockTimeoutMs)

	assert.Equal(t, 3, cfg.Parallel.MaxConcurrency)
	assert.Equal(t, 600000, cfg.Parallel.TaskTimeoutMs)
	assert.Equal(t, 2, cfg.Parallel.TaskMaxRetries)
	assert.Zero(t, cfg.Parallel.BudgetLimitUsd)

	require.NotNil(t, cfg.Scaffold.Enabled)
	assert.True(t, *cfg.Scaffold.Enabled)

	require.NotNil(t, cfg.Git.Enabled)
	assert.False(t, *cfg.Git.Enabled)

	require.NotNil(t, cfg.Planner.IntakeQuestions.Enabled)
	assert.True(t, *cfg.Planner.IntakeQuestions.Enabled)
	assert.Equal(t, 6, cfg.Planner.IntakeQuestions.MaxRounds)

	for _, gate := range []*GateConfig{
		&cfg.UsabilityGates.Build, &cfg.UsabilityGates.Test,
		&cfg.UsabilityGates.Review, &cfg.UsabilityGates.Health, &cfg.UsabilityGates.Budget,
	} {
		require.NotNil(t, gate.Enabled)
		assert.True(t, *gate.Enabled)
	}
	assert.Equal(t, "first_run", cfg.UsabilityGates.PromptUser)
	assert.Equal(t, 400, cfg.FileChangesLimit)
}

func TestSetDefaultsHonorsExplicitFalse(t *testing.T) {
	cfg := &Config{
		Scaffold: ScaffoldConfig{Enabled: boolPtr(false)},
	}
	cfg.UsabilityGates.Build.Enabled = boolPtr(false)
	cfg.SetDefaults()

	assert.False(t, *cfg.Scaffold.Enabled)
	assert.False(t, *cfg.UsabilityGates.Build.Enabled)
	// other gates still default true
	require.NotNil(t, cfg.UsabilityGates.Test.Enabled)
	assert.True(t, *cfg.UsabilityGates.Test.Enabled)
}

func TestValidateRejectsInconsistentNoProgressWindow(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.NoProgressWarning = 10
	cfg.NoProgressLimit = 2

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_progress_limit")
}

func TestValidateRejectsBadPromptUser(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.UsabilityGates.PromptUser = "sometimes"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt_user")
}

func TestValidatePassesOnDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	assert.NoError(t, cfg.Validate())
}

func TestDecodeConfigFromYAMLMap(t *testing.T) {
	raw := map[string]any{
		"max_iterations":       20,
		"heartbeat_timeout_ms": 60000,
		"parallel": map[string]any{
			"max_concurrency": 5,
		},
		"usability_gates": map[string]any{
			"budget":      map[string]any{"enabled": false},
			"prompt_user": "always",
		},
	}

	cfg := &Config{}
	require.NoError(t, decodeConfig(raw, cfg))
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 20, cfg.MaxIterations)
	assert.Equal(t, 60000, cfg.HeartbeatTimeoutMs)
	assert.Equal(t, 5, cfg.Parallel.MaxConcurrency)
	require.NotNil(t, cfg.UsabilityGates.Budget.Enabled)
	assert.False(t, *cfg.UsabilityGates.Budget.Enabled)
	assert.Equal(t, "always", cfg.UsabilityGates.PromptUser)
}

func TestToDriverConfigProjectsResolvedValues(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.Git.Enabled = boolPtr(true)

	dc := cfg.ToDriverConfig()
	assert.Equal(t, cfg.Parallel.MaxConcurrency, dc.MaxConcurrency)
	assert.True(t, dc.GitEnabled)
	assert.True(t, dc.GatesEnabled["build"])
	assert.Equal(t, "first_run", dc.GatePromptUser)
}
