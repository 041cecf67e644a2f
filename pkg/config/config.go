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

package config

import (
	"fmt"

	"github.com/kkelly-oss/kkcode/pkg/driver"
	"github.com/kkelly-oss/kkcode/pkg/observability"
)

// ParallelConfig holds the Stage Scheduler tunables under the
// "parallel" key.
type ParallelConfig struct {
	MaxConcurrency int     `yaml:"max_concurrency"`
	TaskTimeoutMs  int     `yaml:"task_timeout_ms"`
	TaskMaxRetries int     `yaml:"task_max_retries"`
	BudgetLimitUsd float64 `yaml:"budget_limit_usd"`
}

// ScaffoldConfig holds the one-shot scaffold step's tunables. Enabled is
// a pointer so an omitted key can default to true while an explicit
// "enabled: false" is still honored.
type ScaffoldConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// IntakeQuestionsConfig holds the planner's intake-dialogue tunables.
type IntakeQuestionsConfig struct {
	Enabled   *bool `yaml:"enabled"`
	MaxRounds int   `yaml:"max_rounds"`
}

// PlannerConfig groups planner-facing sub-config.
type PlannerConfig struct {
	IntakeQuestions IntakeQuestionsConfig `yaml:"intake_questions"`
}

// GateConfig is the per-gate enabled flag under usability_gates.<name>.
type GateConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// GitConfig holds the optional git-gating step's tunables. Not one of
// spec §6's named keys, but the step it controls ("if enabled", §4.7)
// needs a home; defaults to disabled since it mutates the user's repo.
type GitConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// UsabilityGatesConfig holds the Quality Gate Runner's tunables.
type UsabilityGatesConfig struct {
	Build      GateConfig `yaml:"build"`
	Test       GateConfig `yaml:"test"`
	Review     GateConfig `yaml:"review"`
	Health     GateConfig `yaml:"health"`
	Budget     GateConfig `yaml:"budget"`
	PromptUser string     `yaml:"prompt_user"` // first_run, always, never
}

// Config is the top-level configuration accepted by the driver, per
// spec §6's key list. It is decoded from YAML/JSON by Loader and then
// has SetDefaults/Validate applied.
type Config struct {
	MaxIterations      int `yaml:"max_iterations"`
	NoProgressWarning  int `yaml:"no_progress_warning"`
	NoProgressLimit    int `yaml:"no_progress_limit"`
	MaxStageRecoveries int `yaml:"max_stage_recoveries"`
	MaxGateAttempts    int `yaml:"max_gate_attempts"`
	HeartbeatTimeoutMs int `yaml:"heartbeat_timeout_ms"`
	CheckpointInterval int `yaml:"checkpoint_interval"`
	LockTimeoutMs      int `yaml:"lock_timeout_ms"`

	Parallel       ParallelConfig       `yaml:"parallel"`
	Scaffold       ScaffoldConfig       `yaml:"scaffold"`
	Planner        PlannerConfig        `yaml:"planner"`
	UsabilityGates UsabilityGatesConfig `yaml:"usability_gates"`
	Git            GitConfig            `yaml:"git"`

	FileChangesLimit int `yaml:"file_changes_limit"`

	// Database is optional: present when sessions are backed by a SQL
	// store (pkg/state.sqlstore) rather than the plain JSON file store.
	// Checkpoints always use the file-based checkpoint store.
	Database *DatabaseConfig `yaml:"database,omitempty"`

	// Observability configures Prometheus metrics and OTel tracing for
	// the driver's stage loop, the scheduler, the gate runner, and the
	// checkpoint store. Disabled by default.
	Observability observability.Config `yaml:"observability"`
}

// SetDefaults fills every zero-valued field with spec §6's stated
// default. Called after decode, before Validate.
func (c *Config) SetDefaults() {
	if c.NoProgressWarning == 0 {
		c.NoProgressWarning = 3
	}
	if c.NoProgressLimit == 0 {
		c.NoProgressLimit = 5
	}
	if c.MaxStageRecoveries == 0 {
		c.MaxStageRecoveries = 3
	}
	if c.MaxGateAttempts == 0 {
		c.MaxGateAttempts = 5
	}
	if c.HeartbeatTimeoutMs == 0 {
		c.HeartbeatTimeoutMs = 120000
	}
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = 5
	}
	if c.LockTimeoutMs == 0 {
		c.LockTimeoutMs = 5000
	}

	if c.Parallel.MaxConcurrency == 0 {
		c.Parallel.MaxConcurrency = 3
	}
	if c.Parallel.TaskTimeoutMs == 0 {
		c.Parallel.TaskTimeoutMs = 600000
	}
	if c.Parallel.TaskMaxRetries == 0 {
		c.Parallel.TaskMaxRetries = 2
	}
	// BudgetLimitUsd's zero value (0 = off) is already the default.

	if c.Scaffold.Enabled == nil {
		c.Scaffold.Enabled = boolPtr(true)
	}
	if c.Git.Enabled == nil {
		c.Git.Enabled = boolPtr(false)
	}
	if c.Planner.IntakeQuestions.Enabled == nil {
		c.Planner.IntakeQuestions.Enabled = boolPtr(true)
	}
	if c.Planner.IntakeQuestions.MaxRounds == 0 {
		c.Planner.IntakeQuestions.MaxRounds = 6
	}

	for _, gate := range []**bool{
		&c.UsabilityGates.Build.Enabled,
		&c.UsabilityGates.Test.Enabled,
		&c.UsabilityGates.Review.Enabled,
		&c.UsabilityGates.Health.Enabled,
		&c.UsabilityGates.Budget.Enabled,
	} {
		if *gate == nil {
			*gate = boolPtr(true)
		}
	}

	if c.UsabilityGates.PromptUser == "" {
		c.UsabilityGates.PromptUser = "first_run"
	}

	if c.FileChangesLimit == 0 {
		c.FileChangesLimit = 400
	}

	if c.Database != nil {
		c.Database.SetDefaults()
	}

	c.Observability.SetDefaults()
}

func boolPtr(b bool) *bool { return &b }

// boolOr returns *p, or def if p is nil.
func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Validate checks the configuration for internally-inconsistent or
// out-of-range values. MaxIterations has no validation: per spec §6 it
// is purely informational and 0 means unlimited.
func (c *Config) Validate() error {
	if c.NoProgressLimit < c.NoProgressWarning {
		return fmt.Errorf("no_progress_limit (%d) must be >= no_progress_warning (%d)", c.NoProgressLimit, c.NoProgressWarning)
	}
	if c.MaxStageRecoveries < 0 {
		return fmt.Errorf("max_stage_recoveries must be non-negative")
	}
	if c.MaxGateAttempts < 1 {
		return fmt.Errorf("max_gate_attempts must be at least 1")
	}
	if c.HeartbeatTimeoutMs < 1 {
		return fmt.Errorf("heartbeat_timeout_ms must be positive")
	}
	if c.CheckpointInterval < 1 {
		return fmt.Errorf("checkpoint_interval must be at least 1")
	}
	if c.LockTimeoutMs < 1 {
		return fmt.Errorf("lock_timeout_ms must be positive")
	}
	if c.Parallel.MaxConcurrency < 1 {
		return fmt.Errorf("parallel.max_concurrency must be at least 1")
	}
	if c.Parallel.TaskTimeoutMs < 1 {
		return fmt.Errorf("parallel.task_timeout_ms must be positive")
	}
	if c.Parallel.TaskMaxRetries < 0 {
		return fmt.Errorf("parallel.task_max_retries must be non-negative")
	}
	if c.Parallel.BudgetLimitUsd < 0 {
		return fmt.Errorf("parallel.budget_limit_usd must be non-negative")
	}
	if c.Planner.IntakeQuestions.MaxRounds < 1 {
		return fmt.Errorf("planner.intake_questions.max_rounds must be at least 1")
	}
	switch c.UsabilityGates.PromptUser {
	case "first_run", "always", "never":
	default:
		return fmt.Errorf("usability_gates.prompt_user must be one of first_run, always, never, got %q", c.UsabilityGates.PromptUser)
	}
	if c.FileChangesLimit < 1 {
		return fmt.Errorf("file_changes_limit must be at least 1")
	}
	if c.Database != nil {
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return nil
}

// ToDriverConfig projects the loaded configuration onto driver.Config.
// Call after SetDefaults so every *bool has been resolved.
func (c *Config) ToDriverConfig() driver.Config {
	return driver.Config{
		MaxIterations:      c.MaxIterations,
		NoProgressWarning:  c.NoProgressWarning,
		NoProgressLimit:    c.NoProgressLimit,
		MaxStageRecoveries: c.MaxStageRecoveries,
		MaxGateAttempts:    c.MaxGateAttempts,
		HeartbeatTimeoutMs: c.HeartbeatTimeoutMs,
		CheckpointInterval: c.CheckpointInterval,
		LockTimeoutMs:      c.LockTimeoutMs,

		MaxConcurrency: c.Parallel.MaxConcurrency,
		TaskTimeoutMs:  c.Parallel.TaskTimeoutMs,
		TaskMaxRetries: c.Parallel.TaskMaxRetries,
		BudgetLimitUsd: c.Parallel.BudgetLimitUsd,

		ScaffoldEnabled:          boolOr(c.Scaffold.Enabled, true),
		IntakeQuestionsEnabled:   boolOr(c.Planner.IntakeQuestions.Enabled, true),
		IntakeQuestionsMaxRounds: c.Planner.IntakeQuestions.MaxRounds,

		GatesEnabled: map[string]bool{
			"build":  boolOr(c.UsabilityGates.Build.Enabled, true),
			"test":   boolOr(c.UsabilityGates.Test.Enabled, true),
			"review": boolOr(c.UsabilityGates.Review.Enabled, true),
			"health": boolOr(c.UsabilityGates.Health.Enabled, true),
			"budget": boolOr(c.UsabilityGates.Budget.Enabled, true),
		},
		GatePromptUser: c.UsabilityGates.PromptUser,

		FileChangesLimit: c.FileChangesLimit,

		GitEnabled: boolOr(c.Git.Enabled, false),
	}
}
