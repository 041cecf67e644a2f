package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRaw() map[string]any {
	return map[string]any{
		"objective": "ship the feature",
		"stages": []any{
			map[string]any{
				"stage_id": "s1", "name": "setup",
				"tasks": []any{
					map[string]any{"task_id": "t1", "prompt": "write the handler", "planned_files": []any{"a.go"}},
				},
			},
			map[string]any{
				"stage_id": "s2", "name": "polish",
				"tasks": []any{
					map[string]any{"task_id": "t2", "prompt": "write tests", "planned_files": []any{"a_test.go"}, "acceptance": []any{"tests pass"}},
				},
			},
		},
	}
}

func TestValidateAcceptsWellFormedPlan(t *testing.T) {
	result := Validate(validRaw(), "ship the feature", DefaultDefaults())
	require.Empty(t, result.Errors)
	require.NotNil(t, result.Plan)
	assert.Len(t, result.Plan.Stages, 2)
	assert.Equal(t, PassRuleAllSuccess, result.Plan.Stages[0].PassRule)
	assert.NotEmpty(t, result.Plan.PlanID)
}

func TestValidateRejectsIntraStageFileCollision(t *testing.T) {
	raw := map[string]any{
		"objective": "do it",
		"stages": []any{
			map[string]any{
				"stage_id": "s1", "name": "setup",
				"tasks": []any{
					map[string]any{"task_id": "t1", "prompt": "a", "planned_files": []any{"a.go"}},
					map[string]any{"task_id": "t2", "prompt": "b", "planned_files": []any{"a.go"}},
				},
			},
		},
	}
	result := Validate(raw, "do it", DefaultDefaults())
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, 0, result.QualityScore)
	assert.Len(t, result.Plan.Stages, 1)
	assert.Contains(t, result.Plan.Stages[0].Name, "fallback")
}

func TestValidateRejectsInterStageFileCollision(t *testing.T) {
	raw := map[string]any{
		"objective": "do it",
		"stages": []any{
			map[string]any{
				"stage_id": "s1", "name": "setup",
				"tasks": []any{map[string]any{"task_id": "t1", "prompt": "a", "planned_files": []any{"a.go"}}},
			},
			map[string]any{
				"stage_id": "s2", "name": "rework",
				"tasks": []any{map[string]any{"task_id": "t2", "prompt": "b", "planned_files": []any{"a.go"}}},
			},
		},
	}
	result := Validate(raw, "do it", DefaultDefaults())
	require.NotEmpty(t, result.Errors)
}

func TestValidateFallsBackOnEmptyObjective(t *testing.T) {
	result := Validate(map[string]any{}, "", DefaultDefaults())
	require.NotEmpty(t, result.Errors)
	require.NotNil(t, result.Plan)
	assert.Len(t, result.Plan.Stages, 1)
}

func TestValidateDefaultsMissingTaskIDAndComplexity(t *testing.T) {
	raw := map[string]any{
		"objective": "do it",
		"stages": []any{
			map[string]any{
				"stage_id": "s1", "name": "setup",
				"tasks": []any{map[string]any{"prompt": "a task with no id"}},
			},
		},
	}
	result := Validate(raw, "do it", DefaultDefaults())
	require.Empty(t, result.Errors)
	task := result.Plan.Stages[0].Tasks[0]
	assert.NotEmpty(t, task.TaskID)
	assert.Equal(t, ComplexityMedium, task.Complexity)
	assert.Equal(t, 600000, task.TimeoutMs)
	require.NotNil(t, task.MaxRetries)
	assert.Equal(t, 2, *task.MaxRetries)
}

func TestValidateHonorsExplicitZeroMaxRetries(t *testing.T) {
	raw := map[string]any{
		"objective": "do it",
		"stages": []any{
			map[string]any{
				"stage_id": "s1", "name": "setup",
				"tasks": []any{map[string]any{"task_id": "t1", "prompt": "a", "max_retries": 0}},
			},
		},
	}
	result := Validate(raw, "do it", DefaultDefaults())
	require.Empty(t, result.Errors)
	task := result.Plan.Stages[0].Tasks[0]
	require.NotNil(t, task.MaxRetries)
	assert.Equal(t, 0, *task.MaxRetries)
}

func TestQualityScoreDeductsForMissingFilesAndAcceptance(t *testing.T) {
	raw := map[string]any{
		"objective": "do it",
		"stages": []any{
			map[string]any{
				"stage_id": "s1", "name": "setup",
				"tasks": []any{map[string]any{"task_id": "t1", "prompt": "a"}},
			},
		},
	}
	result := Validate(raw, "do it", DefaultDefaults())
	require.Empty(t, result.Errors)
	assert.Equal(t, 75, result.QualityScore)
}

func TestStagePlanHelpers(t *testing.T) {
	result := Validate(validRaw(), "ship the feature", DefaultDefaults())
	p := result.Plan

	assert.Equal(t, []string{"a.go", "a_test.go"}, p.AllFiles())

	stage, ok := p.FindStage("s2")
	require.True(t, ok)
	assert.Equal(t, "polish", stage.Name)

	assert.Equal(t, 1, p.StageIndexOf("s2"))
	assert.Equal(t, -1, p.StageIndexOf("missing"))
}
