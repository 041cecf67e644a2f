// Package plan implements the Stage Planner's output contract: a frozen,
// validated stage plan with file-ownership invariants, plus the
// normalization and validation rules the Plan Validator enforces over
// arbitrary planner-LLM output.
package plan

// Complexity is the coarse effort classification of a task.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// PassRule is the rule a stage is judged against. Only "all_success" is
// currently supported by the scheduler.
const PassRuleAllSuccess = "all_success"

// Task is the smallest unit of dispatch: it owns a disjoint set of files.
type Task struct {
	TaskID       string     `yaml:"task_id" json:"taskId" mapstructure:"task_id"`
	Prompt       string     `yaml:"prompt" json:"prompt" mapstructure:"prompt"`
	PlannedFiles []string   `yaml:"planned_files" json:"plannedFiles" mapstructure:"planned_files"`
	Acceptance   []string   `yaml:"acceptance" json:"acceptance" mapstructure:"acceptance"`
	DependsOn    []string   `yaml:"depends_on" json:"dependsOn" mapstructure:"depends_on"`
	Complexity   Complexity `yaml:"complexity" json:"complexity" mapstructure:"complexity"`
	TimeoutMs    int        `yaml:"timeout_ms" json:"timeoutMs" mapstructure:"timeout_ms"`
	// MaxRetries is a pointer so an omitted field can fall back to the
	// stage default while an explicit "max_retries: 0" is honored as-is.
	MaxRetries *int `yaml:"max_retries" json:"maxRetries" mapstructure:"max_retries"`
}

// Stage is a unit of barrier synchronization: all its tasks run
// concurrently and stage i+1 begins only after stage i completes.
type Stage struct {
	StageID  string `yaml:"stage_id" json:"stageId" mapstructure:"stage_id"`
	Name     string `yaml:"name" json:"name" mapstructure:"name"`
	PassRule string `yaml:"pass_rule" json:"passRule" mapstructure:"pass_rule"`
	Tasks    []Task `yaml:"tasks" json:"tasks" mapstructure:"tasks"`
}

// StagePlan is the frozen output of planning: immutable for the life of
// the session once stored in SessionState.
type StagePlan struct {
	PlanID    string  `yaml:"plan_id" json:"planId" mapstructure:"plan_id"`
	Objective string  `yaml:"objective" json:"objective" mapstructure:"objective"`
	Stages    []Stage `yaml:"stages" json:"stages" mapstructure:"stages"`
}

// AllFiles returns every planned file path across every stage and task,
// in plan order, including duplicates (callers that need a set must
// deduplicate; the driver's scaffold step passes it on as-is).
func (p *StagePlan) AllFiles() []string {
	var out []string
	for _, s := range p.Stages {
		for _, t := range s.Tasks {
			out = append(out, t.PlannedFiles...)
		}
	}
	return out
}

// FindStage returns the stage with the given id, or false if absent.
func (p *StagePlan) FindStage(stageID string) (Stage, bool) {
	for _, s := range p.Stages {
		if s.StageID == stageID {
			return s, true
		}
	}
	return Stage{}, false
}

// StageIndexOf returns the zero-based index of stageID within the plan,
// or -1 if not found.
func (p *StagePlan) StageIndexOf(stageID string) int {
	for i, s := range p.Stages {
		if s.StageID == stageID {
			return i
		}
	}
	return -1
}
