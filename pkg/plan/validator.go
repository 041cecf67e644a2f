package plan

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// Defaults mirrors the task-level defaults the Plan Validator applies
// when a planner omits a field.
type Defaults struct {
	TimeoutMs  int
	MaxRetries int
}

// DefaultDefaults returns the spec's stated defaults (timeoutMs 600000,
// maxRetries 2).
func DefaultDefaults() Defaults {
	return Defaults{TimeoutMs: 600000, MaxRetries: 2}
}

const (
	maxPlannedFiles = 80
	maxAcceptance   = 50
)

// Result is the Plan Validator's output: the normalized plan (or a
// fallback), the violations found, and an informational quality score.
type Result struct {
	Plan         *StagePlan
	Errors       []string
	QualityScore int
}

// Validate decodes an arbitrary object purported to be a plan (typically
// raw JSON/YAML from a planner LLM), normalizes it, and enforces the
// file-ownership invariants. On any invariant failure it returns a
// trivial single-stage single-task fallback plan derived from objective,
// with every violation recorded in Errors; callers decide whether to
// proceed with the fallback.
func Validate(raw any, objective string, defaults Defaults) Result {
	var candidate StagePlan
	if raw != nil {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &candidate,
			TagName:          "mapstructure",
			WeaklyTypedInput: true,
		})
		if err == nil {
			_ = decoder.Decode(raw)
		}
	}

	normalize(&candidate, defaults)

	errs := invariantErrors(&candidate)
	if len(errs) > 0 {
		return Result{
			Plan:         fallbackPlan(objective, defaults),
			Errors:       errs,
			QualityScore: 0,
		}
	}

	return Result{
		Plan:         &candidate,
		Errors:       nil,
		QualityScore: qualityScore(&candidate),
	}
}

func normalize(p *StagePlan, defaults Defaults) {
	if strings.TrimSpace(p.Objective) == "" {
		p.Objective = ""
	}
	if strings.TrimSpace(p.PlanID) == "" {
		p.PlanID = uuid.NewString()
	}
	for si := range p.Stages {
		s := &p.Stages[si]
		if s.PassRule == "" {
			s.PassRule = PassRuleAllSuccess
		}
		for ti := range s.Tasks {
			t := &s.Tasks[ti]
			if strings.TrimSpace(t.TaskID) == "" {
				t.TaskID = fmt.Sprintf("%s_task_%s", s.StageID, randomSuffix())
			}
			t.PlannedFiles = dedupTrim(t.PlannedFiles, maxPlannedFiles)
			t.Acceptance = dedupTrim(t.Acceptance, maxAcceptance)
			switch t.Complexity {
			case ComplexityLow, ComplexityMedium, ComplexityHigh:
			default:
				t.Complexity = ComplexityMedium
			}
			if t.TimeoutMs < 1000 {
				t.TimeoutMs = defaults.TimeoutMs
			}
			if t.MaxRetries == nil {
				t.MaxRetries = intPtr(defaults.MaxRetries)
			}
		}
	}
}

// dedupTrim trims whitespace, drops empties, deduplicates preserving
// first occurrence, and caps the result at limit entries.
func dedupTrim(in []string, limit int) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func invariantErrors(p *StagePlan) []string {
	var errs []string

	if strings.TrimSpace(p.Objective) == "" {
		errs = append(errs, "objective must not be empty")
	}
	if len(p.Stages) == 0 {
		errs = append(errs, "plan must have at least one stage")
	}

	fileOwner := make(map[string]string) // path -> "stageId/taskId"
	stageOfFile := make(map[string]string)

	for _, s := range p.Stages {
		if len(s.Tasks) == 0 {
			errs = append(errs, fmt.Sprintf("stage %q must have at least one task", s.StageID))
			continue
		}
		stageFileOwner := make(map[string]string)
		for _, t := range s.Tasks {
			if strings.TrimSpace(t.Prompt) == "" {
				errs = append(errs, fmt.Sprintf("task %q must have a non-empty prompt", t.TaskID))
			}
			for _, f := range t.PlannedFiles {
				if owner, dup := stageFileOwner[f]; dup {
					errs = append(errs, fmt.Sprintf("file %q claimed by both %q and %q in stage %q", f, owner, t.TaskID, s.StageID))
				} else {
					stageFileOwner[f] = t.TaskID
				}
				if owner, dup := fileOwner[f]; dup {
					if stageOfFile[f] != s.StageID {
						errs = append(errs, fmt.Sprintf("file %q claimed by task %q (stage %q) and task %q (stage %q)", f, owner, stageOfFile[f], t.TaskID, s.StageID))
					}
				} else {
					fileOwner[f] = t.TaskID
					stageOfFile[f] = s.StageID
				}
			}
		}
	}

	return errs
}

func qualityScore(p *StagePlan) int {
	score := 100
	for _, s := range p.Stages {
		for _, t := range s.Tasks {
			if len(t.PlannedFiles) == 0 {
				score -= 15
			}
			if len(t.Acceptance) == 0 {
				score -= 10
			}
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

func fallbackPlan(objective string, defaults Defaults) *StagePlan {
	return &StagePlan{
		PlanID:    "fallback_" + uuid.NewString(),
		Objective: objective,
		Stages: []Stage{
			{
				StageID:  "s1",
				Name:     "fallback",
				PassRule: PassRuleAllSuccess,
				Tasks: []Task{
					{
						TaskID:     "s1_task_1",
						Prompt:     objective,
						Complexity: ComplexityMedium,
						TimeoutMs:  defaults.TimeoutMs,
						MaxRetries: intPtr(defaults.MaxRetries),
					},
				},
			},
		},
	}
}

func randomSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func intPtr(i int) *int { return &i }
