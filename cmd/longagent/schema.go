package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/kkelly-oss/kkcode/pkg/plan"
)

// SchemaCmd generates the JSON Schema for a frozen stage plan. Planner
// sub-sessions that support structured output (function calling, JSON
// mode) use this schema as their output contract so their raw result
// needs minimal coercion before pkg/plan.Validate normalizes it.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&plan.StagePlan{})
	schema.ID = "https://longagent.dev/schemas/stage-plan.json"
	schema.Title = "Stage Plan Schema"
	schema.Description = "Frozen stage plan output contract for the Stage Planner"
	schema.Version = "http://json-schema.org/draft-07/schema#"
	schema.Examples = []interface{}{
		map[string]interface{}{
			"plan_id":   "p1",
			"objective": "implement the login flow",
			"stages": []interface{}{
				map[string]interface{}{
					"stage_id":  "s1",
					"name":      "backend",
					"pass_rule": "all_success",
					"tasks": []interface{}{
						map[string]interface{}{
							"task_id":       "t1",
							"prompt":        "add a POST /login handler",
							"planned_files": []string{"handlers/login.go"},
						},
					},
				},
			},
		},
	}

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
