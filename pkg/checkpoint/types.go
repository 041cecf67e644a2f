// Package checkpoint implements the Checkpoint Store: named,
// self-contained, atomically-written snapshots of a session's evolving
// state, independent of the session state lock.
package checkpoint

import (
	"time"

	"github.com/kkelly-oss/kkcode/pkg/plan"
	"github.com/kkelly-oss/kkcode/pkg/state"
)

// LatestName is the implicit reserved checkpoint name.
const LatestName = "latest"

// Record is a self-contained snapshot of a session at one point in time.
type Record struct {
	Name         string                        `json:"name"`
	Iteration    int                           `json:"iteration"`
	Phase        string                        `json:"phase"`
	GateStatus   map[string]state.GateResult   `json:"gateStatus"`
	TaskProgress map[string]state.TaskProgress `json:"taskProgress"`
	StageIndex   int                           `json:"stageIndex"`
	StagePlan    *plan.StagePlan               `json:"stagePlan,omitempty"`
	SavedAt      time.Time                     `json:"savedAt"`
}

// CleanupOptions configures Store.Cleanup.
type CleanupOptions struct {
	// MaxKeep is the number of newest-by-SavedAt checkpoints to retain.
	MaxKeep int
	// KeepStageCheckpoints, when true, exempts records whose name begins
	// with "stage_" from pruning.
	KeepStageCheckpoints bool
}
