package driver

import (
	"github.com/kkelly-oss/kkcode/pkg/state"
)

// Config holds every driver-level tunable named in spec §6, with the
// spec's stated defaults.
type Config struct {
	MaxIterations      int
	NoProgressWarning  int
	NoProgressLimit    int
	MaxStageRecoveries int
	MaxGateAttempts    int
	HeartbeatTimeoutMs int
	CheckpointInterval int
	LockTimeoutMs      int

	MaxConcurrency int
	TaskTimeoutMs  int
	TaskMaxRetries int
	BudgetLimitUsd float64

	ScaffoldEnabled          bool
	IntakeQuestionsEnabled   bool
	IntakeQuestionsMaxRounds int

	GatesEnabled   map[string]bool
	GatePromptUser string // first_run, always, never

	FileChangesLimit int

	GitEnabled bool
}

// DefaultConfig returns spec §6's defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:      0,
		NoProgressWarning:  3,
		NoProgressLimit:    5,
		MaxStageRecoveries: 3,
		MaxGateAttempts:    5,
		HeartbeatTimeoutMs: 120000,
		CheckpointInterval: 5,
		LockTimeoutMs:      5000,

		MaxConcurrency: 3,
		TaskTimeoutMs:  600000,
		TaskMaxRetries: 2,
		BudgetLimitUsd: 0,

		ScaffoldEnabled:          true,
		IntakeQuestionsEnabled:   true,
		IntakeQuestionsMaxRounds: 6,

		GatesEnabled: map[string]bool{
			"build": true, "test": true, "review": true, "health": true, "budget": true,
		},
		GatePromptUser: "first_run",

		FileChangesLimit: 400,
	}
}

// Planner invokes the external planner LLM sub-session, returning raw
// (unvalidated) plan data for pkg/plan.Validate to normalize.
type Planner func(objective, priorContext string) (any, error)

// IntakeDialogue runs a bounded LLM sub-session to clarify the objective,
// returning the clarified summary to feed the planner.
type IntakeDialogue func(objective string, maxRounds int) (summary string, err error)

// Scaffolder runs a single scaffold sub-session, returning the file
// changes it produced.
type Scaffolder func(plannedFiles []string) ([]state.FileChange, error)

// CompletionConfirmer asks the model to confirm completion when no task
// reply carried the completion sentinel.
type CompletionConfirmer func() (confirmed bool, err error)

// RemediationTurn runs one remediation agent turn after a gate failure.
type RemediationTurn func(failures []string) error

// GitGate is the optional, best-effort external git collaborator.
type GitGate interface {
	IsRepo() bool
	HasDirtyWork() (bool, error)
	Stash() error
	CreateBranch(name string) error
	Commit(message string) error
	CheckoutBase() error
	Merge(branch string) error
	DeleteBranch(branch string) error
	CheckoutBranch(branch string) error
}

// Collaborators bundles every external-collaborator seam the driver
// invokes. Nil fields make the corresponding optional step a no-op.
type Collaborators struct {
	Planner             Planner
	IntakeDialogue      IntakeDialogue
	Scaffolder          Scaffolder
	CompletionConfirmer CompletionConfirmer
	RemediationTurn     RemediationTurn
	Git                 GitGate
	Confirm             Confirmer
}

// Progress is the {done, total} stage-progress shape in the result.
type Progress struct {
	Done  int
	Total int
}

// Result is the exact driver return shape from spec §6.
type Result struct {
	SessionID           string
	Reply               string
	Usage               map[string]any
	ToolEvents          []string
	Iterations          int
	RecoveryCount       int
	Phase               string
	GateStatus          map[string]state.GateResult
	CurrentGate         string
	Status              state.Status
	Progress            map[string]any
	ElapsedSeconds      float64
	StageIndex          int
	StageCount          int
	CurrentStageID      string
	PlanFrozen          bool
	TaskProgress        map[string]state.TaskProgress
	FileChanges         []state.FileChange
	StageProgress       Progress
	RemainingFilesCount int
}

// phase labels, per spec §4.7.
const (
	phaseIntake      = "intake"
	phasePlanFrozen  = "plan_frozen"
	phaseScaffolding = "scaffolding"
	phaseStageRun    = "stage_running"
	phaseStageRecov  = "stage_recover"
	phaseGateCheck   = "usability_gate_check"
	phaseGateRecov   = "gate_recovery"
	phaseTerminal    = "terminal"
)
