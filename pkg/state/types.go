// Package state implements the durable session state store: a
// sessionId -> SessionState JSON map guarded by a PID-aware advisory file
// lock, safe for use across multiple cooperating processes.
package state

import (
	"time"

	"github.com/kkelly-oss/kkcode/pkg/plan"
)

// Status is the lifecycle status of a session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRunning    Status = "running"
	StatusRecovering Status = "recovering"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
	StatusStopped    Status = "stopped"
	StatusError      Status = "error"
)

// FileChange describes a single file touched by a task.
type FileChange struct {
	Path         string `json:"path"`
	AddedLines   int    `json:"addedLines"`
	RemovedLines int    `json:"removedLines"`
	StageID      string `json:"stageId"`
	TaskID       string `json:"taskId"`
}

// TaskProgress tracks one task's state as observed by the driver/scheduler.
type TaskProgress struct {
	Attempt        int          `json:"attempt"`
	Status         string       `json:"status"`
	PlannedFiles   []string     `json:"plannedFiles"`
	CompletedFiles []string     `json:"completedFiles"`
	RemainingFiles []string     `json:"remainingFiles"`
	FileChanges    []FileChange `json:"fileChanges"`
	LastError      string       `json:"lastError,omitempty"`
	LastReply      string       `json:"lastReply,omitempty"`
	LastCost       float64      `json:"lastCost"`
}

// GateResult is the recorded outcome of one quality gate check.
type GateResult struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Output string `json:"output,omitempty"`
}

// SessionState is the full persisted state of one long-running job.
type SessionState struct {
	SessionID      string                  `json:"sessionId"`
	Status         Status                  `json:"status"`
	Phase          string                  `json:"phase"`
	CurrentGate    string                  `json:"currentGate"`
	StagePlan      *plan.StagePlan         `json:"stagePlan,omitempty"`
	StageIndex     int                     `json:"stageIndex"`
	StageCount     int                     `json:"stageCount"`
	CurrentStageID string                  `json:"currentStageId,omitempty"`
	TaskProgress   map[string]TaskProgress `json:"taskProgress"`
	FileChanges    []FileChange            `json:"fileChanges"`
	GateStatus     map[string]GateResult   `json:"gateStatus"`
	RecoveryCount  int                     `json:"recoveryCount"`
	Iterations     int                     `json:"iterations"`
	HeartbeatAt    time.Time               `json:"heartbeatAt"`
	UpdatedAt      time.Time               `json:"updatedAt"`
	CreatedAt      time.Time               `json:"createdAt"`
	StopRequested  bool                    `json:"stopRequested"`
	RetryStageID   string                  `json:"retryStageId,omitempty"`
}

// document is the on-disk shape of the state file: {"sessions": {...}}.
type document struct {
	Sessions map[string]SessionState `json:"sessions"`
}

// Patch is a partial update applied over an existing (or default)
// SessionState. Nil-valued pointer fields and nil maps/slices are left
// untouched; everything else overrides the corresponding field.
type Patch struct {
	Status            *Status
	Phase             *string
	CurrentGate       *string
	StagePlan         *plan.StagePlan
	StageIndex        *int
	StageCount        *int
	CurrentStageID    *string
	TaskProgress      map[string]TaskProgress
	FileChanges       []FileChange
	GateStatus        map[string]GateResult
	RecoveryCount     *int
	Iterations        *int
	HeartbeatAt       *time.Time
	StopRequested     *bool
	RetryStageID      *string
	ClearRetryStageID bool
}
