// Package worker defines the narrow Worker Pool capability the Stage
// Scheduler depends on (spec §4.4): launch a sub-task, poll it
// non-blockingly, cancel it, and advance internal bookkeeping on a tick.
package worker

// HandleStatus is the lifecycle status of a launched task as observed by
// the pool.
type HandleStatus string

const (
	HandleRunning     HandleStatus = "running"
	HandleCompleted   HandleStatus = "completed"
	HandleError       HandleStatus = "error"
	HandleInterrupted HandleStatus = "interrupted"
	HandleCancelled   HandleStatus = "cancelled"
)

// FileChange mirrors state.FileChange without importing pkg/state, to
// keep this package's dependency surface to the external-collaborator
// boundary only.
type FileChange struct {
	Path         string
	AddedLines   int
	RemovedLines int
	StageID      string
	TaskID       string
}

// Result is the Task Result Envelope returned by a terminal poll.
type Result struct {
	Status         HandleStatus
	CompletedFiles []string
	RemainingFiles []string
	FileChanges    []FileChange
	Reply          string
	Cost           float64
	Error          string
}

// Descriptor describes one unit of work to launch.
type Descriptor struct {
	ParentSessionID string
	SubSessionID    string
	Prompt          string
	Provider        string
	Model           string
	SubagentHint    string
	StageID         string
	TaskID          string
	PlannedFiles    []string
	Attempt         int
	TimeoutMs       int
}

// Handle is an opaque reference to a launched task.
type Handle string

// TickConfig carries pool-wide settings consulted on each Tick, such as
// the effective maximum parallelism.
type TickConfig struct {
	MaxParallel int
}

// PollResult is returned by a non-blocking Poll call.
type PollResult struct {
	Status HandleStatus
	Result *Result // non-nil only when Status is terminal
	Error  error
}

// Pool is the capability the Stage Scheduler consumes. Implementations
// may run workers as goroutines, OS processes, or remote calls; the pool
// is responsible for honoring the larger of its own capacity and the
// caller's requested max_parallel.
type Pool interface {
	Launch(descriptor Descriptor) (Handle, error)
	Poll(handle Handle) (PollResult, error)
	Cancel(handle Handle) error
	Tick(config TickConfig)
}
