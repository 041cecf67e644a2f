// Package events implements fire-and-forget event emission (spec §6):
// consumers are decoupled from producers and a missing/slow consumer
// never blocks the driver.
package events

import "log/slog"

// Event is one emitted occurrence with a name and an arbitrary payload.
type Event struct {
	Name    string
	Payload map[string]any
}

// Names used throughout the driver/scheduler/gate runner, per spec §6.
const (
	PlanFrozen          = "plan_frozen"
	StageStarted        = "stage_started"
	StageTaskDispatched = "stage_task_dispatched"
	StageTaskFinished   = "stage_task_finished"
	StageFinished       = "stage_finished"
	PhaseChanged        = "phase_changed"
	RecoveryEntered     = "recovery_entered"
	GateChecked         = "gate_checked"
	Alert               = "alert"
)

// Alert kinds, per spec §6.
const (
	AlertStuckWarning           = "stuck_warning"
	AlertBudgetBreaker          = "budget_breaker"
	AlertRetryStorm             = "retry_storm"
	AlertStageAborted           = "stage_aborted"
	AlertFileOwnershipViolation = "file_ownership_violation"
	AlertGitMergeFailed         = "git_merge_failed"
)

// Sink receives emitted events.
type Sink interface {
	Emit(e Event)
}

// Bus fans events out to a fixed set of subscribers, matching the
// observability package's wrap-and-record middleware pattern but for
// domain events instead of HTTP/LLM call metrics. A nil or full
// subscriber channel never blocks emission: the bus is fire-and-forget
// by design.
type Bus struct {
	subscribers []chan Event
	log         *slog.Logger
}

// NewBus creates an empty event bus. Subscribers are added with
// Subscribe before Emit is called concurrently.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log}
}

// Subscribe returns a channel that receives every subsequently emitted
// event, buffered so a slow consumer cannot block producers.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Emit delivers e to every subscriber without blocking; a full
// subscriber channel silently drops the event (logged at debug level)
// rather than stalling the driver.
func (b *Bus) Emit(e Event) {
	b.log.Debug("event", "name", e.Name, "payload", e.Payload)
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			b.log.Debug("dropped event: subscriber channel full", "name", e.Name)
		}
	}
}

var _ Sink = (*Bus)(nil)
