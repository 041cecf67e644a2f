package state

// SessionStore is the durable sessionId -> SessionState map every
// consumer (pkg/driver, pkg/control, cmd/longagent) depends on. Store
// backs it with a lock-guarded JSON file for single-host deployments;
// SQLStore backs it with a SQL table for deployments where sessions must
// be visible across hosts; checkpoints stay in the file-based checkpoint
// store either way. Both satisfy this interface
// so the CLI can pick one at startup based on whether a database config
// is present.
type SessionStore interface {
	Get(sessionID string) (*SessionState, error)
	List() ([]SessionState, error)
	Update(sessionID string, patch Patch) (*SessionState, error)
	Stop(sessionID string) (*SessionState, error)

	// WithLock runs fn while the store's update lock is held, for
	// multi-step critical sections (read-status-then-act) that must not
	// interleave with a concurrent Update.
	WithLock(fn func() error) error
}

var (
	_ SessionStore = (*Store)(nil)
	_ SessionStore = (*SQLStore)(nil)
)
