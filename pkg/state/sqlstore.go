package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SQLStore is an alternative Store backend for multi-host deployments,
// where a shared bare file cannot provide cross-process locking. Dialect
// support and the UPSERT shapes are grounded on the same per-dialect
// pattern the teacher uses for its SQL-backed task store.
type SQLStore struct {
	db      *sql.DB
	dialect string

	// mu serializes WithLock critical sections within this process.
	// Update's own atomicity comes from its per-row transaction
	// (SELECT ... FOR UPDATE / SQLite's serialized writers); mu only
	// covers callers, like the driver's merge step, that need to read
	// then act without an interleaving Update from elsewhere in the
	// same process. Cross-process callers still serialize through the
	// database's row locking inside Update.
	mu sync.Mutex
}

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS longagent_sessions (
	session_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	state_json TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL
)`

// NewSQLStore wraps an existing *sql.DB (dialect one of "postgres",
// "mysql", "sqlite") as a session Store.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	s := &SQLStore{db: db, dialect: dialect}
	if _, err := db.Exec(createSessionsTable); err != nil {
		return nil, fmt.Errorf("init sessions schema: %w", err)
	}
	return s, nil
}

// Update performs an atomic read-modify-write using a per-row
// transaction: SELECT ... FOR UPDATE (postgres/mysql) or a SQLite
// transaction (whose default isolation serializes writers), merge the
// patch in Go, then UPSERT.
func (s *SQLStore) Update(sessionID string, patch Patch) (*SessionState, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.getForUpdate(tx, sessionID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		now := time.Now()
		current = &SessionState{
			SessionID:    sessionID,
			Status:       StatusIdle,
			TaskProgress: map[string]TaskProgress{},
			GateStatus:   map[string]GateResult{},
			CreatedAt:    now,
		}
	}

	applyPatch(current, patch)
	current.UpdatedAt = time.Now()

	payload, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("marshal session state: %w", err)
	}

	if err := s.upsert(tx, current, payload); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return current, nil
}

func (s *SQLStore) getForUpdate(tx *sql.Tx, sessionID string) (*SessionState, error) {
	query := `SELECT state_json FROM longagent_sessions WHERE session_id = ?`
	if s.dialect == "postgres" {
		query = `SELECT state_json FROM longagent_sessions WHERE session_id = $1 FOR UPDATE`
	} else if s.dialect == "mysql" {
		query = `SELECT state_json FROM longagent_sessions WHERE session_id = ? FOR UPDATE`
	}
	row := tx.QueryRow(query, sessionID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	var st SessionState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &st, nil
}

func (s *SQLStore) upsert(tx *sql.Tx, st *SessionState, payload []byte) error {
	var query string
	switch s.dialect {
	case "mysql":
		query = `INSERT INTO longagent_sessions (session_id, status, state_json, updated_at, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE status = VALUES(status), state_json = VALUES(state_json), updated_at = VALUES(updated_at)`
	case "postgres":
		query = `INSERT INTO longagent_sessions (session_id, status, state_json, updated_at, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (session_id) DO UPDATE SET status = EXCLUDED.status, state_json = EXCLUDED.state_json, updated_at = EXCLUDED.updated_at`
	default: // sqlite
		query = `INSERT INTO longagent_sessions (session_id, status, state_json, updated_at, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET status = excluded.status, state_json = excluded.state_json, updated_at = excluded.updated_at`
	}
	_, err := tx.Exec(query, st.SessionID, string(st.Status), string(payload), st.UpdatedAt, st.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// WithLock runs fn while holding an in-process mutex; see the mu field
// comment for what this does and doesn't serialize against.
func (s *SQLStore) WithLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// Stop sets stopRequested = true for sessionId.
func (s *SQLStore) Stop(sessionID string) (*SessionState, error) {
	t := true
	return s.Update(sessionID, Patch{StopRequested: &t})
}

// ClearStop sets stopRequested = false for sessionId.
func (s *SQLStore) ClearStop(sessionID string) (*SessionState, error) {
	f := false
	return s.Update(sessionID, Patch{StopRequested: &f})
}

// Get returns the current state for sessionId, or nil if not present.
func (s *SQLStore) Get(sessionID string) (*SessionState, error) {
	query := `SELECT state_json FROM longagent_sessions WHERE session_id = ?`
	if s.dialect == "postgres" {
		query = `SELECT state_json FROM longagent_sessions WHERE session_id = $1`
	}
	row := s.db.QueryRow(query, sessionID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	var st SessionState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &st, nil
}

// List returns every session, ordered by UpdatedAt descending.
func (s *SQLStore) List() ([]SessionState, error) {
	rows, err := s.db.Query(`SELECT state_json FROM longagent_sessions`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionState
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var st SessionState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("unmarshal session state: %w", err)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, rows.Err()
}
