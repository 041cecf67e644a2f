package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Store is the durable sessionId -> SessionState map described in spec
// §4.1. All mutating operations acquire a cross-process advisory file
// lock before reading or writing the backing JSON file.
type Store struct {
	path        string
	lockTimeout time.Duration
}

// New creates a Store backed by the JSON file at path. The containing
// directory is created if missing.
func New(path string, lockTimeout time.Duration) (*Store, error) {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{path: path, lockTimeout: lockTimeout}, nil
}

func (s *Store) lock() *fileLock {
	return newFileLock(s.path, s.lockTimeout)
}

// WithLock runs fn while the store's file lock is held, for multi-step
// critical sections (e.g. read-status-then-merge) that must not
// interleave with a concurrent process's update.
func (s *Store) WithLock(fn func() error) error {
	l := s.lock()
	if err := l.acquire(); err != nil {
		return err
	}
	defer func() {
		if err := l.release(); err != nil {
			slog.Warn("failed to release state lock", "error", err)
		}
	}()
	return fn()
}

// Get returns the current state for sessionId, or nil if not present.
func (s *Store) Get(sessionID string) (*SessionState, error) {
	var result *SessionState
	err := s.WithLock(func() error {
		doc, err := s.readLocked()
		if err != nil {
			return err
		}
		if st, ok := doc.Sessions[sessionID]; ok {
			cp := st
			result = &cp
		}
		return nil
	})
	return result, err
}

// List returns every session, ordered by UpdatedAt descending.
func (s *Store) List() ([]SessionState, error) {
	var out []SessionState
	err := s.WithLock(func() error {
		doc, err := s.readLocked()
		if err != nil {
			return err
		}
		out = make([]SessionState, 0, len(doc.Sessions))
		for _, st := range doc.Sessions {
			out = append(out, st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Update atomically merges patch over the current state for sessionId
// (or a fresh default template if the session is new), sets
// updatedAt = now, persists, and returns the merged value.
func (s *Store) Update(sessionID string, patch Patch) (*SessionState, error) {
	var result SessionState
	err := s.WithLock(func() error {
		doc, err := s.readLocked()
		if err != nil {
			return err
		}

		current, existed := doc.Sessions[sessionID]
		if !existed {
			now := time.Now()
			current = SessionState{
				SessionID:    sessionID,
				Status:       StatusIdle,
				TaskProgress: map[string]TaskProgress{},
				GateStatus:   map[string]GateResult{},
				CreatedAt:    now,
			}
		}

		applyPatch(&current, patch)
		current.UpdatedAt = time.Now()

		if doc.Sessions == nil {
			doc.Sessions = map[string]SessionState{}
		}
		doc.Sessions[sessionID] = current
		result = current

		return s.writeLocked(doc)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Stop sets stopRequested = true for sessionId.
func (s *Store) Stop(sessionID string) (*SessionState, error) {
	t := true
	return s.Update(sessionID, Patch{StopRequested: &t})
}

// ClearStop sets stopRequested = false for sessionId.
func (s *Store) ClearStop(sessionID string) (*SessionState, error) {
	f := false
	return s.Update(sessionID, Patch{StopRequested: &f})
}

func applyPatch(cur *SessionState, p Patch) {
	if p.Status != nil {
		cur.Status = *p.Status
	}
	if p.Phase != nil {
		cur.Phase = *p.Phase
	}
	if p.CurrentGate != nil {
		cur.CurrentGate = *p.CurrentGate
	}
	if p.StagePlan != nil {
		cur.StagePlan = p.StagePlan
	}
	if p.StageIndex != nil {
		cur.StageIndex = *p.StageIndex
	}
	if p.StageCount != nil {
		cur.StageCount = *p.StageCount
	}
	if p.CurrentStageID != nil {
		cur.CurrentStageID = *p.CurrentStageID
	}
	if p.TaskProgress != nil {
		cur.TaskProgress = p.TaskProgress
	}
	if p.FileChanges != nil {
		cur.FileChanges = p.FileChanges
	}
	if p.GateStatus != nil {
		cur.GateStatus = p.GateStatus
	}
	if p.RecoveryCount != nil {
		cur.RecoveryCount = *p.RecoveryCount
	}
	if p.Iterations != nil {
		cur.Iterations = *p.Iterations
	}
	if p.HeartbeatAt != nil {
		cur.HeartbeatAt = *p.HeartbeatAt
	}
	if p.StopRequested != nil {
		cur.StopRequested = *p.StopRequested
	}
	if p.ClearRetryStageID {
		cur.RetryStageID = ""
	} else if p.RetryStageID != nil {
		cur.RetryStageID = *p.RetryStageID
	}
}

// readLocked reads and parses the state file. Must be called with the
// lock held. A missing file is treated as an empty document.
func (s *Store) readLocked() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{Sessions: map[string]SessionState{}}, nil
		}
		return document{}, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return document{Sessions: map[string]SessionState{}}, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("parse state file: %w", err)
	}
	if doc.Sessions == nil {
		doc.Sessions = map[string]SessionState{}
	}
	return doc, nil
}

// writeLocked truncates and rewrites the state file. Must be called with
// the lock held.
func (s *Store) writeLocked(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state file: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}
