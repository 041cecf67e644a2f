package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kkelly-oss/kkcode/pkg/observability"
)

// Store persists Records under <baseDir>/<sessionId>/<name>.json, the
// layout the teacher's own checkpoint packages used (pkg/context's
// temp-dir-per-store and pkg/checkpoint's session-keyed storage), adapted
// here to a crash-safe write-temp-then-rename on plain disk instead of
// routing through a session service.
type Store struct {
	baseDir string

	// Metrics and Tracer are optional; both are nil-safe so a zero-value
	// Store still works without them.
	Metrics observability.Recorder
	Tracer  *observability.Tracer
}

// New creates a Store rooted at baseDir (typically
// <user-home>/<app>/checkpoints per spec §6).
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

func (s *Store) recordPath(sessionID, name string) string {
	return filepath.Join(s.sessionDir(sessionID), name+".json")
}

// Save atomically writes record under the session's checkpoint
// directory as "<name>.json" via write-temp-then-rename. SavedAt is set
// to the current time before writing.
func (s *Store) Save(sessionID string, record Record) error {
	start := time.Now()
	_, span := s.Tracer.StartCheckpointWrite(context.Background(), sessionID)
	defer span.End()

	err := s.save(sessionID, record)
	s.Tracer.RecordError(span, err)
	if s.Metrics != nil {
		s.Metrics.RecordCheckpointWrite(time.Since(start), err)
	}
	return err
}

func (s *Store) save(sessionID string, record Record) error {
	if record.Name == "" {
		return fmt.Errorf("checkpoint record must have a name")
	}
	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	record.SavedAt = time.Now()
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+record.Name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp checkpoint file: %w", err)
	}

	target := s.recordPath(sessionID, record.Name)
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}

// Load retrieves a named checkpoint ("latest" by default). Returns nil,
// nil if it does not exist.
func (s *Store) Load(sessionID string, name string) (*Record, error) {
	if name == "" {
		name = LatestName
	}
	data, err := os.ReadFile(s.recordPath(sessionID, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &record, nil
}

// Cleanup keeps the newest opts.MaxKeep checkpoints by SavedAt, exempting
// "stage_"-prefixed records when opts.KeepStageCheckpoints is true.
func (s *Store) Cleanup(sessionID string, opts CleanupOptions) error {
	dir := s.sessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list checkpoint directory: %w", err)
	}

	type named struct {
		name    string
		path    string
		savedAt time.Time
	}
	var records []named
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		records = append(records, named{name: name, path: path, savedAt: r.SavedAt})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].savedAt.After(records[j].savedAt) })

	if opts.MaxKeep <= 0 || len(records) <= opts.MaxKeep {
		return nil
	}

	for i, r := range records {
		if i < opts.MaxKeep {
			continue
		}
		if opts.KeepStageCheckpoints && strings.HasPrefix(r.name, "stage_") {
			continue
		}
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("prune checkpoint %q: %w", r.name, err)
		}
	}
	return nil
}
