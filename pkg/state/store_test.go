package state

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "longagent-state.json"), time.Second)
	require.NoError(t, err)
	return s
}

func TestUpdateCreatesSessionWithDefaults(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Update("s1", Patch{})
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, got.Status)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestUpdateMergesAndBumpsUpdatedAt(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Update("s1", Patch{})
	require.NoError(t, err)

	running := StatusRunning
	second, err := s.Update("s1", Patch{Status: &running})
	require.NoError(t, err)

	assert.Equal(t, StatusRunning, second.Status)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt) || second.UpdatedAt.Equal(first.UpdatedAt))
}

func TestUpdateNoopPatchOnlyBumpsUpdatedAt(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Update("s1", Patch{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := s.Update("s1", Patch{})
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestListOrderedByUpdatedAtDescending(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Update("first", Patch{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = s.Update("second", Patch{})
	require.NoError(t, err)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].SessionID)
	assert.Equal(t, "first", list[1].SessionID)
}

func TestConcurrentUpdatesSerializeAndDoNotCorrupt(t *testing.T) {
	s := newTestStore(t)
	const n = 20

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			iters := i
			_, err := s.Update("shared", Patch{Iterations: &iters})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Get("shared")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.GreaterOrEqual(t, got.Iterations, 0)
}

func TestStopAndClearStop(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Update("s1", Patch{})
	require.NoError(t, err)

	stopped, err := s.Stop("s1")
	require.NoError(t, err)
	assert.True(t, stopped.StopRequested)

	cleared, err := s.ClearStop("s1")
	require.NoError(t, err)
	assert.False(t, cleared.StopRequested)
}

func TestStaleLockIsReclaimed(t *testing.T) {
	s := newTestStore(t)
	l := s.lock()

	// Simulate an abandoned lock from a dead PID.
	require.NoError(t, writeLockFile(l.path, 999999999, time.Now().Add(-time.Hour)))

	_, err := s.Update("s1", Patch{})
	require.NoError(t, err)
}
