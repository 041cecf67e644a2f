package state

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLStore(db, "sqlite")
	require.NoError(t, err)
	return store
}

func TestSQLStoreRejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLStore(db, "oracle")
	require.Error(t, err)
}

func TestSQLStoreUpdateCreatesAndMerges(t *testing.T) {
	s := newTestSQLStore(t)

	completed := StatusCompleted
	got, err := s.Update("sess1", Patch{Status: &completed})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	fetched, err := s.Get("sess1")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, StatusCompleted, fetched.Status)
}

func TestSQLStoreGetMissingReturnsNil(t *testing.T) {
	s := newTestSQLStore(t)
	got, err := s.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLStoreListOrdersByUpdatedAtDescending(t *testing.T) {
	s := newTestSQLStore(t)
	_, err := s.Update("sess1", Patch{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = s.Update("sess2", Patch{})
	require.NoError(t, err)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "sess2", list[0].SessionID)
	assert.Equal(t, "sess1", list[1].SessionID)
}

func TestSQLStoreStopSetsStopRequested(t *testing.T) {
	s := newTestSQLStore(t)
	_, err := s.Update("sess1", Patch{})
	require.NoError(t, err)

	got, err := s.Stop("sess1")
	require.NoError(t, err)
	assert.True(t, got.StopRequested)

	cleared, err := s.ClearStop("sess1")
	require.NoError(t, err)
	assert.False(t, cleared.StopRequested)
}

func TestSQLStoreWithLockRunsCallback(t *testing.T) {
	s := newTestSQLStore(t)
	_, err := s.Update("sess1", Patch{})
	require.NoError(t, err)

	var sawStatus Status
	err = s.WithLock(func() error {
		sess, err := s.Get("sess1")
		if err != nil {
			return err
		}
		sawStatus = sess.Status
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, sawStatus)
}
