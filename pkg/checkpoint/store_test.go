package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir())

	record := Record{Name: "latest", Iteration: 3, Phase: "stage_running", StageIndex: 1}
	require.NoError(t, s.Save("sess1", record))

	got, err := s.Load("sess1", "latest")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record.Iteration, got.Iteration)
	assert.Equal(t, record.Phase, got.Phase)
	assert.False(t, got.SavedAt.IsZero())
}

func TestLoadMissingReturnsNilNil(t *testing.T) {
	s := New(t.TempDir())
	got, err := s.Load("nope", "latest")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoadDefaultsToLatest(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save("sess1", Record{Name: "latest", Iteration: 7}))

	got, err := s.Load("sess1", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, got.Iteration)
}

func TestCleanupKeepsNewestAndStageCheckpoints(t *testing.T) {
	s := New(t.TempDir())

	require.NoError(t, s.Save("sess1", Record{Name: "stage_s1", Iteration: 1}))
	require.NoError(t, s.Save("sess1", Record{Name: "latest", Iteration: 2}))
	require.NoError(t, s.Save("sess1", Record{Name: "manual_1", Iteration: 3}))
	require.NoError(t, s.Save("sess1", Record{Name: "manual_2", Iteration: 4}))

	require.NoError(t, s.Cleanup("sess1", CleanupOptions{MaxKeep: 1, KeepStageCheckpoints: true}))

	stage, err := s.Load("sess1", "stage_s1")
	require.NoError(t, err)
	assert.NotNil(t, stage, "stage checkpoints must survive pruning")

	newest, err := s.Load("sess1", "manual_2")
	require.NoError(t, err)
	assert.NotNil(t, newest, "newest non-stage checkpoint must survive")

	pruned, err := s.Load("sess1", "manual_1")
	require.NoError(t, err)
	assert.Nil(t, pruned, "older non-stage checkpoint should be pruned")
}
