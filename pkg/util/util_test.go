package util

import (
	"testing"

	"github.com/kkelly-oss/kkcode/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeFileChangesSumsOnCollisionAndMovesToNewest(t *testing.T) {
	current := []state.FileChange{
		{Path: "a.go", AddedLines: 5, StageID: "s1", TaskID: "t1"},
		{Path: "b.go", AddedLines: 2, StageID: "s1", TaskID: "t1"},
	}
	incoming := []state.FileChange{
		{Path: "a.go", AddedLines: 3, StageID: "s1", TaskID: "t1"},
	}

	merged := MergeFileChanges(current, incoming, 400)
	require.Len(t, merged, 2)
	assert.Equal(t, "b.go", merged[0].Path)
	assert.Equal(t, "a.go", merged[1].Path)
	assert.Equal(t, 8, merged[1].AddedLines)
}

func TestMergeFileChangesTruncatesToLimit(t *testing.T) {
	var current []state.FileChange
	for i := 0; i < 10; i++ {
		current = append(current, state.FileChange{Path: string(rune('a' + i)), StageID: "s1", TaskID: "t1"})
	}

	merged := MergeFileChanges(current, nil, 3)
	require.Len(t, merged, 3)
}

func TestComputeProgress(t *testing.T) {
	tp := map[string]state.TaskProgress{
		"t1": {Status: "completed", RemainingFiles: nil},
		"t2": {Status: "running", RemainingFiles: []string{"x.go", "y.go"}},
		"t3": {Status: "running", RemainingFiles: []string{"x.go"}},
	}
	stats := ComputeProgress(tp)
	assert.Equal(t, 1, stats.Done)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.RemainingFilesCount)
}

func TestStuckLoopDetectorDoomLoop(t *testing.T) {
	d := NewStuckLoopDetector(3, 100)
	stuck, _ := d.Record("read_file:a", true)
	assert.False(t, stuck)
	stuck, _ = d.Record("read_file:a", true)
	assert.False(t, stuck)
	stuck, reason := d.Record("read_file:a", true)
	assert.True(t, stuck)
	assert.Equal(t, "doom_loop", reason)
}

func TestStuckLoopDetectorReadOnlyStreak(t *testing.T) {
	d := NewStuckLoopDetector(100, 2)
	d.Record("read:a", true)
	d.Record("read:b", true)
	stuck, reason := d.Record("read:c", true)
	assert.True(t, stuck)
	assert.Equal(t, "read_only_streak", reason)
}

func TestIsActionableObjective(t *testing.T) {
	assert.False(t, IsActionableObjective("hi"))
	assert.False(t, IsActionableObjective("thanks"))
	assert.True(t, IsActionableObjective("fix the login bug"))
	assert.True(t, IsActionableObjective("implement rate limiting"))
	assert.False(t, IsActionableObjective("ok cool"))
}

func TestAppendStageSummaryDedupesSeenFiles(t *testing.T) {
	seen := NewSeenFiles()
	first := AppendStageSummary("", StageSummary{
		StageID: "s1", Name: "setup", AllSuccess: true,
		Tasks:    []TaskSummary{{TaskID: "t1", Status: "completed", Reply: "done"}},
		NewFiles: []string{"a.go", "b.go"},
	}, seen)
	assert.Contains(t, first, "a.go, b.go")

	second := AppendStageSummary(first, StageSummary{
		StageID: "s2", Name: "build", AllSuccess: true,
		Tasks:    []TaskSummary{{TaskID: "t2", Status: "completed", Reply: "done"}},
		NewFiles: []string{"a.go", "c.go"},
	}, seen)
	assert.Contains(t, second, "New files: c.go")
	assert.NotContains(t, second, "New files: a.go, c.go")
}
