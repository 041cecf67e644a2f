// Package util implements the contract-only utilities of spec §4.8: the
// capped file-change merger, progress stats, priorContext builder,
// stuck-loop detector, and actionable-objective classifier. These are
// pure data-transform functions grounded on the teacher's own
// pkg/utils style (small, table-driven, dependency-free helpers).
package util

import "github.com/kkelly-oss/kkcode/pkg/state"

// DefaultFileChangesLimit is spec §6's file_changes_limit default.
const DefaultFileChangesLimit = 400

type mergeKey struct {
	path    string
	stageID string
	taskID  string
}

// MergeFileChanges merges incoming into current, keyed by
// (path, stageId, taskId): on collision the added/removed line counts are
// summed and the entry moves to the newest-insertion position (delete
// old key, then insert). The result is truncated to the limit most
// recent entries.
func MergeFileChanges(current, incoming []state.FileChange, limit int) []state.FileChange {
	if limit <= 0 {
		limit = DefaultFileChangesLimit
	}

	order := make([]mergeKey, 0, len(current)+len(incoming))
	byKey := make(map[mergeKey]state.FileChange, len(current)+len(incoming))

	upsert := func(fc state.FileChange) {
		k := mergeKey{path: fc.Path, stageID: fc.StageID, taskID: fc.TaskID}
		if existing, ok := byKey[k]; ok {
			fc.AddedLines += existing.AddedLines
			fc.RemovedLines += existing.RemovedLines
			order = removeKey(order, k)
		}
		byKey[k] = fc
		order = append(order, k)
	}

	for _, fc := range current {
		upsert(fc)
	}
	for _, fc := range incoming {
		upsert(fc)
	}

	if len(order) > limit {
		order = order[len(order)-limit:]
	}

	out := make([]state.FileChange, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

func removeKey(order []mergeKey, k mergeKey) []mergeKey {
	for i, existing := range order {
		if existing == k {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
