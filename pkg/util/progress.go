package util

import "github.com/kkelly-oss/kkcode/pkg/state"

// ProgressStats is the summary computed from a session's taskProgress.
type ProgressStats struct {
	Done                int
	Total               int
	RemainingFiles      []string
	RemainingFilesCount int
}

// ComputeProgress returns {done, total, remainingFiles (deduplicated
// union), remainingFilesCount} over the given taskProgress map.
func ComputeProgress(taskProgress map[string]state.TaskProgress) ProgressStats {
	stats := ProgressStats{Total: len(taskProgress)}

	seen := make(map[string]bool)
	var remaining []string

	for _, tp := range taskProgress {
		if tp.Status == "completed" {
			stats.Done++
		}
		for _, f := range tp.RemainingFiles {
			if !seen[f] {
				seen[f] = true
				remaining = append(remaining, f)
			}
		}
	}

	stats.RemainingFiles = remaining
	stats.RemainingFilesCount = len(remaining)
	return stats
}
