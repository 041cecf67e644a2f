package util

import (
	"fmt"
	"strings"

	"github.com/kkelly-oss/kkcode/pkg/state"
)

// maxReplyPreview is the "first 250 chars of reply" the spec calls for.
const maxReplyPreview = 250

// StageSummary is the minimal shape PriorContext needs per finished
// stage.
type StageSummary struct {
	StageID    string
	Name       string
	AllSuccess bool
	FailCount  int
	Tasks      []TaskSummary
	NewFiles   []string
}

// TaskSummary is one task's contribution to a stage summary.
type TaskSummary struct {
	TaskID string
	Status string
	Reply  string
}

// SeenFiles tracks file paths already surfaced in a prior stage summary,
// so later summaries only list genuinely new files (preventing unbounded
// growth across many stages).
type SeenFiles struct {
	seen map[string]bool
}

// NewSeenFiles creates an empty seen-files tracker.
func NewSeenFiles() *SeenFiles {
	return &SeenFiles{seen: map[string]bool{}}
}

// AppendStageSummary formats one stage's compressed summary and appends
// it to the running priorContext text, filtering already-seen file paths
// out of the "New files" line and recording the newly seen ones.
func AppendStageSummary(priorContext string, s StageSummary, seen *SeenFiles) string {
	status := "PASS"
	if !s.AllSuccess {
		status = fmt.Sprintf("FAIL, failCount=%d", s.FailCount)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### Stage %s: %s (%s)\n", s.StageID, s.Name, status)
	for _, t := range s.Tasks {
		reply := t.Reply
		if len(reply) > maxReplyPreview {
			reply = reply[:maxReplyPreview]
		}
		fmt.Fprintf(&b, "  - [%s] status: %s\n", t.TaskID, reply)
		_ = t.Status
	}

	var newFiles []string
	for _, f := range s.NewFiles {
		if seen.seen[f] {
			continue
		}
		seen.seen[f] = true
		newFiles = append(newFiles, f)
	}
	if len(newFiles) > 0 {
		fmt.Fprintf(&b, "  New files: %s\n", strings.Join(newFiles, ", "))
	}

	if priorContext == "" {
		return b.String()
	}
	return priorContext + "\n" + b.String()
}

// PlanAnchor builds the per-iteration anchor string: the objective plus a
// one-line checkbox summary of all stages (past done, current active,
// future blank).
func PlanAnchor(objective string, stageNames []string, currentIndex int) string {
	var b strings.Builder
	b.WriteString(objective)
	b.WriteString("\n")
	for i, name := range stageNames {
		var mark string
		switch {
		case i < currentIndex:
			mark = "✓"
		case i == currentIndex:
			mark = "→"
		default:
			mark = " "
		}
		fmt.Fprintf(&b, "[%s] %s\n", mark, name)
	}
	return b.String()
}

// FoldFileChangesIntoNewFiles extracts the distinct file paths from a
// sequence of FileChange, preserving first-seen order.
func FoldFileChangesIntoNewFiles(changes []state.FileChange) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range changes {
		if seen[c.Path] {
			continue
		}
		seen[c.Path] = true
		out = append(out, c.Path)
	}
	return out
}
