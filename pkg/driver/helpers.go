package driver

import (
	"strings"

	"github.com/kkelly-oss/kkcode/pkg/plan"
	"github.com/kkelly-oss/kkcode/pkg/scheduler"
	"github.com/kkelly-oss/kkcode/pkg/state"
	"github.com/kkelly-oss/kkcode/pkg/util"
)

const completionSentinel = "[task_complete]"

// filterTaskProgressForStage returns the subset of a session's
// taskProgress belonging to the given stage's tasks, for seeding a
// resumed Stage Scheduler run.
func filterTaskProgressForStage(tp map[string]state.TaskProgress, stage plan.Stage) map[string]state.TaskProgress {
	out := map[string]state.TaskProgress{}
	for _, t := range stage.Tasks {
		if p, ok := tp[t.TaskID]; ok {
			out[t.TaskID] = p
		}
	}
	return out
}

// mergeTaskProgress overlays incoming (this stage's fresh results) onto
// current (the whole session's accumulated task progress).
func mergeTaskProgress(current, incoming map[string]state.TaskProgress) map[string]state.TaskProgress {
	out := map[string]state.TaskProgress{}
	for k, v := range current {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// wipeTaskProgressFromStage clears taskProgress entries belonging to the
// stage at fromIndex and every later stage, per the retryStageId
// handling in spec §4.7 step 3.
func wipeTaskProgressFromStage(tp map[string]state.TaskProgress, p *plan.StagePlan, fromIndex int) map[string]state.TaskProgress {
	out := map[string]state.TaskProgress{}
	for k, v := range tp {
		out[k] = v
	}
	for i := fromIndex; i < len(p.Stages); i++ {
		for _, t := range p.Stages[i].Tasks {
			delete(out, t.TaskID)
		}
	}
	return out
}

// resetFailedTasksToRetrying sets attempt=0 and status=retrying for
// every non-completed task in the stage, so the next scheduler pass
// redispatches them.
func resetFailedTasksToRetrying(tp map[string]state.TaskProgress, stage plan.Stage) map[string]state.TaskProgress {
	out := map[string]state.TaskProgress{}
	for k, v := range tp {
		out[k] = v
	}
	for _, t := range stage.Tasks {
		p, ok := out[t.TaskID]
		if !ok || p.Status == "completed" {
			continue
		}
		p.Attempt = 0
		p.Status = "retrying"
		out[t.TaskID] = p
	}
	return out
}

// anyReplyCarriesSentinel reports whether any task's last reply
// contained the completion sentinel.
func anyReplyCarriesSentinel(tp map[string]state.TaskProgress) bool {
	for _, p := range tp {
		if strings.Contains(strings.ToLower(p.LastReply), completionSentinel) {
			return true
		}
	}
	return false
}

// summaryToStageSummary adapts a scheduler.Summary into the shape
// util.AppendStageSummary expects.
func summaryToStageSummary(stage plan.Stage, summary scheduler.Summary) util.StageSummary {
	tasks := make([]util.TaskSummary, 0, len(stage.Tasks))
	for _, t := range stage.Tasks {
		tp := summary.TaskProgress[t.TaskID]
		tasks = append(tasks, util.TaskSummary{TaskID: t.TaskID, Status: tp.Status, Reply: tp.LastReply})
	}
	return util.StageSummary{
		StageID:    stage.StageID,
		Name:       stage.Name,
		AllSuccess: summary.AllSuccess,
		FailCount:  summary.FailCount,
		Tasks:      tasks,
		NewFiles:   util.FoldFileChangesIntoNewFiles(summary.FileChanges),
	}
}
