package deploy

import (
	"context"
	"strings"

	"github.com/mrz1836/switchyard/internal/constants"
	"github.com/mrz1836/switchyard/internal/ctxutil"
	"github.com/mrz1836/switchyard/internal/diff"
	"github.com/mrz1836/switchyard/internal/domain"
)

// Timeline statuses.
const (
	timelineCompleted = "completed"
	timelineUpcoming  = "upcoming"
	timelinePending   = "pending"
)

// stagePlans maps each stage to its human-readable plan and checks.
type stagePlan struct {
	plan   string
	checks []string
}

func (e *Engine) stagePlans(branch string) map[constants.DeployStatus]stagePlan {
	cutoverPlan := stagePlan{
		plan:   "copy build output into the standby slot and swap the live symlink",
		checks: []string{"build directory exists", "symlink resolves to a known slot"},
	}
	if e.DevServerMode() {
		cutoverPlan = stagePlan{
			plan:   "skip cutover (dev-server mode)",
			checks: []string{"dev server restarted by the build command"},
		}
	}
	return map[constants.DeployStatus]stagePlan{
		constants.StatusRunningClone: {
			plan:   "fetch origin and align the working tree with " + branch,
			checks: []string{"remote reachable", "branch allowed"},
		},
		constants.StatusRunningBuild: {
			plan:   "install dependencies and build frontend artifacts",
			checks: []string{"install exit code", "build exit code"},
		},
		constants.StatusRunningCutover: cutoverPlan,
		constants.StatusRunningObservability: {
			plan:   "record observability placeholder",
			checks: []string{"placeholder recorded"},
		},
	}
}

// GetPreview assembles the pre-flight preview payload: planned
// commands, risk, cost, LLM summary, per-stage timeline, warnings, and
// the blue/green plan. When taskID is non-empty the timeline reflects
// that task's actual progress and its context snapshot is attached.
func (e *Engine) GetPreview(ctx context.Context, taskID string) (map[string]any, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	branch := strings.TrimSpace(e.cfg.Deploy.DefaultBranch)
	pctx, risk, cost, preview := e.buildAssessment(ctx, branch)

	var task *domain.DeployTask
	if taskID != "" {
		var err error
		task, err = e.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
	}

	estimates := diff.EstimateStages(pctx.DiffStats)
	timeline := e.buildTimeline(branch, estimates, task)

	wctx := diff.WarningContext{
		EmptyDiff: previewIsEmptyDiff(pctx),
	}
	if task != nil {
		wctx.TaskHasFailureContext = task.FailureContext() != nil
		wctx.TaskHasErrorLog = task.ErrorLog != ""
	}
	warnings := diff.BuildWarnings(pctx.DiffStats, wctx)

	payload := map[string]any{
		"current_branch":        branch,
		"target_repo":           e.cfg.Deploy.RepoPath,
		"frontend_project_path": e.cfg.FrontendProjectPath(),
		"commands":              e.commandPlan(branch),
		"risk_assessment":       risk,
		"cost_estimate":         cost,
		"llm_preview":           preview.Metadata(),
		"timeline_preview":      timeline,
		"warnings":              warnings,
		"blue_green_plan":       e.cutover.Plan(),
		"diff_source":           pctx.DiffSource,
	}
	if outputPath := e.cfg.FrontendOutputPath(); outputPath != "" {
		payload["frontend_output_path"] = outputPath
	}
	if pctx.Ready {
		payload["base_commit"] = pctx.BaseCommit
		payload["head_commit"] = pctx.HeadCommit
		if pctx.CompareMetadata != nil {
			payload["compare_metadata"] = pctx.CompareMetadata
		}
	} else {
		payload["preview_ready"] = false
		payload["preview_reason"] = pctx.Reason
	}

	if task != nil {
		taskContext := map[string]any{
			"task_id":      task.TaskID,
			"status":       string(task.Status),
			"branch":       task.Branch(),
			"action":       task.Action(),
			"started_at":   e.DisplayTime(task.StartedAt),
			"metadata":     task.Metadata,
			"error_log":    task.ErrorLog,
			"completed_at": nil,
		}
		if task.CompletedAt != nil {
			taskContext["completed_at"] = e.DisplayTime(*task.CompletedAt)
		}
		payload["task_context"] = taskContext
	}

	return payload, nil
}

// previewIsEmptyDiff reports whether the preview found nothing to ship,
// either as an explicit not-ready reason or a zero-file ready diff.
func previewIsEmptyDiff(pctx *diff.PreviewContext) bool {
	if pctx == nil {
		return false
	}
	if pctx.Ready {
		return pctx.DiffStats != nil && pctx.DiffStats.FileCount == 0
	}
	return strings.Contains(pctx.Reason, "nothing to ship")
}

// commandPlan renders the human-readable execution plan: the fixed git
// prelude, the configured build commands, and the terminal marker.
func (e *Engine) commandPlan(branch string) []string {
	commands := []string{
		"git fetch origin",
		"git checkout -B " + branch + " origin/" + branch,
		"git reset --hard origin/" + branch,
		"git clean -fdx",
	}
	if install := strings.TrimSpace(e.cfg.Frontend.InstallCommand); install != "" {
		commands = append(commands, install)
	}
	commands = append(commands, e.cfg.Frontend.BuildCommand)
	if export := strings.TrimSpace(e.cfg.Frontend.ExportCommand); export != "" {
		commands = append(commands, export)
	}
	if e.DevServerMode() {
		commands = append(commands, "restart dev server (no static cutover)")
	} else {
		commands = append(commands, "sync static assets to the standby slot")
	}
	return commands
}

// buildTimeline produces one entry per stage with the plan, the
// expected duration, and the stage's status. Without a task the first
// stage is upcoming; with a task the statuses reflect its recorded
// progress.
func (e *Engine) buildTimeline(branch string, estimates []diff.StageEstimate, task *domain.DeployTask) []map[string]any {
	plans := e.stagePlans(branch)
	seconds := make(map[string]int, len(estimates))
	for _, estimate := range estimates {
		seconds[estimate.Stage] = estimate.Seconds
	}

	timeline := make([]map[string]any, 0, len(constants.StageStatuses))
	upcomingAssigned := false
	for _, stage := range constants.StageStatuses {
		status := e.timelineStatus(stage, task, &upcomingAssigned)
		plan := plans[stage]
		entry := map[string]any{
			"stage":            string(stage),
			"plan":             plan.plan,
			"expected_seconds": seconds[string(stage)],
			"status":           status,
			"checks":           plan.checks,
		}
		if task != nil {
			if stageMeta, ok := task.Metadata[string(stage)]; ok {
				entry["recorded"] = stageMeta
			}
		}
		timeline = append(timeline, entry)
	}
	return timeline
}

// timelineStatus classifies one stage for the timeline.
func (e *Engine) timelineStatus(stage constants.DeployStatus, task *domain.DeployTask, upcomingAssigned *bool) string {
	if task == nil {
		if !*upcomingAssigned {
			*upcomingAssigned = true
			return timelineUpcoming
		}
		return timelinePending
	}

	if task.Status == constants.StatusCompleted {
		return timelineCompleted
	}
	if _, recorded := task.Metadata[string(stage)]; recorded && task.Status != stage {
		return timelineCompleted
	}
	if task.Status == stage {
		return timelineUpcoming
	}
	if !*upcomingAssigned && task.Status == constants.StatusPending {
		*upcomingAssigned = true
		return timelineUpcoming
	}
	return timelinePending
}

// DescribeBlueGreenState exposes the slot plan.
func (e *Engine) DescribeBlueGreenState() map[string]any {
	return e.cutover.Plan()
}

// EstimateRuntimeMinutes projects the next run's duration in whole
// minutes from the current diff.
func (e *Engine) EstimateRuntimeMinutes(ctx context.Context) (int, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return 0, err
	}
	pctx := e.analyzer.BuildContext(ctx, strings.TrimSpace(e.cfg.Deploy.DefaultBranch))
	return diff.EstimateCost(pctx.DiffStats).RuntimeMinutes, nil
}
