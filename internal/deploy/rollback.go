package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/mrz1836/switchyard/internal/constants"
	"github.com/mrz1836/switchyard/internal/ctxutil"
	"github.com/mrz1836/switchyard/internal/domain"
	syerrors "github.com/mrz1836/switchyard/internal/errors"
	"github.com/mrz1836/switchyard/internal/git"
)

// RollbackPlan is the resolved commit pair for a rollback.
type RollbackPlan struct {
	Task          *domain.DeployTask
	Branch        string
	TargetCommit  string
	CurrentCommit string
}

// PrepareRollback resolves the previous successful commit pair on the
// branch and creates a pending rollback task. Requires at least two
// successful deployments with recorded commits.
//
// Note: GetRecentSuccesses orders by completed_at, so a completed
// rollback becomes the newest success and a subsequent rollback walks
// further back in history.
func (e *Engine) PrepareRollback(ctx context.Context, branch string) (*RollbackPlan, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	branch, err := e.normalizeBranch(branch)
	if err != nil {
		return nil, err
	}

	successes, err := e.store.GetRecentSuccesses(ctx, branch, 2)
	if err != nil {
		return nil, syerrors.Wrap(err, "failed to query deployment history")
	}
	if len(successes) < 2 {
		return nil, fmt.Errorf("%w: found %d on branch %q", syerrors.ErrRollbackHistory, len(successes), branch)
	}

	currentCommit := successes[0].SummaryCommit()
	targetCommit := successes[1].SummaryCommit()
	if !git.IsValidCommitSHA(targetCommit) {
		return nil, fmt.Errorf("%w: previous success has no usable commit", syerrors.ErrRollbackHistory)
	}

	task, err := e.store.CreateTask(ctx, domain.DeployTaskCreate{
		TaskID: newTaskID(),
		Status: constants.StatusPending,
		Metadata: domain.Metadata{
			"branch":       branch,
			"action":       constants.ActionRollback,
			"from_commit":  currentCommit,
			"to_commit":    targetCommit,
			"actor":        ResolveActor(),
			"requested_by": ResolveRequester(),
			"trigger":      ResolveTrigger(),
		},
	})
	if err != nil {
		return nil, syerrors.Wrap(err, "failed to create rollback task")
	}

	e.logger.Info().
		Str("task_id", task.TaskID).
		Str("branch", branch).
		Str("from_commit", currentCommit).
		Str("to_commit", targetCommit).
		Msg("rollback prepared")

	return &RollbackPlan{
		Task:          task,
		Branch:        branch,
		TargetCommit:  targetCommit,
		CurrentCommit: currentCommit,
	}, nil
}

// PerformRollback drives the pipeline with the target commit pinned and
// force-push enabled (outside dry-run), then annotates the summary with
// the reversal pair.
func (e *Engine) PerformRollback(ctx context.Context, taskID, branch, targetCommit, currentCommit string) error {
	return e.performRollback(ctx, taskID, branch, targetCommit, currentCommit, "operator")
}

func (e *Engine) performRollback(ctx context.Context, taskID, branch, targetCommit, currentCommit, trigger string) error {
	opts := PipelineOptions{
		TargetCommit: targetCommit,
		ForcePush:    !e.cfg.Deploy.DryRun,
	}

	if err := e.RunPipeline(ctx, taskID, branch, opts); err != nil {
		e.recorder.RollbackAttempted(trigger, "failed")
		return err
	}

	_, err := e.store.UpdateTask(ctx, taskID, domain.DeployTaskUpdate{
		AppendMetadata: domain.Metadata{
			"summary": map[string]any{
				"rolled_back_from": currentCommit,
				"rolled_back_to":   targetCommit,
			},
		},
	})
	if err != nil {
		e.recorder.RollbackAttempted(trigger, "failed")
		return syerrors.Wrap(err, "failed to annotate rollback summary")
	}

	e.recorder.RollbackAttempted(trigger, "completed")
	return nil
}

// attemptAutoRollback reacts to a recoverable deploy failure by
// planning and running a rollback inside the already-held pipeline
// lock. It returns the structured result stored under
// failure_context.auto_recovery and never raises: a failed recovery is
// reported, not thrown.
func (e *Engine) attemptAutoRollback(ctx context.Context, branch string) map[string]any {
	e.logger.Warn().
		Str("branch", branch).
		Msg("attempting auto-rollback after recoverable failure")

	plan, err := e.PrepareRollback(ctx, branch)
	if err != nil {
		e.recorder.RollbackAttempted("auto", "skipped")
		return map[string]any{
			"status": "skipped",
			"reason": err.Error(),
		}
	}

	if err := e.performRollback(ctx, plan.Task.TaskID, plan.Branch, plan.TargetCommit, plan.CurrentCommit, "auto"); err != nil {
		return map[string]any{
			"status":           "failed",
			"rollback_task_id": plan.Task.TaskID,
			"reason":           err.Error(),
			"timestamp":        e.clock.Now().UTC().Format(time.RFC3339),
		}
	}

	return map[string]any{
		"status":           "completed",
		"rollback_task_id": plan.Task.TaskID,
		"rolled_back_to":   plan.TargetCommit,
		"timestamp":        e.clock.Now().UTC().Format(time.RFC3339),
	}
}
