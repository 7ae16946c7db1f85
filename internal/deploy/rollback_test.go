package deploy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/switchyard/internal/command"
	"github.com/mrz1836/switchyard/internal/constants"
	"github.com/mrz1836/switchyard/internal/domain"
	syerrors "github.com/mrz1836/switchyard/internal/errors"
	"github.com/mrz1836/switchyard/internal/store"
)

// steppingClock yields strictly increasing times so completed_at
// ordering in the memory store is deterministic.
type steppingClock struct {
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

const (
	commitA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	commitB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// seedSuccess inserts a completed deploy with the given summary commit.
func seedSuccess(t *testing.T, memStore *store.MemoryStore, taskID, branch, commit string) {
	t.Helper()
	ctx := context.Background()

	_, err := memStore.CreateTask(ctx, domain.DeployTaskCreate{
		TaskID:   taskID,
		Metadata: domain.Metadata{"branch": branch, "action": constants.ActionDeploy},
	})
	require.NoError(t, err)
	_, err = memStore.UpdateTask(ctx, taskID, domain.DeployTaskUpdate{
		AppendMetadata: domain.Metadata{"summary": map[string]any{"commit": commit}},
	})
	require.NoError(t, err)
	_, err = memStore.MarkStatus(ctx, taskID, constants.StatusCompleted, "")
	require.NoError(t, err)
}

func TestPrepareRollbackRequiresHistory(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	memStore := store.NewMemoryStore(newSteppingClock())
	engine := NewEngine(cfg, memStore)
	ctx := context.Background()

	t.Run("no successes", func(t *testing.T) {
		_, err := engine.PrepareRollback(ctx, "deploy")
		assert.ErrorIs(t, err, syerrors.ErrRollbackHistory)
	})

	t.Run("one success is not enough", func(t *testing.T) {
		seedSuccess(t, memStore, "seed-1", "deploy", commitA)
		_, err := engine.PrepareRollback(ctx, "deploy")
		assert.ErrorIs(t, err, syerrors.ErrRollbackHistory)
		assert.Contains(t, err.Error(), "not enough successful deployments to rollback")
	})
}

func TestPrepareRollbackRejectsUnknownBranch(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, testConfig(t))
	_, err := engine.PrepareRollback(context.Background(), "feature/x")
	assert.ErrorIs(t, err, syerrors.ErrBranchNotAllowed)
}

func TestPrepareRollbackRejectsUnusableCommit(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	memStore := store.NewMemoryStore(newSteppingClock())
	engine := NewEngine(cfg, memStore)

	seedSuccess(t, memStore, "seed-1", "deploy", "not-a-sha")
	seedSuccess(t, memStore, "seed-2", "deploy", commitB)

	_, err := engine.PrepareRollback(context.Background(), "deploy")
	assert.ErrorIs(t, err, syerrors.ErrRollbackHistory)
}

func TestTwoCommitRollback(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	memStore := store.NewMemoryStore(newSteppingClock())
	engine := NewEngine(cfg, memStore)
	ctx := context.Background()

	// Oldest success shipped A, the latest shipped B.
	seedSuccess(t, memStore, "seed-oldest", "deploy", commitA)
	seedSuccess(t, memStore, "seed-latest", "deploy", commitB)

	plan, err := engine.PrepareRollback(ctx, "deploy")
	require.NoError(t, err)

	assert.Equal(t, commitB, plan.CurrentCommit)
	assert.Equal(t, commitA, plan.TargetCommit)
	assert.Equal(t, "deploy", plan.Branch)

	created := plan.Task
	assert.Equal(t, constants.StatusPending, created.Status)
	assert.Equal(t, constants.ActionRollback, created.Action())
	assert.Equal(t, commitB, created.Metadata["from_commit"])
	assert.Equal(t, commitA, created.Metadata["to_commit"])

	require.NoError(t, engine.PerformRollback(ctx, created.TaskID, plan.Branch, plan.TargetCommit, plan.CurrentCommit))

	final, err := engine.GetTask(ctx, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, final.Status)

	summary := final.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, commitB, summary["rolled_back_from"])
	assert.Equal(t, commitA, summary["rolled_back_to"])
}

func TestRollbackClonePinsTargetCommit(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	memStore := store.NewMemoryStore(newSteppingClock())
	runner := &scriptedRunner{}
	engine := NewEngine(cfg, memStore, WithRunner(runner))
	ctx := context.Background()

	seedSuccess(t, memStore, "seed-oldest", "deploy", commitA)
	seedSuccess(t, memStore, "seed-latest", "deploy", commitB)

	plan, err := engine.PrepareRollback(ctx, "deploy")
	require.NoError(t, err)
	require.NoError(t, engine.PerformRollback(ctx, plan.Task.TaskID, plan.Branch, plan.TargetCommit, plan.CurrentCommit))

	joined := strings.Join(runner.commands, "\n")
	assert.Contains(t, joined, "git checkout -B deploy "+commitA)
	assert.Contains(t, joined, "git reset --hard "+commitA)
	// Dry-run mode never force-pushes.
	assert.NotContains(t, joined, "git push")

	final, err := engine.GetTask(ctx, plan.Task.TaskID)
	require.NoError(t, err)
	cloneMeta := final.Metadata[string(constants.StatusRunningClone)].(map[string]any)
	assert.Equal(t, commitA, cloneMeta["target_commit"])
	assert.Equal(t, false, cloneMeta["force_push"])
}

func TestRollbackNeverTriggersAutoRecovery(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	memStore := store.NewMemoryStore(newSteppingClock())
	runner := &scriptedRunner{
		behavior: func(cmd command.Command) (command.Result, error) {
			if strings.HasPrefix(cmd.Line(), "npm install") {
				return command.Result{}, syerrors.NewCommandError(cmd.Line(), cmd.Dir, 1, "", "registry down")
			}
			return command.Result{DryRun: true, Command: cmd.Line()}, nil
		},
	}
	engine := NewEngine(cfg, memStore, WithRunner(runner))
	ctx := context.Background()

	seedSuccess(t, memStore, "seed-oldest", "deploy", commitA)
	seedSuccess(t, memStore, "seed-latest", "deploy", commitB)

	plan, err := engine.PrepareRollback(ctx, "deploy")
	require.NoError(t, err)
	require.Error(t, engine.PerformRollback(ctx, plan.Task.TaskID, plan.Branch, plan.TargetCommit, plan.CurrentCommit))

	final, err := engine.GetTask(ctx, plan.Task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFailed, final.Status)

	failureContext := final.FailureContext()
	require.NotNil(t, failureContext)
	assert.NotContains(t, failureContext, "auto_recovery", "rollback tasks never auto-recover")
}

func TestAutoRollbackAfterRecoverableFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	memStore := store.NewMemoryStore(newSteppingClock())

	// npm install fails only on its first invocation, so the deploy
	// fails but the nested rollback pipeline succeeds.
	var installFailures int
	runner := &scriptedRunner{}
	runner.behavior = func(cmd command.Command) (command.Result, error) {
		if strings.HasPrefix(cmd.Line(), "npm install") && installFailures == 0 {
			installFailures++
			return command.Result{}, syerrors.NewCommandError(cmd.Line(), cmd.Dir, 1, "", "registry flake")
		}
		return command.Result{DryRun: true, Command: cmd.Line()}, nil
	}
	engine := NewEngine(cfg, memStore, WithRunner(runner))
	ctx := context.Background()

	seedSuccess(t, memStore, "seed-oldest", "deploy", commitA)
	seedSuccess(t, memStore, "seed-latest", "deploy", commitB)

	task, err := engine.CreateTask(ctx, "deploy")
	require.NoError(t, err)
	require.Error(t, engine.RunPipeline(ctx, task.TaskID, "deploy", PipelineOptions{}))

	failed, err := engine.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFailed, failed.Status)

	recovery, ok := failed.FailureContext()["auto_recovery"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", recovery["status"])
	assert.Equal(t, commitA, recovery["rolled_back_to"])

	rollbackTaskID, ok := recovery["rollback_task_id"].(string)
	require.True(t, ok)

	rollbackTask, err := engine.GetTask(ctx, rollbackTaskID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, rollbackTask.Status)
	assert.Equal(t, constants.ActionRollback, rollbackTask.Action())
	assert.Equal(t, commitB, rollbackTask.Summary()["rolled_back_from"])
	assert.Equal(t, commitA, rollbackTask.Summary()["rolled_back_to"])
}
