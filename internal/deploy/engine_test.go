package deploy

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/switchyard/internal/command"
	"github.com/mrz1836/switchyard/internal/config"
	"github.com/mrz1836/switchyard/internal/constants"
	"github.com/mrz1836/switchyard/internal/domain"
	syerrors "github.com/mrz1836/switchyard/internal/errors"
	"github.com/mrz1836/switchyard/internal/store"
)

var taskIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// testConfig returns a dry-run configuration rooted in a tempdir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromPaths(context.Background(), "", "")
	require.NoError(t, err)
	cfg.Deploy.DryRun = true
	cfg.Deploy.RepoPath = t.TempDir()
	return cfg
}

// newTestEngine builds an engine over an in-memory store.
func newTestEngine(t *testing.T, cfg *config.Config, opts ...Option) (*Engine, *store.MemoryStore) {
	t.Helper()
	memStore := store.NewMemoryStore(nil)
	return NewEngine(cfg, memStore, opts...), memStore
}

// scriptedRunner delegates to a behavior function, defaulting to
// dry-run-style descriptors.
type scriptedRunner struct {
	mu       sync.Mutex
	behavior func(cmd command.Command) (command.Result, error)
	commands []string
}

func (r *scriptedRunner) Run(_ context.Context, cmd command.Command) (command.Result, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd.Line())
	r.mu.Unlock()

	if r.behavior != nil {
		return r.behavior(cmd)
	}
	return command.Result{
		Description: cmd.Description,
		Command:     cmd.Line(),
		Cwd:         cmd.Dir,
		DryRun:      true,
	}, nil
}

func TestCreateTask(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	t.Run("defaults to the configured branch", func(t *testing.T) {
		task, err := engine.CreateTask(ctx, "")
		require.NoError(t, err)

		assert.Regexp(t, taskIDPattern, task.TaskID)
		assert.Equal(t, constants.StatusPending, task.Status)
		assert.Equal(t, "deploy", task.Branch())
		assert.Equal(t, constants.ActionDeploy, task.Action())
		assert.NotEmpty(t, task.Actor())
		assert.NotEmpty(t, task.Metadata["trigger"])
	})

	t.Run("rejects unknown branches without persisting", func(t *testing.T) {
		before, err := engine.ListRecentTasks(ctx, 20)
		require.NoError(t, err)

		_, err = engine.CreateTask(ctx, "feature/experimental")
		assert.ErrorIs(t, err, syerrors.ErrBranchNotAllowed)

		after, err := engine.ListRecentTasks(ctx, 20)
		require.NoError(t, err)
		assert.Len(t, after, len(before), "rejected branch must not create a task")
	})
}

func TestRunPipelineDryRunHappyPath(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	task, err := engine.CreateTask(ctx, "deploy")
	require.NoError(t, err)

	require.NoError(t, engine.RunPipeline(ctx, task.TaskID, "deploy", PipelineOptions{}))

	final, err := engine.GetTask(ctx, task.TaskID)
	require.NoError(t, err)

	assert.Equal(t, constants.StatusCompleted, final.Status)
	require.NotNil(t, final.CompletedAt)

	// Every stage recorded once, each with its timestamp.
	for _, stage := range constants.StageStatuses {
		stageMeta, ok := final.Metadata[string(stage)].(map[string]any)
		require.True(t, ok, "missing stage metadata for %s", stage)
		assert.Contains(t, stageMeta, "timestamp")
	}

	// Clone steps all ran in dry-run mode.
	cloneMeta := final.Metadata[string(constants.StatusRunningClone)].(map[string]any)
	assert.Equal(t, "deploy", cloneMeta["branch"])
	steps, ok := cloneMeta["steps"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, steps)
	for _, step := range steps {
		assert.Equal(t, true, step.(map[string]any)["dry_run"])
	}

	// Cutover skipped in dev-server mode.
	cutoverMeta := final.Metadata[string(constants.StatusRunningCutover)].(map[string]any)
	assert.Equal(t, true, cutoverMeta["skipped"])

	// Summary carries result, the dry-run commit marker, and the
	// preflight snapshot.
	summary := final.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, "success", summary["result"])
	assert.Equal(t, "dry-run", summary["commit"])

	preflight, ok := summary["preflight"].(map[string]any)
	require.True(t, ok, "preflight snapshot missing")
	assert.Contains(t, preflight, "cost_estimate")
	assert.Contains(t, preflight, "risk_assessment")
	assert.Contains(t, preflight, "llm_preview")
	assert.Contains(t, preflight, "generated_at")
}

func TestRunPipelineUnknownTask(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, testConfig(t))
	err := engine.RunPipeline(context.Background(), "missing", "deploy", PipelineOptions{})
	assert.ErrorIs(t, err, syerrors.ErrTaskNotFound)
	assert.False(t, engine.lock.Held(), "lock released on the error path")
}

func TestRunPipelineCommandFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	runner := &scriptedRunner{
		behavior: func(cmd command.Command) (command.Result, error) {
			if strings.HasPrefix(cmd.Line(), "npm install") {
				return command.Result{}, syerrors.NewCommandError(cmd.Line(), cmd.Dir, 1, "long stdout", "registry unreachable")
			}
			return command.Result{Description: cmd.Description, Command: cmd.Line(), Cwd: cmd.Dir, DryRun: true}, nil
		},
	}
	engine, _ := newTestEngine(t, cfg, WithRunner(runner))
	ctx := context.Background()

	task, err := engine.CreateTask(ctx, "deploy")
	require.NoError(t, err)

	err = engine.RunPipeline(ctx, task.TaskID, "deploy", PipelineOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, syerrors.ErrCommandFailed)

	final, err := engine.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusFailed, final.Status)
	require.NotNil(t, final.CompletedAt)
	assert.Contains(t, final.ErrorLog, "npm install")

	failureContext := final.FailureContext()
	require.NotNil(t, failureContext)
	assert.Contains(t, failureContext["command"], "npm install")
	assert.Equal(t, 1, failureContext["returncode"])
	assert.Equal(t, "registry unreachable", failureContext["stderr"])

	// npm install is auto-recoverable, but with no deploy history the
	// rollback is skipped with a reason.
	recovery, ok := failureContext["auto_recovery"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "skipped", recovery["status"])
	assert.Contains(t, recovery["reason"], "not enough successful deployments")
}

func TestRunPipelineNonCommandFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	runner := &scriptedRunner{
		behavior: func(cmd command.Command) (command.Result, error) {
			if strings.HasPrefix(cmd.Line(), "git fetch") {
				return command.Result{}, errors.New("working tree corrupted")
			}
			return command.Result{DryRun: true, Command: cmd.Line()}, nil
		},
	}
	engine, _ := newTestEngine(t, cfg, WithRunner(runner))
	ctx := context.Background()

	task, err := engine.CreateTask(ctx, "deploy")
	require.NoError(t, err)

	require.Error(t, engine.RunPipeline(ctx, task.TaskID, "deploy", PipelineOptions{}))

	final, err := engine.GetTask(ctx, task.TaskID)
	require.NoError(t, err)

	recovery, ok := final.FailureContext()["auto_recovery"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "skipped", recovery["status"])
	assert.Equal(t, "non-command failure", recovery["reason"])
}

func TestRunPipelineNonRecoverableCommandFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	runner := &scriptedRunner{
		behavior: func(cmd command.Command) (command.Result, error) {
			if strings.HasPrefix(cmd.Line(), "git clean") {
				return command.Result{}, syerrors.NewCommandError(cmd.Line(), cmd.Dir, 128, "", "permission denied")
			}
			return command.Result{DryRun: true, Command: cmd.Line()}, nil
		},
	}
	engine, _ := newTestEngine(t, cfg, WithRunner(runner))
	ctx := context.Background()

	task, err := engine.CreateTask(ctx, "deploy")
	require.NoError(t, err)
	require.Error(t, engine.RunPipeline(ctx, task.TaskID, "deploy", PipelineOptions{}))

	final, err := engine.GetTask(ctx, task.TaskID)
	require.NoError(t, err)

	recovery, ok := final.FailureContext()["auto_recovery"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "skipped", recovery["status"])
	assert.Equal(t, "command not auto-recoverable", recovery["reason"])
}

func TestRunPipelineFailureOutputTruncated(t *testing.T) {
	t.Parallel()

	longOutput := strings.Repeat("x", 2000) + "TAIL"
	cfg := testConfig(t)
	runner := &scriptedRunner{
		behavior: func(cmd command.Command) (command.Result, error) {
			return command.Result{}, syerrors.NewCommandError(cmd.Line(), cmd.Dir, 1, longOutput, longOutput)
		},
	}
	engine, _ := newTestEngine(t, cfg, WithRunner(runner))
	ctx := context.Background()

	task, err := engine.CreateTask(ctx, "deploy")
	require.NoError(t, err)
	require.Error(t, engine.RunPipeline(ctx, task.TaskID, "deploy", PipelineOptions{}))

	final, err := engine.GetTask(ctx, task.TaskID)
	require.NoError(t, err)

	failureContext := final.FailureContext()
	stdout := failureContext["stdout"].(string)
	assert.Len(t, stdout, constants.FailureOutputTailBytes)
	assert.True(t, strings.HasSuffix(stdout, "TAIL"), "tail of the output is kept")
}

// markerStore wraps a Store and records in-lock start/end markers per
// pipeline, for serialization assertions.
type markerStore struct {
	store.Store
	mu     sync.Mutex
	events []string
}

func (s *markerStore) UpdateTask(ctx context.Context, taskID string, update domain.DeployTaskUpdate) (*domain.DeployTask, error) {
	if update.Status == constants.StatusRunningClone {
		s.mu.Lock()
		s.events = append(s.events, taskID+":start")
		s.mu.Unlock()
	}
	return s.Store.UpdateTask(ctx, taskID, update)
}

func (s *markerStore) MarkStatus(ctx context.Context, taskID string, status constants.DeployStatus, errorLog string) (*domain.DeployTask, error) {
	if status.IsTerminal() {
		s.mu.Lock()
		s.events = append(s.events, taskID+":end")
		s.mu.Unlock()
	}
	return s.Store.MarkStatus(ctx, taskID, status, errorLog)
}

func TestRunPipelineSerialized(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	wrapped := &markerStore{Store: store.NewMemoryStore(nil)}
	engine := NewEngine(cfg, wrapped)
	ctx := context.Background()

	task1, err := engine.CreateTask(ctx, "deploy")
	require.NoError(t, err)
	task2, err := engine.CreateTask(ctx, "deploy")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, task := range []*domain.DeployTask{task1, task2} {
		wg.Add(1)
		go func(taskID string) {
			defer wg.Done()
			assert.NoError(t, engine.RunPipeline(ctx, taskID, "deploy", PipelineOptions{}))
		}(task.TaskID)
	}
	wg.Wait()

	// Both pipelines completed.
	for _, task := range []*domain.DeployTask{task1, task2} {
		final, err := engine.GetTask(ctx, task.TaskID)
		require.NoError(t, err)
		assert.Equal(t, constants.StatusCompleted, final.Status)
	}

	// In-lock intervals are disjoint: events come in start/end pairs
	// for the same task.
	require.Len(t, wrapped.events, 4)
	first := strings.Split(wrapped.events[0], ":")[0]
	assert.Equal(t, first+":start", wrapped.events[0])
	assert.Equal(t, first+":end", wrapped.events[1])
	second := strings.Split(wrapped.events[2], ":")[0]
	assert.NotEqual(t, first, second)
	assert.Equal(t, second+":start", wrapped.events[2])
	assert.Equal(t, second+":end", wrapped.events[3])
}

func TestGetTaskLogs(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	task, err := engine.CreateTask(ctx, "deploy")
	require.NoError(t, err)
	require.NoError(t, engine.RunPipeline(ctx, task.TaskID, "deploy", PipelineOptions{}))

	payload, err := engine.GetTaskLogs(ctx, task.TaskID)
	require.NoError(t, err)

	assert.Equal(t, task.TaskID, payload["task_id"])
	assert.Equal(t, string(constants.StatusCompleted), payload["status"])
	stages := payload["stages"].(map[string]any)
	assert.Len(t, stages, 4)

	_, err = engine.GetTaskLogs(ctx, "missing")
	assert.ErrorIs(t, err, syerrors.ErrTaskNotFound)
}

func TestListRecentTasksLimit(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	_, err := engine.ListRecentTasks(ctx, 0)
	assert.ErrorIs(t, err, syerrors.ErrInvalidLimit)
	_, err = engine.ListRecentTasks(ctx, 21)
	assert.ErrorIs(t, err, syerrors.ErrInvalidLimit)
}

func TestIsAutoRecoverable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		command string
		want    bool
	}{
		{"npm install", true},
		{"npm ci", true},
		{"pnpm install --frozen-lockfile", true},
		{"yarn install", true},
		{"npm run build", false},
		{"pm2 start app", true},
		{"systemctl start nginx", true},
		{"pm2 stop app", false},
		{"bash -lc pm2 delete frontend 2>/dev/null || true; pm2 start npm --name dev", true},
		{"sh -c pm2 start npm", true},
		{"bash -lc rm -rf /tmp/cache", false},
		{"git fetch origin", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isAutoRecoverable(tt.command))
		})
	}
}

func TestRecordReport(t *testing.T) {
	t.Parallel()

	engine, memStore := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	task, err := engine.CreateTask(ctx, "deploy")
	require.NoError(t, err)

	report, err := engine.RecordReport(ctx, task.TaskID, domain.Metadata{"lighthouse": 0.95})
	require.NoError(t, err)
	assert.Regexp(t, taskIDPattern, report.ReportID)

	stored, err := memStore.GetReport(ctx, report.ReportID)
	require.NoError(t, err)
	assert.Equal(t, task.TaskID, stored.TaskID)

	_, err = engine.RecordReport(ctx, "missing", nil)
	assert.ErrorIs(t, err, syerrors.ErrTaskNotFound)
}

func TestHealthy(t *testing.T) {
	t.Parallel()

	engine, _ := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	latest, err := engine.Healthy(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest, "empty store is healthy with no latest task")

	task, err := engine.CreateTask(ctx, "deploy")
	require.NoError(t, err)

	latest, err = engine.Healthy(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, task.TaskID, latest.TaskID)
}
