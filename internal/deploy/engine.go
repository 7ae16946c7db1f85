package deploy

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mrz1836/switchyard/internal/clock"
	"github.com/mrz1836/switchyard/internal/command"
	"github.com/mrz1836/switchyard/internal/config"
	"github.com/mrz1836/switchyard/internal/constants"
	"github.com/mrz1836/switchyard/internal/ctxutil"
	"github.com/mrz1836/switchyard/internal/diff"
	"github.com/mrz1836/switchyard/internal/domain"
	syerrors "github.com/mrz1836/switchyard/internal/errors"
	"github.com/mrz1836/switchyard/internal/git"
	"github.com/mrz1836/switchyard/internal/llm"
	"github.com/mrz1836/switchyard/internal/metrics"
	"github.com/mrz1836/switchyard/internal/store"
)

// Engine drives the blue/green deploy pipeline: task lifecycle, the
// four-stage state machine, cutover, rollback, and previews. One engine
// instance per process owns the pipeline lock.
//
// Concurrency: RunPipeline serializes on the lock; reads (GetTask,
// previews, listings) run outside it and may observe in-progress
// states.
type Engine struct {
	cfg      *config.Config
	store    store.Store
	runner   command.Runner
	analyzer *diff.Analyzer
	preview  *llm.PreviewClient
	cutover  *BlueGreen
	lock     *PipelineLock
	recorder metrics.Recorder
	clock    clock.Clock
	logger   zerolog.Logger

	displayLocation *time.Location
}

// PipelineOptions tune one pipeline run.
type PipelineOptions struct {
	// TargetCommit pins the clone stage to a specific commit instead of
	// origin/<branch>. Used by rollbacks.
	TargetCommit string

	// ForcePush rewrites the remote branch to TargetCommit after the
	// checkout. Only meaningful with TargetCommit set.
	ForcePush bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunner overrides the command executor.
func WithRunner(runner command.Runner) Option {
	return func(e *Engine) { e.runner = runner }
}

// WithAnalyzer overrides the diff analyzer.
func WithAnalyzer(analyzer *diff.Analyzer) Option {
	return func(e *Engine) { e.analyzer = analyzer }
}

// WithPreviewClient overrides the LLM preview client.
func WithPreviewClient(client *llm.PreviewClient) Option {
	return func(e *Engine) { e.preview = client }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = recorder }
}

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates the deploy engine with its collaborators. Unset
// collaborators get production defaults derived from cfg.
func NewEngine(cfg *config.Config, taskStore store.Store, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		store:    taskStore,
		lock:     NewPipelineLock(),
		recorder: metrics.NoopRecorder{},
		clock:    clock.RealClock{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.runner == nil {
		e.runner = command.NewExecutor(cfg.Deploy.DryRun,
			command.WithTimeout(cfg.Deploy.CommandTimeout),
			command.WithLogger(e.logger),
		)
	}
	if e.analyzer == nil {
		e.analyzer = buildAnalyzer(cfg, taskStore, e.clock, e.logger)
	}
	if e.preview == nil {
		e.preview = llm.NewPreviewClient(nil, cfg.Preview.DiffMaxChars)
	}
	e.cutover = NewBlueGreen(
		cfg.BlueGreen.GreenPath,
		cfg.BlueGreen.BluePath,
		cfg.BlueGreen.LiveSymlink,
		cfg.Deploy.DryRun,
		e.logger,
	)

	location, err := time.LoadLocation(cfg.Deploy.DisplayTimezone)
	if err != nil || location == nil {
		location = time.UTC
	}
	e.displayLocation = location

	e.logger.Info().
		Bool("dry_run", cfg.Deploy.DryRun).
		Str("default_branch", cfg.Deploy.DefaultBranch).
		Str("allowed_branches", cfg.Deploy.AllowedBranches).
		Msg("deploy engine initialized")

	return e
}

// buildAnalyzer wires the diff analyzer from preview configuration.
func buildAnalyzer(cfg *config.Config, taskStore store.Store, clk clock.Clock, logger zerolog.Logger) *diff.Analyzer {
	opts := []diff.AnalyzerOption{diff.WithAnalyzerLogger(logger)}
	if cfg.Preview.UseGithubCompare && cfg.Preview.GithubCompareRepo != "" {
		compareClient := diff.NewCompareClient(cfg.Preview.GithubCompareRepo,
			diff.WithCompareToken(cfg.Preview.GithubCompareToken),
			diff.WithCompareCache(diff.NewMemoryCache(clk), cfg.Preview.GithubCompareCacheTTL),
			diff.WithCompareLogger(logger),
		)
		opts = append(opts, diff.WithCompareClient(compareClient, cfg.Preview.GithubCompareHeadRef))
	}
	return diff.NewAnalyzer(cfg.Deploy.RepoPath, taskStore, opts...)
}

// DevServerMode reports whether the pipeline restarts a dev server
// instead of serving static assets.
func (e *Engine) DevServerMode() bool {
	return e.cfg.DevServerMode()
}

// DisplayTimezone names the zone used for operator-facing timestamps.
func (e *Engine) DisplayTimezone() string {
	return e.displayLocation.String()
}

// DisplayTime converts a timestamp into the configured display zone.
func (e *Engine) DisplayTime(t time.Time) time.Time {
	return t.In(e.displayLocation)
}

// normalizeBranch trims the branch, applies the default, and enforces
// the allow-list.
func (e *Engine) normalizeBranch(branch string) (string, error) {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		branch = strings.TrimSpace(e.cfg.Deploy.DefaultBranch)
	}
	allowed := e.cfg.Deploy.AllowedBranchSet()
	if _, ok := allowed[branch]; !ok {
		return "", fmt.Errorf("%w: %q", syerrors.ErrBranchNotAllowed, branch)
	}
	return branch, nil
}

// newTaskID generates the 32-character hex task identifier.
func newTaskID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// CreateTask validates the branch and persists a pending deploy task
// with operator identity metadata.
func (e *Engine) CreateTask(ctx context.Context, branch string) (*domain.DeployTask, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	branch, err := e.normalizeBranch(branch)
	if err != nil {
		return nil, err
	}

	task, err := e.store.CreateTask(ctx, domain.DeployTaskCreate{
		TaskID: newTaskID(),
		Status: constants.StatusPending,
		Metadata: domain.Metadata{
			"branch":       branch,
			"action":       constants.ActionDeploy,
			"actor":        ResolveActor(),
			"requested_by": ResolveRequester(),
			"trigger":      ResolveTrigger(),
		},
	})
	if err != nil {
		return nil, syerrors.Wrap(err, "failed to create deploy task")
	}

	e.logger.Info().
		Str("task_id", task.TaskID).
		Str("branch", branch).
		Msg("deploy task created")

	return task, nil
}

// GetTask retrieves a task by id.
func (e *Engine) GetTask(ctx context.Context, taskID string) (*domain.DeployTask, error) {
	return e.store.GetTask(ctx, taskID)
}

// GetTaskLogs returns the log-oriented view of a task: stage records,
// full metadata, error log, and failure context.
func (e *Engine) GetTaskLogs(ctx context.Context, taskID string) (map[string]any, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"task_id":         task.TaskID,
		"status":          string(task.Status),
		"stages":          domain.StageSnapshot(task.Metadata),
		"metadata":        task.Metadata,
		"error_log":       task.ErrorLog,
		"failure_context": task.FailureContext(),
	}, nil
}

// ListRecentTasks returns bounded task summaries, newest first.
func (e *Engine) ListRecentTasks(ctx context.Context, limit int) ([]domain.TaskSummary, error) {
	if limit < 1 || limit > constants.RecentTasksMaxLimit {
		return nil, fmt.Errorf("%w: %d", syerrors.ErrInvalidLimit, limit)
	}
	tasks, err := e.store.GetRecentTasks(ctx, limit)
	if err != nil {
		return nil, syerrors.Wrap(err, "failed to list recent tasks")
	}
	summaries := make([]domain.TaskSummary, len(tasks))
	for i, task := range tasks {
		summaries[i] = domain.Summarize(task)
	}
	return summaries, nil
}

// RecordReport persists an auxiliary metrics report for a task.
func (e *Engine) RecordReport(ctx context.Context, taskID string, reportMetrics domain.Metadata) (*domain.DeployReport, error) {
	if _, err := e.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	report := &domain.DeployReport{
		ReportID:  newTaskID(),
		TaskID:    taskID,
		Metrics:   reportMetrics,
		CreatedAt: e.clock.Now().UTC(),
	}
	if err := e.store.InsertReport(ctx, report); err != nil {
		return nil, syerrors.Wrap(err, "failed to record report")
	}
	return report, nil
}

// Healthy reports store reachability and the latest task, for the host
// health probe.
func (e *Engine) Healthy(ctx context.Context) (latest *domain.DeployTask, err error) {
	if err := e.store.Ping(ctx); err != nil {
		return nil, err
	}
	latest, err = e.store.GetLatestTask(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return latest, nil
}

// RunPipeline executes the four-stage pipeline for a pending task.
// The entire run, including any nested auto-rollback, holds the
// process-wide pipeline lock.
func (e *Engine) RunPipeline(ctx context.Context, taskID, branch string, opts PipelineOptions) error {
	if err := e.lock.Acquire(ctx); err != nil {
		return err
	}
	defer e.lock.Release()

	started := e.clock.Now()

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	branch, err = e.normalizeBranch(branch)
	if err != nil {
		return err
	}
	action := task.Action()

	e.recorder.PipelineStarted(action)
	e.logger.Info().
		Str("task_id", taskID).
		Str("branch", branch).
		Str("action", action).
		Str("target_commit", opts.TargetCommit).
		Msg("starting pipeline")

	e.capturePreflight(ctx, taskID, branch)

	runErr := e.executeStages(ctx, taskID, branch, opts)
	elapsed := e.clock.Now().Sub(started)

	if runErr == nil {
		if err := e.finalizeSuccess(ctx, taskID); err != nil {
			runErr = err
		}
	}

	if runErr != nil {
		e.recorder.PipelineFinished(action, "failure", elapsed)
		e.failTask(ctx, taskID, branch, action, runErr)
		e.logger.Error().Err(runErr).
			Str("task_id", taskID).
			Msg("pipeline failed")
		return runErr
	}

	e.recorder.PipelineFinished(action, "success", elapsed)
	e.logger.Info().
		Str("task_id", taskID).
		Dur("elapsed", elapsed).
		Msg("pipeline succeeded")
	return nil
}

// capturePreflight computes and persists the pre-flight snapshot under
// summary.preflight. Failures are logged but never abort the pipeline.
func (e *Engine) capturePreflight(ctx context.Context, taskID, branch string) {
	_, risk, cost, preview := e.buildAssessment(ctx, branch)

	snapshot := domain.Metadata{
		"summary": map[string]any{
			"preflight": map[string]any{
				"cost_estimate":   cost,
				"risk_assessment": risk,
				"llm_preview":     preview.Metadata(),
				"generated_at":    e.clock.Now().UTC().Format(time.RFC3339),
			},
		},
	}
	if _, err := e.store.UpdateTask(ctx, taskID, domain.DeployTaskUpdate{AppendMetadata: snapshot}); err != nil {
		e.logger.Warn().Err(err).
			Str("task_id", taskID).
			Msg("failed to persist preflight snapshot")
	}
}

// buildAssessment assembles the preview context plus the derived
// risk/cost/LLM payloads. The LLM call runs on its own goroutine so the
// cheap derivations never wait on it.
func (e *Engine) buildAssessment(ctx context.Context, branch string) (*diff.PreviewContext, map[string]any, map[string]any, *llm.Preview) {
	pctx := e.analyzer.BuildContext(ctx, branch)

	var (
		risk    map[string]any
		cost    map[string]any
		preview *llm.Preview
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		preview = e.preview.Summarize(gctx, pctx)
		return nil
	})
	g.Go(func() error {
		risk = diff.RiskAssessment(pctx.DiffStats)
		cost = diff.EstimateCost(pctx.DiffStats).Metadata()
		return nil
	})
	_ = g.Wait()

	return pctx, risk, cost, preview
}

// ensureValidTransition guards and persists a status change, stamping
// the stage timestamp.
func (e *Engine) ensureValidTransition(ctx context.Context, taskID string, next constants.DeployStatus) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !constants.IsValidTransition(task.Status, next) {
		return fmt.Errorf("%w: %s -> %s", syerrors.ErrInvalidTransition, task.Status, next)
	}

	update := domain.DeployTaskUpdate{
		Status: next,
		AppendMetadata: domain.Metadata{
			string(next): map[string]any{
				"timestamp": e.clock.Now().UTC().Format(time.RFC3339),
			},
		},
	}
	_, err = e.store.UpdateTask(ctx, taskID, update)
	return syerrors.Wrapf(err, "failed to record transition to %s", next)
}

// appendStageMetadata deep-merges a stage's result into the task.
func (e *Engine) appendStageMetadata(ctx context.Context, taskID string, stage constants.DeployStatus, metadata map[string]any) error {
	_, err := e.store.UpdateTask(ctx, taskID, domain.DeployTaskUpdate{
		AppendMetadata: domain.Metadata{string(stage): metadata},
	})
	return syerrors.Wrapf(err, "failed to append %s metadata", stage)
}

// executeStages walks the four pipeline stages in order. Each stage's
// metadata is durably written before the next transition is validated.
func (e *Engine) executeStages(ctx context.Context, taskID, branch string, opts PipelineOptions) error {
	stages := []struct {
		status constants.DeployStatus
		body   func(context.Context) (map[string]any, error)
	}{
		{constants.StatusRunningClone, func(ctx context.Context) (map[string]any, error) {
			return e.runCloneStage(ctx, branch, opts)
		}},
		{constants.StatusRunningBuild, e.runBuildStage},
		{constants.StatusRunningCutover, e.runCutoverStage},
		{constants.StatusRunningObservability, e.runObservabilityStage},
	}

	for _, stage := range stages {
		if err := e.ensureValidTransition(ctx, taskID, stage.status); err != nil {
			return err
		}

		stageStart := e.clock.Now()
		metadata, err := stage.body(ctx)
		if err != nil {
			return err
		}
		e.recorder.StageCompleted(string(stage.status), e.clock.Now().Sub(stageStart))

		if err := e.appendStageMetadata(ctx, taskID, stage.status, metadata); err != nil {
			return err
		}
	}
	return nil
}

// finalizeSuccess marks the task completed and appends the summary with
// the shipped commit and operator identity.
func (e *Engine) finalizeSuccess(ctx context.Context, taskID string) error {
	if _, err := e.store.MarkStatus(ctx, taskID, constants.StatusCompleted, ""); err != nil {
		return syerrors.Wrap(err, "failed to mark task completed")
	}

	summary := map[string]any{
		"completed_at": e.clock.Now().UTC().Format(time.RFC3339),
		"result":       "success",
		"actor":        ResolveActor(),
	}

	if e.cfg.Deploy.DryRun {
		summary["commit"] = "dry-run"
	} else {
		sha, err := git.HeadCommit(ctx, e.cfg.Deploy.RepoPath)
		if err != nil {
			e.logger.Warn().Err(err).Msg("failed to resolve shipped commit")
			summary["commit"] = ""
		} else {
			summary["commit"] = sha
			if author, email, err := git.CommitAuthor(ctx, e.cfg.Deploy.RepoPath, sha); err == nil {
				summary["git_commit"] = map[string]any{
					"sha":          sha,
					"author":       author,
					"author_email": email,
				}
			}
		}
	}

	_, err := e.store.UpdateTask(ctx, taskID, domain.DeployTaskUpdate{
		AppendMetadata: domain.Metadata{"summary": summary},
	})
	return syerrors.Wrap(err, "failed to append success summary")
}

// failTask records the terminal failure and drives auto-recovery
// classification.
func (e *Engine) failTask(ctx context.Context, taskID, branch, action string, cause error) {
	if _, err := e.store.MarkStatus(ctx, taskID, constants.StatusFailed, cause.Error()); err != nil {
		e.logger.Error().Err(err).
			Str("task_id", taskID).
			Msg("failed to mark task failed")
	}

	failureContext := map[string]any{
		"timestamp": e.clock.Now().UTC().Format(time.RFC3339),
		"error":     cause.Error(),
	}

	cmdErr := syerrors.AsCommandError(cause)
	if cmdErr != nil {
		failureContext["command"] = cmdErr.Command
		failureContext["cwd"] = cmdErr.Cwd
		failureContext["returncode"] = cmdErr.ReturnCode
		failureContext["stdout"] = tailBytes(cmdErr.Stdout, constants.FailureOutputTailBytes)
		failureContext["stderr"] = tailBytes(cmdErr.Stderr, constants.FailureOutputTailBytes)
	}

	if action != constants.ActionRollback {
		switch {
		case cmdErr == nil:
			failureContext["auto_recovery"] = map[string]any{
				"status": "skipped",
				"reason": "non-command failure",
			}
		case !isAutoRecoverable(cmdErr.Command):
			failureContext["auto_recovery"] = map[string]any{
				"status": "skipped",
				"reason": "command not auto-recoverable",
			}
		default:
			failureContext["auto_recovery"] = e.attemptAutoRollback(ctx, branch)
		}
	}

	if _, err := e.store.UpdateTask(ctx, taskID, domain.DeployTaskUpdate{
		AppendMetadata: domain.Metadata{"failure_context": failureContext},
	}); err != nil {
		e.logger.Error().Err(err).
			Str("task_id", taskID).
			Msg("failed to append failure context")
	}
}

// tailBytes returns the last n bytes of s.
func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func isNotFound(err error) bool {
	return errors.Is(err, syerrors.ErrTaskNotFound)
}
