package deploy

import (
	"context"
	"strings"

	"github.com/mrz1836/switchyard/internal/command"
	syerrors "github.com/mrz1836/switchyard/internal/errors"
)

// runCloneStage aligns the checked-out tree with the requested branch
// or commit: fetch, checkout, hard reset, clean. When a target commit
// is pinned and force-push is requested, the remote branch is rewritten
// to the target (or the intent recorded in dry-run).
func (e *Engine) runCloneStage(ctx context.Context, branch string, opts PipelineOptions) (map[string]any, error) {
	repo := e.cfg.Deploy.RepoPath

	type step struct {
		argv        []string
		description string
	}

	steps := []step{
		{[]string{"git", "fetch", "origin"}, "Fetch latest refs from origin"},
	}
	if opts.TargetCommit != "" {
		steps = append(steps,
			step{[]string{"git", "checkout", "-B", branch, opts.TargetCommit}, "Checkout branch at the pinned commit"},
			step{[]string{"git", "reset", "--hard", opts.TargetCommit}, "Hard reset working tree to the pinned commit"},
		)
	} else {
		steps = append(steps,
			step{[]string{"git", "checkout", "-B", branch, "origin/" + branch}, "Checkout deploy branch aligned with origin"},
			step{[]string{"git", "reset", "--hard", "origin/" + branch}, "Hard reset working tree to origin/" + branch},
		)
	}
	steps = append(steps, step{[]string{"git", "clean", "-fdx"}, "Remove untracked files (full replace)"})

	if opts.ForcePush && opts.TargetCommit != "" {
		steps = append(steps, step{
			[]string{"git", "push", "origin", "+" + opts.TargetCommit + ":" + branch},
			"Force remote branch to the pinned commit",
		})
	}

	results := make([]any, 0, len(steps))
	for _, s := range steps {
		result, err := e.runner.Run(ctx, command.Command{
			Argv:        s.argv,
			Dir:         repo,
			Description: s.description,
		})
		if err != nil {
			return nil, err
		}
		results = append(results, result.Metadata())
	}

	metadata := map[string]any{
		"branch": branch,
		"steps":  results,
	}
	if opts.TargetCommit != "" {
		metadata["target_commit"] = opts.TargetCommit
		metadata["force_push"] = opts.ForcePush
	}
	return metadata, nil
}

// runBuildStage installs dependencies, builds, and optionally exports
// the frontend project.
func (e *Engine) runBuildStage(ctx context.Context) (map[string]any, error) {
	projectDir := e.cfg.FrontendProjectPath()

	type step struct {
		line        string
		description string
	}

	steps := make([]step, 0, 3)
	if install := strings.TrimSpace(e.cfg.Frontend.InstallCommand); install != "" {
		steps = append(steps, step{install, "Install frontend dependencies"})
	}
	steps = append(steps, step{e.cfg.Frontend.BuildCommand, "Build frontend artifacts"})
	if export := strings.TrimSpace(e.cfg.Frontend.ExportCommand); export != "" {
		steps = append(steps, step{export, "Export static artifacts"})
	}

	results := make([]any, 0, len(steps))
	for _, s := range steps {
		argv, err := command.SplitLine(s.line)
		if err != nil {
			return nil, err
		}
		result, err := e.runner.Run(ctx, command.Command{
			Argv:        argv,
			Dir:         projectDir,
			Description: s.description,
		})
		if err != nil {
			return nil, err
		}
		results = append(results, result.Metadata())
	}

	return map[string]any{
		"project_dir": projectDir,
		"steps":       results,
		"dry_run":     e.cfg.Deploy.DryRun,
	}, nil
}

// runCutoverStage performs the blue/green swap, or records a skip in
// dev-server mode.
func (e *Engine) runCutoverStage(_ context.Context) (map[string]any, error) {
	if e.DevServerMode() {
		return map[string]any{
			"skipped": true,
			"reason":  "dev-server mode: no build output path configured",
			"dry_run": e.cfg.Deploy.DryRun,
		}, nil
	}
	if !e.cutover.Configured() {
		return nil, syerrors.Wrap(syerrors.ErrConfigInvalid, "blue/green slot paths are not configured")
	}
	return e.cutover.Execute(e.cfg.FrontendOutputPath())
}

// runObservabilityStage is a placeholder reserved for future
// health/latency probes.
func (e *Engine) runObservabilityStage(_ context.Context) (map[string]any, error) {
	return map[string]any{
		"message": "Observability checks are not implemented yet.",
		"dry_run": e.cfg.Deploy.DryRun,
	}, nil
}

// packageManagerRecoverable maps package managers to the subcommands
// whose failures may trigger auto-rollback.
var packageManagerRecoverable = map[string]map[string]bool{
	"npm":  {"install": true, "ci": true},
	"pnpm": {"install": true, "ci": true},
	"yarn": {"install": true, "ci": true},
}

// processManagers whose "start" invocations are recoverable.
var processManagerRecoverable = map[string]bool{
	"pm2":       true,
	"systemctl": true,
}

// isAutoRecoverable classifies a failed command line against the closed
// allow-list: package-manager install/ci, process-manager start, and
// shells invoking "pm2 start npm".
func isAutoRecoverable(commandLine string) bool {
	argv, err := command.SplitLine(commandLine)
	if err != nil || len(argv) == 0 {
		return false
	}

	first := argv[0]
	if subcommands, ok := packageManagerRecoverable[first]; ok {
		return len(argv) > 1 && subcommands[argv[1]]
	}
	if processManagerRecoverable[first] {
		return len(argv) > 1 && argv[1] == "start"
	}
	if first == "bash" || first == "sh" {
		// The recorded command line flattens shell quoting, so match the
		// invocation on the full line.
		return strings.Contains(commandLine, "pm2 start npm")
	}
	return false
}
