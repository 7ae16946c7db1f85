// Package command provides the staged subprocess executor for the
// deploy pipeline. Commands are argv vectors (no shell expansion), run
// with captured stdout/stderr, and serialize their outcome into stage
// metadata. In dry-run mode intent is recorded without spawning.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrz1836/switchyard/internal/constants"
	"github.com/mrz1836/switchyard/internal/ctxutil"
	syerrors "github.com/mrz1836/switchyard/internal/errors"
)

// Command describes one subprocess invocation.
type Command struct {
	// Argv is the program and its arguments. Never passed through a shell.
	Argv []string

	// Dir is the working directory. Required: a missing directory is a
	// fatal configuration error, not a command failure.
	Dir string

	// Description is the human-readable step label recorded in metadata.
	Description string
}

// Line renders the argv vector for logs and metadata.
func (c Command) Line() string {
	return strings.Join(c.Argv, " ")
}

// Result captures the observable outcome of a command. Pointer fields
// are absent in dry-run mode.
type Result struct {
	Description string `json:"description"`
	Command     string `json:"command"`
	Cwd         string `json:"cwd"`
	DryRun      bool   `json:"dry_run"`
	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	ReturnCode  *int   `json:"returncode,omitempty"`
}

// Metadata converts the result into the nested-mapping shape stored on
// the task.
func (r Result) Metadata() map[string]any {
	m := map[string]any{
		"description": r.Description,
		"command":     r.Command,
		"cwd":         r.Cwd,
		"dry_run":     r.DryRun,
	}
	if r.ReturnCode != nil {
		m["stdout"] = r.Stdout
		m["stderr"] = r.Stderr
		m["returncode"] = *r.ReturnCode
	}
	return m
}

// Runner executes pipeline commands. Implemented by Executor in
// production and by mocks in tests.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Executor runs commands via os/exec with a per-command timeout.
type Executor struct {
	dryRun  bool
	timeout time.Duration
	logger  zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithTimeout overrides the per-command timeout. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		e.timeout = timeout
	}
}

// NewExecutor creates a command executor. When dryRun is set, Run
// returns descriptive results without spawning processes.
func NewExecutor(dryRun bool, opts ...Option) *Executor {
	e := &Executor{
		dryRun:  dryRun,
		timeout: constants.DefaultCommandTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the command and captures its output. A non-zero exit
// returns a *errors.CommandError carrying command, cwd, returncode, and
// both streams. A missing working directory fails with
// ErrMissingWorkDir before anything is spawned.
func (e *Executor) Run(ctx context.Context, cmd Command) (Result, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return Result{}, err
	}
	if len(cmd.Argv) == 0 {
		return Result{}, fmt.Errorf("command argv %w", syerrors.ErrEmptyValue)
	}

	result := Result{
		Description: cmd.Description,
		Command:     cmd.Line(),
		Cwd:         cmd.Dir,
		DryRun:      e.dryRun,
	}

	if e.dryRun {
		e.logger.Info().
			Str("command", result.Command).
			Str("cwd", cmd.Dir).
			Str("description", cmd.Description).
			Msg("dry-run: recording command without execution")
		return result, nil
	}

	if cmd.Dir == "" {
		return Result{}, fmt.Errorf("%w: no working directory for %q", syerrors.ErrMissingWorkDir, result.Command)
	}
	if info, err := os.Stat(cmd.Dir); err != nil || !info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s", syerrors.ErrMissingWorkDir, cmd.Dir)
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	proc := exec.CommandContext(runCtx, cmd.Argv[0], cmd.Argv[1:]...) //#nosec G204 -- argv is built from configuration, not request input
	proc.Dir = cmd.Dir

	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	e.logger.Debug().
		Str("command", result.Command).
		Str("cwd", cmd.Dir).
		Msg("executing command")

	runErr := proc.Run()

	result.Stdout = strings.TrimSpace(stdout.String())
	result.Stderr = strings.TrimSpace(stderr.String())
	code := exitCode(proc, runErr)
	result.ReturnCode = &code

	if runErr != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			return result, fmt.Errorf("%w: timed out after %s (%s)", syerrors.ErrCommandFailed, e.timeout, result.Command)
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, syerrors.NewCommandError(result.Command, cmd.Dir, code, result.Stdout, result.Stderr)
	}

	return result, nil
}

// exitCode extracts the process exit code; -1 when the process never ran.
func exitCode(proc *exec.Cmd, runErr error) int {
	if proc.ProcessState != nil {
		return proc.ProcessState.ExitCode()
	}
	if runErr != nil {
		return -1
	}
	return 0
}

// Compile-time check that Executor implements Runner.
var _ Runner = (*Executor)(nil)
