package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	syerrors "github.com/mrz1836/switchyard/internal/errors"
)

// BuildInfo carries version metadata injected at build time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// Execute runs the switchyard CLI.
func Execute(ctx context.Context, info BuildInfo) error {
	root := newRootCmd(info)
	return root.ExecuteContext(ctx)
}

// ExitCodeForError maps error categories to process exit codes so the
// host can distinguish validation faults (2) from runtime failures (1).
func ExitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, syerrors.ErrBranchNotAllowed) ||
		errors.Is(err, syerrors.ErrInvalidLimit) ||
		errors.Is(err, syerrors.ErrConfigInvalid) {
		return 2
	}
	return 1
}

// newRootCmd builds the command tree.
func newRootCmd(info BuildInfo) *cobra.Command {
	var (
		verbose bool
		quiet   bool
	)

	root := &cobra.Command{
		Use:           "switchyard",
		Short:         "Blue/green deployment orchestrator",
		Long:          "Switchyard runs staged blue/green deployments: fetch, build, cutover, observability, with previews and rollback.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", info.Version, info.Commit, info.Date),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger := InitLogger(verbose, quiet)
			cmd.SetContext(withLogger(cmd.Context(), logger))
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "log warnings and errors only")

	root.AddCommand(
		newDeployCmd(),
		newRollbackCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newTasksCmd(),
		newPreviewCmd(),
		newSlotsCmd(),
		newConfigCmd(),
	)

	return root
}
