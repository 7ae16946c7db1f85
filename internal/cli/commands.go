package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/switchyard/internal/config"
	"github.com/mrz1836/switchyard/internal/deploy"
	"github.com/mrz1836/switchyard/internal/domain"
)

// printJSON renders a payload for scripting consumers.
func printJSON(cmd *cobra.Command, payload any) error {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(encoded))
	return nil
}

// newDeployCmd creates a deploy task and runs the pipeline to
// completion.
func newDeployCmd() *cobra.Command {
	var branch string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run a blue/green deployment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			engine, cleanup, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			task, err := engine.CreateTask(ctx, branch)
			if err != nil {
				return err
			}
			cmd.Printf("task %s created on branch %s\n", task.TaskID, task.Branch())

			if err := engine.RunPipeline(ctx, task.TaskID, task.Branch(), deploy.PipelineOptions{}); err != nil {
				return err
			}

			final, err := engine.GetTask(ctx, task.TaskID)
			if err != nil {
				return err
			}
			return printJSON(cmd, domain.Summarize(final))
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "branch to deploy (defaults to the configured branch)")
	return cmd
}

// newRollbackCmd prepares and performs a rollback to the previous
// successful commit.
func newRollbackCmd() *cobra.Command {
	var branch string

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back to the previous successful deployment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			engine, cleanup, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			plan, err := engine.PrepareRollback(ctx, branch)
			if err != nil {
				return err
			}
			cmd.Printf("rolling back %s: %s -> %s (task %s)\n",
				plan.Branch, plan.CurrentCommit, plan.TargetCommit, plan.Task.TaskID)

			if err := engine.PerformRollback(ctx, plan.Task.TaskID, plan.Branch, plan.TargetCommit, plan.CurrentCommit); err != nil {
				return err
			}

			final, err := engine.GetTask(ctx, plan.Task.TaskID)
			if err != nil {
				return err
			}
			return printJSON(cmd, domain.Summarize(final))
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "branch to roll back (defaults to the configured branch)")
	return cmd
}

// newStatusCmd prints one task's current state.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a deploy task's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, cleanup, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			task, err := engine.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, task)
		},
	}
}

// newLogsCmd prints a task's stage records and failure context.
func newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Show a deploy task's stage logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, cleanup, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			payload, err := engine.GetTaskLogs(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, payload)
		},
	}
}

// newTasksCmd lists recent tasks.
func newTasksCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List recent deploy and rollback tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			engine, cleanup, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			summaries, err := engine.ListRecentTasks(ctx, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, summaries)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 5, "number of tasks to list (1-20)")
	return cmd
}

// newPreviewCmd prints the pre-flight preview payload.
func newPreviewCmd() *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview the next deploy: commands, risk, cost, timeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			engine, cleanup, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			payload, err := engine.GetPreview(ctx, taskID)
			if err != nil {
				return err
			}
			return printJSON(cmd, payload)
		},
	}

	cmd.Flags().StringVar(&taskID, "task", "", "include a specific task's context and progress")
	return cmd
}

// newSlotsCmd prints the blue/green slot plan.
func newSlotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slots",
		Short: "Show the blue/green slot state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			engine, cleanup, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			return printJSON(cmd, engine.DescribeBlueGreenState())
		},
	}
}

// newConfigCmd groups configuration helpers.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

// newConfigInitCmd writes a default config scaffold.
func newConfigInitCmd() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := config.ProjectConfigPath()
			if global {
				dir, err := config.GlobalConfigDir()
				if err != nil {
					return err
				}
				target = filepath.Join(dir, "config.yaml")
			}

			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("config already exists at %s", target)
			}

			defaults := config.Config{}
			defaults.Deploy.DefaultBranch = "deploy"
			defaults.Deploy.AllowedBranches = "deploy,main"
			defaults.Frontend.InstallCommand = "npm install"
			defaults.Frontend.BuildCommand = "npm run build"
			defaults.Preview.LLMModel = "gemini-2.5-flash"

			encoded, err := yaml.Marshal(&defaults)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return err
			}
			if err := os.WriteFile(target, encoded, 0o600); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", target)
			return nil
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "write the global config instead of the project config")
	return cmd
}
