package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <task-id>",
	Short: "Pause a task so no further rounds are dispatched",
	Args:  cobra.ExactArgs(1),
	Run:   runPause,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume a paused task",
	Args:  cobra.ExactArgs(1),
	Run:   runResume,
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
}

func runPause(cmd *cobra.Command, args []string) {
	taskID := args[0]
	ctx := context.Background()

	mgr, closeDB := openTaskManager(ctx)
	defer closeDB()

	if err := mgr.Pause(ctx, taskID, "manual pause"); err != nil {
		slog.Error("Failed to pause task", "task", taskID, "error", err)
		os.Exit(1)
	}
	slog.Info("Task paused, takes effect at the next transition boundary", "task", taskID)
}

func runResume(cmd *cobra.Command, args []string) {
	taskID := args[0]
	ctx := context.Background()

	mgr, closeDB := openTaskManager(ctx)
	defer closeDB()

	if err := mgr.Resume(ctx, taskID); err != nil {
		slog.Error("Failed to resume task", "task", taskID, "error", err)
		os.Exit(1)
	}
	slog.Info("Task resumed", "task", taskID)
}
