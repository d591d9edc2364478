package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/roundkeeper/internal/core/task"
	"github.com/vietddude/roundkeeper/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current state of all tracked tasks",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// openTaskManager connects to the configured database and returns a
// manager plus a close func. Exits on any setup failure.
func openTaskManager(ctx context.Context) (*task.Manager, func()) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("This command requires a configured database")
		os.Exit(1)
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	mgr := task.NewManager(postgres.NewTaskRepo(db), postgres.NewAttemptRepo(db))
	return mgr, func() { _ = db.Close() }
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	mgr, closeDB := openTaskManager(ctx)
	defer closeDB()

	tasks, err := mgr.List(ctx)
	if err != nil {
		slog.Error("Failed to list tasks", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TASK\tROUND\tSTATE\tFAILS\tPAUSED\tUPDATED")

	for _, t := range tasks {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%v\t%s\n",
			t.ID, t.Round, t.State, t.ConsecutiveFails, t.Paused,
			t.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()
}
