package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/skystarved/foreman/internal/config"
	"github.com/skystarved/foreman/internal/runfiles"
	"github.com/skystarved/foreman/internal/store"
	"github.com/skystarved/foreman/pkg/models"
)

var statusWorkspace string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tasks, queue depths, and worker heartbeats",
	Long: `Display the current state of the workspace.

Shows:
  - Tasks and their statuses from the task store
  - Work and results queue depths
  - Workers with a heartbeat on record, their phase and age`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusWorkspace, "workspace", "", "workspace to inspect (default: config)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(statusWorkspace)
	if err != nil {
		return err
	}

	dbPath := store.ProjectDBPath(cfg.Workspace)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No tasks yet. Run 'foreman run <goal>' or 'foreman enqueue <instruction>' to start.")
		return nil
	}

	tasks, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer tasks.Close()

	all, err := tasks.List("")
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	displayTasks(all)

	displayQueues(cmd, cfg)
	return displayWorkers(cfg.Workspace)
}

func displayTasks(all []*models.Task) {
	if len(all) == 0 {
		fmt.Println("Tasks: none")
		return
	}

	counts := map[models.TaskStatus]int{}
	for _, t := range all {
		counts[t.Status]++
	}
	fmt.Printf("Tasks: %d total, %d pending, %d in progress, %d completed, %d failed\n",
		len(all),
		counts[models.TaskStatusPending],
		counts[models.TaskStatusInProgress],
		counts[models.TaskStatusCompleted],
		counts[models.TaskStatusFailed])

	for _, t := range all {
		deps := ""
		if len(t.Dependencies) > 0 {
			deps = fmt.Sprintf(" (after %d)", len(t.Dependencies))
		}
		fmt.Printf("  %-12s %-24s %s%s\n", t.Status, t.ID, t.Title, deps)
	}
}

func displayQueues(cmd *cobra.Command, cfg *config.Config) {
	ctx := cmd.Context()
	work, results, closeQueues, err := openQueues(ctx, cfg)
	if err != nil {
		fmt.Printf("\nQueues: unavailable (%v)\n", err)
		return
	}
	defer closeQueues()

	fmt.Println()
	if depth, err := work.Len(ctx); err == nil {
		fmt.Printf("Work queue (%s): %d\n", work.Name(), depth)
	}
	if depth, err := results.Len(ctx); err == nil {
		fmt.Printf("Results queue (%s): %d\n", results.Name(), depth)
	}
}

func displayWorkers(workspace string) error {
	dir := runfiles.Dir(workspace)
	ids, err := runfiles.ListWorkers(dir)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}

	fmt.Println()
	if len(ids) == 0 {
		fmt.Println("Workers: none")
		return nil
	}

	fmt.Printf("Workers: %d with heartbeats\n", len(ids))
	for _, id := range ids {
		ts, phase, err := runfiles.ReadHeartbeat(dir, id)
		if err != nil {
			fmt.Printf("  %s: heartbeat unreadable (%v)\n", id, err)
			continue
		}
		fmt.Printf("  %s: %s, last seen %s ago\n", id, phase, formatDuration(time.Since(ts)))
	}
	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dh", h)
}
