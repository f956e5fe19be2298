package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skystarved/foreman/internal/store"
	"github.com/skystarved/foreman/pkg/models"
)

var (
	enqueueWorkspace string
	enqueueBranch    string
	enqueueDeps      []string
	enqueueTargets   []string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <instruction>",
	Short: "Create a task and push its work item onto the work queue",
	Long: `Enqueue creates a single task and, when it has no unmet dependencies,
pushes the matching work item straight onto the work queue. Tasks with
dependencies stay pending until a monitor run dispatches them.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueWorkspace, "workspace", "", "repository the workers operate in (default: config)")
	enqueueCmd.Flags().StringVar(&enqueueBranch, "branch", "", "branch and task ID (default: generated from the instruction)")
	enqueueCmd.Flags().StringSliceVar(&enqueueDeps, "depends-on", nil, "task IDs that must complete first")
	enqueueCmd.Flags().StringSliceVar(&enqueueTargets, "target", nil, "paths the coder should focus on")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	instruction := strings.Join(args, " ")

	cfg, err := loadConfig(enqueueWorkspace)
	if err != nil {
		return err
	}

	branch := enqueueBranch
	if branch == "" {
		branch = slugify(instruction)
	}

	tasks, err := store.Open(store.ProjectDBPath(cfg.Workspace))
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer tasks.Close()

	task := &models.Task{
		ID:           branch,
		Title:        instruction,
		Dependencies: enqueueDeps,
	}
	if err := tasks.Create(task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	fmt.Printf("Created task %s\n", task.ID)

	if len(enqueueDeps) > 0 {
		fmt.Printf("Task waits on: %s\n", strings.Join(enqueueDeps, ", "))
		return nil
	}

	ctx := cmd.Context()
	work, _, closeQueues, err := openQueues(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueues()

	item := models.WorkItem{Branch: branch, Instruction: instruction, TargetPaths: enqueueTargets}
	payload, err := item.Encode()
	if err != nil {
		return fmt.Errorf("encode work item: %w", err)
	}
	if err := work.Push(ctx, payload); err != nil {
		return fmt.Errorf("enqueue work item: %w", err)
	}
	if err := tasks.SetStatus(task.ID, models.TaskStatusInProgress); err != nil {
		return fmt.Errorf("mark task in progress: %w", err)
	}

	fmt.Printf("Enqueued %s on %s\n", branch, work.Name())
	return nil
}

// slugify derives a branch-safe ID from an instruction.
func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteRune('-')
			lastDash = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 40 {
		out = strings.Trim(out[:40], "-")
	}
	if out == "" {
		out = "task"
	}
	return out
}
