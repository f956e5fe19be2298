package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skystarved/foreman/internal/eventlog"
	"github.com/skystarved/foreman/internal/exec"
	"github.com/skystarved/foreman/internal/monitor"
	"github.com/skystarved/foreman/internal/orchestrator"
	"github.com/skystarved/foreman/internal/runfiles"
	"github.com/skystarved/foreman/internal/store"
	"github.com/skystarved/foreman/internal/supervisor"
)

var (
	runWorkspace string
	runPlanFile  string
	runNoPool    bool
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Plan a goal, dispatch its tasks, and monitor to completion",
	Long: `Run drives one goal end to end: the planner decomposes it into a
task graph, eligible tasks are enqueued as work items, the supervisor
keeps worker processes running against the queue, and the monitor
records results until every task is settled.

The planner is either the configured planner command (planner.command)
or a pre-written plan document given with --plan-file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runWorkspace, "workspace", "", "repository the workers operate in (default: config)")
	runCmd.Flags().StringVar(&runPlanFile, "plan-file", "", "load the plan from a file instead of the planner command")
	runCmd.Flags().BoolVar(&runNoPool, "no-pool", false, "do not start a supervisor; workers are managed externally")
}

func runRun(cmd *cobra.Command, args []string) error {
	goal := strings.Join(args, " ")

	cfg, err := loadConfig(runWorkspace)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := eventlog.ForWorkspace(cfg.Workspace, true)
	defer log.Close()

	work, results, closeQueues, err := openQueues(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueues()

	tasks, err := store.Open(store.ProjectDBPath(cfg.Workspace))
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer tasks.Close()

	var planner orchestrator.Planner
	if runPlanFile != "" {
		planner = orchestrator.NewFilePlanner(runPlanFile)
	} else {
		planner = orchestrator.NewCommandPlanner(exec.NewRunner(), cfg.Planner.Command, cfg.Workspace)
	}

	if !runNoPool {
		pool := supervisor.New(supervisor.Config{
			MaxWorkers:    cfg.Pool.MaxWorkers,
			HighWater:     cfg.Pool.HighWater,
			ScaleInterval: cfg.Pool.ScaleInterval,
			WorkerTimeout: cfg.Pool.WorkerTimeout,
			GracePeriod:   cfg.Pool.GracePeriod,
			RunDir:        runfiles.Dir(cfg.Workspace),
		}, work, tasks, supervisor.DefaultSpawner(cfg.Workspace), log)

		go pool.Run(ctx)
		defer stopPool(pool, log)
	}

	o := orchestrator.New(orchestrator.Options{
		Monitor: monitor.Options{
			PopTimeout:    cfg.Monitor.PopTimeout,
			MaxIterations: cfg.Monitor.MaxIterations,
		},
	}, planner, tasks, work, results, log)

	result := o.Run(ctx, goal)
	printRunResult(result)
	if result.Err != nil {
		return result.Err
	}
	return nil
}

// stopPool stops every remaining worker, reverting in-flight items back
// onto the work queue so nothing is lost across runs. Uses a fresh
// context: the run context is usually already cancelled here.
func stopPool(pool *supervisor.Supervisor, log *eventlog.Logger) {
	ctx := context.Background()
	status := pool.Status(ctx)
	for _, w := range status.Workers {
		if _, err := pool.StopWorkerAndRevert(ctx, w.ID); err != nil {
			log.Event("supervisor", "worker_error", "stop %s: %v", w.ID, err)
		}
	}
}

func printRunResult(result orchestrator.RunResult) {
	fmt.Printf("\nRun %s\n", result.State)
	fmt.Printf("  Tasks:     %d\n", result.TasksCreated)
	fmt.Printf("  Completed: %d\n", len(result.Summary.Completed))
	fmt.Printf("  Failed:    %d\n", len(result.Summary.Failed))
	if len(result.Summary.Blocked) > 0 {
		fmt.Printf("  Blocked:   %s\n", strings.Join(result.Summary.Blocked, ", "))
	}
	if result.Summary.Unknown > 0 {
		fmt.Printf("  Unmatched results: %d\n", result.Summary.Unknown)
	}
}
