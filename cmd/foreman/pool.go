package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skystarved/foreman/internal/eventlog"
	"github.com/skystarved/foreman/internal/runfiles"
	"github.com/skystarved/foreman/internal/store"
	"github.com/skystarved/foreman/internal/supervisor"
)

var (
	poolWorkspace string
	poolWorkers   int
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Run the worker pool supervisor",
	Long: `Pool runs the supervisor control loop in the foreground: it spawns
worker processes against the work queue, watches their heartbeats,
reaps dead ones, and scales the pool with queue depth. On interrupt,
remaining workers are stopped and any in-flight items are returned to
the queue.`,
	RunE: runPool,
}

func init() {
	poolCmd.Flags().StringVar(&poolWorkspace, "workspace", "", "repository the workers operate in (default: config)")
	poolCmd.Flags().IntVar(&poolWorkers, "workers", 0, "spawn this many workers immediately (default: scale on demand)")
}

func runPool(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(poolWorkspace)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := eventlog.ForWorkspace(cfg.Workspace, true)
	defer log.Close()

	work, _, closeQueues, err := openQueues(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueues()

	tasks, err := store.Open(store.ProjectDBPath(cfg.Workspace))
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer tasks.Close()

	pool := supervisor.New(supervisor.Config{
		MaxWorkers:    cfg.Pool.MaxWorkers,
		HighWater:     cfg.Pool.HighWater,
		ScaleInterval: cfg.Pool.ScaleInterval,
		WorkerTimeout: cfg.Pool.WorkerTimeout,
		GracePeriod:   cfg.Pool.GracePeriod,
		RunDir:        runfiles.Dir(cfg.Workspace),
	}, work, tasks, supervisor.DefaultSpawner(cfg.Workspace), log)
	defer stopPool(pool, log)

	for i := 0; i < poolWorkers; i++ {
		if _, err := pool.SpawnWorker(ctx); err != nil {
			return fmt.Errorf("spawn initial worker: %w", err)
		}
	}

	return pool.Run(ctx)
}
