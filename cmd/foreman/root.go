package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skystarved/foreman/internal/config"
	"github.com/skystarved/foreman/internal/queue"
)

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Queue-driven worker pool for parallel coding tasks",
	Long: `Foreman decomposes a goal into a dependency-ordered task graph,
dispatches the work to a pool of worker processes over Redis queues,
and resolves task dependencies as results come back.

Typical use:
  foreman run "add input validation"   plan, dispatch, and monitor a goal
  foreman pool                         run the worker pool supervisor
  foreman status                       show tasks, queues, and workers`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration and applies the workspace override
// shared by several commands.
func loadConfig(workspaceFlag string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if workspaceFlag != "" {
		cfg.Workspace = workspaceFlag
	}
	if ws := os.Getenv("FOREMAN_WORKSPACE"); ws != "" && workspaceFlag == "" {
		cfg.Workspace = ws
	}
	return cfg, nil
}

// openQueues dials Redis and returns the work and results queues.
func openQueues(ctx context.Context, cfg *config.Config) (*queue.RedisQueue, *queue.RedisQueue, func(), error) {
	client, err := queue.Dial(ctx, cfg.Redis.Addr, cfg.Redis.DB)
	if err != nil {
		return nil, nil, nil, err
	}
	work := queue.NewRedisQueue(client, cfg.Queues.Work)
	results := queue.NewRedisQueue(client, cfg.Queues.Results)
	return work, results, func() { client.Close() }, nil
}
