package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/skystarved/foreman/internal/eventlog"
	"github.com/skystarved/foreman/internal/exec"
	"github.com/skystarved/foreman/internal/git"
	"github.com/skystarved/foreman/internal/runfiles"
	"github.com/skystarved/foreman/internal/worker"
)

var (
	workerID        string
	workerWorkspace string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one worker process against the work queue",
	Long: `Worker runs the dequeue-dispatch-report loop in the foreground until
interrupted. The supervisor spawns these itself; running one by hand is
useful for debugging or for externally managed pools (run --no-pool).`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerID, "id", "", "worker identifier (default: generated)")
	workerCmd.Flags().StringVar(&workerWorkspace, "workspace", "", "repository to operate in (default: config)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(workerWorkspace)
	if err != nil {
		return err
	}
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}
	if cfg.Worker.CoderCommand == "" {
		return fmt.Errorf("no coder command configured (worker.coder_command)")
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

	runner := exec.NewRunner()
	w := worker.New(worker.Options{
		ID:         workerID,
		Attempts:   cfg.Worker.Attempts,
		PopTimeout: cfg.Worker.PopTimeout,
		RunDir:     runfiles.Dir(cfg.Workspace),
	},
		work,
		results,
		git.NewRunner(runner, cfg.Workspace),
		worker.NewCommandCoder(runner, cfg.Worker.CoderCommand, cfg.Workspace),
		log,
	)

	return w.Run(ctx)
}
