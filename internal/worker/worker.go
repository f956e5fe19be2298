// Package worker implements the worker execution loop: block on the
// work queue, dispatch the item to the external coder service, apply
// and commit the result, and report the outcome. For every item popped,
// exactly one result item is pushed, unless the process itself dies
// mid-cycle.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skystarved/foreman/internal/eventlog"
	"github.com/skystarved/foreman/internal/git"
	"github.com/skystarved/foreman/internal/queue"
	"github.com/skystarved/foreman/internal/runfiles"
	"github.com/skystarved/foreman/pkg/models"
)

// Phases of the per-item state machine, reported via the heartbeat file.
const (
	PhaseIdle        = "idle"
	PhaseDispatching = "dispatching"
	PhaseVerifying   = "verifying"
	PhaseReporting   = "reporting"
)

// Options configures a Worker.
type Options struct {
	// ID identifies this worker to the supervisor.
	ID string
	// Attempts is the per-item retry budget. Defaults to 3.
	Attempts int
	// PopTimeout bounds the blocking pop on the work queue. Defaults to 5s.
	PopTimeout time.Duration
	// RunDir is where heartbeat and claim files live.
	RunDir string
}

// Worker is one worker process's main loop. The working directory is
// assumed single-tenant: no other process touches the checkout.
type Worker struct {
	opts    Options
	work    queue.Queue
	results queue.Queue
	git     git.Runner
	coder   Coder
	log     *eventlog.Logger
}

// New creates a Worker.
func New(opts Options, work, results queue.Queue, g git.Runner, coder Coder, log *eventlog.Logger) *Worker {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 5 * time.Second
	}
	return &Worker{
		opts:    opts,
		work:    work,
		results: results,
		git:     g,
		coder:   coder,
		log:     log,
	}
}

// Run executes the worker loop until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Event("worker", "worker_start", "worker %s starting", w.opts.ID)

	for {
		if err := ctx.Err(); err != nil {
			w.log.Event("worker", "worker_stop", "worker %s stopping: %v", w.opts.ID, err)
			return nil
		}

		w.heartbeat(PhaseIdle)

		payload, err := w.work.Pop(ctx, w.opts.PopTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		if err != nil {
			w.log.Event("worker", "worker_error", "pop failed: %v", err)
			continue
		}

		w.ProcessPayload(ctx, payload)
	}
}

// ProcessPayload handles one dequeued payload end to end. A payload
// that cannot be decoded still produces a failed result rather than
// being silently dropped, so result accounting stays complete.
func (w *Worker) ProcessPayload(ctx context.Context, payload []byte) {
	item, err := models.DecodeWorkItem(payload)
	if err != nil {
		w.log.Event("worker", "worker_error", "invalid work item: %v", err)
		w.report(ctx, models.ResultItem{
			Branch: "invalid",
			Status: models.ResultFailed,
			Error:  err.Error(),
		})
		return
	}

	if w.opts.RunDir != "" {
		if err := runfiles.WriteClaim(w.opts.RunDir, w.opts.ID, item); err != nil {
			w.log.Event("worker", "worker_error", "write claim: %v", err)
		}
	}

	result := w.process(ctx, item)
	w.report(ctx, result)

	if w.opts.RunDir != "" {
		if err := runfiles.ClearClaim(w.opts.RunDir, w.opts.ID); err != nil {
			w.log.Event("worker", "worker_error", "clear claim: %v", err)
		}
	}
}

// process runs the retry loop for one work item and returns its result.
func (w *Worker) process(ctx context.Context, item models.WorkItem) models.ResultItem {
	w.heartbeat(PhaseDispatching)
	w.log.Event("worker", "task_start", "branch %s: %s", item.Branch, item.Instruction)

	if err := w.git.SwitchBranch(ctx, item.Branch); err != nil {
		w.log.Event("worker", "worker_error", "checkout %s: %v", item.Branch, err)
		return failedResult(item, fmt.Errorf("checkout %s: %w", item.Branch, err))
	}

	var lastErr error
	for attempt := 1; attempt <= w.opts.Attempts; attempt++ {
		w.heartbeat(PhaseDispatching)

		patch, err := w.attempt(ctx, item)
		if err == nil {
			w.log.Event("worker", "task_success", "branch %s committed on attempt %d", item.Branch, attempt)
			return models.ResultItem{
				Branch:      item.Branch,
				Instruction: item.Instruction,
				Status:      models.ResultSuccess,
				Patch:       patch,
			}
		}

		lastErr = err
		w.log.Event("worker", "worker_error", "attempt %d/%d failed: %v", attempt, w.opts.Attempts, err)

		if ctx.Err() != nil {
			break
		}
	}

	return failedResult(item, lastErr)
}

// attempt performs one dispatch-apply-commit cycle.
func (w *Worker) attempt(ctx context.Context, item models.WorkItem) (string, error) {
	patch, err := w.coder.GeneratePatch(ctx, item.Instruction, item.TargetPaths)
	if err != nil {
		return "", err
	}
	w.log.Event("worker", "worker_patch", "%s", truncate(patch, 600))

	w.heartbeat(PhaseVerifying)
	if err := w.git.Apply(ctx, patch); err != nil {
		return "", err
	}

	if err := w.git.AddAll(ctx); err != nil {
		return "", err
	}
	if err := w.git.Commit(ctx, "feat: "+item.Instruction); err != nil {
		return "", err
	}

	return patch, nil
}

// report pushes the result item. A push failure is logged and retried
// once; beyond that the result is lost with the error on record.
func (w *Worker) report(ctx context.Context, result models.ResultItem) {
	w.heartbeat(PhaseReporting)

	payload, err := result.Encode()
	if err != nil {
		w.log.Event("worker", "worker_error", "encode result for %s: %v", result.Branch, err)
		return
	}

	if err := w.results.Push(ctx, payload); err != nil {
		w.log.Event("worker", "worker_error", "push result for %s: %v, retrying", result.Branch, err)
		if err := w.results.Push(ctx, payload); err != nil {
			w.log.Event("worker", "worker_error", "push result for %s failed twice: %v", result.Branch, err)
		}
	}
}

// heartbeat records a liveness signal with the current phase.
func (w *Worker) heartbeat(phase string) {
	if w.opts.RunDir == "" {
		return
	}
	if err := runfiles.WriteHeartbeat(w.opts.RunDir, w.opts.ID, phase); err != nil {
		w.log.Event("worker", "worker_error", "heartbeat: %v", err)
	}
}

func failedResult(item models.WorkItem, err error) models.ResultItem {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return models.ResultItem{
		Branch:      item.Branch,
		Instruction: item.Instruction,
		Status:      models.ResultFailed,
		Error:       msg,
	}
}
