// Package monitor implements the dependency resolver: it drains the
// results queue, records each outcome in the task store, and reports
// which tasks became eligible as their dependencies completed. Result
// branches are matched to task IDs by convention (branch == task ID).
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skystarved/foreman/internal/eventlog"
	"github.com/skystarved/foreman/internal/queue"
	"github.com/skystarved/foreman/internal/store"
	"github.com/skystarved/foreman/pkg/models"
)

// Outcome classifies how a monitor run ended.
type Outcome string

const (
	// OutcomeDrained means every tracked task reached a terminal status.
	OutcomeDrained Outcome = "drained"
	// OutcomeTimeout means the iteration budget ran out with tasks still open.
	OutcomeTimeout Outcome = "timeout"
)

// Options configures a Monitor.
type Options struct {
	// PopTimeout bounds each blocking pop on the results queue.
	// Defaults to 2s.
	PopTimeout time.Duration
	// MaxIterations bounds the number of empty pops tolerated before
	// giving up. Defaults to 120.
	MaxIterations int
}

// Summary reports what a monitor run observed.
type Summary struct {
	Outcome   Outcome
	Completed []string
	Failed    []string
	// Unknown counts results whose branch matched no tracked task.
	Unknown int
	// Blocked lists tasks that can never run because a dependency failed.
	Blocked []string
}

// Dispatcher is called for each task that becomes eligible during a
// run, typically to enqueue its work item. A nil dispatcher means
// eligibility is only logged.
type Dispatcher func(ctx context.Context, task *models.Task) error

// Monitor consumes worker results and resolves task dependencies.
type Monitor struct {
	opts     Options
	results  queue.Queue
	tasks    store.TaskStore
	dispatch Dispatcher
	log      *eventlog.Logger
}

// New creates a Monitor.
func New(opts Options, results queue.Queue, tasks store.TaskStore, dispatch Dispatcher, log *eventlog.Logger) *Monitor {
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 2 * time.Second
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 120
	}
	return &Monitor{opts: opts, results: results, tasks: tasks, dispatch: dispatch, log: log}
}

// Run consumes results until every tracked task is terminal or the
// iteration budget is exhausted. Tracked tasks are those not already
// terminal when the run starts.
func (m *Monitor) Run(ctx context.Context) (Summary, error) {
	summary := Summary{}

	open, err := m.openTasks()
	if err != nil {
		return summary, err
	}
	m.log.Event("monitor", "monitor_start", "watching %d open tasks", len(open))

	idle := 0
	for len(open) > 0 {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if idle >= m.opts.MaxIterations {
			summary.Outcome = OutcomeTimeout
			summary.Blocked = m.blockedTasks(open)
			m.log.Event("monitor", "monitor_timeout", "%d tasks still open after %d empty polls", len(open), idle)
			return summary, nil
		}

		payload, err := m.results.Pop(ctx, m.opts.PopTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			idle++
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return summary, ctx.Err()
		}
		if err != nil {
			return summary, fmt.Errorf("pop result: %w", err)
		}
		idle = 0

		if err := m.applyResult(ctx, payload, open, &summary); err != nil {
			return summary, err
		}

		// Failed dependencies make downstream tasks permanently
		// ineligible; drop them from the open set so the run can end.
		m.pruneBlocked(open, &summary)
	}

	summary.Outcome = OutcomeDrained
	m.log.Event("monitor", "monitor_done", "%d completed, %d failed, %d blocked",
		len(summary.Completed), len(summary.Failed), len(summary.Blocked))
	return summary, nil
}

// applyResult records one worker result in the store.
func (m *Monitor) applyResult(ctx context.Context, payload []byte, open map[string]*models.Task, summary *Summary) error {
	result, err := models.DecodeResultItem(payload)
	if err != nil {
		summary.Unknown++
		m.log.Event("monitor", "monitor_error", "undecodable result: %v", err)
		return nil
	}

	task, tracked := open[result.Branch]
	if !tracked {
		summary.Unknown++
		m.log.Event("monitor", "monitor_error", "result for unknown branch %s", result.Branch)
		return nil
	}

	switch result.Status {
	case models.ResultSuccess:
		if err := m.tasks.SetStatus(task.ID, models.TaskStatusCompleted); err != nil {
			return fmt.Errorf("complete %s: %w", task.ID, err)
		}
		task.Status = models.TaskStatusCompleted
		summary.Completed = append(summary.Completed, task.ID)
		m.log.Event("monitor", "task_completed", "%s", task.ID)

		eligible, err := m.tasks.Eligible()
		if err != nil {
			return fmt.Errorf("eligible after %s: %w", task.ID, err)
		}
		for _, next := range eligible {
			m.log.Event("monitor", "task_eligible", "%s unblocked", next.ID)
			if m.dispatch == nil {
				continue
			}
			if err := m.dispatch(ctx, next); err != nil {
				return fmt.Errorf("dispatch %s: %w", next.ID, err)
			}
		}
	case models.ResultFailed:
		if err := m.tasks.SetStatus(task.ID, models.TaskStatusFailed); err != nil {
			return fmt.Errorf("fail %s: %w", task.ID, err)
		}
		task.Status = models.TaskStatusFailed
		summary.Failed = append(summary.Failed, task.ID)
		m.log.Event("monitor", "task_failed", "%s: %s", task.ID, result.Error)
	default:
		summary.Unknown++
		m.log.Event("monitor", "monitor_error", "result for %s has status %q", result.Branch, result.Status)
		return nil
	}

	delete(open, task.ID)
	return nil
}

// pruneBlocked removes open tasks that depend, directly or through the
// open set, on a failed task. They will never produce a result.
func (m *Monitor) pruneBlocked(open map[string]*models.Task, summary *Summary) {
	all, err := m.tasks.List("")
	if err != nil {
		m.log.Event("monitor", "monitor_error", "list tasks: %v", err)
		return
	}
	statuses := make(map[string]models.TaskStatus, len(all))
	for _, t := range all {
		statuses[t.ID] = t.Status
	}

	// Iterate to a fixed point so chains of blocked tasks resolve.
	for changed := true; changed; {
		changed = false
		for id, task := range open {
			for _, dep := range task.Dependencies {
				status, known := statuses[dep]
				if !known {
					continue
				}
				if status == models.TaskStatusFailed || blocked(summary.Blocked, dep) {
					summary.Blocked = append(summary.Blocked, id)
					delete(open, id)
					m.log.Event("monitor", "task_blocked", "%s blocked by %s", id, dep)
					changed = true
					break
				}
			}
		}
	}
}

// blockedTasks reports which of the remaining open tasks are blocked by
// a failed dependency, for the timeout summary.
func (m *Monitor) blockedTasks(open map[string]*models.Task) []string {
	all, err := m.tasks.List("")
	if err != nil {
		return nil
	}
	failed := make(map[string]bool)
	for _, t := range all {
		if t.Status == models.TaskStatusFailed {
			failed[t.ID] = true
		}
	}
	var ids []string
	for id, task := range open {
		for _, dep := range task.Dependencies {
			if failed[dep] {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// openTasks returns the non-terminal tasks keyed by ID.
func (m *Monitor) openTasks() (map[string]*models.Task, error) {
	all, err := m.tasks.List("")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	open := make(map[string]*models.Task)
	for _, t := range all {
		if !t.Status.Terminal() {
			open[t.ID] = t
		}
	}
	return open, nil
}

func blocked(ids []string, id string) bool {
	for _, b := range ids {
		if b == id {
			return true
		}
	}
	return false
}
