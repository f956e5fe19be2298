// Package orchestrator drives one run end to end: plan the goal,
// persist the decomposed task graph, enqueue the initially eligible
// work, and monitor results until the graph is settled. It moves
// through a linear state machine; every failure path lands in
// StateFailed with the error on the result.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/skystarved/foreman/internal/eventlog"
	"github.com/skystarved/foreman/internal/monitor"
	"github.com/skystarved/foreman/internal/queue"
	"github.com/skystarved/foreman/internal/store"
	"github.com/skystarved/foreman/pkg/models"
)

// State is the orchestrator's position in its run.
type State string

const (
	StateIdle        State = "idle"
	StatePlanning    State = "planning"
	StateDecomposing State = "decomposing"
	StateEnqueueing  State = "enqueueing"
	StateMonitoring  State = "monitoring"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Options configures an Orchestrator.
type Options struct {
	// Monitor configures the result-monitoring phase.
	Monitor monitor.Options
}

// RunResult is the outcome of one orchestrated run.
type RunResult struct {
	State        State
	TasksCreated int
	Summary      monitor.Summary
	Err          error
}

// Orchestrator coordinates planner, store, queues, and monitor.
type Orchestrator struct {
	opts    Options
	planner Planner
	tasks   store.TaskStore
	work    queue.Queue
	results queue.Queue
	log     *eventlog.Logger

	mu    sync.RWMutex
	state State
}

// New creates an Orchestrator.
func New(opts Options, planner Planner, tasks store.TaskStore, work, results queue.Queue, log *eventlog.Logger) *Orchestrator {
	return &Orchestrator{
		opts:    opts,
		planner: planner,
		tasks:   tasks,
		work:    work,
		results: results,
		log:     log,
		state:   StateIdle,
	}
}

// State returns the current run state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.log.Event("orchestrator", "state", "%s", s)
}

// Run executes one goal end to end. The returned RunResult always has
// its State set; Err is non-nil iff State is StateFailed.
func (o *Orchestrator) Run(ctx context.Context, goal string) RunResult {
	o.setState(StatePlanning)
	plan, err := o.planner.Plan(ctx, goal)
	if err != nil {
		return o.fail(fmt.Errorf("plan goal: %w", err))
	}
	o.log.Event("orchestrator", "plan_ready", "%d tasks, %d items", len(plan.Tasks), len(plan.Items))

	o.setState(StateDecomposing)
	if err := o.tasks.CreateBatch(plan.Tasks); err != nil {
		return o.fail(fmt.Errorf("persist plan: %w", err))
	}

	o.setState(StateEnqueueing)
	dispatch := o.dispatcher(plan)
	eligible, err := o.tasks.Eligible()
	if err != nil {
		return o.fail(fmt.Errorf("initial eligibility: %w", err))
	}
	if len(eligible) == 0 {
		return o.fail(fmt.Errorf("plan has no dispatchable task"))
	}
	for _, task := range eligible {
		if err := dispatch(ctx, task); err != nil {
			return o.fail(err)
		}
	}

	o.setState(StateMonitoring)
	m := monitor.New(o.opts.Monitor, o.results, o.tasks, dispatch, o.log)
	summary, err := m.Run(ctx)
	if err != nil {
		return o.fail(fmt.Errorf("monitor run: %w", err))
	}

	result := RunResult{TasksCreated: len(plan.Tasks), Summary: summary}
	if summary.Outcome == monitor.OutcomeTimeout {
		result.State = StateFailed
		result.Err = fmt.Errorf("run stalled: no results while tasks remain open")
		o.setState(StateFailed)
		return result
	}

	result.State = StateDone
	o.setState(StateDone)
	o.log.Event("orchestrator", "run_done", "%d completed, %d failed, %d blocked",
		len(summary.Completed), len(summary.Failed), len(summary.Blocked))
	return result
}

// dispatcher returns the monitor dispatch hook: enqueue the task's work
// item and mark it in progress so it is not dispatched twice.
func (o *Orchestrator) dispatcher(plan *Plan) monitor.Dispatcher {
	return func(ctx context.Context, task *models.Task) error {
		item := plan.Item(task)
		payload, err := item.Encode()
		if err != nil {
			return fmt.Errorf("encode item for %s: %w", task.ID, err)
		}
		if err := o.work.Push(ctx, payload); err != nil {
			return fmt.Errorf("enqueue %s: %w", task.ID, err)
		}
		if err := o.tasks.SetStatus(task.ID, models.TaskStatusInProgress); err != nil {
			return fmt.Errorf("mark %s in progress: %w", task.ID, err)
		}
		o.log.Event("orchestrator", "task_enqueued", "%s: %s", task.ID, item.Instruction)
		return nil
	}
}

func (o *Orchestrator) fail(err error) RunResult {
	o.setState(StateFailed)
	o.log.Event("orchestrator", "run_failed", "%v", err)
	return RunResult{State: StateFailed, Err: err}
}
