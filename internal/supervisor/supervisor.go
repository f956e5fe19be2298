// Package supervisor implements the worker pool supervisor: spawning
// and stopping worker processes, tracking liveness through heartbeat
// files, and scaling the pool against queue depth. The in-memory
// worker registry is owned by the Supervisor instance and guarded by
// its mutex; no ambient process-wide state.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/skystarved/foreman/internal/eventlog"
	"github.com/skystarved/foreman/internal/queue"
	"github.com/skystarved/foreman/internal/runfiles"
	"github.com/skystarved/foreman/internal/store"
	"github.com/skystarved/foreman/pkg/models"
)

var (
	// ErrPoolFull is returned when a spawn would exceed MaxWorkers.
	ErrPoolFull = errors.New("worker pool full")
	// ErrSpawnFailed wraps a failed worker launch. The control loop
	// reports it and continues on its next tick.
	ErrSpawnFailed = errors.New("worker spawn failed")
	// ErrWorkerNotFound is returned for operations on unknown workers.
	ErrWorkerNotFound = errors.New("worker not found")
)

// Config holds supervisor settings.
type Config struct {
	// MaxWorkers bounds the pool size.
	MaxWorkers int
	// HighWater is the queue depth beyond which a second worker is added.
	HighWater int64
	// ScaleInterval is the control loop tick.
	ScaleInterval time.Duration
	// WorkerTimeout is the heartbeat age at which a worker is marked
	// unhealthy.
	WorkerTimeout time.Duration
	// GracePeriod is the wait between SIGTERM and SIGKILL on stop.
	GracePeriod time.Duration
	// RunDir is where worker heartbeat and claim files live.
	RunDir string
}

// workerEntry pairs a worker record with its process handle.
type workerEntry struct {
	record models.WorkerRecord
	proc   ProcessHandle
}

// PoolStatus is a point-in-time snapshot of the pool, the control
// surface consumed by dashboards and the status command.
type PoolStatus struct {
	Workers    []models.WorkerRecord `json:"workers"`
	QueueDepth int64                 `json:"queue_depth"`
	Tasks      []*models.Task        `json:"tasks,omitempty"`
}

// Supervisor manages the worker pool.
type Supervisor struct {
	cfg   Config
	work  queue.Queue
	tasks store.TaskStore // optional; nil when no task tracking is wired
	spawn SpawnFunc
	log   *eventlog.Logger

	mu      sync.RWMutex
	workers map[string]*workerEntry
}

// New creates a Supervisor.
func New(cfg Config, work queue.Queue, tasks store.TaskStore, spawn SpawnFunc, log *eventlog.Logger) *Supervisor {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 3
	}
	if cfg.HighWater <= 0 {
		cfg.HighWater = 2
	}
	if cfg.ScaleInterval <= 0 {
		cfg.ScaleInterval = 10 * time.Second
	}
	if cfg.WorkerTimeout <= 0 {
		cfg.WorkerTimeout = 5 * time.Minute
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	return &Supervisor{
		cfg:     cfg,
		work:    work,
		tasks:   tasks,
		spawn:   spawn,
		log:     log,
		workers: make(map[string]*workerEntry),
	}
}

// SpawnWorker launches one worker process, bounded by MaxWorkers.
func (s *Supervisor) SpawnWorker(ctx context.Context) (models.WorkerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.workers) >= s.cfg.MaxWorkers {
		return models.WorkerRecord{}, fmt.Errorf("%w: %d workers at limit", ErrPoolFull, len(s.workers))
	}

	id := "worker-" + uuid.New().String()[:8]
	proc, err := s.spawn(ctx, id)
	if err != nil {
		return models.WorkerRecord{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	now := time.Now()
	record := models.WorkerRecord{
		ID:            id,
		PID:           proc.PID(),
		StartTime:     now,
		LastHeartbeat: now,
		Status:        models.WorkerStatusActive,
		Health:        models.WorkerHealthHealthy,
	}
	s.workers[id] = &workerEntry{record: record, proc: proc}

	s.log.Event("supervisor", "worker_spawned", "%s pid %d (%d/%d)", id, record.PID, len(s.workers), s.cfg.MaxWorkers)
	return record, nil
}

// StopWorker gracefully stops a worker: SIGTERM, a bounded wait, then
// SIGKILL. The worker's run files are removed.
func (s *Supervisor) StopWorker(id string) error {
	s.mu.Lock()
	entry, ok := s.workers[id]
	if ok {
		delete(s.workers, id)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("stop %s: %w", id, ErrWorkerNotFound)
	}

	if entry.proc.Alive() {
		_ = entry.proc.Terminate()
		if err := entry.proc.Wait(s.cfg.GracePeriod); err != nil {
			s.log.Event("supervisor", "worker_kill", "%s did not exit in %s, killing", id, s.cfg.GracePeriod)
			_ = entry.proc.Kill()
			_ = entry.proc.Wait(s.cfg.GracePeriod)
		}
	}

	runfiles.Remove(s.cfg.RunDir, id)
	s.log.Event("supervisor", "worker_stopped", "%s", id)
	return nil
}

// StopWorkerAndRevert stops a worker and, if it held a claimed work
// item, pushes that item back onto the work queue. This is the manual
// escape hatch for the at-most-once delivery gap: a killed worker's
// in-flight item would otherwise be lost.
func (s *Supervisor) StopWorkerAndRevert(ctx context.Context, id string) (*models.WorkItem, error) {
	claim, err := runfiles.ReadClaim(s.cfg.RunDir, id)
	if err != nil {
		s.log.Event("supervisor", "revert_error", "read claim for %s: %v", id, err)
	}

	if err := s.StopWorker(id); err != nil {
		return nil, err
	}

	if claim == nil {
		return nil, nil
	}

	payload, err := claim.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode reverted item: %w", err)
	}
	if err := s.work.Push(ctx, payload); err != nil {
		return nil, fmt.Errorf("requeue reverted item: %w", err)
	}

	s.log.Event("supervisor", "item_reverted", "%s returned branch %s to the work queue", id, claim.Branch)
	return claim, nil
}

// Status returns a snapshot of the pool, queue depth, and task list.
func (s *Supervisor) Status(ctx context.Context) PoolStatus {
	s.mu.RLock()
	workers := make([]models.WorkerRecord, 0, len(s.workers))
	for _, entry := range s.workers {
		workers = append(workers, entry.record)
	}
	s.mu.RUnlock()

	status := PoolStatus{Workers: workers}

	if s.work != nil {
		if depth, err := s.work.Len(ctx); err == nil {
			status.QueueDepth = depth
		}
	}
	if s.tasks != nil {
		if tasks, err := s.tasks.List(""); err == nil {
			status.Tasks = tasks
		}
	}
	return status
}

// PoolSize returns the number of registered workers.
func (s *Supervisor) PoolSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workers)
}

// ActiveWorkers returns the number of workers whose process is alive.
func (s *Supervisor) ActiveWorkers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := 0
	for _, entry := range s.workers {
		if entry.proc.Alive() {
			active++
		}
	}
	return active
}

// Run executes the control loop until the context is cancelled. Each
// tick performs a health pass (heartbeats, reaping) and a scale pass
// (spawn decisions). Spawn failures are reported and the loop
// continues.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Event("supervisor", "monitor_start", "interval %s, max %d workers", s.cfg.ScaleInterval, s.cfg.MaxWorkers)

	// fsnotify keeps heartbeat observations fresh between ticks; the
	// per-tick mtime scan remains authoritative.
	watcher := s.watchHeartbeats(ctx)
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(s.cfg.ScaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Event("supervisor", "monitor_stop", "control loop stopping")
			return nil
		case <-ticker.C:
			s.HealthPass()
			s.ScalePass(ctx)
		}
	}
}

// watchHeartbeats subscribes to heartbeat file writes. Returns nil if
// the watcher cannot be established; the mtime scan covers for it.
func (s *Supervisor) watchHeartbeats(ctx context.Context) *fsnotify.Watcher {
	if s.cfg.RunDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.cfg.RunDir, 0755); err != nil {
		s.log.Event("supervisor", "monitor_error", "create run dir: %v", err)
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Event("supervisor", "monitor_error", "heartbeat watcher: %v", err)
		return nil
	}
	if err := watcher.Add(s.cfg.RunDir); err != nil {
		s.log.Event("supervisor", "monitor_error", "watch %s: %v", s.cfg.RunDir, err)
		watcher.Close()
		return nil
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				id := runfiles.WorkerIDFromHeartbeat(event.Name)
				if id == "" {
					continue
				}
				s.mu.Lock()
				if entry, ok := s.workers[id]; ok {
					entry.record.LastHeartbeat = time.Now()
				}
				s.mu.Unlock()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher
}

// HealthPass updates every worker's health from its heartbeat and
// process state, reaping workers whose process has exited.
func (s *Supervisor) HealthPass() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.workers {
		if !entry.proc.Alive() {
			entry.record.Status = models.WorkerStatusStopped
			entry.record.Health = models.WorkerHealthStopped
			delete(s.workers, id)
			runfiles.Remove(s.cfg.RunDir, id)
			s.log.Event("supervisor", "worker_reaped", "%s pid %d exited", id, entry.record.PID)
			continue
		}

		if ts, _, err := runfiles.ReadHeartbeat(s.cfg.RunDir, id); err == nil {
			if ts.After(entry.record.LastHeartbeat) {
				entry.record.LastHeartbeat = ts
			}
		}

		if now.Sub(entry.record.LastHeartbeat) > s.cfg.WorkerTimeout {
			if entry.record.Health != models.WorkerHealthTimeout {
				s.log.Event("supervisor", "worker_timeout", "%s heartbeat is %s old", id, now.Sub(entry.record.LastHeartbeat).Round(time.Second))
			}
			entry.record.Health = models.WorkerHealthTimeout
		} else {
			entry.record.Health = models.WorkerHealthHealthy
		}
	}
}

// ScalePass applies the scale-up rules against current queue depth.
// Scale-down is advisory only; stopping workers is an operator action.
func (s *Supervisor) ScalePass(ctx context.Context) {
	depth, err := s.work.Len(ctx)
	if err != nil {
		s.log.Event("supervisor", "monitor_error", "queue depth: %v", err)
		return
	}

	active := s.ActiveWorkers()
	pool := s.PoolSize()

	if depth > 0 && active == 0 && pool < s.cfg.MaxWorkers {
		s.log.Event("supervisor", "scale_up", "depth %d with no active workers", depth)
		if _, err := s.SpawnWorker(ctx); err != nil {
			s.log.Event("supervisor", "spawn_failed", "%v", err)
			return
		}
		active = s.ActiveWorkers()
		pool = s.PoolSize()
	}

	if depth > s.cfg.HighWater && active < 2 && pool < s.cfg.MaxWorkers {
		s.log.Event("supervisor", "scale_up", "depth %d above high water %d with %d active", depth, s.cfg.HighWater, active)
		if _, err := s.SpawnWorker(ctx); err != nil {
			s.log.Event("supervisor", "spawn_failed", "%v", err)
		}
	}
}
