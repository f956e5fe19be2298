package supervisor

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/skystarved/foreman/internal/eventlog"
	"github.com/skystarved/foreman/internal/queue"
	"github.com/skystarved/foreman/internal/runfiles"
	"github.com/skystarved/foreman/pkg/models"
)

// fakeProcess is a controllable stand-in for a worker subprocess.
type fakeProcess struct {
	pid        int
	alive      bool
	terminated bool
	killed     bool
}

func (p *fakeProcess) PID() int    { return p.pid }
func (p *fakeProcess) Alive() bool { return p.alive }

func (p *fakeProcess) Terminate() error {
	p.terminated = true
	p.alive = false
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed = true
	p.alive = false
	return nil
}

func (p *fakeProcess) Wait(timeout time.Duration) error {
	if p.alive {
		return errors.New("still running")
	}
	return nil
}

// fakeSpawner hands out fakeProcesses and records launches.
type fakeSpawner struct {
	procs   []*fakeProcess
	spawned []string
	fail    bool
}

func (s *fakeSpawner) spawn(ctx context.Context, workerID string) (ProcessHandle, error) {
	if s.fail {
		return nil, errors.New("exec: binary not found")
	}
	p := &fakeProcess{pid: 1000 + len(s.procs), alive: true}
	s.procs = append(s.procs, p)
	s.spawned = append(s.spawned, workerID)
	return p, nil
}

func newTestSupervisor(t *testing.T, cfg Config, work queue.Queue) (*Supervisor, *fakeSpawner) {
	t.Helper()
	if cfg.RunDir == "" {
		cfg.RunDir = t.TempDir()
	}
	spawner := &fakeSpawner{}
	s := New(cfg, work, nil, spawner.spawn, eventlog.Nop())
	return s, spawner
}

func TestSpawnRespectsMaxWorkers(t *testing.T) {
	work := queue.NewMemoryQueue("worker_queue")
	s, spawner := newTestSupervisor(t, Config{MaxWorkers: 2}, work)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.SpawnWorker(ctx); err != nil {
			t.Fatalf("spawn %d: %v", i, err)
		}
	}

	if _, err := s.SpawnWorker(ctx); !errors.Is(err, ErrPoolFull) {
		t.Errorf("third spawn err = %v, want ErrPoolFull", err)
	}
	if len(spawner.spawned) != 2 {
		t.Errorf("spawned %d processes, want 2", len(spawner.spawned))
	}
}

func TestHealthPassMarksStaleHeartbeatTimeout(t *testing.T) {
	work := queue.NewMemoryQueue("worker_queue")
	s, _ := newTestSupervisor(t, Config{MaxWorkers: 2, WorkerTimeout: 50 * time.Millisecond}, work)

	record, err := s.SpawnWorker(context.Background())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	// No heartbeat file and the spawn-time heartbeat ages past the limit.
	time.Sleep(80 * time.Millisecond)
	s.HealthPass()

	status := s.Status(context.Background())
	if len(status.Workers) != 1 {
		t.Fatalf("workers = %d, want 1 (alive process must not be reaped)", len(status.Workers))
	}
	if status.Workers[0].Health != models.WorkerHealthTimeout {
		t.Errorf("health = %s, want timeout", status.Workers[0].Health)
	}
	if status.Workers[0].ID != record.ID {
		t.Errorf("worker id = %s, want %s", status.Workers[0].ID, record.ID)
	}
}

func TestHealthPassRecoversOnFreshHeartbeat(t *testing.T) {
	work := queue.NewMemoryQueue("worker_queue")
	dir := t.TempDir()
	s, _ := newTestSupervisor(t, Config{MaxWorkers: 2, WorkerTimeout: time.Minute, RunDir: dir}, work)

	record, err := s.SpawnWorker(context.Background())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if err := runfiles.WriteHeartbeat(dir, record.ID, "dispatching"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	s.HealthPass()

	status := s.Status(context.Background())
	if status.Workers[0].Health != models.WorkerHealthHealthy {
		t.Errorf("health = %s, want healthy", status.Workers[0].Health)
	}
}

func TestHealthPassReapsDeadWorkers(t *testing.T) {
	work := queue.NewMemoryQueue("worker_queue")
	dir := t.TempDir()
	s, spawner := newTestSupervisor(t, Config{MaxWorkers: 3, RunDir: dir}, work)

	record, err := s.SpawnWorker(context.Background())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := runfiles.WriteHeartbeat(dir, record.ID, "idle"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	spawner.procs[0].alive = false
	s.HealthPass()

	if n := s.PoolSize(); n != 0 {
		t.Errorf("pool size = %d after reap, want 0", n)
	}
	if _, err := os.Stat(runfiles.HeartbeatPath(dir, record.ID)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("heartbeat file for reaped worker still present: %v", err)
	}
}

func TestStopWorkerTerminatesProcess(t *testing.T) {
	work := queue.NewMemoryQueue("worker_queue")
	s, spawner := newTestSupervisor(t, Config{MaxWorkers: 2, GracePeriod: 10 * time.Millisecond}, work)

	record, err := s.SpawnWorker(context.Background())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if err := s.StopWorker(record.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !spawner.procs[0].terminated {
		t.Error("process was not terminated")
	}
	if s.PoolSize() != 0 {
		t.Errorf("pool size = %d after stop, want 0", s.PoolSize())
	}

	if err := s.StopWorker(record.ID); !errors.Is(err, ErrWorkerNotFound) {
		t.Errorf("second stop err = %v, want ErrWorkerNotFound", err)
	}
}

func TestStopWorkerAndRevertRequeuesClaim(t *testing.T) {
	work := queue.NewMemoryQueue("worker_queue")
	dir := t.TempDir()
	s, _ := newTestSupervisor(t, Config{MaxWorkers: 2, GracePeriod: 10 * time.Millisecond, RunDir: dir}, work)

	ctx := context.Background()
	record, err := s.SpawnWorker(ctx)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	claimed := models.WorkItem{Branch: "task-7", Instruction: "half done"}
	if err := runfiles.WriteClaim(dir, record.ID, claimed); err != nil {
		t.Fatalf("claim: %v", err)
	}

	reverted, err := s.StopWorkerAndRevert(ctx, record.ID)
	if err != nil {
		t.Fatalf("stop and revert: %v", err)
	}
	if reverted == nil || reverted.Branch != "task-7" {
		t.Fatalf("reverted = %+v, want branch task-7", reverted)
	}

	payload, err := work.Pop(ctx, time.Second)
	if err != nil {
		t.Fatalf("pop requeued item: %v", err)
	}
	item, err := models.DecodeWorkItem(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if item.Branch != "task-7" {
		t.Errorf("requeued branch = %s, want task-7", item.Branch)
	}
}

func TestStopWorkerAndRevertWithoutClaim(t *testing.T) {
	work := queue.NewMemoryQueue("worker_queue")
	s, _ := newTestSupervisor(t, Config{MaxWorkers: 2, GracePeriod: 10 * time.Millisecond}, work)

	ctx := context.Background()
	record, err := s.SpawnWorker(ctx)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	reverted, err := s.StopWorkerAndRevert(ctx, record.ID)
	if err != nil {
		t.Fatalf("stop and revert: %v", err)
	}
	if reverted != nil {
		t.Errorf("reverted = %+v, want nil for idle worker", reverted)
	}
	if n, _ := work.Len(ctx); n != 0 {
		t.Errorf("queue depth = %d, want 0", n)
	}
}

func TestScalePassSpawnsWhenBacklogAndNoWorkers(t *testing.T) {
	work := queue.NewMemoryQueue("worker_queue")
	s, spawner := newTestSupervisor(t, Config{MaxWorkers: 3, HighWater: 2}, work)

	ctx := context.Background()
	if err := work.Push(ctx, []byte(`{"branch":"b1"}`)); err != nil {
		t.Fatalf("push: %v", err)
	}

	s.ScalePass(ctx)

	if len(spawner.spawned) != 1 {
		t.Fatalf("spawned = %d, want 1", len(spawner.spawned))
	}

	// Depth 1 with one active worker: steady state, no further spawns.
	s.ScalePass(ctx)
	if len(spawner.spawned) != 1 {
		t.Errorf("spawned = %d after steady-state pass, want still 1", len(spawner.spawned))
	}
}

func TestScalePassAddsSecondWorkerAboveHighWater(t *testing.T) {
	work := queue.NewMemoryQueue("worker_queue")
	s, spawner := newTestSupervisor(t, Config{MaxWorkers: 3, HighWater: 2}, work)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := work.Push(ctx, []byte(`{"branch":"b"}`)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	s.ScalePass(ctx)
	if len(spawner.spawned) != 2 {
		t.Errorf("spawned = %d, want 2 (backlog rule plus high-water rule)", len(spawner.spawned))
	}

	s.ScalePass(ctx)
	if len(spawner.spawned) != 2 {
		t.Errorf("spawned = %d with 2 active, want still 2", len(spawner.spawned))
	}
}

func TestScalePassNeverExceedsMaxWorkers(t *testing.T) {
	work := queue.NewMemoryQueue("worker_queue")
	s, spawner := newTestSupervisor(t, Config{MaxWorkers: 1, HighWater: 1}, work)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := work.Push(ctx, []byte(`{"branch":"b"}`)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	s.ScalePass(ctx)
	s.ScalePass(ctx)

	if len(spawner.spawned) != 1 {
		t.Errorf("spawned = %d, want 1 at the pool cap", len(spawner.spawned))
	}
}

func TestScalePassSurvivesSpawnFailure(t *testing.T) {
	work := queue.NewMemoryQueue("worker_queue")
	s, spawner := newTestSupervisor(t, Config{MaxWorkers: 3}, work)
	spawner.fail = true

	ctx := context.Background()
	if err := work.Push(ctx, []byte(`{"branch":"b"}`)); err != nil {
		t.Fatalf("push: %v", err)
	}

	s.ScalePass(ctx) // must not panic and must leave the pool empty
	if s.PoolSize() != 0 {
		t.Errorf("pool size = %d after failed spawn, want 0", s.PoolSize())
	}

	spawner.fail = false
	s.ScalePass(ctx)
	if len(spawner.spawned) != 1 {
		t.Errorf("spawned = %d after recovery, want 1", len(spawner.spawned))
	}
}
