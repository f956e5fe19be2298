package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// ProcessHandle abstracts a spawned worker process so tests can
// substitute fakes for real subprocesses.
type ProcessHandle interface {
	// PID returns the OS process ID.
	PID() int
	// Alive reports whether the process is still running.
	Alive() bool
	// Terminate asks the process to exit (SIGTERM).
	Terminate() error
	// Kill forcibly ends the process (SIGKILL).
	Kill() error
	// Wait blocks until the process exits or the timeout elapses.
	// Returns an error if the process is still running at the deadline.
	Wait(timeout time.Duration) error
}

// SpawnFunc launches one worker process and returns its handle.
type SpawnFunc func(ctx context.Context, workerID string) (ProcessHandle, error)

// osProcess wraps an exec.Cmd started as a worker subprocess.
type osProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func startProcess(cmd *exec.Cmd) (*osProcess, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &osProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		// Reap the child; exit status is reflected through Alive/Wait.
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *osProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *osProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *osProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *osProcess) Wait(timeout time.Duration) error {
	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("process %d still running after %s", p.PID(), timeout)
	}
}

// DefaultSpawner returns a SpawnFunc that re-executes the current
// binary as `<self> worker --id <workerID>`, with the workspace passed
// through the environment the same way the worker command reads it.
func DefaultSpawner(workspace string) SpawnFunc {
	return func(ctx context.Context, workerID string) (ProcessHandle, error) {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		cmd := exec.CommandContext(ctx, self, "worker", "--id", workerID)
		cmd.Dir = workspace
		cmd.Env = append(os.Environ(), "FOREMAN_WORKSPACE="+workspace)
		return startProcess(cmd)
	}
}
