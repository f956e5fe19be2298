package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/skystarved/foreman/internal/exec"
)

// ErrPatchRejected indicates the working tree rejected the patch.
// This is recoverable inside a worker's retry loop.
var ErrPatchRejected = errors.New("patch rejected")

// ExecRunner implements Runner by shelling out to git.
type ExecRunner struct {
	runner   exec.CommandRunner
	repoPath string
}

// NewRunner creates a git runner for the repository at the given path.
func NewRunner(runner exec.CommandRunner, repoPath string) *ExecRunner {
	return &ExecRunner{runner: runner, repoPath: repoPath}
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(ctx context.Context, args ...string) (string, error) {
	out, err := r.runner.Run(ctx, r.repoPath, "git", args...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// SwitchBranch checks out the named branch, creating it if needed.
func (r *ExecRunner) SwitchBranch(ctx context.Context, name string) error {
	if _, err := r.run(ctx, "checkout", name); err == nil {
		return nil
	}
	_, err := r.run(ctx, "checkout", "-b", name)
	return err
}

// Apply applies a unified-diff patch via git apply with the patch on stdin.
func (r *ExecRunner) Apply(ctx context.Context, patch string) error {
	out, err := r.runner.RunInput(ctx, r.repoPath, []byte(patch), "git", "apply", "--whitespace=nowarn", "-")
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPatchRejected, strings.TrimSpace(string(out)))
	}
	return nil
}

// AddAll stages all changes in the working tree.
func (r *ExecRunner) AddAll(ctx context.Context) error {
	_, err := r.run(ctx, "add", "-A")
	return err
}

// Commit creates a commit with the given message.
func (r *ExecRunner) Commit(ctx context.Context, message string) error {
	_, err := r.run(ctx, "commit", "-m", message)
	return err
}

var _ Runner = (*ExecRunner)(nil)
