package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// fakeRunner records the shell invocation and returns canned output.
type fakeRunner struct {
	stdin   []byte
	command string
	out     []byte
	err     error
}

func (r *fakeRunner) Run(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	return r.out, r.err
}

func (r *fakeRunner) RunInput(ctx context.Context, workDir string, stdin []byte, name string, args ...string) ([]byte, error) {
	r.stdin = stdin
	return r.out, r.err
}

func (r *fakeRunner) RunShell(ctx context.Context, workDir, command string) ([]byte, error) {
	r.command = command
	return r.out, r.err
}

func (r *fakeRunner) RunShellInput(ctx context.Context, workDir string, stdin []byte, command string) ([]byte, error) {
	r.stdin = stdin
	r.command = command
	return r.out, r.err
}

func TestCommandCoderRequestAndPatch(t *testing.T) {
	runner := &fakeRunner{out: []byte("--- a/f\n+++ b/f\n")}
	coder := NewCommandCoder(runner, "my-coder --fast", "/repo")

	patch, err := coder.GeneratePatch(context.Background(), "rename f", []string{"f"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if patch != "--- a/f\n+++ b/f" {
		t.Errorf("patch = %q", patch)
	}
	if runner.command != "my-coder --fast" {
		t.Errorf("command = %q", runner.command)
	}

	var req coderRequest
	if err := json.Unmarshal(runner.stdin, &req); err != nil {
		t.Fatalf("stdin is not a coder request: %v", err)
	}
	if req.Instruction != "rename f" || len(req.TargetPaths) != 1 {
		t.Errorf("request = %+v", req)
	}
}

func TestCommandCoderEmptyPatchIsError(t *testing.T) {
	coder := NewCommandCoder(&fakeRunner{out: []byte("  \n")}, "my-coder", "")
	if _, err := coder.GeneratePatch(context.Background(), "x", nil); err == nil {
		t.Error("expected error for empty patch")
	}
}

func TestCommandCoderCommandFailure(t *testing.T) {
	runner := &fakeRunner{out: []byte("stack trace"), err: errors.New("exit 1")}
	coder := NewCommandCoder(runner, "my-coder", "")
	if _, err := coder.GeneratePatch(context.Background(), "x", nil); err == nil {
		t.Error("expected error on non-zero exit")
	}
}

func TestCommandCoderUnconfigured(t *testing.T) {
	coder := NewCommandCoder(&fakeRunner{}, "", "")
	if _, err := coder.GeneratePatch(context.Background(), "x", nil); err == nil {
		t.Error("expected error with no command configured")
	}
}
