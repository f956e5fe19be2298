package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skystarved/foreman/internal/exec"
)

// Coder is the external coder service contract: instruction plus target
// paths in, unified-diff patch out. The service itself (an LLM, a
// script, anything) is outside this system.
type Coder interface {
	GeneratePatch(ctx context.Context, instruction string, targetPaths []string) (string, error)
}

// coderRequest is the JSON document written to the coder's stdin.
type coderRequest struct {
	Instruction string   `json:"instruction"`
	TargetPaths []string `json:"target_paths"`
}

// CommandCoder invokes a configured shell command as the coder service.
// The request is written to stdin; stdout must be a unified diff.
// A non-zero exit is a coder failure.
type CommandCoder struct {
	runner  exec.CommandRunner
	command string
	workDir string
}

// NewCommandCoder creates a coder backed by the given shell command.
func NewCommandCoder(runner exec.CommandRunner, command, workDir string) *CommandCoder {
	return &CommandCoder{runner: runner, command: command, workDir: workDir}
}

// GeneratePatch runs the coder command and returns its output as a patch.
func (c *CommandCoder) GeneratePatch(ctx context.Context, instruction string, targetPaths []string) (string, error) {
	if c.command == "" {
		return "", fmt.Errorf("no coder command configured")
	}

	req, err := json.Marshal(coderRequest{Instruction: instruction, TargetPaths: targetPaths})
	if err != nil {
		return "", fmt.Errorf("encode coder request: %w", err)
	}

	out, err := c.runner.RunShellInput(ctx, c.workDir, req, c.command)
	if err != nil {
		return "", fmt.Errorf("coder command: %w: %s", err, truncate(string(out), 500))
	}

	patch := strings.TrimSpace(string(out))
	if patch == "" {
		return "", fmt.Errorf("coder command produced no patch")
	}
	return patch, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Coder = (*CommandCoder)(nil)
