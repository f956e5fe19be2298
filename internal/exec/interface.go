// Package exec provides an interface for command execution.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// RunInput executes a command with stdin wired to the given bytes.
	// Used for tools that consume their payload on standard input, such
	// as git apply.
	RunInput(ctx context.Context, workDir string, stdin []byte, name string, args ...string) (output []byte, err error)

	// RunShell executes a shell command through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) (output []byte, err error)

	// RunShellInput executes a shell command with stdin wired to the
	// given bytes.
	RunShellInput(ctx context.Context, workDir string, stdin []byte, command string) (output []byte, err error)
}
