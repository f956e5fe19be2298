// Package git provides the version-control operations a worker needs to
// materialize a work item: switching to the item's branch, applying the
// coder's patch, and committing the result.
package git

import "context"

// Runner defines the git operations used by the worker loop.
type Runner interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch(ctx context.Context) (string, error)
	// SwitchBranch checks out the named branch, creating it if it does
	// not exist yet.
	SwitchBranch(ctx context.Context, name string) error
	// Apply applies a unified-diff patch to the working tree. A patch
	// the tree rejects returns ErrPatchRejected.
	Apply(ctx context.Context, patch string) error
	// AddAll stages all changes in the working tree.
	AddAll(ctx context.Context) error
	// Commit creates a commit with the given message.
	Commit(ctx context.Context, message string) error
}
