// Package runfiles implements the side channel between workers and the
// pool supervisor: per-worker heartbeat files that prove the worker is
// making progress (OS process-alive checks cannot detect a hung-but-
// alive worker), and claim files recording the work item a worker is
// currently processing so an operator can revert it.
package runfiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skystarved/foreman/pkg/models"
)

// heartbeat file extension; the supervisor watches for these.
const (
	HeartbeatExt = ".hb"
	claimExt     = ".claim"
)

// Dir returns the run-files directory inside a workspace.
func Dir(workspace string) string {
	return filepath.Join(workspace, ".foreman", "run")
}

// HeartbeatPath returns the heartbeat file path for a worker.
func HeartbeatPath(dir, workerID string) string {
	return filepath.Join(dir, workerID+HeartbeatExt)
}

// ClaimPath returns the claim file path for a worker.
func ClaimPath(dir, workerID string) string {
	return filepath.Join(dir, workerID+claimExt)
}

// WorkerIDFromHeartbeat extracts the worker ID from a heartbeat file
// name, or "" if the name is not a heartbeat file.
func WorkerIDFromHeartbeat(name string) string {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, HeartbeatExt) {
		return ""
	}
	return strings.TrimSuffix(base, HeartbeatExt)
}

// WriteHeartbeat records a liveness signal for a worker. The file's
// modification time is the authoritative signal; the content carries
// the worker's current phase for operators.
func WriteHeartbeat(dir, workerID, phase string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	path := HeartbeatPath(dir, workerID)
	if err := os.WriteFile(path, []byte(phase+"\n"), 0644); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

// ReadHeartbeat returns the time of the worker's last heartbeat and its
// reported phase. A missing file means no heartbeat has been observed.
func ReadHeartbeat(dir, workerID string) (time.Time, string, error) {
	path := HeartbeatPath(dir, workerID)
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, "", err
	}
	return info.ModTime(), strings.TrimSpace(string(data)), nil
}

// WriteClaim records the work item a worker has popped and not yet
// reported. Written after a successful pop, cleared after the matching
// result is pushed.
func WriteClaim(dir, workerID string, item models.WorkItem) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal claim: %w", err)
	}
	if err := os.WriteFile(ClaimPath(dir, workerID), data, 0644); err != nil {
		return fmt.Errorf("write claim: %w", err)
	}
	return nil
}

// ReadClaim returns the worker's in-flight work item, or nil if the
// worker holds no claim.
func ReadClaim(dir, workerID string) (*models.WorkItem, error) {
	data, err := os.ReadFile(ClaimPath(dir, workerID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read claim: %w", err)
	}
	var item models.WorkItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("parse claim: %w", err)
	}
	return &item, nil
}

// ClearClaim removes the worker's claim file. Clearing an absent claim
// is not an error.
func ClearClaim(dir, workerID string) error {
	err := os.Remove(ClaimPath(dir, workerID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear claim: %w", err)
	}
	return nil
}

// Remove deletes all run files for a worker. Used when the supervisor
// reaps a stopped worker.
func Remove(dir, workerID string) {
	os.Remove(HeartbeatPath(dir, workerID))
	os.Remove(ClaimPath(dir, workerID))
}

// ListWorkers returns the IDs of all workers with a heartbeat file in
// the directory.
func ListWorkers(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read run directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if id := WorkerIDFromHeartbeat(e.Name()); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
