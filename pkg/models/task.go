package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task represents a unit of work in the system.
// Tasks are created by the decomposition step and mutated only through
// the task store. A task is never deleted within a run; status
// transitions represent closure.
type Task struct {
	// ID is the unique identifier for this task. Immutable after creation.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Dependencies lists task IDs that must complete before this task
	// may be dispatched.
	Dependencies []string `json:"dependencies,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is refreshed on every mutation.
	UpdatedAt time.Time `json:"updated_at"`
}

// Eligible reports whether the task may be dispatched given the status
// of its dependencies. A task is eligible iff it is pending and every
// dependency has completed.
func (t *Task) Eligible(statusOf func(id string) (TaskStatus, bool)) bool {
	if t.Status != TaskStatusPending {
		return false
	}
	for _, dep := range t.Dependencies {
		st, ok := statusOf(dep)
		if !ok || st != TaskStatusCompleted {
			return false
		}
	}
	return true
}
