// Package store provides the persistent task store. Tasks are created
// by the decomposition step and mutated only through the store's update
// operations; validation errors are returned to the caller and never
// leave partial state behind.
package store

import (
	"errors"

	"github.com/skystarved/foreman/pkg/models"
)

var (
	// ErrDuplicateTask is returned when creating a task whose ID already exists.
	ErrDuplicateTask = errors.New("task already exists")
	// ErrNotFound is returned when the requested task does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrCyclicDependency is returned when a create would introduce a
	// dependency cycle (including a task depending on itself).
	ErrCyclicDependency = errors.New("cyclic dependency")
	// ErrUnknownDependency is returned when a dependency references a
	// task that neither exists nor is part of the same batch.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrUnsupportedField is returned by Update for fields that may not
	// be mutated through the generic update path.
	ErrUnsupportedField = errors.New("unsupported field")
	// ErrInvalidStatus is returned when a status value is not one of the
	// known task states.
	ErrInvalidStatus = errors.New("invalid status")
)

// TaskStore is the interface for task persistence.
type TaskStore interface {
	// Create inserts a single task with status pending.
	Create(task *models.Task) error
	// CreateBatch inserts a set of tasks atomically. Dependencies may
	// reference other tasks in the same batch. Nothing is written if
	// any task fails validation.
	CreateBatch(tasks []*models.Task) error
	// Get returns the task with the given ID.
	Get(id string) (*models.Task, error)
	// Update mutates a single field (title, description, status) and
	// refreshes updated_at.
	Update(id, field, value string) error
	// SetStatus transitions a task's status and refreshes updated_at.
	SetStatus(id string, status models.TaskStatus) error
	// List returns all tasks, optionally filtered by status. Order is
	// stable within one snapshot (created_at, then ID).
	List(status models.TaskStatus) ([]*models.Task, error)
	// Eligible returns pending tasks whose dependencies are all completed.
	Eligible() ([]*models.Task, error)
	// Close releases the underlying storage.
	Close() error
}
