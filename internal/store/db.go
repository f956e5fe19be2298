package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skystarved/foreman/internal/graph"
	"github.com/skystarved/foreman/pkg/models"
)

// DB is a SQLite-backed TaskStore. WAL mode is enabled so the monitor
// and status readers can read while a writer holds the store. All
// mutation goes through a single mutex, giving single-writer-per-key
// discipline.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// ProjectDBPath returns the path to the task database inside a workspace.
func ProjectDBPath(workspace string) string {
	return filepath.Join(workspace, ".foreman", "tasks.db")
}

// Open opens the task database at the given path, creating parent
// directories and applying migrations as needed.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for concurrent reads.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

const migrationV1Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	dependencies TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// migrate applies all pending schema migrations.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Tasks},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Create inserts a single task with status pending.
func (db *DB) Create(task *models.Task) error {
	return db.CreateBatch([]*models.Task{task})
}

// CreateBatch inserts a set of tasks atomically. The batch is validated
// against the existing task set before anything is written: duplicate
// IDs, unknown dependencies, and cycles all reject the whole batch.
func (db *DB) CreateBatch(tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	existing, err := db.listLocked("")
	if err != nil {
		return err
	}

	existingByID := make(map[string]*models.Task, len(existing))
	for _, t := range existing {
		existingByID[t.ID] = t
	}

	batchByID := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("create task: empty id")
		}
		if existingByID[t.ID] != nil || batchByID[t.ID] {
			return fmt.Errorf("create task %s: %w", t.ID, ErrDuplicateTask)
		}
		batchByID[t.ID] = true
	}

	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if existingByID[dep] == nil && !batchByID[dep] && dep != t.ID {
				return fmt.Errorf("task %s depends on %s: %w", t.ID, dep, ErrUnknownDependency)
			}
		}
	}

	// Cycle validation over the union of existing and new tasks.
	all := make([]*models.Task, 0, len(existing)+len(tasks))
	all = append(all, existing...)
	all = append(all, tasks...)
	g := graph.New()
	if err := g.Build(all); err != nil {
		return fmt.Errorf("create tasks: %w", ErrCyclicDependency)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	now := time.Now().UTC()
	for _, t := range tasks {
		t.Status = models.TaskStatusPending
		t.CreatedAt = now
		t.UpdatedAt = now

		deps, err := json.Marshal(t.Dependencies)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal dependencies for %s: %w", t.ID, err)
		}

		_, err = tx.Exec(
			`INSERT INTO tasks (id, title, description, status, dependencies, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Title, t.Description, string(t.Status), string(deps),
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

// Get returns the task with the given ID.
func (db *DB) Get(id string) (*models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(
		`SELECT id, title, description, status, dependencies, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

// Update mutates a single field and refreshes updated_at. Only title,
// description, and status may be updated; id, dependencies, and
// timestamps are immutable through this path.
func (db *DB) Update(id, field, value string) error {
	switch field {
	case "title", "description":
		return db.update(id, field, value)
	case "status":
		st := models.TaskStatus(value)
		if !st.Valid() {
			return fmt.Errorf("update task %s: status %q: %w", id, value, ErrInvalidStatus)
		}
		return db.update(id, field, value)
	default:
		return fmt.Errorf("update task %s: field %q: %w", id, field, ErrUnsupportedField)
	}
}

// SetStatus transitions a task's status and refreshes updated_at.
func (db *DB) SetStatus(id string, status models.TaskStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set status of %s: status %q: %w", id, status, ErrInvalidStatus)
	}
	return db.update(id, "status", string(status))
}

func (db *DB) update(id, column, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	// Column names are restricted by the callers above.
	res, err := db.conn.Exec(
		fmt.Sprintf("UPDATE tasks SET %s = ?, updated_at = ? WHERE id = ?", column),
		value, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update task %s: %w", id, ErrNotFound)
	}
	return nil
}

// List returns all tasks, optionally filtered by status.
func (db *DB) List(status models.TaskStatus) ([]*models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.listLocked(status)
}

// listLocked runs the list query. Caller must hold at least a read lock.
func (db *DB) listLocked(status models.TaskStatus) ([]*models.Task, error) {
	query := `SELECT id, title, description, status, dependencies, created_at, updated_at
		 FROM tasks`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at, id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Eligible returns pending tasks whose dependencies are all completed.
func (db *DB) Eligible() ([]*models.Task, error) {
	all, err := db.List("")
	if err != nil {
		return nil, err
	}

	statusOf := make(map[string]models.TaskStatus, len(all))
	for _, t := range all {
		statusOf[t.ID] = t.Status
	}

	var eligible []*models.Task
	for _, t := range all {
		ok := t.Eligible(func(id string) (models.TaskStatus, bool) {
			st, found := statusOf[id]
			return st, found
		})
		if ok {
			eligible = append(eligible, t)
		}
	}
	return eligible, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*models.Task, error) {
	var t models.Task
	var status, deps, createdAt, updatedAt string
	if err := s.Scan(&t.ID, &t.Title, &t.Description, &status, &deps, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	t.Status = models.TaskStatus(status)
	if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
		return nil, fmt.Errorf("unmarshal dependencies: %w", err)
	}

	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &t, nil
}

var _ TaskStore = (*DB)(nil)
