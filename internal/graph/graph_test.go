package graph

import (
	"errors"
	"sort"
	"testing"

	"github.com/skystarved/foreman/pkg/models"
)

func TestBuildSimple(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "t1", Title: "Task 1", Status: models.TaskStatusPending},
		{ID: "t2", Title: "Task 2", Status: models.TaskStatusPending},
		{ID: "t3", Title: "Task 3", Status: models.TaskStatusPending},
	}

	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Size() != 3 {
		t.Errorf("expected size 3, got %d", g.Size())
	}
}

func TestBuildWithDependencies(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "t1", Status: models.TaskStatusPending},
		{ID: "t2", Status: models.TaskStatusPending, Dependencies: []string{"t1"}},
		{ID: "t3", Status: models.TaskStatusPending, Dependencies: []string{"t1", "t2"}},
	}

	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if deps := g.Dependencies("t3"); len(deps) != 2 {
		t.Errorf("expected 2 dependencies for t3, got %d", len(deps))
	}
	if dependents := g.Dependents("t1"); len(dependents) != 2 {
		t.Errorf("expected 2 dependents of t1, got %d", len(dependents))
	}
}

func TestBuildUnknownDependency(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "t1", Status: models.TaskStatusPending, Dependencies: []string{"missing"}},
	}

	if err := g.Build(tasks); err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestCycleDetectionSelfLoop(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "a", Status: models.TaskStatusPending, Dependencies: []string{"a"}},
	}

	if err := g.Build(tasks); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected for self-loop, got %v", err)
	}
}

func TestCycleDetectionThreeNodes(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "a", Status: models.TaskStatusPending, Dependencies: []string{"b"}},
		{ID: "b", Status: models.TaskStatusPending, Dependencies: []string{"c"}},
		{ID: "c", Status: models.TaskStatusPending, Dependencies: []string{"a"}},
	}

	if err := g.Build(tasks); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected for a->b->c->a cycle, got %v", err)
	}
}

func TestReadyRespectsDependencies(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "t1", Status: models.TaskStatusPending},
		{ID: "t2", Status: models.TaskStatusPending, Dependencies: []string{"t1"}},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ready := g.Ready()
	if len(ready) != 1 || ready[0] != "t1" {
		t.Fatalf("expected only t1 ready, got %v", ready)
	}

	g.MarkComplete("t1")
	ready = g.Ready()
	if len(ready) != 1 || ready[0] != "t2" {
		t.Fatalf("expected only t2 ready after t1 completes, got %v", ready)
	}
}

func TestReadySkipsTerminalTasks(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "done", Status: models.TaskStatusCompleted},
		{ID: "dead", Status: models.TaskStatusFailed},
		{ID: "live", Status: models.TaskStatusPending},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ready := g.Ready()
	if len(ready) != 1 || ready[0] != "live" {
		t.Errorf("expected only live ready, got %v", ready)
	}
}

func TestReadyNeverIncludesBlockedByFailed(t *testing.T) {
	// A dependent of a failed task must never become ready.
	g := New()
	tasks := []*models.Task{
		{ID: "t1", Status: models.TaskStatusFailed},
		{ID: "t2", Status: models.TaskStatusPending, Dependencies: []string{"t1"}},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ready := g.Ready(); len(ready) != 0 {
		t.Errorf("expected no ready tasks, got %v", ready)
	}
}

func TestTopologicalSort(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "t3", Status: models.TaskStatusPending, Dependencies: []string{"t2"}},
		{ID: "t2", Status: models.TaskStatusPending, Dependencies: []string{"t1"}},
		{ID: "t1", Status: models.TaskStatusPending},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if !(pos["t1"] < pos["t2"] && pos["t2"] < pos["t3"]) {
		t.Errorf("expected t1 < t2 < t3 in topological order, got %v", order)
	}

	sorted := append([]string(nil), order...)
	sort.Strings(sorted)
	if len(sorted) != 3 {
		t.Errorf("expected all 3 tasks in order, got %v", order)
	}
}

func TestTopologicalSortCycle(t *testing.T) {
	g := New()
	tasks := []*models.Task{
		{ID: "a", Status: models.TaskStatusPending, Dependencies: []string{"b"}},
		{ID: "b", Status: models.TaskStatusPending, Dependencies: []string{"a"}},
	}
	// Build already rejects the cycle.
	if err := g.Build(tasks); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}
