package models

import "testing"

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"in_progress is valid", TaskStatusInProgress, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("unknown"), false},
		{"typo status is invalid", TaskStatus("pendingg"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusInProgress, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("TaskStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTask_Eligible(t *testing.T) {
	statuses := map[string]TaskStatus{
		"done":    TaskStatusCompleted,
		"open":    TaskStatusPending,
		"broken":  TaskStatusFailed,
		"working": TaskStatusInProgress,
	}
	statusOf := func(id string) (TaskStatus, bool) {
		s, ok := statuses[id]
		return s, ok
	}

	tests := []struct {
		name string
		task Task
		want bool
	}{
		{"no dependencies", Task{ID: "a", Status: TaskStatusPending}, true},
		{"all dependencies completed", Task{ID: "a", Status: TaskStatusPending, Dependencies: []string{"done"}}, true},
		{"pending dependency", Task{ID: "a", Status: TaskStatusPending, Dependencies: []string{"open"}}, false},
		{"failed dependency", Task{ID: "a", Status: TaskStatusPending, Dependencies: []string{"broken"}}, false},
		{"in-progress dependency", Task{ID: "a", Status: TaskStatusPending, Dependencies: []string{"working"}}, false},
		{"one unmet among many", Task{ID: "a", Status: TaskStatusPending, Dependencies: []string{"done", "open"}}, false},
		{"unknown dependency", Task{ID: "a", Status: TaskStatusPending, Dependencies: []string{"ghost"}}, false},
		{"already in progress", Task{ID: "a", Status: TaskStatusInProgress}, false},
		{"already completed", Task{ID: "a", Status: TaskStatusCompleted}, false},
		{"already failed", Task{ID: "a", Status: TaskStatusFailed}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.Eligible(statusOf); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}
