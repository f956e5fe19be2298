package models

import (
	"encoding/json"
	"fmt"
)

// ResultStatus is the terminal outcome of processing one work item.
type ResultStatus string

const (
	// ResultSuccess indicates the work item was applied and committed.
	ResultSuccess ResultStatus = "success"
	// ResultFailed indicates all attempts were exhausted.
	ResultFailed ResultStatus = "failed"
)

// WorkItem is one unit of dispatchable work on the work queue.
// Branch doubles as the version-control branch name and, by convention,
// the ID of the tracking task.
type WorkItem struct {
	Branch      string   `json:"branch"`
	Instruction string   `json:"instruction"`
	Goal        string   `json:"goal,omitempty"`
	TargetPaths []string `json:"target_paths,omitempty"`
}

// Encode serializes the item for the wire.
func (w WorkItem) Encode() ([]byte, error) {
	return json.Marshal(w)
}

// DecodeWorkItem parses a work item payload. An item without a branch is
// rejected, since the branch keys everything downstream.
func DecodeWorkItem(payload []byte) (WorkItem, error) {
	var w WorkItem
	if err := json.Unmarshal(payload, &w); err != nil {
		return WorkItem{}, fmt.Errorf("decode work item: %w", err)
	}
	if w.Branch == "" {
		return WorkItem{}, fmt.Errorf("decode work item: missing branch")
	}
	return w, nil
}

// ResultItem is the outcome of processing one work item, pushed onto the
// results queue. Exactly one result is produced per consumed work item
// under non-crash execution. Patch is set on success, Error on failure.
type ResultItem struct {
	Branch      string       `json:"branch"`
	Instruction string       `json:"instruction"`
	Status      ResultStatus `json:"status"`
	Patch       string       `json:"patch,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Encode serializes the item for the wire.
func (r ResultItem) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResultItem parses a result item payload.
func DecodeResultItem(payload []byte) (ResultItem, error) {
	var r ResultItem
	if err := json.Unmarshal(payload, &r); err != nil {
		return ResultItem{}, fmt.Errorf("decode result item: %w", err)
	}
	if r.Branch == "" {
		return ResultItem{}, fmt.Errorf("decode result item: missing branch")
	}
	return r, nil
}
