package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/skystarved/foreman/internal/exec"
	"github.com/skystarved/foreman/pkg/models"
)

// Plan is the decomposition of a goal: the task graph plus the work
// items that realize it. Every item's branch must match a task ID in
// the same plan.
type Plan struct {
	Tasks []*models.Task    `json:"tasks"`
	Items []models.WorkItem `json:"items"`
}

// Validate checks internal consistency of a plan. Dependency cycles
// and unknown references are caught later by the task store; this only
// verifies the item/task pairing.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan contains no tasks")
	}
	ids := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("plan task without an id")
		}
		ids[t.ID] = true
	}
	for _, item := range p.Items {
		if !ids[item.Branch] {
			return fmt.Errorf("work item branch %q matches no plan task", item.Branch)
		}
	}
	return nil
}

// Item returns the work item for a task, synthesizing one from the
// task itself when the plan does not carry an explicit item.
func (p *Plan) Item(task *models.Task) models.WorkItem {
	for _, item := range p.Items {
		if item.Branch == task.ID {
			return item
		}
	}
	instruction := task.Description
	if instruction == "" {
		instruction = task.Title
	}
	return models.WorkItem{Branch: task.ID, Instruction: instruction}
}

// Planner turns a goal into a plan. The planning service itself (an
// LLM, a script, a hand-written file) is outside this system.
type Planner interface {
	Plan(ctx context.Context, goal string) (*Plan, error)
}

// plannerRequest is the JSON document written to the planner's stdin.
type plannerRequest struct {
	Goal string `json:"goal"`
}

// CommandPlanner invokes a configured shell command as the planning
// service. The goal is written to stdin as JSON; stdout must be a plan
// document.
type CommandPlanner struct {
	runner  exec.CommandRunner
	command string
	workDir string
}

// NewCommandPlanner creates a planner backed by the given shell command.
func NewCommandPlanner(runner exec.CommandRunner, command, workDir string) *CommandPlanner {
	return &CommandPlanner{runner: runner, command: command, workDir: workDir}
}

// Plan runs the planner command and parses its output.
func (p *CommandPlanner) Plan(ctx context.Context, goal string) (*Plan, error) {
	if p.command == "" {
		return nil, fmt.Errorf("no planner command configured")
	}

	req, err := json.Marshal(plannerRequest{Goal: goal})
	if err != nil {
		return nil, fmt.Errorf("encode planner request: %w", err)
	}

	out, err := p.runner.RunShellInput(ctx, p.workDir, req, p.command)
	if err != nil {
		return nil, fmt.Errorf("planner command: %w: %s", err, strings.TrimSpace(string(out)))
	}

	return parsePlan(out)
}

// FilePlanner loads a pre-written plan document instead of calling a
// planning service. Used when the operator has the decomposition in
// hand.
type FilePlanner struct {
	path string
}

// NewFilePlanner creates a planner that reads the plan from a file.
func NewFilePlanner(path string) *FilePlanner {
	return &FilePlanner{path: path}
}

// Plan loads and validates the plan file. The goal is recorded on each
// work item but does not influence the plan.
func (p *FilePlanner) Plan(ctx context.Context, goal string) (*Plan, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	plan, err := parsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("plan file %s: %w", p.path, err)
	}
	for i := range plan.Items {
		if plan.Items[i].Goal == "" {
			plan.Items[i].Goal = goal
		}
	}
	return plan, nil
}

func parsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

var (
	_ Planner = (*CommandPlanner)(nil)
	_ Planner = (*FilePlanner)(nil)
)
