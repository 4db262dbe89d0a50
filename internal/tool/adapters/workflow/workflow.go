// Package workflow exposes saved step sequences as agent steps. The
// executor expands a saved workflow by name; this adapter only manages
// the store.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/task"
	workflowstore "github.com/harunnryd/karakuri/internal/workflow"
)

// Adapter executes the workflow step family.
type Adapter struct {
	store *workflowstore.Store
}

func New(store *workflowstore.Store) *Adapter {
	return &Adapter{store: store}
}

func (a *Adapter) Name() string    { return "workflow" }
func (a *Adapter) Types() []string { return task.WorkflowTypes }

func (a *Adapter) Execute(_ context.Context, step *task.Step, _ *task.Context) *task.StepResult {
	switch step.Type {
	case "create_workflow":
		return a.create(step)
	case "list_workflows":
		return a.list()
	case "delete_workflow":
		return a.delete(step)
	default:
		return task.Fail("workflow adapter cannot handle type: " + step.Type)
	}
}

func (a *Adapter) create(step *task.Step) *task.StepResult {
	name := step.Param("name")
	if name == "" {
		name = step.Param("workflow_name")
	}

	steps, err := decodeSteps(step.Params["steps"])
	if err != nil {
		return task.Fail(err.Error())
	}

	w, err := a.store.Create(name, step.Param("description"), steps)
	if err != nil {
		return task.Fail("cannot create workflow: " + err.Error())
	}
	return task.Ok(fmt.Sprintf("Workflow %q saved with %d steps", w.Name, len(w.Steps)), map[string]any{
		"id":   w.ID,
		"name": w.Name,
	})
}

func (a *Adapter) list() *task.StepResult {
	workflows := a.store.List()
	if len(workflows) == 0 {
		return task.Ok("No workflows saved", map[string]any{"count": 0})
	}

	lines := make([]string, 0, len(workflows))
	listed := make([]map[string]any, 0, len(workflows))
	for _, w := range workflows {
		line := fmt.Sprintf("%s (%d steps)", w.Name, len(w.Steps))
		if w.Description != "" {
			line += " — " + w.Description
		}
		lines = append(lines, line)
		listed = append(listed, map[string]any{
			"id":    w.ID,
			"name":  w.Name,
			"steps": len(w.Steps),
		})
	}
	return task.Ok(fmt.Sprintf("%d workflows\n%s", len(workflows), strings.Join(lines, "\n")), map[string]any{
		"count":     len(workflows),
		"workflows": listed,
	})
}

func (a *Adapter) delete(step *task.Step) *task.StepResult {
	target := step.Param("name")
	if target == "" {
		target = step.Param("id")
	}
	if target == "" {
		return task.Fail("delete_workflow needs name or id")
	}

	if err := a.store.Delete(target); err != nil {
		if errors.Is(err, karakuriErrors.ErrNotFound) {
			return task.Fail("no workflow named " + target)
		}
		return task.Fail("cannot delete workflow: " + err.Error())
	}
	return task.Ok("Workflow deleted: "+target, nil)
}

// decodeSteps converts the planner's loose JSON step list into typed
// steps; the store validates them afterwards.
func decodeSteps(raw any) ([]*task.Step, error) {
	if raw == nil {
		return nil, fmt.Errorf("create_workflow needs steps")
	}
	if typed, ok := raw.([]*task.Step); ok {
		return typed, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid steps: %w", err)
	}
	var steps []*task.Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("invalid steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("create_workflow needs steps")
	}
	return steps, nil
}
