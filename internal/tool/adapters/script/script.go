// Package script runs user-facing python scripts through the sandbox
// validation pipeline before real execution.
package script

import (
	"context"
	"errors"
	"time"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/sandbox"
	"github.com/harunnryd/karakuri/internal/task"
	"github.com/harunnryd/karakuri/internal/tool"
)

// Adapter owns execute_python_script.
type Adapter struct {
	validator *sandbox.Validator
	runner    *sandbox.Runner
	registry  *tool.Registry
}

func New(validator *sandbox.Validator, runner *sandbox.Runner, registry *tool.Registry) *Adapter {
	return &Adapter{validator: validator, runner: runner, registry: registry}
}

func (a *Adapter) Name() string    { return "script" }
func (a *Adapter) Types() []string { return []string{"execute_python_script"} }

func (a *Adapter) Execute(ctx context.Context, step *task.Step, _ *task.Context) *task.StepResult {
	script := step.Param("script")
	if script == "" {
		script = step.Param("code")
	}
	if script == "" {
		return task.Fail("execute_python_script needs script")
	}

	if !a.runner.Available() {
		return task.FailData("no python interpreter installed", map[string]any{
			"requires_user_action": true,
		})
	}

	if err := a.validator.Validate(ctx, script); err != nil {
		// Validation failures are retryable through reflection; the
		// reflector sees the reason and may rewrite the script.
		return task.Fail("script validation failed: " + err.Error())
	}

	if a.registry != nil {
		a.registry.Progress("Script validated; executing", nil)
	}

	start := time.Now()
	output, err := a.runner.Run(ctx, script)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if errors.Is(err, karakuriErrors.ErrResourceMissing) {
			return task.FailData(err.Error(), map[string]any{"requires_user_action": true})
		}
		return &task.StepResult{
			Success:       false,
			Message:       err.Error(),
			Error:         err.Error(),
			Data:          map[string]any{"output": output},
			ExecutionTime: elapsed,
		}
	}

	message := "Script executed"
	if output != "" {
		message = output
	}
	return &task.StepResult{
		Success:       true,
		Message:       message,
		Data:          map[string]any{"output": output},
		ExecutionTime: elapsed,
	}
}
