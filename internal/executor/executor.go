// Package executor runs plans step by step through the adapter
// registry, with reflection-driven retry and protocol events for every
// transition. No adapter failure or panic escapes as a Go error; every
// path ends in a StepResult.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/harunnryd/karakuri/internal/cognitive"
	"github.com/harunnryd/karakuri/internal/protocol"
	"github.com/harunnryd/karakuri/internal/task"
	"github.com/harunnryd/karakuri/internal/tool"
)

// DefaultMaxAttempts bounds the per-step retry loop.
const DefaultMaxAttempts = 3

// dangerousTypes are irreversible actions gated behind user
// confirmation unless auto_confirm is set.
var dangerousTypes = map[string]string{
	"file_delete":           "delete files",
	"manage_emails":         "modify emails",
	"execute_python_script": "run a script",
}

// Confirmer is the blocking confirmation channel; userinput.Requester
// implements it.
type Confirmer interface {
	Request(ctx context.Context, req protocol.InputRequest) (map[string]string, error)
}

// Settings is the slice of config the executor reads per step.
type Settings interface {
	AutoConfirm() bool
}

// Executor dispatches plan steps sequentially.
type Executor struct {
	registry  *tool.Registry
	reflector cognitive.Reflector
	writer    *protocol.Writer
	confirmer Confirmer
	settings  Settings

	maxAttempts int
	sleep       func(time.Duration)
}

func New(registry *tool.Registry, reflector cognitive.Reflector, writer *protocol.Writer, confirmer Confirmer, settings Settings) *Executor {
	return &Executor{
		registry:    registry,
		reflector:   reflector,
		writer:      writer,
		confirmer:   confirmer,
		settings:    settings,
		maxAttempts: DefaultMaxAttempts,
		sleep:       time.Sleep,
	}
}

// SetReflector swaps the reflector; the orchestrator rebuilds it when
// the provider config changes.
func (e *Executor) SetReflector(r cognitive.Reflector) {
	e.reflector = r
}

// ExecutePlan runs every step in order, stopping at the first failure
// or when the stop flag is raised.
func (e *Executor) ExecutePlan(ctx context.Context, taskID string, plan task.Plan, instruction string, taskCtx *task.Context) *task.TaskResult {
	start := time.Now()
	e.writer.Typed(protocol.EventExecutionStarted, taskID, map[string]any{
		"step_count": len(plan),
	})

	result := &task.TaskResult{
		Success:         true,
		UserInstruction: instruction,
	}

	for i, step := range plan {
		if taskCtx.Stopped() {
			result.Success = false
			result.Message = "Task stopped by user"
			break
		}

		e.writer.Typed(protocol.EventStepStarted, taskID, map[string]any{
			"step_index": i,
			"step": map[string]any{
				"type":        step.Type,
				"action":      step.Action,
				"description": step.Description,
			},
		})

		stepResult := e.executeStepWithRetry(ctx, taskID, step, instruction, taskCtx)
		result.Steps = append(result.Steps, task.ExecutedStep{Index: i, Step: step, Result: stepResult})

		if stepResult.Success {
			e.writer.Typed(protocol.EventStepCompleted, taskID, map[string]any{
				"step_index": i,
				"message":    stepResult.Message,
				"data":       stepResult.Data,
			})
			result.Message = stepResult.Message
			continue
		}

		e.writer.Typed(protocol.EventStepFailed, taskID, map[string]any{
			"step_index": i,
			"message":    stepResult.Message,
		})
		result.Success = false
		result.Message = stepResult.Message
		break
	}

	if result.Message == "" {
		result.Message = "Nothing to do"
	}
	result.Duration = time.Since(start).Seconds()
	return result
}

func (e *Executor) executeStepWithRetry(ctx context.Context, taskID string, step *task.Step, instruction string, taskCtx *task.Context) *task.StepResult {
	current := step
	var last *task.StepResult

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		adapter, err := e.registry.Resolve(current)
		if err != nil {
			return task.Fail(err.Error())
		}

		if attempt == 1 {
			if denied := e.confirmDangerous(ctx, current); denied != nil {
				return denied
			}
		}

		last = e.executeSafely(ctx, adapter, current, taskCtx)
		if last.Success {
			return last
		}
		// Config and user-action failures cannot be fixed by rewriting
		// the step; surface them immediately.
		if last.IsConfigError() || last.RequiresUserAction() {
			return last
		}
		if attempt == e.maxAttempts {
			return last
		}

		verdict := e.reflector.AnalyzeFailure(ctx, current, last.Message, contextSummary(instruction, taskCtx))
		if verdict != nil && verdict.IsRetryable && verdict.ModifiedStep != nil {
			current = verdict.ModifiedStep
			e.writer.Emit(protocol.Event{
				Type:    protocol.EventThinking,
				ID:      taskID,
				Message: "applying reflection: " + verdict.Reason,
				Data:    map[string]any{"phase": "reflection"},
			})
		} else {
			// Transient wait before retrying the unmodified step.
			e.sleep(time.Second)
		}
	}
	return last
}

func (e *Executor) executeSafely(ctx context.Context, adapter tool.Adapter, step *task.Step, taskCtx *task.Context) (result *task.StepResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Adapter panicked", "adapter", adapter.Name(), "type", step.Type, "panic", r, "stack", string(debug.Stack()))
			result = task.Fail(fmt.Sprintf("adapter %s panicked: %v", adapter.Name(), r))
		}
	}()
	return adapter.Execute(ctx, step, taskCtx)
}

func (e *Executor) confirmDangerous(ctx context.Context, step *task.Step) *task.StepResult {
	what, dangerous := dangerousTypes[step.Type]
	if !dangerous || e.confirmer == nil {
		return nil
	}
	if e.settings != nil && e.settings.AutoConfirm() {
		return nil
	}

	values, err := e.confirmer.Request(ctx, protocol.InputRequest{
		Type:    protocol.InputCustom,
		Title:   "Confirmation required",
		Message: fmt.Sprintf("The task wants to %s (%s). Continue?", what, step.Action),
		Fields: []protocol.InputField{
			{Name: "confirmed", Label: "Type yes to continue"},
		},
	})
	if err != nil {
		return task.FailData("user declined: "+step.Type, map[string]any{"requires_user_action": true})
	}
	answer := strings.ToLower(strings.TrimSpace(values["confirmed"]))
	switch answer {
	case "yes", "y", "true", "ok", "confirm":
		return nil
	}
	return task.FailData("user declined: "+step.Type, map[string]any{"requires_user_action": true})
}

// contextSummary gives the reflector enough situation to rewrite a step
// without shipping the whole context.
func contextSummary(instruction string, taskCtx *task.Context) string {
	var sb strings.Builder
	sb.WriteString("instruction: ")
	sb.WriteString(instruction)
	if taskCtx != nil {
		if attached := taskCtx.GetString(task.KeyAttachedPath); attached != "" {
			sb.WriteString("\nattached_path: ")
			sb.WriteString(attached)
		}
		if v, ok := taskCtx.Get(task.KeyRecentFiles); ok {
			if names, ok := v.([]string); ok && len(names) > 0 {
				sb.WriteString("\nrecent_files: ")
				sb.WriteString(strings.Join(names, ", "))
			}
		}
	}
	return sb.String()
}
