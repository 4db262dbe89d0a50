// Package orchestrator owns the top-level flow of one task: config
// refresh, fast-path routing, memory context, planning, execution and
// recording. Every run terminates in a TaskResult; panics are converted
// to a Critical Error result so the service loop's one-result contract
// holds.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/harunnryd/karakuri/internal/cognitive"
	"github.com/harunnryd/karakuri/internal/config"
	"github.com/harunnryd/karakuri/internal/embedding"
	"github.com/harunnryd/karakuri/internal/executor"
	"github.com/harunnryd/karakuri/internal/intent"
	"github.com/harunnryd/karakuri/internal/logger"
	"github.com/harunnryd/karakuri/internal/memory"
	"github.com/harunnryd/karakuri/internal/model"
	"github.com/harunnryd/karakuri/internal/protocol"
	"github.com/harunnryd/karakuri/internal/task"
	"github.com/harunnryd/karakuri/internal/tool"
)

// EmbeddingWait bounds how long the first task waits for the embedding
// model before planning without vector recall.
const EmbeddingWait = 60 * time.Second

// TaskBinder ties per-task side channels (user input, maintenance
// idle tracking) to the current task.
type TaskBinder interface {
	BindTask(taskID string)
}

// Orchestrator runs tasks one at a time.
type Orchestrator struct {
	cfg      *config.Store
	writer   *protocol.Writer
	registry *tool.Registry
	executor *executor.Executor
	router   *intent.Router
	memory   *memory.Manager
	embedder *embedding.Provider
	binder   TaskBinder

	// Swappable for tests; defaults build real LLM-backed components.
	buildClient  func(provider, modelName, apiKey string) (model.Client, error)
	newPlanner   func(client model.Client) cognitive.Planner
	newReflector func(client model.Client) cognitive.Reflector

	waitedForEmbedder bool
}

func New(cfg *config.Store, writer *protocol.Writer, registry *tool.Registry, exec *executor.Executor, router *intent.Router, mem *memory.Manager, embedder *embedding.Provider, binder TaskBinder) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		writer:       writer,
		registry:     registry,
		executor:     exec,
		router:       router,
		memory:       mem,
		embedder:     embedder,
		binder:       binder,
		buildClient:  model.NewClient,
		newPlanner:   func(c model.Client) cognitive.Planner { return cognitive.NewPlanner(c) },
		newReflector: func(c model.Client) cognitive.Reflector { return cognitive.NewReflector(c) },
	}
}

// Run executes one instruction end to end.
func (o *Orchestrator) Run(ctx context.Context, taskID, instruction string, callerCtx map[string]any) (result *task.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Task panicked", "task", taskID, "panic", r, "stack", string(debug.Stack()))
			result = &task.TaskResult{
				Success:         false,
				Message:         fmt.Sprintf("Critical Error: %v", r),
				UserInstruction: instruction,
			}
		}
	}()

	if err := o.cfg.Reload(); err != nil {
		slog.Warn("Config reload failed; keeping previous snapshot", "error", err)
	}
	planner := o.refreshCognition()

	if o.binder != nil {
		o.binder.BindTask(taskID)
	}
	o.registry.BindProgress(func(message string, data map[string]any) {
		o.writer.Emit(protocol.Event{
			Type:    protocol.EventProgress,
			ID:      taskID,
			Message: message,
			Data:    data,
		})
	})
	defer o.registry.BindProgress(nil)

	ctx = logger.WithTaskID(ctx, taskID)

	taskCtx := task.NewContext()
	taskCtx.Merge(callerCtx)

	// The first task gives the embedding model a bounded window to come
	// up; after that, not-ready simply means no vector recall.
	if o.embedder != nil && !o.waitedForEmbedder {
		o.waitedForEmbedder = true
		o.embedder.WaitUntilReady(EmbeddingWait)
	}

	if plan, ok := o.fastPath(ctx, taskID, instruction); ok {
		result = o.executor.ExecutePlan(ctx, taskID, plan, instruction, taskCtx)
		result.Mode = "fast_path"
		o.record(instruction, plan, result)
		return result
	}

	if o.memory != nil {
		if mc := o.memory.GetContext(ctx, instruction, taskCtx); mc != "" {
			taskCtx.Set(task.KeyMemoryContext, mc)
		}
	}

	o.thinking(taskID, "planning", "Planning the task")
	if planner == nil {
		return &task.TaskResult{
			Success:         false,
			Message:         "Planning failed: no language model configured; set provider and api_key",
			UserInstruction: instruction,
		}
	}

	plan, err := planner.Plan(ctx, instruction, taskCtx)
	if err != nil {
		result = &task.TaskResult{
			Success:         false,
			Message:         "Planning failed: " + err.Error(),
			UserInstruction: instruction,
		}
		o.record(instruction, nil, result)
		return result
	}

	o.writer.Typed(protocol.EventPlanReady, taskID, map[string]any{
		"steps": plan.Compact(),
	})

	result = o.executor.ExecutePlan(ctx, taskID, plan, instruction, taskCtx)
	o.record(instruction, plan, result)
	return result
}

// refreshCognition rebuilds the planner and reflector from the current
// provider config. Returns nil when no client can be built; the fast
// path still works without one.
func (o *Orchestrator) refreshCognition() cognitive.Planner {
	client, err := o.buildClient(o.cfg.Provider(), o.cfg.Model(), o.cfg.APIKey())
	if err != nil {
		slog.Warn("No usable model client", "provider", o.cfg.Provider(), "error", err)
		o.executor.SetReflector(nonRetryableReflector{})
		return nil
	}
	o.executor.SetReflector(o.newReflector(client))
	return o.newPlanner(client)
}

// nonRetryableReflector stands in when no model client exists; every
// failure surfaces immediately.
type nonRetryableReflector struct{}

func (nonRetryableReflector) AnalyzeFailure(context.Context, *task.Step, string, string) *task.ReflectionVerdict {
	return &task.ReflectionVerdict{IsRetryable: false, Reason: "no language model configured"}
}

// fastPath synthesizes a one-step plan when the router is confident.
func (o *Orchestrator) fastPath(ctx context.Context, taskID, instruction string) (task.Plan, bool) {
	if o.router == nil {
		return nil, false
	}
	match := o.router.Detect(ctx, instruction, intent.DefaultThreshold)
	if match == nil {
		return nil, false
	}

	step := &task.Step{
		Type:   match.Metadata.StepType,
		Action: match.Metadata.Action,
		Params: map[string]any{},
	}
	for k, v := range match.Metadata.Params {
		step.Params[k] = v
	}

	switch match.IntentType {
	case "app_open", "app_close":
		name := extractAppName(instruction)
		if name == "" {
			// Cannot tell which app; let the planner figure it out.
			return nil, false
		}
		step.Params["app_name"] = name
	}

	o.thinking(taskID, "fast_path", fmt.Sprintf("Matched intent %s (%.2f)", match.IntentType, match.Confidence))
	return task.Plan{step}, true
}

func (o *Orchestrator) thinking(taskID, phase, message string) {
	o.writer.Emit(protocol.Event{
		Type:    protocol.EventThinking,
		ID:      taskID,
		Message: message,
		Data:    map[string]any{"phase": phase},
	})
}

func (o *Orchestrator) record(instruction string, plan task.Plan, result *task.TaskResult) {
	if o.memory == nil {
		return
	}
	o.memory.RecordTask(instruction, plan, result, filesInvolved(result))
}

// filesInvolved collects file paths touched by executed steps for the
// task record.
func filesInvolved(result *task.TaskResult) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, dup := seen[path]; dup {
			return
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}

	for _, es := range result.Steps {
		if es.Result == nil {
			continue
		}
		for _, key := range []string{"file_path", "save_path", "zip_path", "target_path"} {
			if s, ok := es.Result.Data[key].(string); ok {
				add(s)
			}
		}
		for _, img := range es.Result.Images {
			add(img)
		}
	}
	return out
}

// appNamePrefixes are the verb phrases stripped before the app name.
// Longer prefixes first so "launch the" wins over "launch".
var appNamePrefixes = []string{
	"please open the", "please open", "open up the", "open up", "open the", "open",
	"launch the", "launch", "start the", "start",
	"close the", "close", "quit the", "quit", "exit the", "exit", "kill the", "kill",
	"帮我打开", "打开", "启动", "运行",
	"帮我关闭", "关闭", "关掉", "退出",
}

var appNameSuffixes = []string{"app", "application", "应用", "程序"}

// extractAppName pulls the application name out of an open/close
// instruction; "" abandons the fast path.
func extractAppName(instruction string) string {
	text := strings.TrimSpace(instruction)
	lower := strings.ToLower(text)

	for _, prefix := range appNamePrefixes {
		if strings.HasPrefix(lower, prefix) {
			text = strings.TrimSpace(text[len(prefix):])
			break
		}
	}

	lower = strings.ToLower(text)
	for _, suffix := range appNameSuffixes {
		if strings.HasSuffix(lower, suffix) {
			text = strings.TrimSpace(text[:len(text)-len(suffix)])
			break
		}
	}

	return strings.Trim(text, " .,!?。，！？")
}
