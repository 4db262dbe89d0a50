package cognitive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/model"
	"github.com/harunnryd/karakuri/internal/model/contract"
	"github.com/harunnryd/karakuri/internal/pathutil"
	"github.com/harunnryd/karakuri/internal/task"
)

// Planner synthesizes a plan for one instruction. Implementations are
// provider-specific but share this contract; planner failure is an error,
// never an empty plan.
type Planner interface {
	Plan(ctx context.Context, instruction string, taskCtx *task.Context) (task.Plan, error)
}

// LLMPlanner plans through a chat client, with a grounding heuristic
// before the call and a single format-repair retry after it.
type LLMPlanner struct {
	client model.Client
}

func NewPlanner(client model.Client) *LLMPlanner {
	return &LLMPlanner{client: client}
}

func (p *LLMPlanner) Plan(ctx context.Context, instruction string, taskCtx *task.Context) (task.Plan, error) {
	userPrompt := buildPlannerUserPrompt(
		instruction,
		taskCtx.GetString(task.KeyCurrentTime),
		taskCtx.GetString(task.KeyMemoryContext),
	)

	raw, err := p.client.Chat(ctx, []contract.Message{contract.User(userPrompt)}, contract.ChatOptions{
		System:      plannerSystemPrompt,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, karakuriErrors.Wrap(karakuriErrors.MapError(err), "planner chat")
	}

	plan, planErr := p.parseAndValidate(raw)
	if planErr != nil {
		slog.Warn("Planner output rejected; asking for format repair", "error", planErr)
		plan, planErr = p.repairFormat(ctx, raw, planErr)
		if planErr != nil {
			return nil, karakuriErrors.WrapWithCategory(planErr, "both planner attempts produced malformed output", karakuriErrors.ErrPlanning)
		}
	}

	plan = injectGroundingStep(plan, instruction, taskCtx)
	plan = applyToolPreferences(plan, instruction)
	return plan, nil
}

// repairFormat asks the model once to fix its own output format. A second
// failure propagates as ErrPlanning.
func (p *LLMPlanner) repairFormat(ctx context.Context, badOutput string, cause error) (task.Plan, error) {
	clipped := badOutput
	if len(clipped) > 4000 {
		clipped = clipped[:4000]
	}

	raw, err := p.client.Chat(ctx, []contract.Message{
		contract.User(fmt.Sprintf(formatRepairPrompt, clipped, cause.Error())),
	}, contract.ChatOptions{
		System:   plannerSystemPrompt,
		JSONMode: true,
	})
	if err != nil {
		return nil, karakuriErrors.Wrap(karakuriErrors.MapError(err), "format repair chat")
	}

	return p.parseAndValidate(raw)
}

func (p *LLMPlanner) parseAndValidate(raw string) (task.Plan, error) {
	steps, err := ExtractSteps(raw)
	if err != nil {
		return nil, err
	}

	plan := task.Plan(steps)
	for i, step := range plan {
		rewriteCommonMistakes(step)
		if err := task.ValidateStep(step); err != nil {
			return nil, karakuriErrors.Wrap(err, fmt.Sprintf("step %d", i))
		}
	}
	return plan, nil
}

// rewriteCommonMistakes fixes model slips that validation would otherwise
// reject: a file_move with delete intent and no destination is really a
// file_delete.
func rewriteCommonMistakes(step *task.Step) {
	if step == nil {
		return
	}
	lowerAction := strings.ToLower(step.Action)
	if step.Type == "file_move" && step.Param("target_dir") == "" && step.Param("target_path") == "" {
		if strings.Contains(lowerAction, "delete") || strings.Contains(lowerAction, "删除") {
			step.Type = "file_delete"
		}
	}
}

// File-operation keywords paired with a vague referent mean the model is
// guessing at file names; a list_files grounding step resolves the
// reference before anything destructive runs.
var fileOperationKeywords = []string{
	"删除", "移动", "复制", "重命名", "整理", "打开", "读取",
	"delete", "move", "copy", "rename", "organize", "open", "read",
}

var vagueReferents = []string{
	"那个文件", "这个文件", "那些文件", "刚才的", "上次的", "最新的",
	"that file", "the file", "those files", "the last one", "the latest",
	"the recent one",
}

func injectGroundingStep(plan task.Plan, instruction string, taskCtx *task.Context) task.Plan {
	lower := strings.ToLower(instruction)
	if !containsAny(lower, fileOperationKeywords...) || !containsAny(lower, vagueReferents...) {
		return plan
	}
	if len(plan) > 0 && plan[0].Type == "list_files" {
		return plan
	}

	dir := pathutil.WellKnownDir(instruction)
	if dir == "" {
		if attached := taskCtx.GetString(task.KeyAttachedPath); attached != "" {
			dir = filepath.Dir(attached)
		}
	}
	if dir == "" {
		dir = pathutil.Desktop()
	}

	grounding := &task.Step{
		Type:        "list_files",
		Action:      "列出目录文件",
		Params:      map[string]any{"directory": dir},
		Description: "Resolve the vague file reference before operating on it",
	}
	return append(task.Plan{grounding}, plan...)
}

// applyToolPreferences post-processes steps for instruction-level rules
// the model tends to drop, e.g. a requested screenshot save location.
func applyToolPreferences(plan task.Plan, instruction string) task.Plan {
	lower := strings.ToLower(instruction)
	wantsDesktop := strings.Contains(lower, "save to desktop") || strings.Contains(lower, "保存到桌面") || strings.Contains(lower, "存到桌面")

	for _, step := range plan {
		if wantsDesktop && (step.Type == "screenshot_desktop" || step.Type == "browser_screenshot") && step.Param("save_path") == "" {
			step.Params["save_path"] = pathutil.Desktop()
		}
	}
	return plan
}

func containsAny(text string, needles ...string) bool {
	for _, needle := range needles {
		if needle != "" && strings.Contains(text, needle) {
			return true
		}
	}
	return false
}

// describePlan renders a compact JSON view for plan_ready events and logs.
func describePlan(plan task.Plan) string {
	b, err := json.Marshal(plan.Compact())
	if err != nil {
		return "[]"
	}
	return string(b)
}
