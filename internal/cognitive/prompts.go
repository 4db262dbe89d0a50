package cognitive

import (
	"fmt"
	"strings"

	"github.com/harunnryd/karakuri/internal/task"
)

const plannerSystemPrompt = `You are the planning engine of a desktop automation agent. You turn one
user instruction into an ordered JSON list of executable steps.

Rules:
- Output ONLY a JSON array of steps. No prose, no markdown fences.
- Each step: {"type": ..., "action": ..., "params": {...}, "description": ...}.
- "type" MUST be one of the registered step types listed below.
- "action" is a short human-readable label in the user's language.
- "params" holds literal values only. NEVER emit placeholder tokens such as
  [FILE_PATH], [...], TODO, or extract_from_context_or_ask_user. If a value
  cannot be determined, first add a step that discovers it (for example
  list_files), then reference the discovered value in a later step's
  description.
- Do not invent step types. "file_manager" and "app_control" are not types.
- Prefer the fewest steps that satisfy the instruction.`

const plannerUserTemplate = `Current time: %s

%sRegistered step types:
%s

User instruction: %s

Respond with the JSON step array now.`

const formatRepairPrompt = `Your previous output could not be parsed as a valid step array:
%s

Problem: %s

Return ONLY the corrected JSON array of steps. No explanation, no fences,
no placeholder tokens.`

const reflectorSystemPrompt = `You are the failure analyst of a desktop automation agent. A step failed
and you decide whether retrying with a corrected step can help.

Classify the error first. Mark it NON-retryable when fixing it requires the
user: a missing API key, a missing native dependency or system package, or
a capability the configured provider lacks (for example a vision request
against a non-vision model).

Respond ONLY with a JSON object:
{"is_retryable": bool, "modified_step": {...} | null, "reason": "..."}

Rules:
- is_retryable true REQUIRES a fully-formed modified_step with literal
  params. Placeholder tokens like [VALUE] or TODO are forbidden.
- Keep the original "type" unless the tool itself was misidentified.
- is_retryable false REQUIRES modified_step null.`

const reflectorUserTemplate = `Failed step:
%s

Error:
%s

Task context:
%s

Return the verdict object now.`

func buildPlannerUserPrompt(instruction, currentTime, memoryContext string) string {
	memoryBlock := ""
	if strings.TrimSpace(memoryContext) != "" {
		memoryBlock = fmt.Sprintf("Relevant memory from earlier tasks:\n%s\n\n", memoryContext)
	}
	return fmt.Sprintf(plannerUserTemplate,
		currentTime,
		memoryBlock,
		strings.Join(task.RegisteredTypes(), ", "),
		instruction,
	)
}
