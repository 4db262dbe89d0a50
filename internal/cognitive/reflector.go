package cognitive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/model"
	"github.com/harunnryd/karakuri/internal/model/contract"
	"github.com/harunnryd/karakuri/internal/task"
)

// Reflector analyzes one failed step and may rewrite it for a retry.
type Reflector interface {
	AnalyzeFailure(ctx context.Context, step *task.Step, errorMessage, contextSummary string) *task.ReflectionVerdict
}

// LLMReflector implements reflection through a chat client. It never
// returns an error: a malformed verdict degrades to non-retryable so the
// executor surfaces the underlying failure instead.
type LLMReflector struct {
	client model.Client
}

func NewReflector(client model.Client) *LLMReflector {
	return &LLMReflector{client: client}
}

func (r *LLMReflector) AnalyzeFailure(ctx context.Context, step *task.Step, errorMessage, contextSummary string) *task.ReflectionVerdict {
	stepJSON, err := json.Marshal(step)
	if err != nil {
		return reflectorError(fmt.Sprintf("marshal failed step: %v", err))
	}

	raw, err := r.client.Chat(ctx, []contract.Message{
		contract.User(fmt.Sprintf(reflectorUserTemplate, stepJSON, errorMessage, contextSummary)),
	}, contract.ChatOptions{
		System:   reflectorSystemPrompt,
		JSONMode: true,
	})
	if err != nil {
		return reflectorError(karakuriErrors.MapError(err).Error())
	}

	obj, err := ExtractObject(raw)
	if err != nil {
		return reflectorError("unparseable verdict: " + err.Error())
	}

	verdict := decodeVerdict(obj)

	// Invariant: retryable requires a fully-formed replacement step with
	// no placeholders and the original type unless re-dispatch is the fix.
	if verdict.IsRetryable {
		if verdict.ModifiedStep == nil {
			return reflectorError("verdict retryable without modified step")
		}
		if err := task.ValidateStep(verdict.ModifiedStep); err != nil {
			slog.Warn("Reflection produced invalid replacement step; downgrading to non-retryable", "error", err)
			return &task.ReflectionVerdict{
				IsRetryable: false,
				Reason:      "replacement step invalid: " + err.Error(),
			}
		}
	} else {
		verdict.ModifiedStep = nil
	}

	return verdict
}

func decodeVerdict(obj map[string]any) *task.ReflectionVerdict {
	verdict := &task.ReflectionVerdict{}
	if v, ok := obj["is_retryable"].(bool); ok {
		verdict.IsRetryable = v
	}
	if reason, ok := obj["reason"].(string); ok {
		verdict.Reason = reason
	}

	if raw, ok := obj["modified_step"].(map[string]any); ok {
		b, err := json.Marshal(raw)
		if err == nil {
			var step task.Step
			if json.Unmarshal(b, &step) == nil {
				verdict.ModifiedStep = &step
			}
		}
	}
	return verdict
}

func reflectorError(detail string) *task.ReflectionVerdict {
	return &task.ReflectionVerdict{
		IsRetryable:  false,
		ModifiedStep: nil,
		Reason:       "reflector error: " + detail,
	}
}
