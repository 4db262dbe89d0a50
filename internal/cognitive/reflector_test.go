package cognitive

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/karakuri/internal/task"
)

func failedStep() *task.Step {
	return &task.Step{
		Type:   "browser_click",
		Action: "点击提交按钮",
		Params: map[string]any{"selector": "#submit"},
	}
}

func TestAnalyzeFailureRetryable(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"is_retryable": true, "reason": "selector changed after page update", "modified_step": {"type":"browser_click","action":"点击提交按钮","params":{"selector":"button[type=submit]"}}}`,
	}}
	reflector := NewReflector(client)

	verdict := reflector.AnalyzeFailure(context.Background(), failedStep(), "element not found: #submit", "navigating a login form")
	require.True(t, verdict.IsRetryable)
	require.NotNil(t, verdict.ModifiedStep)
	assert.Equal(t, "browser_click", verdict.ModifiedStep.Type)
	assert.Equal(t, "button[type=submit]", verdict.ModifiedStep.Param("selector"))
}

func TestAnalyzeFailureNonRetryable(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"is_retryable": false, "reason": "the configured model has no vision capability", "modified_step": null}`,
	}}
	reflector := NewReflector(client)

	verdict := reflector.AnalyzeFailure(context.Background(), failedStep(), "VLM unavailable", "")
	assert.False(t, verdict.IsRetryable)
	assert.Nil(t, verdict.ModifiedStep)
	assert.Contains(t, verdict.Reason, "vision")
}

func TestAnalyzeFailureRetryableWithoutStepDegrades(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"is_retryable": true, "reason": "just try again", "modified_step": null}`,
	}}
	reflector := NewReflector(client)

	verdict := reflector.AnalyzeFailure(context.Background(), failedStep(), "timeout", "")
	assert.False(t, verdict.IsRetryable)
	assert.Nil(t, verdict.ModifiedStep)
	assert.Contains(t, verdict.Reason, "reflector error")
}

func TestAnalyzeFailurePlaceholderStepDowngrades(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"is_retryable": true, "reason": "retry with path", "modified_step": {"type":"file_read","action":"read","params":{"file_path":"[FILE_PATH]"}}}`,
	}}
	reflector := NewReflector(client)

	verdict := reflector.AnalyzeFailure(context.Background(), failedStep(), "no such file", "")
	assert.False(t, verdict.IsRetryable)
	assert.Nil(t, verdict.ModifiedStep)
}

func TestAnalyzeFailureMalformedOutput(t *testing.T) {
	client := &scriptedClient{responses: []string{"I think you should check the selector."}}
	reflector := NewReflector(client)

	verdict := reflector.AnalyzeFailure(context.Background(), failedStep(), "element not found", "")
	assert.False(t, verdict.IsRetryable)
	assert.Contains(t, verdict.Reason, "reflector error")
}

func TestAnalyzeFailureChatError(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("dial tcp: connection refused")}}
	reflector := NewReflector(client)

	verdict := reflector.AnalyzeFailure(context.Background(), failedStep(), "element not found", "")
	assert.False(t, verdict.IsRetryable)
	assert.Contains(t, verdict.Reason, "reflector error")
}
