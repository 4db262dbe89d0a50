package system

import (
	"context"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/karakuri/internal/task"
	"github.com/harunnryd/karakuri/internal/tool"

	"github.com/disintegration/imaging"
)

func newTestAdapter() *Adapter {
	return New(tool.NewRegistry())
}

func execStep(a *Adapter, step *task.Step) *task.StepResult {
	return a.Execute(context.Background(), step, task.NewContext())
}

func TestTypesExcludeScriptExecution(t *testing.T) {
	a := newTestAdapter()
	for _, typ := range a.Types() {
		assert.NotEqual(t, "execute_python_script", typ)
	}
	assert.Contains(t, a.Types(), "screenshot_desktop")
	assert.Contains(t, a.Types(), "text_process")
}

func TestTextProcessOperations(t *testing.T) {
	a := newTestAdapter()

	tests := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{"uppercase", map[string]any{"text": "hello", "operation": "uppercase"}, "HELLO"},
		{"lowercase", map[string]any{"text": "HeLLo", "operation": "lowercase"}, "hello"},
		{"trim", map[string]any{"text": "  padded  ", "operation": "trim"}, "padded"},
		{"reverse", map[string]any{"text": "abc", "operation": "reverse"}, "cba"},
		{"replace", map[string]any{"text": "a b a", "operation": "replace", "old": "a", "new": "x"}, "x b x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := execStep(a, &task.Step{Type: "text_process", Params: tt.params})
			require.True(t, result.Success, result.Message)
			assert.Equal(t, tt.want, result.Data["result"])
		})
	}
}

func TestTextProcessCount(t *testing.T) {
	a := newTestAdapter()
	result := execStep(a, &task.Step{Type: "text_process", Params: map[string]any{
		"text": "one two\nthree", "operation": "count",
	}})
	require.True(t, result.Success)
	assert.Equal(t, 3, result.Data["words"])
	assert.Equal(t, 2, result.Data["lines"])
}

func TestTextProcessUnknownOperation(t *testing.T) {
	a := newTestAdapter()
	result := execStep(a, &task.Step{Type: "text_process", Params: map[string]any{"text": "x", "operation": "rot13"}})
	assert.False(t, result.Success)
}

func TestImageProcessResize(t *testing.T) {
	a := newTestAdapter()
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	require.NoError(t, imaging.Save(imaging.New(100, 50, color.White), src))

	result := execStep(a, &task.Step{Type: "image_process", Params: map[string]any{
		"file_path": src, "operation": "resize", "width": float64(50),
	}})
	require.True(t, result.Success, result.Message)

	out, err := imaging.Open(result.Data["file_path"].(string))
	require.NoError(t, err)
	assert.Equal(t, 50, out.Bounds().Dx())
	assert.Equal(t, 25, out.Bounds().Dy())
}

func TestImageProcessRotateValidatesAngle(t *testing.T) {
	a := newTestAdapter()
	dir := t.TempDir()
	src := filepath.Join(dir, "in.png")
	require.NoError(t, imaging.Save(imaging.New(10, 10, color.White), src))

	result := execStep(a, &task.Step{Type: "image_process", Params: map[string]any{
		"file_path": src, "operation": "rotate", "angle": float64(45),
	}})
	require.False(t, result.Success)
	assert.Contains(t, result.Message, "90, 180 or 270")
}

func TestGetSystemInfo(t *testing.T) {
	a := newTestAdapter()
	result := execStep(a, &task.Step{Type: "get_system_info"})
	require.True(t, result.Success)
	assert.NotEmpty(t, result.Data["os"])
}

func TestSetVolumeValidatesLevel(t *testing.T) {
	a := newTestAdapter()
	result := execStep(a, &task.Step{Type: "set_volume", Params: map[string]any{}})
	require.False(t, result.Success)
	assert.Contains(t, result.Message, "level")
}

func TestOpenNeedsExistingPath(t *testing.T) {
	a := newTestAdapter()
	result := execStep(a, &task.Step{Type: "open_file", Params: map[string]any{"path": "/no/such/file.txt"}})
	assert.False(t, result.Success)
}

func TestIntParam(t *testing.T) {
	step := &task.Step{Params: map[string]any{"a": float64(42), "b": "7", "c": "x"}}
	v, ok := intParam(step, "a")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	v, ok = intParam(step, "b")
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = intParam(step, "c")
	assert.False(t, ok)
	_, ok = intParam(step, "missing")
	assert.False(t, ok)
}

func TestKeysParam(t *testing.T) {
	assert.Equal(t, []string{"ctrl", "c"}, keysParam(&task.Step{Params: map[string]any{"keys": "ctrl+c"}}))
	assert.Equal(t, []string{"cmd", "q"}, keysParam(&task.Step{Params: map[string]any{"keys": []any{"cmd", "q"}}}))
	assert.Nil(t, keysParam(&task.Step{}))
}
