package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/task"
)

type fakeAdapter struct {
	name  string
	types []string
	seen  []string
}

func (f *fakeAdapter) Name() string    { return f.name }
func (f *fakeAdapter) Types() []string { return f.types }
func (f *fakeAdapter) Execute(_ context.Context, step *task.Step, _ *task.Context) *task.StepResult {
	f.seen = append(f.seen, step.Type)
	return task.Ok("done", nil)
}

func TestResolveCanonicalType(t *testing.T) {
	r := NewRegistry()
	files := &fakeAdapter{name: "file", types: []string{"file_read", "file_delete", "list_files"}}
	r.Register(files)

	step := &task.Step{Type: "file_read", Action: "read the notes"}
	a, err := r.Resolve(step)
	require.NoError(t, err)
	assert.Equal(t, "file", a.Name())
}

func TestResolveAliasRewritesStepType(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeAdapter{name: "file", types: []string{"file_read", "file_delete", "list_files"}})

	step := &task.Step{Type: "file_manager", Action: "删除旧报告"}
	a, err := r.Resolve(step)
	require.NoError(t, err)
	assert.Equal(t, "file", a.Name())
	assert.Equal(t, "file_delete", step.Type)
}

func TestResolveUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(&task.Step{Type: "teleport", Action: "beam me up"})
	require.ErrorIs(t, err, karakuriErrors.ErrValidation)
	assert.Contains(t, err.Error(), "no adapter")
}

func TestResolveRegisteredTypeWithoutAdapter(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve(&task.Step{Type: "send_email", Action: "email bob"})
	assert.ErrorIs(t, err, karakuriErrors.ErrValidation)
}

func TestRegisterDuplicateTypePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeAdapter{name: "a", types: []string{"file_read"}})
	assert.Panics(t, func() {
		r.Register(&fakeAdapter{name: "b", types: []string{"file_read"}})
	})
}

func TestProgressRebinding(t *testing.T) {
	r := NewRegistry()

	var got []string
	r.BindProgress(func(message string, _ map[string]any) { got = append(got, message) })
	r.Progress("first", nil)

	r.BindProgress(func(message string, _ map[string]any) { got = append(got, "re:"+message) })
	r.Progress("second", nil)

	assert.Equal(t, []string{"first", "re:second"}, got)

	r.BindProgress(nil)
	r.Progress("dropped", nil) // must not panic
}
