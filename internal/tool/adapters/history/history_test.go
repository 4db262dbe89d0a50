package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/karakuri/internal/memory"
	"github.com/harunnryd/karakuri/internal/task"
)

func newTestAdapter(t *testing.T) (*Adapter, *memory.Structured) {
	t.Helper()
	store, err := memory.OpenStructured(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func record(instruction string, success bool) *task.TaskRecord {
	return &task.TaskRecord{
		ID:          ulid.Make().String(),
		Instruction: instruction,
		Steps:       []task.CompactStep{{Type: "screenshot_desktop", Action: "capture"}},
		Success:     success,
		Duration:    1.5,
		CreatedAt:   time.Now(),
	}
}

func TestGetTaskHistory(t *testing.T) {
	a, store := newTestAdapter(t)

	result := a.Execute(context.Background(), &task.Step{Type: "get_task_history"}, task.NewContext())
	require.True(t, result.Success)
	assert.Equal(t, 0, result.Data["count"])

	require.NoError(t, store.AddTaskRecord(record("take a screenshot", true)))
	require.NoError(t, store.AddTaskRecord(record("organize downloads", false)))

	result = a.Execute(context.Background(), &task.Step{Type: "get_task_history"}, task.NewContext())
	require.True(t, result.Success, result.Message)
	assert.Equal(t, 2, result.Data["count"])
	assert.Contains(t, result.Message, "take a screenshot")
	assert.Contains(t, result.Message, "failed")
}

func TestSearchHistory(t *testing.T) {
	a, store := newTestAdapter(t)
	require.NoError(t, store.AddTaskRecord(record("compress the quarterly reports", true)))
	require.NoError(t, store.AddTaskRecord(record("water the plants", true)))

	result := a.Execute(context.Background(), &task.Step{
		Type:   "search_history",
		Params: map[string]any{"query": "quarterly"},
	}, task.NewContext())
	require.True(t, result.Success, result.Message)
	assert.Equal(t, 1, result.Data["count"])
	assert.Contains(t, result.Message, "quarterly reports")

	result = a.Execute(context.Background(), &task.Step{Type: "search_history"}, task.NewContext())
	require.False(t, result.Success)
	assert.Contains(t, result.Message, "needs query")
}

func TestFavoritesLifecycle(t *testing.T) {
	a, _ := newTestAdapter(t)

	added := a.Execute(context.Background(), &task.Step{
		Type:   "add_favorite",
		Params: map[string]any{"instruction": "take a screenshot and email it", "label": "daily shot"},
	}, task.NewContext())
	require.True(t, added.Success, added.Message)
	id := added.Data["id"].(string)
	require.NotEmpty(t, id)

	list := a.Execute(context.Background(), &task.Step{Type: "list_favorites"}, task.NewContext())
	require.True(t, list.Success)
	assert.Equal(t, 1, list.Data["count"])
	assert.Contains(t, list.Message, "daily shot")

	removed := a.Execute(context.Background(), &task.Step{
		Type:   "remove_favorite",
		Params: map[string]any{"id": id},
	}, task.NewContext())
	require.True(t, removed.Success, removed.Message)

	removed = a.Execute(context.Background(), &task.Step{
		Type:   "remove_favorite",
		Params: map[string]any{"id": id},
	}, task.NewContext())
	require.False(t, removed.Success)
	assert.Contains(t, removed.Message, "no favorite with id")
}

func TestAddFavoriteNeedsInstruction(t *testing.T) {
	a, _ := newTestAdapter(t)
	result := a.Execute(context.Background(), &task.Step{Type: "add_favorite"}, task.NewContext())
	require.False(t, result.Success)
	assert.Contains(t, result.Message, "needs instruction")
}

func TestLimitParamShapes(t *testing.T) {
	assert.Equal(t, 5, limitParam(&task.Step{Params: map[string]any{"limit": float64(5)}}))
	assert.Equal(t, 3, limitParam(&task.Step{Params: map[string]any{"limit": "3"}}))
	assert.Equal(t, defaultHistoryLimit, limitParam(&task.Step{Params: map[string]any{"limit": "lots"}}))
	assert.Equal(t, defaultHistoryLimit, limitParam(&task.Step{}))
}
