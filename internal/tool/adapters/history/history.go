// Package history exposes task history and favorites from structured
// memory as agent steps.
package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/memory"
	"github.com/harunnryd/karakuri/internal/task"
)

const defaultHistoryLimit = 10

// Adapter executes the history step family.
type Adapter struct {
	store *memory.Structured
}

func New(store *memory.Structured) *Adapter {
	return &Adapter{store: store}
}

func (a *Adapter) Name() string    { return "history" }
func (a *Adapter) Types() []string { return task.HistoryTypes }

func (a *Adapter) Execute(_ context.Context, step *task.Step, _ *task.Context) *task.StepResult {
	switch step.Type {
	case "get_task_history":
		return a.taskHistory(step)
	case "search_history":
		return a.search(step)
	case "add_favorite":
		return a.addFavorite(step)
	case "list_favorites":
		return a.listFavorites()
	case "remove_favorite":
		return a.removeFavorite(step)
	default:
		return task.Fail("history adapter cannot handle type: " + step.Type)
	}
}

func (a *Adapter) taskHistory(step *task.Step) *task.StepResult {
	records, err := a.store.GetTaskHistory(limitParam(step))
	if err != nil {
		return task.Fail("cannot read history: " + err.Error())
	}
	return historyResult(records, "No tasks recorded yet")
}

func (a *Adapter) search(step *task.Step) *task.StepResult {
	query := step.Param("query")
	if query == "" {
		query = step.Param("keyword")
	}
	if query == "" {
		return task.Fail("search_history needs query")
	}

	records, err := a.store.SearchTaskHistory(query, limitParam(step))
	if err != nil {
		return task.Fail("search failed: " + err.Error())
	}
	return historyResult(records, "No tasks match: "+query)
}

func historyResult(records []task.TaskRecord, emptyMessage string) *task.StepResult {
	if len(records) == 0 {
		return task.Ok(emptyMessage, map[string]any{"count": 0})
	}

	lines := make([]string, 0, len(records))
	listed := make([]map[string]any, 0, len(records))
	for _, r := range records {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s — %s, %d steps, %.1fs",
			r.CreatedAt.Format("2006-01-02 15:04"), r.Instruction, status, len(r.Steps), r.Duration))
		listed = append(listed, map[string]any{
			"id":          r.ID,
			"instruction": r.Instruction,
			"success":     r.Success,
		})
	}
	return task.Ok(fmt.Sprintf("%d tasks\n%s", len(records), strings.Join(lines, "\n")), map[string]any{
		"count": len(records),
		"tasks": listed,
	})
}

func (a *Adapter) addFavorite(step *task.Step) *task.StepResult {
	instruction := step.Param("instruction")
	if instruction == "" {
		instruction = step.Param("command")
	}
	if instruction == "" {
		return task.Fail("add_favorite needs instruction")
	}

	id, err := a.store.AddFavorite(instruction, step.Param("label"))
	if err != nil {
		return task.Fail("cannot add favorite: " + err.Error())
	}
	return task.Ok("Favorite saved", map[string]any{"id": id})
}

func (a *Adapter) listFavorites() *task.StepResult {
	favorites, err := a.store.ListFavorites()
	if err != nil {
		return task.Fail("cannot list favorites: " + err.Error())
	}
	if len(favorites) == 0 {
		return task.Ok("No favorites saved", map[string]any{"count": 0})
	}

	lines := make([]string, 0, len(favorites))
	listed := make([]map[string]any, 0, len(favorites))
	for _, f := range favorites {
		label := f.Label
		if label == "" {
			label = f.Instruction
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", f.ID, label))
		listed = append(listed, map[string]any{
			"id":          f.ID,
			"label":       f.Label,
			"instruction": f.Instruction,
		})
	}
	return task.Ok(fmt.Sprintf("%d favorites\n%s", len(favorites), strings.Join(lines, "\n")), map[string]any{
		"count":     len(favorites),
		"favorites": listed,
	})
}

func (a *Adapter) removeFavorite(step *task.Step) *task.StepResult {
	id := step.Param("id")
	if id == "" {
		id = step.Param("favorite_id")
	}
	if id == "" {
		return task.Fail("remove_favorite needs id")
	}

	if err := a.store.RemoveFavorite(id); err != nil {
		if errors.Is(err, karakuriErrors.ErrNotFound) {
			return task.Fail("no favorite with id " + id)
		}
		return task.Fail("cannot remove favorite: " + err.Error())
	}
	return task.Ok("Favorite removed", map[string]any{"id": id})
}

func limitParam(step *task.Step) int {
	switch v := step.Params["limit"].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return defaultHistoryLimit
}
