// Package reminder exposes the scheduler store as agent steps.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/scheduler"
	"github.com/harunnryd/karakuri/internal/task"
)

// Adapter executes the reminder step family.
type Adapter struct {
	store *scheduler.Store
	now   func() time.Time
}

func New(store *scheduler.Store) *Adapter {
	return &Adapter{store: store, now: time.Now}
}

func (a *Adapter) Name() string    { return "reminder" }
func (a *Adapter) Types() []string { return task.ReminderTypes }

func (a *Adapter) Execute(_ context.Context, step *task.Step, _ *task.Context) *task.StepResult {
	switch step.Type {
	case "set_reminder":
		return a.set(step)
	case "list_reminders":
		return a.list()
	case "cancel_reminder":
		return a.cancel(step)
	default:
		return task.Fail("reminder adapter cannot handle type: " + step.Type)
	}
}

// Absolute and clock-only layouts accepted for one-shot reminders.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"15:04",
}

func (a *Adapter) set(step *task.Step) *task.StepResult {
	message := step.Param("message")
	if message == "" {
		message = step.Param("text")
	}

	schedule := step.Param("schedule")
	if schedule == "" {
		schedule = step.Param("cron")
	}

	var at time.Time
	if raw := firstParam(step, "at", "time", "when"); raw != "" && schedule == "" {
		parsed, err := a.parseTime(raw)
		if err != nil {
			return task.Fail(err.Error())
		}
		at = parsed
	}

	r, err := a.store.Add(message, schedule, at)
	if err != nil {
		return task.Fail("cannot set reminder: " + err.Error())
	}

	when := r.NextRun.Format("2006-01-02 15:04")
	if r.Recurring() {
		when = "per schedule " + r.Schedule + ", next at " + when
	}
	return task.Ok(fmt.Sprintf("Reminder set: %q at %s", r.Message, when), map[string]any{
		"id":       r.ID,
		"next_run": r.NextRun.Format(time.RFC3339),
	})
}

func (a *Adapter) list() *task.StepResult {
	reminders := a.store.List()
	if len(reminders) == 0 {
		return task.Ok("No reminders set", map[string]any{"count": 0})
	}

	lines := make([]string, 0, len(reminders))
	listed := make([]map[string]any, 0, len(reminders))
	for _, r := range reminders {
		kind := "once"
		if r.Recurring() {
			kind = r.Schedule
		}
		lines = append(lines, fmt.Sprintf("[%s] %s — next %s (%s)", r.ID, r.Message, r.NextRun.Format("2006-01-02 15:04"), kind))
		listed = append(listed, map[string]any{
			"id":       r.ID,
			"message":  r.Message,
			"next_run": r.NextRun.Format(time.RFC3339),
		})
	}
	return task.Ok(fmt.Sprintf("%d reminders\n%s", len(reminders), strings.Join(lines, "\n")), map[string]any{
		"count":     len(reminders),
		"reminders": listed,
	})
}

func (a *Adapter) cancel(step *task.Step) *task.StepResult {
	id := firstParam(step, "id", "reminder_id")
	if id == "" {
		// Fall back to a message match so "cancel the standup reminder"
		// works without the model knowing ids.
		needle := strings.ToLower(step.Param("message"))
		if needle == "" {
			return task.Fail("cancel_reminder needs id or message")
		}
		for _, r := range a.store.List() {
			if strings.Contains(strings.ToLower(r.Message), needle) {
				id = r.ID
				break
			}
		}
		if id == "" {
			return task.Fail("no reminder matches: " + needle)
		}
	}

	if err := a.store.Cancel(id); err != nil {
		if errors.Is(err, karakuriErrors.ErrNotFound) {
			return task.Fail("no reminder with id " + id)
		}
		return task.Fail("cannot cancel reminder: " + err.Error())
	}
	return task.Ok("Reminder cancelled", map[string]any{"id": id})
}

func (a *Adapter) parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	now := a.now()
	for _, layout := range timeLayouts {
		parsed, err := time.ParseInLocation(layout, raw, now.Location())
		if err != nil {
			continue
		}
		if layout == "15:04" {
			parsed = time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
			// A bare clock time that already passed means tomorrow.
			if !parsed.After(now) {
				parsed = parsed.Add(24 * time.Hour)
			}
		}
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse reminder time: %s", raw)
}

func firstParam(step *task.Step, keys ...string) string {
	for _, key := range keys {
		if v := step.Param(key); v != "" {
			return v
		}
	}
	return ""
}
