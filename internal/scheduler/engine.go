package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/karakuri/internal/concurrency"
)

const defaultTickInterval = 30 * time.Second

// Notifier delivers one fired reminder to the user, typically through the
// system notification adapter.
type Notifier func(message string)

// Engine polls the store and fires due reminders.
type Engine struct {
	store    *Store
	notify   Notifier
	interval time.Duration
	cancel   context.CancelFunc
}

func NewEngine(store *Store, notify Notifier) *Engine {
	return &Engine{
		store:    store,
		notify:   notify,
		interval: defaultTickInterval,
	}
}

// SetInterval overrides the polling interval.
func (e *Engine) SetInterval(d time.Duration) {
	e.interval = d
}

// Start launches the polling loop on a background worker.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	concurrency.SafeGo("reminder-engine", func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				e.Tick(now)
			}
		}
	})
}

// Stop halts the polling loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Tick fires every reminder due at now. Exposed so the serve loop can
// also trigger a pass on demand.
func (e *Engine) Tick(now time.Time) {
	for _, r := range e.store.Due(now) {
		slog.Info("Reminder due", "id", r.ID, "message", r.Message)
		e.notify(r.Message)
		if err := e.store.Fired(r.ID, now); err != nil {
			slog.Warn("Failed to reschedule reminder", "id", r.ID, "error", err)
		}
	}
}
