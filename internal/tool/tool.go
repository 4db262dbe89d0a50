// Package tool maps step types to the adapters that execute them. The
// type set is closed; resolution normalizes known aliases first and fails
// anything outside the set.
package tool

import (
	"context"
	"sync"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/task"
)

// Adapter executes the steps of one family. Failures are reported inside
// the StepResult; an adapter never returns a Go error across this
// boundary.
type Adapter interface {
	Name() string
	Types() []string
	Execute(ctx context.Context, step *task.Step, taskCtx *task.Context) *task.StepResult
}

// ProgressFunc streams adapter progress to the current task's event
// stream. The orchestrator rebinds it per task.
type ProgressFunc func(message string, data map[string]any)

// Registry maps every registered step type to one adapter instance.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	progress ProgressFunc
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		progress: func(string, map[string]any) {},
	}
}

// Register binds every type the adapter declares. A duplicate type is a
// wiring bug and panics at startup.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, typ := range a.Types() {
		if existing, ok := r.adapters[typ]; ok {
			panic("tool: type " + typ + " registered by both " + existing.Name() + " and " + a.Name())
		}
		r.adapters[typ] = a
	}
}

// Resolve normalizes aliases and returns the adapter for the canonical
// type. The step's Type field is rewritten to the canonical form.
func (r *Registry) Resolve(step *task.Step) (Adapter, error) {
	canonical, ok := task.NormalizeType(step.Type, step.Action)
	if !ok {
		return nil, karakuriErrors.Validation("no adapter for type: " + step.Type)
	}
	step.Type = canonical

	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[canonical]
	if !ok {
		return nil, karakuriErrors.Validation("no adapter for type: " + canonical)
	}
	return a, nil
}

// BindProgress installs the per-task progress callback.
func (r *Registry) BindProgress(fn ProgressFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		fn = func(string, map[string]any) {}
	}
	r.progress = fn
}

// Progress reports through the currently bound callback. Adapters call
// this instead of holding their own reference.
func (r *Registry) Progress(message string, data map[string]any) {
	r.mu.RLock()
	fn := r.progress
	r.mu.RUnlock()
	fn(message, data)
}

// Types returns every type with a bound adapter.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.adapters))
	for typ := range r.adapters {
		out = append(out, typ)
	}
	return out
}
