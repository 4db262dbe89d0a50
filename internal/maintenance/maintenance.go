// Package maintenance compresses vector memory while the service is
// idle so compaction never competes with a running task.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/karakuri/internal/concurrency"
)

// Defaults tuned for a single-user agent: compact only after a real
// backlog builds up and the user has clearly stepped away.
const (
	DefaultTickInterval  = 5 * time.Minute
	DefaultIdleWindow    = 10 * time.Minute
	DefaultSizeThreshold = 200
	DefaultCompressAge   = 7 * 24 * time.Hour
)

// Compactor is the slice of the vector store the engine drives;
// memory.Vector implements it.
type Compactor interface {
	InstructionCount() int
	CompressMemories(ctx context.Context, window time.Duration) (int, error)
}

// Engine triggers memory compression when the instruction collection
// exceeds the size threshold and the service has been idle long enough.
type Engine struct {
	compactor Compactor

	tickInterval  time.Duration
	idleWindow    time.Duration
	sizeThreshold int
	compressAge   time.Duration

	mu         sync.Mutex
	lastActive time.Time
	busy       bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(compactor Compactor) *Engine {
	return &Engine{
		compactor:     compactor,
		tickInterval:  DefaultTickInterval,
		idleWindow:    DefaultIdleWindow,
		sizeThreshold: DefaultSizeThreshold,
		compressAge:   DefaultCompressAge,
		lastActive:    time.Now(),
	}
}

// MarkActive records task activity; the service loop calls it when a
// task starts and again when it finishes.
func (e *Engine) MarkActive(busy bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.busy = busy
	e.lastActive = time.Now()
}

// Start runs the tick loop until Stop.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	concurrency.SafeGo("memory-maintenance", func() {
		defer close(e.done)
		ticker := time.NewTicker(e.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				e.Tick(ctx, now)
			}
		}
	})
}

// Stop halts the loop and waits for the current tick to finish.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

// Tick runs one maintenance check. Exported so tests can drive the
// trigger arithmetic without the ticker.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	if !e.shouldCompress(now) {
		return
	}

	compressed, err := e.compactor.CompressMemories(ctx, e.compressAge)
	if err != nil {
		slog.Warn("Memory compression failed", "error", err)
		return
	}
	if compressed > 0 {
		slog.Info("Compressed old memories", "count", compressed)
	}
}

func (e *Engine) shouldCompress(now time.Time) bool {
	e.mu.Lock()
	busy, lastActive := e.busy, e.lastActive
	e.mu.Unlock()

	if busy || now.Sub(lastActive) < e.idleWindow {
		return false
	}
	return e.compactor.InstructionCount() >= e.sizeThreshold
}
