// Package embedding hosts the process-wide embedding provider. The intent
// router and vector memory share one instance; neither ever sees the
// underlying encoder directly.
package embedding

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/karakuri/internal/concurrency"
	"github.com/harunnryd/karakuri/internal/model"
)

// Default bounded waits. The orchestrator tolerates the long one once at
// startup; the router and memory use the short one on the hot path.
const (
	DefaultReadyTimeout = 60 * time.Second
	HotPathReadyTimeout = 3 * time.Second
)

const warmupTimeout = 30 * time.Second

// Provider gates an Encoder behind lazy background loading. Encode never
// returns an error: callers treat an empty vector as "degrade, do not
// block". A nil *Provider is valid and permanently not ready, so callers
// built without an encoder degrade the same way.
type Provider struct {
	encoder model.Encoder

	mu      sync.Mutex
	started bool
	ready   chan struct{}
	failed  bool
}

func NewProvider(encoder model.Encoder) *Provider {
	return &Provider{
		encoder: encoder,
		ready:   make(chan struct{}),
	}
}

// StartLoading warms the encoder up on a background worker. Safe to call
// more than once; only the first call spawns the worker.
func (p *Provider) StartLoading() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	concurrency.SafeGo("embedding-warmup", func() {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
		defer cancel()

		_, err := p.encoder.Encode(ctx, "warmup")

		p.mu.Lock()
		p.failed = err != nil
		close(p.ready)
		p.mu.Unlock()

		if err != nil {
			slog.Warn("Embedding warmup failed; vector features degrade to no-ops", "error", err, "elapsed", time.Since(start))
			return
		}
		slog.Info("Embedding provider ready", "elapsed", time.Since(start))
	})
}

// WaitUntilReady blocks up to timeout and reports whether the encoder
// finished loading successfully.
func (p *Provider) WaitUntilReady(timeout time.Duration) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return false
	}

	select {
	case <-p.ready:
	default:
		if timeout <= 0 {
			return false
		}
		select {
		case <-p.ready:
		case <-time.After(timeout):
			return false
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.failed
}

// Ready reports readiness without blocking.
func (p *Provider) Ready() bool {
	return p.WaitUntilReady(0)
}

// Encode returns the embedding for text, or an empty vector when the
// encoder is not ready or the call fails. It never blocks beyond the
// hot-path bounded wait.
func (p *Provider) Encode(ctx context.Context, text string) []float32 {
	if p == nil || !p.WaitUntilReady(HotPathReadyTimeout) {
		return nil
	}

	vec, err := p.encoder.Encode(ctx, text)
	if err != nil {
		slog.Warn("Encode failed; returning empty vector", "error", err)
		return nil
	}
	return vec
}
