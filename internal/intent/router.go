// Package intent short-circuits common instructions by cosine similarity
// against a catalog of pre-embedded canonical examples, skipping the
// planner entirely on a confident hit.
package intent

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/harunnryd/karakuri/internal/embedding"
)

// DefaultThreshold is the minimum similarity for a fast-path hit.
const DefaultThreshold = 0.65

// Metadata tells the orchestrator which single step to synthesize on a
// hit, without any further LLM calls.
type Metadata struct {
	StepType string
	Action   string
	Params   map[string]any
}

// Match is a routing decision above threshold.
type Match struct {
	IntentType string
	Confidence float64
	Metadata   Metadata
	IsFastPath bool
}

type entry struct {
	name     string
	examples []string
	vectors  [][]float32
	meta     Metadata
}

// Router matches instructions against the registered catalog. Intents keep
// registration order; ties break toward the earlier registration.
type Router struct {
	provider *embedding.Provider
	entries  []*entry
	embedded bool
}

func NewRouter(provider *embedding.Provider) *Router {
	return &Router{provider: provider}
}

// Register adds an intent with its canonical examples.
func (r *Router) Register(name string, examples []string, meta Metadata) {
	r.entries = append(r.entries, &entry{name: name, examples: examples, meta: meta})
}

// warmCatalog embeds every canonical example once. Runs lazily on the
// first detect after the embedding provider comes up.
func (r *Router) warmCatalog(ctx context.Context) bool {
	if r.embedded {
		return true
	}
	if !r.provider.WaitUntilReady(embedding.HotPathReadyTimeout) {
		return false
	}

	start := time.Now()
	for _, e := range r.entries {
		if len(e.vectors) == len(e.examples) {
			continue
		}
		e.vectors = e.vectors[:0]
		for _, example := range e.examples {
			vec := r.provider.Encode(ctx, example)
			if len(vec) == 0 {
				slog.Warn("Failed to embed canonical example; intent routing disabled this task", "intent", e.name)
				return false
			}
			e.vectors = append(e.vectors, vec)
		}
	}
	r.embedded = true
	slog.Debug("Intent catalog embedded", "intents", len(r.entries), "elapsed", time.Since(start))
	return true
}

// Detect returns a match iff the best per-intent max similarity reaches
// threshold. Embedding failures return nil and the caller falls through to
// the planner.
func (r *Router) Detect(ctx context.Context, text string, threshold float64) *Match {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if len(r.entries) == 0 || !r.warmCatalog(ctx) {
		return nil
	}

	query := r.provider.Encode(ctx, text)
	if len(query) == 0 {
		return nil
	}

	var best *entry
	bestScore := -1.0
	for _, e := range r.entries {
		score := -1.0
		for _, vec := range e.vectors {
			if s := Cosine(query, vec); s > score {
				score = s
			}
		}
		// Strict comparison keeps the first-registered intent on ties.
		if score > bestScore {
			bestScore = score
			best = e
		}
	}

	if best == nil || bestScore < threshold {
		return nil
	}

	return &Match{
		IntentType: best.name,
		Confidence: bestScore,
		Metadata:   best.meta,
		IsFastPath: true,
	}
}

// Cosine computes cosine similarity; mismatched or empty vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
