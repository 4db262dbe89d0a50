package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/karakuri/internal/embedding"
	"github.com/harunnryd/karakuri/internal/task"

	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
	"github.com/philippgille/chromem-go"
)

// Collection names.
const (
	CollectionInstructions  = "instructions"
	CollectionConversations = "conversations"
	CollectionSummaries     = "summaries"
)

// DefaultMinSimilarity is the recall cutoff for instruction patterns.
const DefaultMinSimilarity = 0.7

// Summarizer optionally compresses old records; CompressMemories falls
// back to mechanical truncation without one.
type Summarizer func(ctx context.Context, text string) (string, error)

// Vector is the embedding-indexed recall layer over chromem. A corrupt
// on-disk store is backed up and rebuilt; if that still fails the layer
// degrades to in-memory-only and the rest of the engine keeps working.
//
// chromem cannot enumerate documents, so a sidecar index of instruction
// ids and timestamps makes age-based compression possible.
type Vector struct {
	db         *chromem.DB
	provider   *embedding.Provider
	summarizer Summarizer
	inMemory   bool

	mu    sync.Mutex
	dir   string
	index []indexEntry
}

type indexEntry struct {
	ID          string    `json:"id"`
	Instruction string    `json:"instruction"`
	Timestamp   time.Time `json:"timestamp"`
}

// OpenVector opens the persistent store at dir with the recovery ladder:
// open, back-up-and-rebuild, in-memory degrade.
func OpenVector(dir string, provider *embedding.Provider) *Vector {
	db, inMemory := openWithRecovery(dir)
	v := &Vector{db: db, provider: provider, inMemory: inMemory, dir: dir}
	if !inMemory {
		v.loadIndex()
	}
	return v
}

func (v *Vector) indexPath() string {
	return filepath.Join(v.dir, "index.json")
}

func (v *Vector) loadIndex() {
	data, err := os.ReadFile(v.indexPath())
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &v.index); err != nil {
		slog.Warn("Failed to parse vector index, starting fresh", "error", err)
		v.index = nil
	}
}

func (v *Vector) saveIndexLocked() {
	if v.inMemory {
		return
	}
	data, err := json.MarshalIndent(v.index, "", "  ")
	if err != nil {
		return
	}
	if err := atomic.WriteFile(v.indexPath(), bytes.NewReader(data)); err != nil {
		slog.Warn("Failed to save vector index", "error", err)
	}
}

func openWithRecovery(dir string) (*chromem.DB, bool) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err == nil {
		return db, false
	}
	slog.Warn("Vector store failed to open; backing up and rebuilding", "dir", dir, "error", err)

	backup := fmt.Sprintf("%s_broken_%d", strings.TrimRight(dir, "/"), time.Now().Unix())
	if renameErr := os.Rename(dir, backup); renameErr != nil {
		slog.Error("Vector store backup failed", "error", renameErr)
	} else if db, err = chromem.NewPersistentDB(dir, false); err == nil {
		slog.Info("Vector store rebuilt after backup", "backup", backup)
		return db, false
	}

	slog.Warn("Vector store unavailable; degrading to in-memory mode", "error", err)
	return chromem.NewDB(), true
}

// InMemory reports whether the store degraded to in-memory-only mode.
func (v *Vector) InMemory() bool {
	return v.inMemory
}

// SetSummarizer installs an optional LLM summarizer for compression.
func (v *Vector) SetSummarizer(s Summarizer) {
	v.summarizer = s
}

func (v *Vector) collection(name string) (*chromem.Collection, error) {
	// Nil embedding func: vectors are always supplied by the provider.
	return v.db.GetOrCreateCollection(name, nil, func(_ context.Context, _ string) ([]float32, error) {
		return nil, fmt.Errorf("embeddings are provided explicitly")
	})
}

// InstructionPattern is one recalled instruction record.
type InstructionPattern struct {
	ID           string             `json:"id"`
	Instruction  string             `json:"instruction_text"`
	CompactSteps []task.CompactStep `json:"compact_steps"`
	Success      bool               `json:"success"`
	Duration     float64            `json:"duration_s"`
	Files        []string           `json:"files"`
	Timestamp    time.Time          `json:"timestamp"`
	Similarity   float64            `json:"-"`
}

// AddInstructionPattern stores a finished task keyed by the embedding of
// its instruction text. A not-ready embedder drops the write silently.
func (v *Vector) AddInstructionPattern(ctx context.Context, instruction string, steps []task.CompactStep, success bool, duration float64, files []string) error {
	vec := v.provider.Encode(ctx, instruction)
	if len(vec) == 0 {
		slog.Debug("Skipping instruction pattern; embedder not ready")
		return nil
	}

	pattern := InstructionPattern{
		ID:           ulid.Make().String(),
		Instruction:  instruction,
		CompactSteps: steps,
		Success:      success,
		Duration:     duration,
		Files:        files,
		Timestamp:    time.Now(),
	}
	payload, err := json.Marshal(pattern)
	if err != nil {
		return err
	}

	col, err := v.collection(CollectionInstructions)
	if err != nil {
		return err
	}
	if err := col.AddDocuments(ctx, []chromem.Document{{
		ID:        pattern.ID,
		Content:   string(payload),
		Embedding: vec,
		Metadata: map[string]string{
			"success":   fmt.Sprintf("%t", success),
			"timestamp": pattern.Timestamp.Format(time.RFC3339),
		},
	}}, 1); err != nil {
		return err
	}

	v.mu.Lock()
	v.index = append(v.index, indexEntry{ID: pattern.ID, Instruction: instruction, Timestamp: pattern.Timestamp})
	v.saveIndexLocked()
	v.mu.Unlock()
	return nil
}

// FindSimilarInstructions recalls stored patterns with similarity at or
// above minSimilarity (derived from the backend distance as 1/(1+d)).
func (v *Vector) FindSimilarInstructions(ctx context.Context, query string, limit int, minSimilarity float64) ([]InstructionPattern, error) {
	if limit <= 0 {
		limit = 3
	}
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}

	docs, err := v.query(ctx, CollectionInstructions, query, limit)
	if err != nil {
		return nil, err
	}

	var out []InstructionPattern
	for _, doc := range docs {
		similarity := similarityFromDistance(doc.Similarity)
		if similarity < minSimilarity {
			continue
		}
		var p InstructionPattern
		if err := json.Unmarshal([]byte(doc.Content), &p); err != nil {
			slog.Warn("Corrupt instruction pattern dropped", "id", doc.ID, "error", err)
			continue
		}
		p.Similarity = similarity
		out = append(out, p)
	}
	return out, nil
}

// Conversation is one recalled chat exchange.
type Conversation struct {
	ID              string    `json:"id"`
	UserMessage     string    `json:"user_message"`
	ResponsePreview string    `json:"response_preview"`
	SessionID       string    `json:"session_id"`
	Emotion         string    `json:"emotion"`
	Success         bool      `json:"success"`
	Timestamp       time.Time `json:"timestamp"`
}

// AddConversation stores one exchange keyed by the user message.
func (v *Vector) AddConversation(ctx context.Context, userMessage, response, sessionID, emotion string, success bool, metadata map[string]string) error {
	vec := v.provider.Encode(ctx, userMessage)
	if len(vec) == 0 {
		return nil
	}

	preview := response
	if len(preview) > 200 {
		preview = preview[:200]
	}
	conv := Conversation{
		ID:              ulid.Make().String(),
		UserMessage:     userMessage,
		ResponsePreview: preview,
		SessionID:       sessionID,
		Emotion:         emotion,
		Success:         success,
		Timestamp:       time.Now(),
	}
	payload, err := json.Marshal(conv)
	if err != nil {
		return err
	}

	meta := map[string]string{
		"session_id": sessionID,
		"success":    fmt.Sprintf("%t", success),
		"timestamp":  conv.Timestamp.Format(time.RFC3339),
	}
	for k, val := range metadata {
		meta[k] = val
	}

	col, err := v.collection(CollectionConversations)
	if err != nil {
		return err
	}
	return col.AddDocuments(ctx, []chromem.Document{{
		ID:        conv.ID,
		Content:   string(payload),
		Embedding: vec,
		Metadata:  meta,
	}}, 1)
}

// SearchConversations recalls exchanges similar to query; filterSuccess
// non-nil restricts to the given outcome.
func (v *Vector) SearchConversations(ctx context.Context, query string, limit int, filterSuccess *bool) ([]Conversation, error) {
	if limit <= 0 {
		limit = 3
	}
	docs, err := v.query(ctx, CollectionConversations, query, limit)
	if err != nil {
		return nil, err
	}

	var out []Conversation
	for _, doc := range docs {
		var c Conversation
		if err := json.Unmarshal([]byte(doc.Content), &c); err != nil {
			continue
		}
		if filterSuccess != nil && c.Success != *filterSuccess {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (v *Vector) query(ctx context.Context, collectionName, query string, limit int) ([]chromem.Result, error) {
	vec := v.provider.Encode(ctx, query)
	if len(vec) == 0 {
		return nil, nil
	}

	col := v.db.GetCollection(collectionName, nil)
	if col == nil {
		return nil, nil
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	return col.QueryEmbedding(ctx, vec, limit, nil, nil)
}

// GetMemoryContext assembles up to limit items from each collection into
// a prompt-friendly block. Returns "" when the embedder is not ready.
func (v *Vector) GetMemoryContext(ctx context.Context, query string, limit int) string {
	if limit <= 0 {
		limit = 3
	}
	if !v.provider.Ready() {
		return ""
	}

	var sections []string

	if patterns, err := v.FindSimilarInstructions(ctx, query, limit, DefaultMinSimilarity); err == nil && len(patterns) > 0 {
		lines := make([]string, 0, len(patterns))
		for _, p := range patterns {
			outcome := "failed"
			if p.Success {
				outcome = "succeeded"
			}
			lines = append(lines, fmt.Sprintf("- %q %s in %.1fs (%d steps)", p.Instruction, outcome, p.Duration, len(p.CompactSteps)))
		}
		sections = append(sections, "Similar earlier tasks:\n"+strings.Join(lines, "\n"))
	}

	if convs, err := v.SearchConversations(ctx, query, limit, nil); err == nil && len(convs) > 0 {
		lines := make([]string, 0, len(convs))
		for _, c := range convs {
			lines = append(lines, fmt.Sprintf("- user: %s / agent: %s", c.UserMessage, c.ResponsePreview))
		}
		sections = append(sections, "Related conversations:\n"+strings.Join(lines, "\n"))
	}

	if summaries, err := v.query(ctx, CollectionSummaries, query, limit); err == nil && len(summaries) > 0 {
		lines := make([]string, 0, len(summaries))
		for _, doc := range summaries {
			lines = append(lines, "- "+doc.Content)
		}
		sections = append(sections, "Compressed history:\n"+strings.Join(lines, "\n"))
	}

	return strings.Join(sections, "\n\n")
}

// CompressMemories summarizes instruction records older than window into
// the summaries collection and deletes the originals.
func (v *Vector) CompressMemories(ctx context.Context, window time.Duration) (int, error) {
	col := v.db.GetCollection(CollectionInstructions, nil)
	if col == nil || col.Count() == 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-window)

	v.mu.Lock()
	var oldIDs []string
	var texts []string
	var kept []indexEntry
	for _, entry := range v.index {
		if entry.Timestamp.Before(cutoff) {
			oldIDs = append(oldIDs, entry.ID)
			texts = append(texts, entry.Instruction)
			continue
		}
		kept = append(kept, entry)
	}
	v.mu.Unlock()

	if len(oldIDs) == 0 {
		return 0, nil
	}

	summary := fmt.Sprintf("Earlier tasks (%d): %s", len(texts), strings.Join(texts, "; "))
	if v.summarizer != nil {
		if compressed, err := v.summarizer(ctx, summary); err == nil && compressed != "" {
			summary = compressed
		} else if err != nil {
			slog.Warn("Summarizer failed; keeping mechanical summary", "error", err)
		}
	}
	if len(summary) > 2000 {
		summary = summary[:2000]
	}

	vec := v.provider.Encode(ctx, summary)
	if len(vec) > 0 {
		summaryCol, err := v.collection(CollectionSummaries)
		if err != nil {
			return 0, err
		}
		if err := summaryCol.AddDocuments(ctx, []chromem.Document{{
			ID:        ulid.Make().String(),
			Content:   summary,
			Embedding: vec,
			Metadata:  map[string]string{"timestamp": time.Now().Format(time.RFC3339)},
		}}, 1); err != nil {
			return 0, err
		}
	}

	if err := col.Delete(ctx, nil, nil, oldIDs...); err != nil {
		return 0, err
	}

	v.mu.Lock()
	v.index = kept
	v.saveIndexLocked()
	v.mu.Unlock()

	slog.Info("Compressed old instruction patterns", "count", len(oldIDs))
	return len(oldIDs), nil
}

// InstructionCount reports the size of the instruction collection.
func (v *Vector) InstructionCount() int {
	col := v.db.GetCollection(CollectionInstructions, nil)
	if col == nil {
		return 0
	}
	return col.Count()
}

// similarityFromDistance converts the backend metric to the 1/(1+d) scale
// used for thresholds. chromem reports cosine similarity, so distance is
// its complement.
func similarityFromDistance(cosine float32) float64 {
	distance := 1 - float64(cosine)
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}
