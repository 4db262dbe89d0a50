package task

import (
	"sync"
	"time"
)

// Instruction is the immutable input of one task: free-form text plus
// caller-supplied hints.
type Instruction struct {
	Text  string         `json:"instruction"`
	Hints map[string]any `json:"context,omitempty"`
}

// Context is the per-task mutable dictionary every step sees. Adapters may
// write arbitrary keys for later steps; the executor and orchestrator use
// the well-known ones below.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
	stop   bool
}

// Well-known context keys.
const (
	KeyCurrentTime       = "current_time"
	KeyMemoryContext     = "memory_context"
	KeyFileContextBuffer = "file_context_buffer"
	KeyAttachedPath      = "attached_path"
	KeyRecentFiles       = "recent_files"
	KeyChatHistory       = "chat_history"
)

// NewContext builds a context pre-populated with the mandatory fields.
func NewContext() *Context {
	return &Context{
		values: map[string]any{
			KeyCurrentTime:       time.Now().Format(time.RFC3339),
			KeyMemoryContext:     "",
			KeyFileContextBuffer: map[string]string{},
		},
	}
}

// Set stores a value.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get returns a value and whether it exists.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// GetString returns a string value, "" when absent or not a string.
func (c *Context) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Merge copies caller-supplied keys in. Mandatory fields set by NewContext
// survive unless the caller overrides them explicitly.
func (c *Context) Merge(extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range extra {
		c.values[k] = v
	}
}

// Snapshot returns a shallow copy of all values, for prompt assembly.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// RequestStop raises the cooperative stop flag. The executor checks it
// between steps; adapters may observe it mid-step if they choose.
func (c *Context) RequestStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop = true
}

// Stopped reports whether a stop was requested.
func (c *Context) Stopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stop
}

// FileContextBuffer returns the shared session cache of document summaries.
func (c *Context) FileContextBuffer() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.values[KeyFileContextBuffer].(map[string]string)
	if !ok {
		buf = map[string]string{}
		c.values[KeyFileContextBuffer] = buf
	}
	return buf
}
