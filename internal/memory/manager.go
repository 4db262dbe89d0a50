package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/karakuri/internal/concurrency"
	"github.com/harunnryd/karakuri/internal/task"

	"github.com/oklog/ulid/v2"
)

// Manager fronts both memory layers for the orchestrator: context
// assembly before planning, and fire-and-forget recording after a task.
type Manager struct {
	structured *Structured
	vector     *Vector
}

func NewManager(structured *Structured, vector *Vector) *Manager {
	return &Manager{structured: structured, vector: vector}
}

func (m *Manager) Structured() *Structured { return m.structured }
func (m *Manager) Vector() *Vector         { return m.vector }

// GetContext assembles the memory context string for one query: the
// structured summary, then vector recall, then the session file buffer,
// non-empty parts separated by blank lines.
func (m *Manager) GetContext(ctx context.Context, query string, taskCtx *task.Context) string {
	var parts []string

	if m.structured != nil {
		if s := m.structured.GetMemoryContext(); s != "" {
			parts = append(parts, s)
		}
	}
	if m.vector != nil {
		if s := m.vector.GetMemoryContext(ctx, query, 3); s != "" {
			parts = append(parts, s)
		}
	}
	if taskCtx != nil {
		if buf := taskCtx.FileContextBuffer(); len(buf) > 0 {
			names := make([]string, 0, len(buf))
			for name := range buf {
				names = append(names, name)
			}
			sort.Strings(names)
			lines := make([]string, 0, len(names))
			for _, name := range names {
				lines = append(lines, "- "+name+": "+buf[name])
			}
			parts = append(parts, "Documents read this session:\n"+strings.Join(lines, "\n"))
		}
	}

	return strings.Join(parts, "\n\n")
}

// RecordTask persists one finished task into both layers on a background
// worker. Recording errors are logged and swallowed; they never fail the
// task they describe.
func (m *Manager) RecordTask(instruction string, plan task.Plan, result *task.TaskResult, files []string) {
	record := &task.TaskRecord{
		ID:            ulid.Make().String(),
		Instruction:   instruction,
		Steps:         plan.Compact(),
		Success:       result.Success,
		Duration:      result.Duration,
		FilesInvolved: files,
		CreatedAt:     time.Now(),
	}

	concurrency.SafeGo("task-recording", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if m.structured != nil {
			if err := m.structured.AddTaskRecord(record); err != nil {
				slog.Warn("Failed to record task", "error", err)
			}
			if err := m.structured.AddInstruction(instruction, result.Success, result.Duration); err != nil {
				slog.Warn("Failed to record instruction", "error", err)
			}
			for _, f := range files {
				if err := m.structured.AddFileRecord(f, "task", ""); err != nil {
					slog.Warn("Failed to record file", "path", f, "error", err)
				}
			}
		}

		if m.vector != nil {
			if err := m.vector.AddInstructionPattern(ctx, instruction, record.Steps, result.Success, result.Duration, files); err != nil {
				slog.Warn("Failed to record instruction pattern", "error", err)
			}
			if err := m.vector.AddConversation(ctx, instruction, result.Message, "", "", result.Success, nil); err != nil {
				slog.Warn("Failed to record conversation", "error", err)
			}
		}
	})
}
