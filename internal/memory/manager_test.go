package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/karakuri/internal/task"
)

func TestManagerContextAssemblyOrder(t *testing.T) {
	s := openTestDB(t)
	require.NoError(t, s.SetPreference("language", "en", ""))

	v := OpenVector(filepath.Join(t.TempDir(), "vectors"), readyProvider(t))
	require.NoError(t, v.AddInstructionPattern(context.Background(), "take a screenshot", steps("screenshot_desktop"), true, 1.0, nil))

	taskCtx := task.NewContext()
	taskCtx.FileContextBuffer()["report.pdf"] = "quarterly numbers"

	m := NewManager(s, v)
	out := m.GetContext(context.Background(), "screenshot please", taskCtx)

	prefIdx := strings.Index(out, "User preferences:")
	vecIdx := strings.Index(out, "Similar earlier tasks:")
	docIdx := strings.Index(out, "Documents read this session:")
	require.GreaterOrEqual(t, prefIdx, 0)
	require.Greater(t, vecIdx, prefIdx)
	require.Greater(t, docIdx, vecIdx)
	assert.Contains(t, out, "- report.pdf: quarterly numbers")
}

func TestManagerContextSkipsEmptyLayers(t *testing.T) {
	s := openTestDB(t)
	m := NewManager(s, nil)

	out := m.GetContext(context.Background(), "anything", task.NewContext())
	assert.Empty(t, out)
}

func TestManagerContextWithProviderlessVector(t *testing.T) {
	s := openTestDB(t)
	v := OpenVector(filepath.Join(t.TempDir(), "vectors"), nil)
	m := NewManager(s, v)

	out := m.GetContext(context.Background(), "anything", task.NewContext())
	assert.Empty(t, out)
}

func TestManagerRecordTaskPersistsBothLayers(t *testing.T) {
	s := openTestDB(t)
	v := OpenVector(filepath.Join(t.TempDir(), "vectors"), readyProvider(t))
	m := NewManager(s, v)

	plan := task.Plan{{Type: "screenshot_desktop", Action: "take a screenshot"}}
	result := &task.TaskResult{Success: true, Message: "Done", Duration: 1.2}
	m.RecordTask("take a screenshot", plan, result, []string{"/tmp/shot.png"})

	require.Eventually(t, func() bool {
		history, err := s.GetTaskHistory(10)
		return err == nil && len(history) == 1 && v.InstructionCount() == 1
	}, 5*time.Second, 20*time.Millisecond)

	history, err := s.GetTaskHistory(10)
	require.NoError(t, err)
	assert.Equal(t, "take a screenshot", history[0].Instruction)
	assert.Equal(t, []string{"/tmp/shot.png"}, history[0].FilesInvolved)

	files, err := s.GetRecentFiles(10, "")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "task", files[0].Operation)
}
