package cognitive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	karakuriErrors "github.com/harunnryd/karakuri/internal/errors"
	"github.com/harunnryd/karakuri/internal/model/contract"
	"github.com/harunnryd/karakuri/internal/task"
)

// scriptedClient replays canned responses in order.
type scriptedClient struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
	systems   []string
}

func (c *scriptedClient) Chat(_ context.Context, messages []contract.Message, opts contract.ChatOptions) (string, error) {
	idx := c.calls
	c.calls++
	if len(messages) > 0 {
		c.prompts = append(c.prompts, messages[len(messages)-1].Content)
	}
	c.systems = append(c.systems, opts.System)
	if idx < len(c.errs) && c.errs[idx] != nil {
		return "", c.errs[idx]
	}
	if idx < len(c.responses) {
		return c.responses[idx], nil
	}
	return "", nil
}

func (c *scriptedClient) Name() string { return "scripted" }

func TestPlanHappyPath(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`[{"type":"screenshot_desktop","action":"截屏","params":{}}]`,
	}}
	planner := NewPlanner(client)

	taskCtx := task.NewContext()
	taskCtx.Set(task.KeyMemoryContext, "user prefers PNG screenshots")

	plan, err := planner.Plan(context.Background(), "截个屏", taskCtx)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "screenshot_desktop", plan[0].Type)

	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "user prefers PNG screenshots")
	assert.Contains(t, client.prompts[0], "screenshot_desktop", "prompt enumerates registered types")
	assert.Contains(t, client.prompts[0], taskCtx.GetString(task.KeyCurrentTime))
}

func TestPlanFormatRepairRecovers(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"Sure! Here is the plan for you...",
		`[{"type":"file_read","action":"读取","params":{"file_path":"/tmp/a.txt"}}]`,
	}}
	planner := NewPlanner(client)

	plan, err := planner.Plan(context.Background(), "read /tmp/a.txt", task.NewContext())
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, 2, client.calls)
}

func TestPlanBothAttemptsFail(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"no json at all",
		"still no json",
	}}
	planner := NewPlanner(client)

	_, err := planner.Plan(context.Background(), "do something", task.NewContext())
	assert.ErrorIs(t, err, karakuriErrors.ErrPlanning)
	assert.Equal(t, 2, client.calls)
}

func TestPlanRejectsPlaceholders(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`[{"type":"file_delete","action":"删除","params":{"file_path":"[FILE_PATH]"}}]`,
		`[{"type":"file_delete","action":"删除","params":{"file_path":"/tmp/old.log"}}]`,
	}}
	planner := NewPlanner(client)

	plan, err := planner.Plan(context.Background(), "delete the old log at /tmp/old.log", task.NewContext())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/old.log", plan[0].Param("file_path"))
	assert.Equal(t, 2, client.calls, "placeholder output triggers the repair call")
}

func TestPlanRewritesDeleteDisguisedAsMove(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`[{"type":"file_move","action":"删除文件","params":{"file_path":"~/Desktop/x.txt"}}]`,
	}}
	planner := NewPlanner(client)

	plan, err := planner.Plan(context.Background(), "删除桌面上的 x.txt", task.NewContext())
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "file_delete", plan[0].Type)
}

func TestPlanInjectsGroundingStep(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	client := &scriptedClient{responses: []string{
		`[{"type":"file_delete","action":"删除文件","params":{"file_path":"unknown.txt"}}]`,
	}}
	planner := NewPlanner(client)

	plan, err := planner.Plan(context.Background(), "删除桌面上那个文件", task.NewContext())
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, "list_files", plan[0].Type)
	assert.Equal(t, filepath.Join(home, "Desktop"), plan[0].Param("directory"))
}

func TestPlanGroundingUsesAttachedPath(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`[{"type":"file_read","action":"read","params":{"file_path":"latest.txt"}}]`,
	}}
	planner := NewPlanner(client)

	taskCtx := task.NewContext()
	taskCtx.Set(task.KeyAttachedPath, "/srv/reports/q3.pdf")

	plan, err := planner.Plan(context.Background(), "read the latest report", taskCtx)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, "list_files", plan[0].Type)
	assert.Equal(t, "/srv/reports", plan[0].Param("directory"))
}

func TestPlanInjectsScreenshotSavePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	client := &scriptedClient{responses: []string{
		`[{"type":"screenshot_desktop","action":"截屏","params":{}}]`,
	}}
	planner := NewPlanner(client)

	plan, err := planner.Plan(context.Background(), "截个屏保存到桌面", task.NewContext())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Desktop"), plan[0].Param("save_path"))
}

func TestPlanEmptyPlanIsLegal(t *testing.T) {
	client := &scriptedClient{responses: []string{`[]`}}
	planner := NewPlanner(client)

	plan, err := planner.Plan(context.Background(), "nothing to do", task.NewContext())
	require.NoError(t, err)
	assert.Empty(t, plan)
}
