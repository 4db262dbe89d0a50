package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/karakuri/internal/cognitive"
	"github.com/harunnryd/karakuri/internal/config"
	"github.com/harunnryd/karakuri/internal/embedding"
	"github.com/harunnryd/karakuri/internal/executor"
	"github.com/harunnryd/karakuri/internal/intent"
	"github.com/harunnryd/karakuri/internal/model"
	"github.com/harunnryd/karakuri/internal/model/contract"
	"github.com/harunnryd/karakuri/internal/protocol"
	"github.com/harunnryd/karakuri/internal/task"
	"github.com/harunnryd/karakuri/internal/tool"
)

type fakeAdapter struct {
	types []string
	seen  []*task.Step
}

func (a *fakeAdapter) Name() string    { return "fake" }
func (a *fakeAdapter) Types() []string { return a.types }

func (a *fakeAdapter) Execute(_ context.Context, step *task.Step, _ *task.Context) *task.StepResult {
	a.seen = append(a.seen, step.Clone())
	return task.Ok("done: "+step.Type, nil)
}

type fakePlanner struct {
	plan  task.Plan
	err   error
	calls int
}

func (p *fakePlanner) Plan(context.Context, string, *task.Context) (task.Plan, error) {
	p.calls++
	return p.plan, p.err
}

type stubClient struct{}

func (stubClient) Chat(context.Context, []contract.Message, contract.ChatOptions) (string, error) {
	return "", errors.New("not wired in tests")
}
func (stubClient) Name() string { return "stub" }

type screenEncoder struct{}

func (screenEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	for _, needle := range []string{"screenshot", "截屏", "open", "打开"} {
		if len(text) >= len(needle) && containsFold(text, needle) {
			if needle == "open" || needle == "打开" {
				return []float32{0, 1, 0}, nil
			}
			return []float32{1, 0, 0}, nil
		}
	}
	return []float32{0, 0, 1}, nil
}

func containsFold(haystack, needle string) bool {
	return bytes.Contains(bytes.ToLower([]byte(haystack)), bytes.ToLower([]byte(needle)))
}

type harness struct {
	orch    *Orchestrator
	adapter *fakeAdapter
	planner *fakePlanner
	out     *bytes.Buffer
}

func newHarness(t *testing.T, withRouter bool) *harness {
	t.Helper()

	cfg, err := config.New(filepath.Join(t.TempDir(), "config.json"), nil)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	writer := protocol.NewWriter(out)

	adapter := &fakeAdapter{types: []string{"screenshot_desktop", "open_app", "close_app", "open_file"}}
	registry := tool.NewRegistry()
	registry.Register(adapter)

	planner := &fakePlanner{}
	exec := executor.New(registry, nil, writer, nil, cfg)

	var router *intent.Router
	var provider *embedding.Provider
	if withRouter {
		provider = embedding.NewProvider(screenEncoder{})
		provider.StartLoading()
		require.True(t, provider.WaitUntilReady(5*time.Second))

		router = intent.NewRouter(provider)
		router.Register("screenshot",
			[]string{"take a screenshot", "截个屏"},
			intent.Metadata{StepType: "screenshot_desktop", Action: "capture the desktop"})
		router.Register("app_open",
			[]string{"open the browser", "打开微信"},
			intent.Metadata{StepType: "open_app", Action: "open an app"})
	}

	o := New(cfg, writer, registry, exec, router, nil, provider, nil)
	o.buildClient = func(string, string, string) (model.Client, error) { return stubClient{}, nil }
	o.newPlanner = func(model.Client) cognitive.Planner { return planner }
	o.newReflector = func(model.Client) cognitive.Reflector { return nonRetryableReflector{} }

	return &harness{orch: o, adapter: adapter, planner: planner, out: out}
}

func (h *harness) events(t *testing.T) []protocol.Event {
	t.Helper()
	var events []protocol.Event
	scanner := bufio.NewScanner(bytes.NewReader(h.out.Bytes()))
	for scanner.Scan() {
		var ev protocol.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	return events
}

func phases(events []protocol.Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Type != protocol.EventThinking {
			continue
		}
		if data, ok := ev.Data.(map[string]any); ok {
			if phase, ok := data["phase"].(string); ok {
				out = append(out, phase)
			}
		}
	}
	return out
}

func TestRunPlansAndExecutes(t *testing.T) {
	h := newHarness(t, false)
	h.planner.plan = task.Plan{
		{Type: "open_file", Action: "open it", Params: map[string]any{"path": "/tmp/x.txt"}},
	}

	result := h.orch.Run(context.Background(), "t1", "open my file", nil)
	require.True(t, result.Success, result.Message)
	assert.Equal(t, 1, h.planner.calls)
	assert.Len(t, h.adapter.seen, 1)

	events := h.events(t)
	assert.Equal(t, []string{"planning"}, phases(events))

	var sawPlanReady bool
	for _, ev := range events {
		if ev.Type == protocol.EventPlanReady {
			sawPlanReady = true
		}
	}
	assert.True(t, sawPlanReady)
}

func TestRunFastPathSkipsPlanner(t *testing.T) {
	h := newHarness(t, true)

	result := h.orch.Run(context.Background(), "t1", "take a screenshot", nil)
	require.True(t, result.Success, result.Message)
	assert.Equal(t, "fast_path", result.Mode)
	assert.Zero(t, h.planner.calls)
	require.Len(t, h.adapter.seen, 1)
	assert.Equal(t, "screenshot_desktop", h.adapter.seen[0].Type)
	assert.Equal(t, []string{"fast_path"}, phases(h.events(t)))
}

func TestRunFastPathExtractsAppName(t *testing.T) {
	h := newHarness(t, true)

	result := h.orch.Run(context.Background(), "t1", "open Safari", nil)
	require.True(t, result.Success, result.Message)
	require.Len(t, h.adapter.seen, 1)
	assert.Equal(t, "open_app", h.adapter.seen[0].Type)
	assert.Equal(t, "Safari", h.adapter.seen[0].Param("app_name"))
}

func TestRunFastPathAbandonedWithoutAppName(t *testing.T) {
	h := newHarness(t, true)
	h.planner.plan = task.Plan{
		{Type: "open_app", Action: "open", Params: map[string]any{"app_name": "Safari"}},
	}

	// Just a verb; nothing to extract, so the planner decides.
	result := h.orch.Run(context.Background(), "t1", "打开", nil)
	require.True(t, result.Success, result.Message)
	assert.Equal(t, 1, h.planner.calls)
}

func TestRunPlanningFailure(t *testing.T) {
	h := newHarness(t, false)
	h.planner.err = errors.New("model returned garbage")

	result := h.orch.Run(context.Background(), "t1", "do something odd", nil)
	require.False(t, result.Success)
	assert.Contains(t, result.Message, "Planning failed")
}

func TestRunWithoutModelClient(t *testing.T) {
	h := newHarness(t, false)
	h.orch.buildClient = func(string, string, string) (model.Client, error) {
		return nil, errors.New("no api key")
	}

	result := h.orch.Run(context.Background(), "t1", "do something", nil)
	require.False(t, result.Success)
	assert.Contains(t, result.Message, "Planning failed")
	assert.Contains(t, result.Message, "no language model")
}

func TestRunRecoversFromPanic(t *testing.T) {
	h := newHarness(t, false)
	h.orch.newPlanner = func(model.Client) cognitive.Planner {
		panic("wiring bug")
	}

	result := h.orch.Run(context.Background(), "t1", "do something", nil)
	require.False(t, result.Success)
	assert.Contains(t, result.Message, "Critical Error")
}

func TestRunMergesCallerContext(t *testing.T) {
	h := newHarness(t, false)
	h.planner.plan = task.Plan{{Type: "open_file", Action: "open", Params: map[string]any{"path": "/tmp/x"}}}

	result := h.orch.Run(context.Background(), "t1", "open the attached file", map[string]any{
		task.KeyAttachedPath: "/tmp/attached.pdf",
	})
	require.True(t, result.Success, result.Message)
}

func TestRunReloadsProviderBetweenTasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := config.New(path, nil)
	require.NoError(t, err)

	writer := protocol.NewWriter(&bytes.Buffer{})
	registry := tool.NewRegistry()
	registry.Register(&fakeAdapter{types: []string{"screenshot_desktop"}})
	exec := executor.New(registry, nil, writer, nil, cfg)

	var providers []string
	o := New(cfg, writer, registry, exec, nil, nil, nil, nil)
	o.buildClient = func(provider, _, _ string) (model.Client, error) {
		providers = append(providers, provider)
		return stubClient{}, nil
	}
	o.newPlanner = func(model.Client) cognitive.Planner { return &fakePlanner{} }
	o.newReflector = func(model.Client) cognitive.Reflector { return nonRetryableReflector{} }

	o.Run(context.Background(), "t1", "do something", nil)
	require.NoError(t, os.WriteFile(path, []byte(`{"provider":"openai"}`), 0o644))
	o.Run(context.Background(), "t2", "do something else", nil)

	require.Len(t, providers, 2)
	assert.Equal(t, "claude", providers[0])
	assert.Equal(t, "openai", providers[1])
}

func TestExtractAppName(t *testing.T) {
	cases := map[string]string{
		"open Safari":        "Safari",
		"open the browser":   "browser",
		"launch the Notes":   "Notes",
		"quit Slack":         "Slack",
		"close the mail app": "mail",
		"打开微信":               "微信",
		"关闭浏览器":              "浏览器",
		"open":               "",
	}
	for input, want := range cases {
		assert.Equal(t, want, extractAppName(input), input)
	}
}

func TestFilesInvolved(t *testing.T) {
	result := &task.TaskResult{Steps: []task.ExecutedStep{
		{Result: &task.StepResult{Data: map[string]any{"file_path": "/a.txt"}}},
		{Result: &task.StepResult{Data: map[string]any{"save_path": "/b.png"}, Images: []string{"/b.png"}}},
		{Result: nil},
	}}
	assert.Equal(t, []string{"/a.txt", "/b.png"}, filesInvolved(result))
}
