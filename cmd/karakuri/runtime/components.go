// Package runtime assembles the engine: every component constructed in
// dependency order, started front to back and stopped back to front.
package runtime

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/harunnryd/karakuri/internal/config"
	"github.com/harunnryd/karakuri/internal/embedding"
	"github.com/harunnryd/karakuri/internal/executor"
	"github.com/harunnryd/karakuri/internal/intent"
	"github.com/harunnryd/karakuri/internal/maintenance"
	"github.com/harunnryd/karakuri/internal/memory"
	"github.com/harunnryd/karakuri/internal/orchestrator"
	"github.com/harunnryd/karakuri/internal/protocol"
	"github.com/harunnryd/karakuri/internal/sandbox"
	"github.com/harunnryd/karakuri/internal/scheduler"
	"github.com/harunnryd/karakuri/internal/service"
	"github.com/harunnryd/karakuri/internal/store"
	"github.com/harunnryd/karakuri/internal/tool"
	"github.com/harunnryd/karakuri/internal/tool/adapters/browser"
	emailAdapter "github.com/harunnryd/karakuri/internal/tool/adapters/email"
	fileAdapter "github.com/harunnryd/karakuri/internal/tool/adapters/file"
	historyAdapter "github.com/harunnryd/karakuri/internal/tool/adapters/history"
	reminderAdapter "github.com/harunnryd/karakuri/internal/tool/adapters/reminder"
	scriptAdapter "github.com/harunnryd/karakuri/internal/tool/adapters/script"
	systemAdapter "github.com/harunnryd/karakuri/internal/tool/adapters/system"
	workflowAdapter "github.com/harunnryd/karakuri/internal/tool/adapters/workflow"
	"github.com/harunnryd/karakuri/internal/userinput"
	"github.com/harunnryd/karakuri/internal/workflow"
)

// Components is the assembled engine. Build wires everything; Start and
// Stop manage the background workers.
type Components struct {
	Paths  *store.Paths
	Lock   *store.Lock
	Config *config.Store
	Writer *protocol.Writer

	Structured *memory.Structured
	Vector     *memory.Vector
	Memory     *memory.Manager
	Embedder   *embedding.Provider
	Router     *intent.Router

	Registry     *tool.Registry
	Requester    *userinput.Requester
	System       *systemAdapter.Adapter
	Reminders    *scheduler.Engine
	Maintenance  *maintenance.Engine
	Executor     *executor.Executor
	Orchestrator *orchestrator.Orchestrator
	Loop         *service.Loop

	startedAt time.Time
}

// Build constructs the engine over the given data directory and wire
// streams. Fatal errors (locked dir, malformed config, broken sqlite)
// surface here, before the ready event.
func Build(root string, in io.Reader, out io.Writer, flags *pflag.FlagSet) (*Components, error) {
	startedAt := time.Now()

	paths, err := store.NewPaths(root)
	if err != nil {
		return nil, err
	}
	lock, err := store.AcquireLock(paths)
	if err != nil {
		return nil, err
	}

	c := &Components{Paths: paths, Lock: lock, startedAt: startedAt}

	cfg, err := config.New(paths.ConfigFile(), flags)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.Config = cfg
	c.Writer = protocol.NewWriter(out)

	structured, err := memory.OpenStructured(paths.MemoryDB())
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("open structured memory: %w", err)
	}
	c.Structured = structured

	encoder := embedding.NewEncoder(cfg.Provider(), cfg.APIKey(), openAIKeyFallback(cfg))
	if encoder != nil {
		c.Embedder = embedding.NewProvider(encoder)
	}
	c.Vector = memory.OpenVector(paths.VectorDir(), c.Embedder)
	c.Memory = memory.NewManager(structured, c.Vector)

	if c.Embedder != nil {
		c.Router = intent.NewRouter(c.Embedder)
		intent.RegisterDefaults(c.Router)
	}

	c.Requester = userinput.NewRequester(c.Writer, paths.UserInputResponse())
	if timeout, poll, ok := inputTimeouts(cfg); ok {
		c.Requester.SetTimeouts(timeout, poll)
	}

	scriptsDir := cfg.SandboxPath()
	if scriptsDir == "" {
		scriptsDir = paths.ScriptsDir()
	}
	validator, err := sandbox.NewValidator(scriptsDir)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("init sandbox: %w", err)
	}
	runner := sandbox.NewRunner(scriptsDir)

	driver, err := browser.NewHTTPDriver(paths.BrowserStateDir())
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("init browser state: %w", err)
	}

	reminderStore, err := scheduler.NewStore(paths.RemindersFile())
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("open reminder store: %w", err)
	}
	workflowStore, err := workflow.NewStore(paths.WorkflowsFile())
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("open workflow store: %w", err)
	}

	registry := tool.NewRegistry()
	c.Registry = registry
	c.System = systemAdapter.New(registry)
	registry.Register(c.System)
	registry.Register(fileAdapter.New(structured, registry))
	registry.Register(scriptAdapter.New(validator, runner, registry))
	registry.Register(browser.New(driver, c.Requester, registry))
	registry.Register(emailAdapter.New(cfg, registry))
	registry.Register(reminderAdapter.New(reminderStore))
	registry.Register(workflowAdapter.New(workflowStore))
	registry.Register(historyAdapter.New(structured))

	c.Reminders = scheduler.NewEngine(reminderStore, c.System.Notify)
	c.Maintenance = maintenance.NewEngine(c.Vector)

	c.Executor = executor.New(registry, nil, c.Writer, c.Requester, cfg)
	c.Orchestrator = orchestrator.New(cfg, c.Writer, registry, c.Executor, c.Router, c.Memory, c.Embedder, c.Requester)
	c.Loop = service.NewLoop(in, c.Writer, c.Orchestrator, c.Maintenance, startedAt)

	return c, nil
}

// Start launches the background workers.
func (c *Components) Start() {
	if c.Embedder != nil {
		c.Embedder.StartLoading()
	}
	c.Reminders.Start()
	c.Maintenance.Start()
}

// Stop halts workers in reverse start order and releases the data dir.
func (c *Components) Stop() {
	c.Maintenance.Stop()
	c.Reminders.Stop()
	if c.Structured != nil {
		c.Structured.Close()
	}
	if c.Lock != nil {
		c.Lock.Release()
	}
}

// inputTimeouts reads the optional input_timeout / input_poll_interval
// settings; malformed values fall back to the requester defaults.
func inputTimeouts(cfg *config.Store) (time.Duration, time.Duration, bool) {
	str := func(key string) string {
		v, _ := cfg.Get(key).(string)
		return v
	}
	timeout, err := config.DurationOrDefault(str("input_timeout"), userinput.DefaultTimeout.String())
	if err != nil {
		return 0, 0, false
	}
	poll, err := config.DurationOrDefault(str("input_poll_interval"), userinput.DefaultPollInterval.String())
	if err != nil {
		return 0, 0, false
	}
	return timeout, poll, true
}

// openAIKeyFallback lets non-OpenAI providers still embed through an
// OpenAI key when one is present in the environment or config.
func openAIKeyFallback(cfg *config.Store) string {
	if cfg.Provider() == "openai" {
		return cfg.APIKey()
	}
	if v, ok := cfg.Get("openai_api_key").(string); ok && v != "" {
		return v
	}
	return os.Getenv("OPENAI_API_KEY")
}
