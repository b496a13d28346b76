// Package app constructs the runtime: every service built once at startup,
// passed explicitly, and shut down in reverse dependency order.
package app

import (
	"context"
	"path/filepath"

	"github.com/snow-ai/snow/internal/agent"
	"github.com/snow-ai/snow/internal/checkpoint"
	"github.com/snow-ai/snow/internal/config"
	"github.com/snow-ai/snow/internal/logging"
	"github.com/snow-ai/snow/internal/mcp"
	"github.com/snow-ai/snow/internal/notebook"
	"github.com/snow-ai/snow/internal/permission"
	"github.com/snow-ai/snow/internal/proc"
	"github.com/snow-ai/snow/internal/provider"
	"github.com/snow-ai/snow/internal/search"
	"github.com/snow-ai/snow/internal/session"
	"github.com/snow-ai/snow/internal/storage"
	"github.com/snow-ai/snow/internal/todo"
	"github.com/snow-ai/snow/internal/tool"
)

// App is the assembled runtime.
type App struct {
	Config    config.Config
	Global    *storage.Storage
	Project   *storage.Storage
	Index     *search.Index
	Gate      *permission.Gate
	Registry  *tool.Registry
	Executor  *tool.Executor
	Providers *provider.Registry
	Profiles  *agent.Registry
	Sessions  *session.Manager
	MCP       *mcp.Manager
}

// Options tune app construction.
type Options struct {
	WorkDir string
	// Confirmer resolves permission prompts; nil rejects everything that
	// needs confirmation (headless default until a transport attaches one).
	Confirmer permission.Confirmer
	// YOLO forces YOLO mode on for new sessions.
	YOLO bool
	// Dev enables verbose logging and the dev user id header.
	Dev bool
}

// New builds the runtime for a working directory.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := config.Load(opts.WorkDir)
	if opts.YOLO {
		cfg.YOLO = true
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if opts.Dev {
		level = logging.DebugLevel
	}
	logging.Init(logging.WithLevel(level), logging.WithFileSink(""))

	global := storage.New(cfg.GlobalDir)
	project := storage.New(cfg.ProjectDir)

	rules := buildRules(cfg)
	projectPerms := permission.LoadProjectPermissions(ctx, project)
	gate := permission.NewGate(opts.Confirmer, rules, projectPerms)

	checkpoints := checkpoint.NewManager(global)
	todos := todo.NewStore(global)
	notebooks := notebook.NewJournal(notebook.Load(ctx, project, opts.WorkDir))
	index := search.NewIndex(opts.WorkDir)

	registry := tool.NewRegistry()
	executor := tool.NewExecutor(registry, gate)

	providers := provider.NewRegistry()
	providers.Register(provider.NewAnthropicClient(provider.AnthropicConfig{
		APIKey:  cfg.APIKey(),
		BaseURL: cfg.Provider.BaseURL,
	}))
	providers.Register(provider.NewOpenAIClient(provider.OpenAIConfig{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.APIKey(),
	}))
	if err := providers.SetDefault(cfg.Provider.ID); err != nil {
		logging.Warn().Str("provider", cfg.Provider.ID).Msg("unknown provider, using default")
	}

	profiles := agent.NewRegistry()
	profiles.LoadDir(filepath.Join(cfg.GlobalDir, "agents"))
	profiles.LoadDir(filepath.Join(cfg.ProjectDir, "agents"))

	var devUserID string
	if opts.Dev {
		devUserID = config.DevUserID()
	}
	sessions := session.NewManager(session.ManagerConfig{
		Config:      cfg,
		Global:      global,
		Checkpoints: checkpoints,
		Todos:       todos,
		Notebooks:   notebooks,
		Providers:   providers,
		Executor:    executor,
		Gate:        gate,
		Profiles:    profiles,
		DevUserID:   devUserID,
	})

	registerTools(registry, opts.WorkDir, index, profiles, sessions)

	mcpManager := mcp.NewManager(cfg.GlobalDir, cfg.ProjectDir)
	mcpManager.RegisterTools(ctx, registry)

	return &App{
		Config:    cfg,
		Global:    global,
		Project:   project,
		Index:     index,
		Gate:      gate,
		Registry:  registry,
		Executor:  executor,
		Providers: providers,
		Profiles:  profiles,
		Sessions:  sessions,
		MCP:       mcpManager,
	}, nil
}

// registerTools populates the registry with the built-in tools plus one task
// tool per sub-agent profile.
func registerTools(registry *tool.Registry, workDir string, index *search.Index, profiles *agent.Registry, sessions *session.Manager) {
	read := tool.NewReadTool(workDir, nil)
	write := tool.NewWriteTool(workDir)
	edit := tool.NewEditTool(workDir)

	registry.Register(read)
	registry.Register(write)
	registry.Register(edit)
	registry.Register(tool.NewUndoTool(workDir))
	registry.Register(tool.NewBatchTool(read, write, edit))
	registry.Register(tool.NewExecTool(workDir, proc.Default()))
	registry.Register(tool.NewGrepTool(index))
	registry.Register(tool.NewSymbolSearchTool(index))
	registry.Register(tool.NewOutlineTool(index))
	registry.Register(tool.NewReferencesTool(index))
	registry.Register(tool.NewWebFetchTool())
	registry.Register(tool.NewTodoWriteTool())
	registry.Register(tool.NewTodoReadTool())
	registry.Register(tool.NewNotebookWriteTool())
	registry.Register(tool.NewNotebookQueryTool())
	registry.Register(tool.NewUsefulInfoTool())

	for _, profile := range profiles.Subagents() {
		registry.Register(tool.NewTaskTool(profile.ID, profile.Name, profile.Description, sessions))
	}
}

// buildRules converts configured sensitive-command rules, falling back to
// the defaults when none are configured.
func buildRules(cfg config.Config) *permission.RuleSet {
	if len(cfg.SensitiveRules) == 0 {
		return permission.DefaultRules()
	}
	rules := make([]*permission.Rule, 0, len(cfg.SensitiveRules))
	for _, rc := range cfg.SensitiveRules {
		kind := permission.RuleKind(rc.Kind)
		if kind == "" {
			kind = permission.RuleLiteral
		}
		active := true
		if rc.Active != nil {
			active = *rc.Active
		}
		rules = append(rules, &permission.Rule{
			Pattern:     rc.Pattern,
			Kind:        kind,
			Description: rc.Description,
			Active:      active,
		})
	}
	return permission.NewRuleSet(rules)
}

// Shutdown tears the runtime down in reverse dependency order.
func (a *App) Shutdown() {
	a.MCP.Close()
	a.Index.Close()
	proc.Default().ShutdownAll()
	logging.Close()
}
