// Package mcp connects external MCP tool servers and registers their tools
// into the runtime's registry under mcp_<server>_<tool> names.
//
// Server configuration loads from mcp.json in the global and project .snow
// directories; a project file that exists and is non-empty takes precedence
// per server name.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/jsonc"

	"github.com/snow-ai/snow/internal/logging"
	"github.com/snow-ai/snow/internal/tool"
)

// ServerConfig describes one stdio MCP server.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Disabled bool             `json:"disabled,omitempty"`
}

// configFile is the mcp.json document.
type configFile struct {
	Servers map[string]ServerConfig `json:"servers"`
}

// Manager owns the connected MCP clients.
type Manager struct {
	mu        sync.Mutex
	globalDir string
	projectDir string
	clients   map[string]*client.Client
}

// NewManager creates an MCP manager over the config directories.
func NewManager(globalDir, projectDir string) *Manager {
	return &Manager{
		globalDir:  globalDir,
		projectDir: projectDir,
		clients:    make(map[string]*client.Client),
	}
}

// loadConfig merges global and project mcp.json files.
func (m *Manager) loadConfig() map[string]ServerConfig {
	servers := make(map[string]ServerConfig)

	for _, dir := range []string{m.globalDir, m.projectDir} {
		data, err := os.ReadFile(filepath.Join(dir, "mcp.json"))
		if err != nil || len(data) == 0 {
			continue
		}
		var file configFile
		if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
			logging.Warn().Str("dir", dir).Err(err).Msg("invalid mcp.json")
			continue
		}
		// Later (project) entries replace earlier (global) ones by name.
		for name, cfg := range file.Servers {
			servers[name] = cfg
		}
	}
	return servers
}

// RegisterTools connects every configured server and registers its tools.
// Connection failures are logged and skipped; MCP servers are optional.
func (m *Manager) RegisterTools(ctx context.Context, registry *tool.Registry) {
	for name, cfg := range m.loadConfig() {
		if cfg.Disabled || cfg.Command == "" {
			continue
		}
		if err := m.connect(ctx, name, cfg, registry); err != nil {
			logging.Warn().Str("server", name).Err(err).Msg("mcp server unavailable")
		}
	}
}

func (m *Manager) connect(ctx context.Context, name string, cfg ServerConfig, registry *tool.Registry) error {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	initReq := mcpproto.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpproto.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpproto.Implementation{Name: "snow", Version: "1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	tools, err := c.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	m.mu.Lock()
	m.clients[name] = c
	m.mu.Unlock()

	for _, remote := range tools.Tools {
		schema, err := json.Marshal(remote.InputSchema)
		if err != nil {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		registry.Register(&remoteTool{
			client:      c,
			server:      name,
			remoteName:  remote.Name,
			description: remote.Description,
			schema:      schema,
		})
	}

	logging.Info().Str("server", name).Int("tools", len(tools.Tools)).Msg("mcp server connected")
	return nil
}

// Close shuts down every client.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.clients {
		c.Close()
		delete(m.clients, name)
	}
}

// remoteTool adapts one MCP tool to the registry contract.
type remoteTool struct {
	client      *client.Client
	server      string
	remoteName  string
	description string
	schema      json.RawMessage
}

func (t *remoteTool) ID() string {
	return fmt.Sprintf("mcp_%s_%s", t.server, t.remoteName)
}

func (t *remoteTool) Description() string {
	if t.description != "" {
		return t.description
	}
	return fmt.Sprintf("Tool %s provided by the %s MCP server", t.remoteName, t.server)
}

func (t *remoteTool) Parameters() json.RawMessage { return t.schema }

// Remote tools may have side effects the runtime cannot see.
func (t *remoteTool) Parallelizable() bool { return false }

func (t *remoteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}

	req := mcpproto.CallToolRequest{}
	req.Params.Name = t.remoteName
	req.Params.Arguments = args

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return tool.ErrorResult(t.remoteName, err.Error()), nil
	}

	// Unwrap the MCP content envelope to a plain string.
	var sb strings.Builder
	for _, content := range res.Content {
		if text, ok := content.(mcpproto.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}

	return &tool.Result{
		Title:   t.remoteName,
		Output:  sb.String(),
		IsError: res.IsError,
	}, nil
}
