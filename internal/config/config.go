// Package config loads runtime configuration from the layered .snow tree:
// built-in defaults, the global ~/.snow/config.json, the project-local
// .snow/config.json (which takes precedence per dimension when present and
// non-empty), and finally SNOW_* environment variables.
//
// Config files are JSONC; comments and trailing commas are tolerated.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"
	"github.com/tidwall/jsonc"

	"github.com/snow-ai/snow/internal/logging"
)

// ProviderConfig selects and tunes the LLM provider.
type ProviderConfig struct {
	ID              string  `json:"id,omitempty"`
	BaseURL         string  `json:"baseUrl,omitempty"`
	APIKeyEnv       string  `json:"apiKeyEnv,omitempty"`
	Model           string  `json:"model,omitempty"`
	MaxTokens       int     `json:"maxTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	ThinkingEnabled bool    `json:"thinkingEnabled,omitempty"`
	ThinkingBudget  int     `json:"thinkingBudget,omitempty"`
	CacheTTL        string  `json:"cacheTtl,omitempty"`
}

// SSEConfig tunes the optional SSE transport.
type SSEConfig struct {
	Port    int `json:"port,omitempty"`
	Timeout int `json:"timeout,omitempty"` // seconds
}

// SensitiveRuleConfig is the serialized form of a sensitive-command rule.
type SensitiveRuleConfig struct {
	Pattern     string `json:"pattern"`
	Kind        string `json:"kind,omitempty"` // literal | prefix | regex
	Description string `json:"description,omitempty"`
	Active      *bool  `json:"active,omitempty"`
}

// Config is the resolved runtime configuration.
type Config struct {
	Provider       ProviderConfig        `json:"provider,omitempty"`
	YOLO           bool                  `json:"yolo,omitempty"`
	LogLevel       string                `json:"logLevel,omitempty"`
	SSE            SSEConfig             `json:"sse,omitempty"`
	SensitiveRules []SensitiveRuleConfig `json:"sensitiveRules,omitempty"`

	// resolved paths
	GlobalDir  string `json:"-"`
	ProjectDir string `json:"-"`
	WorkDir    string `json:"-"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			ID:        "anthropic",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
		},
		LogLevel: "info",
		SSE: SSEConfig{
			Port:    8732,
			Timeout: 300,
		},
	}
}

// GlobalDir returns the user-home .snow directory.
func GlobalDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".snow"
	}
	return filepath.Join(home, ".snow")
}

// ProjectDir returns the project-root .snow directory for a workspace.
func ProjectDir(workDir string) string {
	return filepath.Join(workDir, ".snow")
}

// Load resolves the configuration for a working directory.
func Load(workDir string) Config {
	// .env is best-effort; missing files are fine.
	godotenv.Load(filepath.Join(workDir, ".env"))

	cfg := Default()
	cfg.GlobalDir = GlobalDir()
	cfg.ProjectDir = ProjectDir(workDir)
	cfg.WorkDir = workDir

	if global := readConfigFile(filepath.Join(cfg.GlobalDir, "config.json")); global != nil {
		merge(&cfg, global)
	}
	if project := readConfigFile(filepath.Join(cfg.ProjectDir, "config.json")); project != nil {
		merge(&cfg, project)
	}

	applyEnv(&cfg)
	return cfg
}

// readConfigFile parses a JSONC config file, returning nil when absent or
// unparseable.
func readConfigFile(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		logging.Warn().Str("path", path).Err(err).Msg("invalid config file")
		return nil
	}
	return &cfg
}

// merge overlays non-empty dimensions of src onto dst.
func merge(dst *Config, src *Config) {
	if src.Provider.ID != "" {
		dst.Provider.ID = src.Provider.ID
	}
	if src.Provider.BaseURL != "" {
		dst.Provider.BaseURL = src.Provider.BaseURL
	}
	if src.Provider.APIKeyEnv != "" {
		dst.Provider.APIKeyEnv = src.Provider.APIKeyEnv
	}
	if src.Provider.Model != "" {
		dst.Provider.Model = src.Provider.Model
	}
	if src.Provider.MaxTokens > 0 {
		dst.Provider.MaxTokens = src.Provider.MaxTokens
	}
	if src.Provider.Temperature > 0 {
		dst.Provider.Temperature = src.Provider.Temperature
	}
	if src.Provider.ThinkingEnabled {
		dst.Provider.ThinkingEnabled = true
	}
	if src.Provider.ThinkingBudget > 0 {
		dst.Provider.ThinkingBudget = src.Provider.ThinkingBudget
	}
	if src.Provider.CacheTTL != "" {
		dst.Provider.CacheTTL = src.Provider.CacheTTL
	}
	if src.YOLO {
		dst.YOLO = true
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.SSE.Port > 0 {
		dst.SSE.Port = src.SSE.Port
	}
	if src.SSE.Timeout > 0 {
		dst.SSE.Timeout = src.SSE.Timeout
	}
	if len(src.SensitiveRules) > 0 {
		dst.SensitiveRules = src.SensitiveRules
	}
}

// applyEnv overrides from SNOW_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SNOW_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("SNOW_PROVIDER"); v != "" {
		cfg.Provider.ID = v
	}
	if v := os.Getenv("SNOW_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("SNOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SNOW_YOLO"); v != "" {
		cfg.YOLO = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("SNOW_SSE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.SSE.Port = port
		}
	}
}

// APIKey resolves the provider API key from the configured env var.
func (c *Config) APIKey() string {
	if c.Provider.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Provider.APIKeyEnv)
}

// DevUserID returns the persistent dev-mode user id, creating it on first use.
func DevUserID() string {
	path := filepath.Join(GlobalDir(), "devuser")
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	id := "dev-" + strings.ToLower(ulid.Make().String())
	os.MkdirAll(GlobalDir(), 0755)
	os.WriteFile(path, []byte(id+"\n"), 0644)
	return id
}
