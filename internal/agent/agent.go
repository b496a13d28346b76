// Package agent provides agent profile configuration and management.
//
// A profile parameterizes one agent-loop instance: its system prompt, its
// allowed tool set, and whether it runs as the main agent or as a sub-agent
// invoked as a tool.
package agent

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Mode represents the profile operation mode.
type Mode string

const (
	ModePrimary  Mode = "primary"
	ModeSubagent Mode = "subagent"
	ModeAll      Mode = "all"
)

// Profile represents an agent profile.
type Profile struct {
	ID            string          `json:"id" yaml:"id"`
	Name          string          `json:"name" yaml:"name"`
	Description   string          `json:"description" yaml:"description"`
	Mode          Mode            `json:"mode" yaml:"mode"`
	BuiltIn       bool            `json:"builtIn" yaml:"-"`
	SystemPrompt  string          `json:"systemPrompt,omitempty" yaml:"systemPrompt"`
	Tools         map[string]bool `json:"tools,omitempty" yaml:"tools"`
	ConfigProfile string          `json:"configProfile,omitempty" yaml:"configProfile"`
	MaxSteps      int             `json:"maxSteps,omitempty" yaml:"maxSteps"`
}

// ToolEnabled checks if a tool is enabled for this profile. Exact entries
// win over wildcard patterns; tools without any entry default to enabled for
// primary profiles and disabled for sub-agents (their allowlist is explicit).
func (p *Profile) ToolEnabled(toolID string) bool {
	if enabled, ok := p.Tools[toolID]; ok {
		return enabled
	}

	for pattern, enabled := range p.Tools {
		if matchWildcard(pattern, toolID) {
			return enabled
		}
	}

	return p.Mode == ModePrimary || p.Mode == ModeAll
}

// AllowedTools returns the explicit allowlist entries that are enabled.
func (p *Profile) AllowedTools() []string {
	var out []string
	for name, enabled := range p.Tools {
		if enabled && !strings.Contains(name, "*") {
			out = append(out, name)
		}
	}
	return out
}

// IsPrimary returns true if the profile can drive the main loop.
func (p *Profile) IsPrimary() bool {
	return p.Mode == ModePrimary || p.Mode == ModeAll
}

// IsSubagent returns true if the profile can be invoked as a tool.
func (p *Profile) IsSubagent() bool {
	return p.Mode == ModeSubagent || p.Mode == ModeAll
}

// Clone creates a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	clone := *p
	if p.Tools != nil {
		clone.Tools = make(map[string]bool, len(p.Tools))
		for k, v := range p.Tools {
			clone.Tools[k] = v
		}
	}
	return &clone
}

// matchWildcard checks if a string matches a wildcard pattern.
func matchWildcard(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	if strings.Contains(pattern, "**") {
		matched, _ := doublestar.Match(pattern, s)
		return matched
	}
	if strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*") {
		return strings.HasPrefix(s, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*") {
		return strings.HasSuffix(s, strings.TrimPrefix(pattern, "*"))
	}
	if strings.Contains(pattern, "*") {
		matched, _ := doublestar.Match(pattern, s)
		return matched
	}
	return pattern == s
}

// BuiltInProfiles returns the default profile configurations.
func BuiltInProfiles() map[string]*Profile {
	return map[string]*Profile{
		"main": {
			ID:          "main",
			Name:        "main",
			Description: "Primary agent for executing tasks, writing code, and making changes",
			Mode:        ModePrimary,
			BuiltIn:     true,
			Tools: map[string]bool{
				"*": true,
			},
		},
		"agent_general": {
			ID:          "agent_general",
			Name:        "general",
			Description: "General-purpose subagent for searches and multi-step exploration",
			Mode:        ModeSubagent,
			BuiltIn:     true,
			SystemPrompt: "You are a focused research subagent. Investigate the request " +
				"thoroughly using the available read-only tools and reply with a concise, " +
				"complete summary of what you found. Your final message is your only output.",
			Tools: map[string]bool{
				"filesystem-read": true,
				"code-search":     true,
				"symbol-search":   true,
				"file-outline":    true,
				"find-references": true,
				"web-fetch":       true,
			},
		},
		"agent_explore": {
			ID:          "agent_explore",
			Name:        "explore",
			Description: "Fast subagent specialized for codebase exploration",
			Mode:        ModeSubagent,
			BuiltIn:     true,
			SystemPrompt: "You are a codebase exploration subagent. Locate the relevant " +
				"files and symbols quickly and report paths, line numbers, and short " +
				"snippets. Do not propose changes.",
			Tools: map[string]bool{
				"filesystem-read": true,
				"code-search":     true,
				"symbol-search":   true,
				"file-outline":    true,
				"find-references": true,
			},
		},
	}
}
