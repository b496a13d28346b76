package session

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// mainSystemPrompt is the default role prompt for the primary agent.
const mainSystemPrompt = `You are snow, a terminal-resident AI coding agent. You help the developer by
reading and editing files, running shell commands, and searching the codebase
through the tools provided. Be precise and economical: read before you edit,
verify after you change, and prefer small, reviewable modifications. When a
task needs broad exploration, delegate to a sub-agent tool and pack the full
context into its prompt.`

// systemPrompt composes the provider system prompt for a loop instance:
// role prompt (profile override or the main default), workspace context,
// useful info, and the notebook overview.
func (m *Manager) systemPrompt(state *loopState) string {
	var sb strings.Builder

	if state.profile.SystemPrompt != "" {
		sb.WriteString(state.profile.SystemPrompt)
	} else {
		sb.WriteString(mainSystemPrompt)
	}

	sb.WriteString("\n\n# Environment\n")
	sb.WriteString(fmt.Sprintf("Working directory: %s\n", m.cfg.WorkDir))
	sb.WriteString(fmt.Sprintf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH))
	sb.WriteString(fmt.Sprintf("Date: %s\n", time.Now().Format("2006-01-02")))

	// Sub-agents get the lean prompt: no shared context blocks.
	if state.subAgentID != "" {
		return sb.String()
	}

	if info := state.usefulInfo.Render(); info != "" {
		sb.WriteString("\n# Shared context\n")
		sb.WriteString(info)
	}

	if block := m.notebookBlock(); block != "" {
		sb.WriteString("\n# Notebooks\n")
		sb.WriteString(block)
	}

	return sb.String()
}

// notebookBlock summarizes notebook entries so notes surface when their
// paths are touched.
func (m *Manager) notebookBlock() string {
	all := m.notebooks.Book().All()
	if len(all) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Developer notes on workspace paths:\n")
	for path, entries := range all {
		for _, e := range entries {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", path, e.Note))
		}
	}
	return sb.String()
}
