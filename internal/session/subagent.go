package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/snow-ai/snow/internal/message"
	"github.com/snow-ai/snow/internal/tool"
)

// RunSubAgent implements tool.SubAgentRunner: it instantiates the agent loop
// with the sub-agent's profile, a fresh permission scope, and a message
// context seeded only with the injected prompt. Streaming events are
// forwarded to the main session's UI sink tagged with the sub-agent id, and
// every message is mirrored into the main session's log as sub-agent-internal
// so a reload can reconstruct the activity for display.
func (m *Manager) RunSubAgent(ctx context.Context, profileID, prompt string, toolCtx *tool.Context) (*tool.SubAgentResult, error) {
	profile, err := m.profiles.Get(profileID)
	if err != nil {
		return nil, err
	}
	if !profile.IsSubagent() {
		return nil, fmt.Errorf("profile %s cannot run as a sub-agent", profileID)
	}

	m.mu.Lock()
	sess, ok := m.sessions[toolCtx.SessionID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session not found: %s", toolCtx.SessionID)
	}

	// The sub-agent's private history: the injected prompt only. It cannot
	// access the main session's messages.
	local := &subAgentLog{}
	local.append(&message.Message{Role: message.RoleUser, Content: prompt})

	// Mirror the prompt into the main log for display reconstruction.
	mirror := func(msg *message.Message) int {
		local.append(msg)
		mirrored := *msg
		mirrored.SubAgentInternal = true
		mirrored.SubAgentID = profileID
		sess.store.Append(&mirrored)
		return local.len() - 1
	}
	promptCopy := message.Message{
		Role: message.RoleUser, Content: prompt,
		SubAgentInternal: true, SubAgentID: profileID,
	}
	sess.store.Append(&promptCopy)

	state := &loopState{
		sessionID:  toolCtx.SessionID,
		subAgentID: profileID,
		profile:    profile,
		gate:       m.gate.Fork(),
		usefulInfo: sess.usefulInfo,
		history:    local.messages,
		appendMsg:  mirror,
		nextIndex:  local.len,
	}

	if err := m.runLoop(ctx, state); err != nil {
		return nil, err
	}

	return &tool.SubAgentResult{
		Output:       state.finalText,
		InputTokens:  state.inputTokens,
		OutputTokens: state.outputTokens,
	}, nil
}

// subAgentLog is the sub-agent's in-memory message context.
type subAgentLog struct {
	mu   sync.Mutex
	msgs []*message.Message
}

func (l *subAgentLog) append(msg *message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := *msg
	m.SubAgentInternal = false
	m.SubAgentID = ""
	m.Index = len(l.msgs)
	l.msgs = append(l.msgs, &m)
}

func (l *subAgentLog) messages() []*message.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*message.Message(nil), l.msgs...)
}

func (l *subAgentLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}
