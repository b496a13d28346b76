package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/snow-ai/snow/internal/agent"
	"github.com/snow-ai/snow/internal/event"
	"github.com/snow-ai/snow/internal/logging"
	"github.com/snow-ai/snow/internal/message"
	"github.com/snow-ai/snow/internal/permission"
	"github.com/snow-ai/snow/internal/proc"
	"github.com/snow-ai/snow/internal/provider"
	"github.com/snow-ai/snow/internal/stream"
	"github.com/snow-ai/snow/internal/tool"
	"github.com/snow-ai/snow/internal/usefulinfo"
)

// MaxSteps is the maximum number of agentic loop iterations per turn.
const MaxSteps = 50

// runTurn drives one user turn of the main agent.
func (m *Manager) runTurn(ctx context.Context, sess *Session, input UserInput) error {
	sessionID := sess.ID()

	if input.YOLO != nil {
		m.gate.SetYOLO(sessionID, *input.YOLO)
	}

	content := input.Text
	if annotation := resolveFileRefs(m.cfg.WorkDir, input.FileRefs); annotation != "" {
		content += "\n" + annotation
	}

	userMsg := &message.Message{
		Role:    message.RoleUser,
		Content: content,
		Images:  input.Images,
	}
	idx := sess.store.Append(userMsg)
	event.Publish(event.Event{
		Type: event.MessageCreated,
		Data: event.MessageData{SessionID: sessionID, Index: idx, Role: userMsg.Role, Content: userMsg.Content},
	})

	// The checkpoint records the message count prior to the assistant turn;
	// rollback keeps the user message and drops everything after it.
	m.checkpoints.Create(ctx, sessionID, sess.store.Len(), sess.usefulInfo.Snapshot())

	event.Publish(event.Event{Type: event.TurnStarted, Data: event.TurnData{SessionID: sessionID}})

	state := &loopState{
		sessionID:  sessionID,
		profile:    sess.profile,
		gate:       m.gate,
		usefulInfo: sess.usefulInfo,
		history:    sess.store.History,
		appendMsg:  sess.store.Append,
		nextIndex:  sess.store.Len,
	}

	err := m.runLoop(ctx, state)

	switch {
	case err == nil:
		if ferr := sess.store.Flush(ctx); ferr != nil {
			logging.Error().Err(ferr).Msg("session flush failed")
		}
		m.checkpoints.Commit(ctx, sessionID)
		m.notebooks.Commit(sessionID)
		event.Publish(event.Event{Type: event.SessionUpdated, Data: event.SessionData{SessionID: sessionID}})
		event.Publish(event.Event{Type: event.TurnDone, Data: event.TurnData{SessionID: sessionID}})
		return nil

	case errors.Is(err, context.Canceled):
		// Kill any in-flight shell processes spawned from this turn, then
		// restore files, messages, notebooks, and useful info.
		proc.Default().KillSession(sessionID)
		restored, info, ok := m.checkpoints.Rollback(ctx, sessionID)
		if ok {
			sess.usefulInfo.Restore(info)
			m.notebooks.RevertAfter(ctx, sessionID, restored)
			sess.store.RollbackTo(restored)
		}
		if ferr := sess.store.Flush(ctx); ferr != nil {
			logging.Error().Err(ferr).Msg("session flush failed")
		}
		event.Publish(event.Event{Type: event.TurnCancelled, Data: event.TurnData{SessionID: sessionID}})
		return err

	default:
		// A fatal error is not a rollback event; the checkpoint is discarded
		// and the session stays usable.
		m.checkpoints.Commit(ctx, sessionID)
		m.notebooks.Commit(sessionID)
		if ferr := sess.store.Flush(ctx); ferr != nil {
			logging.Error().Err(ferr).Msg("session flush failed")
		}
		event.Publish(event.Event{Type: event.TurnFailed, Data: event.TurnData{SessionID: sessionID, Error: err.Error()}})
		return err
	}
}

// loopState parameterizes one loop instance. The main turn and sub-agent
// turns run the same loop with different state.
type loopState struct {
	sessionID  string
	subAgentID string
	profile    *agent.Profile
	gate       *permission.Gate
	usefulInfo *usefulinfo.Set
	history    func() []*message.Message
	appendMsg  func(*message.Message) int
	nextIndex  func() int

	inputTokens  int
	outputTokens int
	finalText    string
}

// turnAccumulator gathers one streaming attempt's output. A retried attempt
// gets a fresh accumulator so no partial content is duplicated.
type turnAccumulator struct {
	text      string
	reasoning string
	signature string
	collector *stream.Collector
}

// runLoop executes the agentic loop: stream, dispatch tools, resume, until
// the provider finishes with no pending tool calls.
func (m *Manager) runLoop(ctx context.Context, state *loopState) error {
	client, err := m.providers.Get(m.cfg.Provider.ID)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if step >= MaxSteps {
			return fmt.Errorf("maximum steps (%d) reached", MaxSteps)
		}

		req := &provider.Request{
			System:   m.systemPrompt(state),
			Messages: state.history(),
			Tools:    m.executor.Registry().Definitions(state.profile.ToolEnabled),
			Options: provider.Options{
				Model:       m.cfg.Provider.Model,
				MaxTokens:   m.cfg.Provider.MaxTokens,
				Temperature: m.cfg.Provider.Temperature,
				CacheTTL:    m.cfg.Provider.CacheTTL,
				UserID:      m.devUserID,
			},
		}
		if m.cfg.Provider.ThinkingEnabled {
			req.Options.Thinking = &provider.ThinkingConfig{
				Enabled:      true,
				BudgetTokens: m.cfg.Provider.ThinkingBudget,
			}
		}

		acc := &turnAccumulator{collector: stream.NewCollector()}

		factory := func(ctx context.Context) (<-chan stream.Event, <-chan stream.Result, error) {
			// A fresh attempt starts with a fresh accumulator.
			*acc = turnAccumulator{collector: stream.NewCollector()}
			return client.Stream(ctx, req)
		}

		err := stream.Run(ctx, factory, stream.RetryOptions{
			ResumeAfterEvents: true,
			OnRetry: func(attempt int, delay time.Duration, cause error) {
				event.Publish(event.Event{
					Type: event.TurnRetrying,
					Data: event.RetryData{
						SessionID: state.sessionID,
						Attempt:   attempt,
						DelayMS:   delay.Milliseconds(),
						Reason:    cause.Error(),
					},
				})
			},
		}, func(ev stream.Event) error {
			m.consumeEvent(state, acc, ev)
			return nil
		})
		if err != nil {
			return err
		}

		calls := acc.collector.Calls()

		assistantMsg := &message.Message{
			Role:             message.RoleAssistant,
			Content:          acc.text,
			SubAgentInternal: state.subAgentID != "",
			SubAgentID:       state.subAgentID,
		}
		if acc.reasoning != "" {
			assistantMsg.Thinking = &message.Thinking{Text: acc.reasoning, Signature: acc.signature}
		}
		for _, call := range calls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, message.ToolCallDescriptor{
				ID:         call.ID,
				Name:       call.Name,
				Arguments:  call.Arguments,
				Repaired:   call.Repaired,
				Incomplete: call.Incomplete,
			})
		}
		idx := state.appendMsg(assistantMsg)
		event.Publish(event.Event{
			Type: event.MessageCreated,
			Data: event.MessageData{SessionID: state.sessionID, Index: idx, Role: assistantMsg.Role, Content: assistantMsg.Content},
		})

		if len(calls) == 0 {
			state.finalText = acc.text
			return nil
		}

		results := m.executor.Execute(ctx, state.sessionID, calls, tool.ExecOptions{
			Allowed:   state.profile.ToolEnabled,
			Gate:      state.gate,
			BaseIndex: state.nextIndex(),
			MakeContext: func(call stream.ToolCall, messageIndex int) *tool.Context {
				return m.toolContext(state, call, messageIndex)
			},
		})

		// Results are appended in the order the calls were emitted.
		for _, res := range results {
			res.SubAgentInternal = state.subAgentID != ""
			res.SubAgentID = state.subAgentID
			ridx := state.appendMsg(res)
			event.Publish(event.Event{
				Type: event.MessageCreated,
				Data: event.MessageData{SessionID: state.sessionID, Index: ridx, Role: res.Role, Content: res.Content},
			})
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// consumeEvent fans one stream event into the accumulator and the UI sink.
func (m *Manager) consumeEvent(state *loopState, acc *turnAccumulator, ev stream.Event) {
	acc.collector.Observe(ev)

	switch e := ev.(type) {
	case stream.ContentDelta:
		acc.text += e.Text
		event.Publish(event.Event{
			Type: event.ContentDelta,
			Data: event.DeltaData{SessionID: state.sessionID, Text: e.Text, SubAgentID: state.subAgentID},
		})
	case stream.ReasoningDelta:
		acc.reasoning += e.Text
		event.Publish(event.Event{
			Type: event.ReasoningDelta,
			Data: event.DeltaData{SessionID: state.sessionID, Text: e.Text, SubAgentID: state.subAgentID},
		})
	case stream.ReasoningSignatureDelta:
		acc.signature += e.Data
	case stream.ToolCallStart:
		event.Publish(event.Event{
			Type: event.ToolCallStarted,
			Data: event.ToolCallData{SessionID: state.sessionID, CallID: e.ID, Tool: e.Name, SubAgentID: state.subAgentID},
		})
	case stream.MessageStart:
		if e.Usage != nil {
			state.inputTokens += e.Usage.InputTokens
		}
	case stream.MessageDelta:
		if e.Usage != nil {
			state.outputTokens += e.Usage.OutputTokens
			event.Publish(event.Event{
				Type: event.UsageUpdated,
				Data: event.UsageData{
					SessionID:    state.sessionID,
					InputTokens:  state.inputTokens,
					OutputTokens: state.outputTokens,
				},
			})
		}
	case stream.Usage:
		state.inputTokens += e.InputTokens
		state.outputTokens += e.OutputTokens
	}
}

// toolContext builds the execution context for one tool call.
func (m *Manager) toolContext(state *loopState, call stream.ToolCall, messageIndex int) *tool.Context {
	toolCtx := &tool.Context{
		SessionID:    state.sessionID,
		CallID:       call.ID,
		AgentID:      state.profile.ID,
		WorkDir:      m.cfg.WorkDir,
		MessageIndex: messageIndex,
		Checkpoint:   m.checkpoints,
		Notebook:     m.notebooks,
		Todos:        m.todos,
		OnMetadata: func(title string, meta map[string]any) {
			event.Publish(event.Event{
				Type: event.ToolCallUpdated,
				Data: event.ToolCallData{
					SessionID:  state.sessionID,
					CallID:     call.ID,
					Tool:       call.Name,
					Output:     title,
					SubAgentID: state.subAgentID,
				},
			})
		},
	}
	toolCtx.UsefulInfo = state.usefulInfo
	return toolCtx
}
