package session

import (
	"github.com/snow-ai/snow/internal/message"
)

// DisplayRecord is one UI-facing conversation record: consecutive stream
// chunks folded into a single message, with tool calls resolved against
// their results.
type DisplayRecord struct {
	Role       string              `json:"role"`
	Content    string              `json:"content"`
	Thinking   string              `json:"thinking,omitempty"`
	SubAgentID string              `json:"subAgentId,omitempty"`
	ToolCalls  []DisplayToolCall   `json:"toolCalls,omitempty"`
	Indices    []int               `json:"indices"`
}

// DisplayToolCall pairs a tool call with its result.
type DisplayToolCall struct {
	CallID    string `json:"callId"`
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"`
	Output    string `json:"output,omitempty"`
	Status    string `json:"status,omitempty"`
}

// View converts the session log to display records. Tool-result messages
// fold into the assistant record that issued the call; consecutive assistant
// messages of the same sub-agent fold together.
func (s *Session) View() []DisplayRecord {
	msgs := s.store.Messages()

	// Resolve tool results by call id first.
	results := make(map[string]*message.Message)
	for _, msg := range msgs {
		if msg.IsToolResult() {
			results[msg.ToolCallID] = msg
		}
	}

	var records []DisplayRecord
	var current *DisplayRecord

	flush := func() {
		if current != nil {
			records = append(records, *current)
			current = nil
		}
	}

	for _, msg := range msgs {
		switch {
		case msg.IsToolResult():
			// Folded into its call below.
		case msg.Role == message.RoleAssistant:
			if current == nil || current.Role != message.RoleAssistant || current.SubAgentID != msg.SubAgentID {
				flush()
				current = &DisplayRecord{Role: message.RoleAssistant, SubAgentID: msg.SubAgentID}
			}
			current.Content += msg.Content
			current.Indices = append(current.Indices, msg.Index)
			if msg.Thinking != nil {
				current.Thinking += msg.Thinking.Text
			}
			for _, tc := range msg.ToolCalls {
				display := DisplayToolCall{
					CallID:    tc.ID,
					Tool:      tc.Name,
					Arguments: string(tc.Arguments),
				}
				if res, ok := results[tc.ID]; ok {
					display.Output = res.Content
					display.Status = res.Status
				}
				current.ToolCalls = append(current.ToolCalls, display)
			}
		default:
			flush()
			records = append(records, DisplayRecord{
				Role:       msg.Role,
				Content:    msg.Content,
				SubAgentID: msg.SubAgentID,
				Indices:    []int{msg.Index},
			})
		}
	}
	flush()

	return records
}
