// Package message defines the session message model and the append-only
// per-session message store.
package message

import "encoding/json"

// Roles for the message tagged union.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// Tool-result statuses.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// Image is an embedded image attachment.
type Image struct {
	Data      string `json:"data"` // base64
	MediaType string `json:"mediaType"`
}

// ToolCallDescriptor is one tool invocation requested by the assistant.
type ToolCallDescriptor struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	// Repaired is set when the streamed argument JSON required repair.
	Repaired bool `json:"repaired,omitempty"`
	// Incomplete is set when the stream ended before the call's stop event.
	Incomplete bool `json:"incomplete,omitempty"`
}

// Thinking is an opaque reasoning block with its signature.
type Thinking struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// Message is one entry in a session's append-only log.
//
// Role determines which optional fields are meaningful: assistant messages may
// carry ToolCalls and Thinking; tool messages carry ToolCallID and Status;
// system messages are injected annotations. Index is the 0-based position in
// the session and is assigned by the store on append.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Index   int    `json:"index"`

	ToolCalls  []ToolCallDescriptor `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	Status     string               `json:"status,omitempty"`

	Images   []Image   `json:"images,omitempty"`
	Thinking *Thinking `json:"thinking,omitempty"`

	// SubAgentInternal marks messages that belong to a sub-agent's activity.
	// They are persisted for display reconstruction but excluded from
	// provider requests.
	SubAgentInternal bool `json:"subAgentInternal,omitempty"`
	// SubAgentID names the sub-agent a SubAgentInternal message belongs to.
	SubAgentID string `json:"subAgentId,omitempty"`
}

// IsToolResult reports whether the message answers a tool call.
func (m *Message) IsToolResult() bool {
	return m.Role == RoleTool && m.ToolCallID != ""
}
