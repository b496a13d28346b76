package event

// EventType represents the type of event.
type EventType string

const (
	SessionCreated EventType = "session.created"
	SessionUpdated EventType = "session.updated"

	MessageCreated EventType = "message.created"
	MessageUpdated EventType = "message.updated"
	MessageRemoved EventType = "message.removed"

	ContentDelta   EventType = "content.delta"
	ReasoningDelta EventType = "reasoning.delta"

	ToolCallStarted  EventType = "tool.call.started"
	ToolCallUpdated  EventType = "tool.call.updated"
	ToolCallFinished EventType = "tool.call.finished"
	ToolOutputLines  EventType = "tool.output.lines"
	ToolNeedsInput   EventType = "tool.needs_input"

	PermissionRequired EventType = "permission.required"
	PermissionResolved EventType = "permission.resolved"

	TurnStarted   EventType = "turn.started"
	TurnDone      EventType = "turn.done"
	TurnCancelled EventType = "turn.cancelled"
	TurnFailed    EventType = "turn.failed"
	TurnRetrying  EventType = "turn.retrying"

	UsageUpdated EventType = "usage.updated"
	FileEdited   EventType = "file.edited"
)

// SessionData carries the session id for session lifecycle events.
type SessionData struct {
	SessionID string `json:"sessionId"`
}

// MessageData carries a persisted message for message events.
type MessageData struct {
	SessionID string `json:"sessionId"`
	Index     int    `json:"index"`
	Role      string `json:"role"`
	Content   string `json:"content,omitempty"`
}

// DeltaData carries a streamed text or reasoning delta.
// SubAgentID is set when the delta originates from a sub-agent.
type DeltaData struct {
	SessionID  string `json:"sessionId"`
	Text       string `json:"text"`
	SubAgentID string `json:"subAgentId,omitempty"`
}

// ToolCallData describes a tool call transition.
type ToolCallData struct {
	SessionID  string `json:"sessionId"`
	CallID     string `json:"callId"`
	Tool       string `json:"tool"`
	Arguments  string `json:"arguments,omitempty"`
	Output     string `json:"output,omitempty"`
	IsError    bool   `json:"isError,omitempty"`
	SubAgentID string `json:"subAgentId,omitempty"`
}

// ToolOutputData carries a batch of sanitized output lines from a running tool.
type ToolOutputData struct {
	SessionID string   `json:"sessionId"`
	CallID    string   `json:"callId"`
	Lines     []string `json:"lines"`
}

// PermissionRequiredData describes a pending confirmation request.
type PermissionRequiredData struct {
	ID           string   `json:"id"`
	SessionID    string   `json:"sessionId"`
	Tool         string   `json:"tool"`
	Arguments    string   `json:"arguments,omitempty"`
	BatchedTools []string `json:"batchedTools,omitempty"`
	Sensitive    bool     `json:"sensitive,omitempty"`
	SensitiveDoc string   `json:"sensitiveDoc,omitempty"`
	Repeated     bool     `json:"repeated,omitempty"`
	Options      []string `json:"options"`
}

// PermissionResolvedData reports the outcome of a confirmation request.
type PermissionResolvedData struct {
	ID      string `json:"id"`
	Granted bool   `json:"granted"`
}

// TurnData describes a turn lifecycle transition.
type TurnData struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error,omitempty"`
}

// RetryData reports an in-flight retry to the UI.
type RetryData struct {
	SessionID string `json:"sessionId"`
	Attempt   int    `json:"attempt"`
	DelayMS   int64  `json:"delayMs"`
	Reason    string `json:"reason"`
}

// UsageData carries normalized token usage.
type UsageData struct {
	SessionID    string `json:"sessionId"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

// FileEditedData reports a file mutation.
type FileEditedData struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
}
