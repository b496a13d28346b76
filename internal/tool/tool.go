// Package tool provides the tool framework: the handler contract, the
// registry, and the executor that dispatches assistant tool calls through the
// permission gate.
package tool

import (
	"context"
	"encoding/json"

	"github.com/snow-ai/snow/internal/checkpoint"
	"github.com/snow-ai/snow/internal/notebook"
	"github.com/snow-ai/snow/internal/todo"
	"github.com/snow-ai/snow/internal/usefulinfo"
)

// Tool defines the interface for all tools.
type Tool interface {
	// ID returns the tool identifier.
	ID() string

	// Description returns the tool description.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Parallelizable reports whether calls to this tool are pure reads that
	// may run concurrently within a batch.
	Parallelizable() bool

	// Execute executes the tool with the given input. Errors are reported
	// through Result.IsError; a non-nil error return means the handler
	// itself failed and is also surfaced as an error result.
	Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// Context provides execution context to tools.
type Context struct {
	SessionID string
	CallID    string
	AgentID   string
	WorkDir   string

	// MessageIndex is the index the produced tool-result message will get;
	// journaled side effects key on it.
	MessageIndex int

	Checkpoint *checkpoint.Manager
	Notebook   *notebook.Journal
	Todos      *todo.Store
	UsefulInfo *usefulinfo.Set

	// OnMetadata streams progress metadata to the UI sink.
	OnMetadata func(title string, meta map[string]any)
}

// SetMetadata updates tool execution metadata.
func (c *Context) SetMetadata(title string, meta map[string]any) {
	if c.OnMetadata != nil {
		c.OnMetadata(title, meta)
	}
}

// RecordMutation snapshots a path into the active checkpoint before a write.
func (c *Context) RecordMutation(ctx context.Context, path string) {
	if c.Checkpoint != nil {
		c.Checkpoint.RecordFile(ctx, c.SessionID, path)
	}
}

// Result represents the output of a tool execution.
type Result struct {
	Title    string         `json:"title"`
	Output   string         `json:"output"`
	IsError  bool           `json:"isError,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Status overrides the derived tool-result status (rejected, cancelled).
	Status string `json:"status,omitempty"`
}

// ErrorResult builds an error result from a message.
func ErrorResult(title, msg string) *Result {
	return &Result{Title: title, Output: msg, IsError: true}
}
