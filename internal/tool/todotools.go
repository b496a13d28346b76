package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/snow-ai/snow/internal/todo"
)

// TodoWriteTool replaces the session's TODO list.
type TodoWriteTool struct{}

// TodoWriteInput represents the input for the todo-write tool.
type TodoWriteInput struct {
	Items []*todo.Item `json:"items"`
}

// NewTodoWriteTool creates a todo write tool.
func NewTodoWriteTool() *TodoWriteTool { return &TodoWriteTool{} }

func (t *TodoWriteTool) ID() string          { return "todo-write" }
func (t *TodoWriteTool) Description() string {
	return `Replaces the session's TODO list.

Each item has content, a status (pending or completed), and an optional
parentId forming a tree. Omit id for new items.`
}
func (t *TodoWriteTool) Parallelizable() bool { return false }

func (t *TodoWriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"items": {
				"type": "array",
				"description": "The full TODO list replacing the current one",
				"items": {
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"content": {"type": "string"},
						"status": {"type": "string", "description": "pending | completed"},
						"parentId": {"type": "string"}
					},
					"required": ["content"]
				}
			}
		},
		"required": ["items"]
	}`)
}

func (t *TodoWriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params TodoWriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if toolCtx.Todos == nil {
		return ErrorResult("todos", "TODO store unavailable"), nil
	}

	items, err := toolCtx.Todos.Replace(ctx, toolCtx.SessionID, params.Items)
	if err != nil {
		return ErrorResult("todos", err.Error()), nil
	}

	pending := 0
	for _, item := range items {
		if item.Status == todo.StatusPending {
			pending++
		}
	}
	return &Result{
		Title:  "TODOs updated",
		Output: fmt.Sprintf("%d items (%d pending)", len(items), pending),
		Metadata: map[string]any{
			"items":   len(items),
			"pending": pending,
		},
	}, nil
}

// TodoReadTool returns the session's TODO list.
type TodoReadTool struct{}

// NewTodoReadTool creates a todo read tool.
func NewTodoReadTool() *TodoReadTool { return &TodoReadTool{} }

func (t *TodoReadTool) ID() string           { return "todo-read" }
func (t *TodoReadTool) Description() string  { return "Returns the session's current TODO list." }
func (t *TodoReadTool) Parallelizable() bool { return true }

func (t *TodoReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {}
	}`)
}

func (t *TodoReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	if toolCtx.Todos == nil {
		return ErrorResult("todos", "TODO store unavailable"), nil
	}

	items, err := toolCtx.Todos.List(ctx, toolCtx.SessionID)
	if err != nil {
		return ErrorResult("todos", err.Error()), nil
	}
	if len(items) == 0 {
		return &Result{Title: "TODOs", Output: "The TODO list is empty"}, nil
	}

	var sb strings.Builder
	for _, item := range items {
		marker := "[ ]"
		if item.Status == todo.StatusCompleted {
			marker = "[x]"
		}
		indent := ""
		if item.ParentID != "" {
			indent = "  "
		}
		sb.WriteString(fmt.Sprintf("%s%s %s (%s)\n", indent, marker, item.Content, item.ID))
	}
	return &Result{Title: "TODOs", Output: sb.String()}, nil
}
