package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// NotebookWriteTool adds, updates, or deletes notebook entries. Mutations are
// journaled per session so a cancelled turn reverts them.
type NotebookWriteTool struct{}

// NotebookWriteInput represents the input for the notebook-write tool.
type NotebookWriteInput struct {
	Action string `json:"action"` // add | update | delete
	Path   string `json:"path,omitempty"`
	Note   string `json:"note,omitempty"`
	ID     string `json:"id,omitempty"`
}

// NewNotebookWriteTool creates a notebook write tool.
func NewNotebookWriteTool() *NotebookWriteTool { return &NotebookWriteTool{} }

func (t *NotebookWriteTool) ID() string          { return "notebook-write" }
func (t *NotebookWriteTool) Description() string {
	return `Manages notebook entries: developer notes attached to files or folders.

Actions:
- add: requires path and note; a path ending in "/" attaches to the whole folder
- update: requires id and note
- delete: requires id`
}
func (t *NotebookWriteTool) Parallelizable() bool { return false }

func (t *NotebookWriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"description": "add | update | delete"
			},
			"path": {
				"type": "string",
				"description": "File or folder path (add)"
			},
			"note": {
				"type": "string",
				"description": "Note text (add, update)"
			},
			"id": {
				"type": "string",
				"description": "Entry id (update, delete)"
			}
		},
		"required": ["action"]
	}`)
}

func (t *NotebookWriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params NotebookWriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if toolCtx.Notebook == nil {
		return ErrorResult("notebook", "Notebook unavailable"), nil
	}

	book := toolCtx.Notebook.Book()
	switch params.Action {
	case "add":
		if params.Path == "" || params.Note == "" {
			return nil, fmt.Errorf("add requires path and note")
		}
		entry, err := book.Add(ctx, params.Path, params.Note)
		if err != nil {
			return ErrorResult("notebook", err.Error()), nil
		}
		toolCtx.Notebook.RecordAdd(toolCtx.SessionID, toolCtx.MessageIndex, entry.ID)
		return &Result{Title: "Notebook", Output: fmt.Sprintf("Added note %s to %s", entry.ID, entry.Path)}, nil

	case "update":
		if params.ID == "" || params.Note == "" {
			return nil, fmt.Errorf("update requires id and note")
		}
		entry, prev, err := book.Update(ctx, params.ID, params.Note)
		if err != nil {
			return ErrorResult("notebook", err.Error()), nil
		}
		toolCtx.Notebook.RecordUpdate(toolCtx.SessionID, toolCtx.MessageIndex, prev)
		return &Result{Title: "Notebook", Output: fmt.Sprintf("Updated note %s", entry.ID)}, nil

	case "delete":
		if params.ID == "" {
			return nil, fmt.Errorf("delete requires id")
		}
		prev, err := book.Delete(ctx, params.ID)
		if err != nil {
			return ErrorResult("notebook", err.Error()), nil
		}
		toolCtx.Notebook.RecordDelete(toolCtx.SessionID, toolCtx.MessageIndex, prev)
		return &Result{Title: "Notebook", Output: fmt.Sprintf("Deleted note %s", prev.ID)}, nil

	default:
		return nil, fmt.Errorf("unknown action: %s", params.Action)
	}
}

// NotebookQueryTool returns notebook entries for a path or the whole book.
type NotebookQueryTool struct{}

// NotebookQueryInput represents the input for the notebook-query tool.
type NotebookQueryInput struct {
	Path string `json:"path,omitempty"`
}

// NewNotebookQueryTool creates a notebook query tool.
func NewNotebookQueryTool() *NotebookQueryTool { return &NotebookQueryTool{} }

func (t *NotebookQueryTool) ID() string          { return "notebook-query" }
func (t *NotebookQueryTool) Description() string {
	return "Returns notebook entries: those attached to a path (including covering folder notes), or all entries when no path is given."
}
func (t *NotebookQueryTool) Parallelizable() bool { return true }

func (t *NotebookQueryTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Optional file path to filter by"
			}
		}
	}`)
}

func (t *NotebookQueryTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params NotebookQueryInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if toolCtx.Notebook == nil {
		return ErrorResult("notebook", "Notebook unavailable"), nil
	}

	book := toolCtx.Notebook.Book()
	var sb strings.Builder

	if params.Path != "" {
		entries := book.ForPath(params.Path)
		if len(entries) == 0 {
			return &Result{Title: "Notebook", Output: "No notes for " + params.Path}, nil
		}
		for _, e := range entries {
			sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", e.ID, e.Path, e.Note))
		}
		return &Result{Title: "Notebook", Output: sb.String()}, nil
	}

	all := book.All()
	if len(all) == 0 {
		return &Result{Title: "Notebook", Output: "The notebook is empty"}, nil
	}
	for path, entries := range all {
		sb.WriteString(path + ":\n")
		for _, e := range entries {
			sb.WriteString(fmt.Sprintf("  [%s] %s\n", e.ID, e.Note))
		}
	}
	return &Result{Title: "Notebook", Output: sb.String()}, nil
}
