package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/snow-ai/snow/internal/event"
)

const writeDescription = `Creates a new file with the given content.

Usage:
- Refuses to replace an existing file unless overwrite is set
- Parent directories are created as needed`

// WriteTool implements the filesystem-create tool.
type WriteTool struct {
	workDir string
}

// WriteInput represents the input for the write tool.
type WriteInput struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Overwrite bool   `json:"overwrite,omitempty"`
}

// NewWriteTool creates a new write tool.
func NewWriteTool(workDir string) *WriteTool {
	return &WriteTool{workDir: workDir}
}

func (t *WriteTool) ID() string           { return "filesystem-create" }
func (t *WriteTool) Description() string  { return writeDescription }
func (t *WriteTool) Parallelizable() bool { return false }

func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "The file path to create"
			},
			"content": {
				"type": "string",
				"description": "The file content"
			},
			"overwrite": {
				"type": "boolean",
				"description": "Replace the file if it already exists"
			}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	path := params.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(toolCtx.WorkDir, path)
	}

	if _, err := os.Stat(path); err == nil && !params.Overwrite {
		return ErrorResult(params.Path, fmt.Sprintf("File already exists: %s (set overwrite to replace it)", params.Path)), nil
	}

	// Snapshot before any write, including the did-not-exist case.
	toolCtx.RecordMutation(ctx, path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ErrorResult(params.Path, fmt.Sprintf("Failed to create directory: %v", err)), nil
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return ErrorResult(params.Path, fmt.Sprintf("Failed to write %s: %v", params.Path, err)), nil
	}

	event.Publish(event.Event{
		Type: event.FileEdited,
		Data: event.FileEditedData{SessionID: toolCtx.SessionID, Path: path},
	})

	return &Result{
		Title:  params.Path,
		Output: fmt.Sprintf("Created %s (%d bytes)", params.Path, len(params.Content)),
		Metadata: map[string]any{
			"path":  path,
			"bytes": len(params.Content),
		},
	}, nil
}
