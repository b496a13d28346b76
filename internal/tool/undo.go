package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const undoDescription = `Reverts a file to its state before this turn's first mutation of it,
using the turn's checkpoint history.`

// UndoTool implements the filesystem-undo tool.
type UndoTool struct {
	workDir string
}

// UndoInput represents the input for the undo tool.
type UndoInput struct {
	Path string `json:"path"`
}

// NewUndoTool creates a new undo tool.
func NewUndoTool(workDir string) *UndoTool {
	return &UndoTool{workDir: workDir}
}

func (t *UndoTool) ID() string           { return "filesystem-undo" }
func (t *UndoTool) Description() string  { return undoDescription }
func (t *UndoTool) Parallelizable() bool { return false }

func (t *UndoTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "The file path to revert"
			}
		},
		"required": ["path"]
	}`)
}

func (t *UndoTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params UndoInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if toolCtx.Checkpoint == nil {
		return ErrorResult(params.Path, "No active checkpoint for this turn"), nil
	}

	path := params.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(toolCtx.WorkDir, path)
	}

	snap, ok := toolCtx.Checkpoint.LastSnapshot(toolCtx.SessionID, path)
	if !ok {
		return ErrorResult(params.Path, fmt.Sprintf("%s was not modified in this turn", params.Path)), nil
	}

	if !snap.Exists {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return ErrorResult(params.Path, fmt.Sprintf("Failed to remove %s: %v", params.Path, err)), nil
		}
		return &Result{Title: params.Path, Output: fmt.Sprintf("Removed %s (it did not exist before this turn)", params.Path)}, nil
	}

	if err := os.WriteFile(path, []byte(snap.Content), 0644); err != nil {
		return ErrorResult(params.Path, fmt.Sprintf("Failed to restore %s: %v", params.Path, err)), nil
	}

	return &Result{
		Title:  params.Path,
		Output: fmt.Sprintf("Reverted %s to its pre-turn state", params.Path),
	}, nil
}
