package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/snow-ai/snow/internal/event"
)

const editDescription = `Edits a file by replacing an exact text region, or by replacing a 1-based
inclusive line range when startLine/endLine are given.

Usage:
- For text mode, oldText must occur exactly once in the file
- The result includes a diff of the surrounding change`

// EditTool implements the filesystem-edit tool (search-replace and
// line-range modes).
type EditTool struct {
	workDir string
}

// EditInput represents the input for the edit tool.
type EditInput struct {
	Path    string `json:"path"`
	OldText string `json:"oldText,omitempty"`
	NewText string `json:"newText"`
	// Line-range mode
	StartLine int `json:"startLine,omitempty"`
	EndLine   int `json:"endLine,omitempty"`
}

// NewEditTool creates a new edit tool.
func NewEditTool(workDir string) *EditTool {
	return &EditTool{workDir: workDir}
}

func (t *EditTool) ID() string           { return "filesystem-edit" }
func (t *EditTool) Description() string  { return editDescription }
func (t *EditTool) Parallelizable() bool { return false }

func (t *EditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "The file path to edit"
			},
			"oldText": {
				"type": "string",
				"description": "The exact text region to replace (text mode)"
			},
			"newText": {
				"type": "string",
				"description": "The replacement text"
			},
			"startLine": {
				"type": "integer",
				"description": "1-based first line to replace (line-range mode)"
			},
			"endLine": {
				"type": "integer",
				"description": "1-based last line to replace, inclusive (line-range mode)"
			}
		},
		"required": ["path", "newText"]
	}`)
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params EditInput
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

	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorResult(params.Path, fmt.Sprintf("Failed to read %s: %v", params.Path, err)), nil
	}
	content := string(data)

	var updated string
	switch {
	case params.StartLine > 0 && params.EndLine > 0:
		updated, err = replaceLineRange(content, params.StartLine, params.EndLine, params.NewText)
		if err != nil {
			return ErrorResult(params.Path, err.Error()), nil
		}
	case params.OldText != "":
		count := strings.Count(content, params.OldText)
		switch count {
		case 0:
			return ErrorResult(params.Path, notFoundDiagnostic(content, params.OldText)), nil
		case 1:
			updated = strings.Replace(content, params.OldText, params.NewText, 1)
		default:
			return ErrorResult(params.Path, fmt.Sprintf(
				"oldText occurs %d times in %s; it must be unique. Add surrounding context to disambiguate.",
				count, params.Path)), nil
		}
	default:
		return ErrorResult(params.Path, "either oldText or startLine/endLine is required"), nil
	}

	// Snapshot before the write.
	toolCtx.RecordMutation(ctx, path)

	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return ErrorResult(params.Path, fmt.Sprintf("Failed to write %s: %v", params.Path, err)), nil
	}

	event.Publish(event.Event{
		Type: event.FileEdited,
		Data: event.FileEditedData{SessionID: toolCtx.SessionID, Path: path},
	})

	return &Result{
		Title:  params.Path,
		Output: fmt.Sprintf("Edited %s\n\n%s", params.Path, surroundingDiff(content, updated)),
		Metadata: map[string]any{
			"path": path,
		},
	}, nil
}

// replaceLineRange swaps a 1-based inclusive line range for new content.
func replaceLineRange(content string, start, end int, newText string) (string, error) {
	lines := strings.Split(content, "\n")
	if start < 1 || end < start || start > len(lines) {
		return "", fmt.Errorf("invalid line range %d-%d for a %d-line file", start, end, len(lines))
	}
	if end > len(lines) {
		end = len(lines)
	}

	var out []string
	out = append(out, lines[:start-1]...)
	out = append(out, strings.Split(newText, "\n")...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n"), nil
}

// notFoundDiagnostic lists near-match candidate lines so the model can fix
// its region.
func notFoundDiagnostic(content, oldText string) string {
	firstLine := strings.TrimSpace(strings.SplitN(oldText, "\n", 2)[0])
	var candidates []string
	if firstLine != "" {
		for i, line := range strings.Split(content, "\n") {
			if strings.Contains(line, firstLine) || strings.Contains(firstLine, strings.TrimSpace(line)) && strings.TrimSpace(line) != "" {
				candidates = append(candidates, fmt.Sprintf("  line %d: %s", i+1, strings.TrimSpace(line)))
				if len(candidates) >= 5 {
					break
				}
			}
		}
	}

	msg := "oldText was not found in the file."
	if len(candidates) > 0 {
		msg += " Closest candidate lines:\n" + strings.Join(candidates, "\n")
	}
	return msg
}

// surroundingDiff renders a compact unified-style diff of the change.
func surroundingDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var sb strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
				sb.WriteString("- " + line + "\n")
			}
		case diffmatchpatch.DiffInsert:
			for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
				sb.WriteString("+ " + line + "\n")
			}
		case diffmatchpatch.DiffEqual:
			// Keep a line of context on each side of a change.
			lines := strings.Split(d.Text, "\n")
			if len(lines) > 4 {
				sb.WriteString("  " + lines[0] + "\n  ...\n  " + lines[len(lines)-1] + "\n")
			} else {
				for _, line := range lines {
					sb.WriteString("  " + line + "\n")
				}
			}
		}
	}

	out := sb.String()
	if len(out) > 4000 {
		out = out[:4000] + "\n(diff truncated)"
	}
	return out
}
