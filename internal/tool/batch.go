package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const batchDescription = `Performs several file operations in one call. Operations run
sequentially and atomically per file; a partial failure yields a mixed result.

Each operation is one of:
- {"op": "create", "path", "content", "overwrite"?}
- {"op": "edit", "path", "oldText", "newText"} or line-range form
- {"op": "read", "path", "startLine"?, "endLine"?}`

// BatchTool implements the filesystem-batch tool.
type BatchTool struct {
	read  *ReadTool
	write *WriteTool
	edit  *EditTool
}

// BatchOperation is one entry of a batch call.
type BatchOperation struct {
	Op string `json:"op"`
	// The remaining fields mirror the single-operation tools.
	Path      string `json:"path"`
	Content   string `json:"content,omitempty"`
	Overwrite bool   `json:"overwrite,omitempty"`
	OldText   string `json:"oldText,omitempty"`
	NewText   string `json:"newText,omitempty"`
	StartLine int    `json:"startLine,omitempty"`
	EndLine   int    `json:"endLine,omitempty"`
}

// BatchInput represents the input for the batch tool.
type BatchInput struct {
	Operations []BatchOperation `json:"operations"`
}

// NewBatchTool creates a batch tool over the single-operation file tools.
func NewBatchTool(read *ReadTool, write *WriteTool, edit *EditTool) *BatchTool {
	return &BatchTool{read: read, write: write, edit: edit}
}

func (t *BatchTool) ID() string           { return "filesystem-batch" }
func (t *BatchTool) Description() string  { return batchDescription }
func (t *BatchTool) Parallelizable() bool { return false }

func (t *BatchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"operations": {
				"type": "array",
				"description": "The file operations to perform, in order",
				"items": {
					"type": "object",
					"properties": {
						"op": {"type": "string", "description": "create | edit | read"},
						"path": {"type": "string"},
						"content": {"type": "string"},
						"overwrite": {"type": "boolean"},
						"oldText": {"type": "string"},
						"newText": {"type": "string"},
						"startLine": {"type": "integer"},
						"endLine": {"type": "integer"}
					},
					"required": ["op", "path"]
				}
			}
		},
		"required": ["operations"]
	}`)
}

func (t *BatchTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BatchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if len(params.Operations) == 0 {
		return nil, fmt.Errorf("operations are required")
	}

	var sb strings.Builder
	failures := 0
	for i, op := range params.Operations {
		if ctx.Err() != nil {
			sb.WriteString(fmt.Sprintf("[%d] cancelled\n", i+1))
			failures++
			continue
		}

		res, err := t.runOperation(ctx, op, toolCtx)
		switch {
		case err != nil:
			failures++
			sb.WriteString(fmt.Sprintf("[%d] %s %s: ERROR %v\n", i+1, op.Op, op.Path, err))
		case res.IsError:
			failures++
			sb.WriteString(fmt.Sprintf("[%d] %s %s: ERROR %s\n", i+1, op.Op, op.Path, res.Output))
		default:
			sb.WriteString(fmt.Sprintf("[%d] %s %s: ok\n%s\n", i+1, op.Op, op.Path, res.Output))
		}
	}

	summary := fmt.Sprintf("%d operations, %d failed\n\n", len(params.Operations), failures)
	return &Result{
		Title:   fmt.Sprintf("Batch (%d ops)", len(params.Operations)),
		Output:  summary + sb.String(),
		IsError: failures == len(params.Operations),
		Metadata: map[string]any{
			"operations": len(params.Operations),
			"failures":   failures,
		},
	}, nil
}

func (t *BatchTool) runOperation(ctx context.Context, op BatchOperation, toolCtx *Context) (*Result, error) {
	switch op.Op {
	case "create":
		input, _ := json.Marshal(WriteInput{Path: op.Path, Content: op.Content, Overwrite: op.Overwrite})
		return t.write.Execute(ctx, input, toolCtx)
	case "edit":
		input, _ := json.Marshal(EditInput{
			Path: op.Path, OldText: op.OldText, NewText: op.NewText,
			StartLine: op.StartLine, EndLine: op.EndLine,
		})
		return t.edit.Execute(ctx, input, toolCtx)
	case "read":
		input, _ := json.Marshal(ReadInput{Path: op.Path, StartLine: op.StartLine, EndLine: op.EndLine})
		return t.read.Execute(ctx, input, toolCtx)
	default:
		return nil, fmt.Errorf("unknown operation: %s", op.Op)
	}
}
