package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// UsefulInfoTool records a file region as shared context for the session.
type UsefulInfoTool struct{}

// UsefulInfoInput represents the input for the useful-info-add tool.
type UsefulInfoInput struct {
	Path        string `json:"path"`
	StartLine   int    `json:"startLine"`
	EndLine     int    `json:"endLine"`
	Description string `json:"description,omitempty"`
}

// NewUsefulInfoTool creates a useful-info tool.
func NewUsefulInfoTool() *UsefulInfoTool { return &UsefulInfoTool{} }

func (t *UsefulInfoTool) ID() string          { return "useful-info-add" }
func (t *UsefulInfoTool) Description() string {
	return "Marks a file region as useful shared context. The newest 100 regions are surfaced in future turns."
}
func (t *UsefulInfoTool) Parallelizable() bool { return false }

func (t *UsefulInfoTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "The file path"
			},
			"startLine": {
				"type": "integer",
				"description": "1-based first line of the region"
			},
			"endLine": {
				"type": "integer",
				"description": "1-based last line of the region"
			},
			"description": {
				"type": "string",
				"description": "Why this region matters"
			}
		},
		"required": ["path", "startLine", "endLine"]
	}`)
}

func (t *UsefulInfoTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params UsefulInfoInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if toolCtx.UsefulInfo == nil {
		return ErrorResult("useful-info", "Useful-info store unavailable"), nil
	}

	item := toolCtx.UsefulInfo.Add(params.Path, params.StartLine, params.EndLine, params.Description)
	return &Result{
		Title:  "Useful info",
		Output: fmt.Sprintf("Recorded %s:%d-%d", item.Path, item.StartLine, item.EndLine),
	}, nil
}
