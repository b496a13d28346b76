package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// MaxReadBytes bounds how much of a file a single read returns.
	MaxReadBytes = 512 * 1024
)

const readDescription = `Reads a file and returns its contents with the line count.

Usage:
- path is required; relative paths resolve against the working directory
- Optional 1-based startLine/endLine select an inclusive range
- Remote files are read via SSH using the form ssh://user@host:port/path`

// ReadTool implements the filesystem-read tool.
type ReadTool struct {
	workDir string
	ssh     *sshPool
}

// ReadInput represents the input for the read tool.
type ReadInput struct {
	Path      string `json:"path"`
	StartLine int    `json:"startLine,omitempty"`
	EndLine   int    `json:"endLine,omitempty"`
}

// NewReadTool creates a new read tool.
func NewReadTool(workDir string, ssh *sshPool) *ReadTool {
	if ssh == nil {
		ssh = newSSHPool()
	}
	return &ReadTool{workDir: workDir, ssh: ssh}
}

func (t *ReadTool) ID() string           { return "filesystem-read" }
func (t *ReadTool) Description() string  { return readDescription }
func (t *ReadTool) Parallelizable() bool { return true }

func (t *ReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "The file path to read (local, or ssh://user@host:port/path)"
			},
			"startLine": {
				"type": "integer",
				"description": "Optional 1-based first line of the range"
			},
			"endLine": {
				"type": "integer",
				"description": "Optional 1-based last line of the range (inclusive)"
			}
		},
		"required": ["path"]
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ReadInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	var data []byte
	var err error
	if strings.HasPrefix(params.Path, "ssh://") {
		data, err = t.ssh.ReadFile(ctx, params.Path)
	} else {
		path := params.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(toolCtx.WorkDir, path)
		}
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return ErrorResult(params.Path, fmt.Sprintf("Failed to read %s: %v", params.Path, err)), nil
	}

	truncated := false
	if len(data) > MaxReadBytes {
		data = data[:MaxReadBytes]
		truncated = true
	}

	content := string(data)
	lines := strings.Split(content, "\n")
	total := len(lines)

	if params.StartLine > 0 || params.EndLine > 0 {
		start := params.StartLine
		if start < 1 {
			start = 1
		}
		end := params.EndLine
		if end < 1 || end > total {
			end = total
		}
		if start > total {
			return ErrorResult(params.Path, fmt.Sprintf("startLine %d is past the end of the file (%d lines)", start, total)), nil
		}
		content = strings.Join(lines[start-1:end], "\n")
	}

	output := content
	if truncated {
		output += "\n\n(File truncated)"
	}
	output += fmt.Sprintf("\n\n(%d lines total)", total)

	return &Result{
		Title:  params.Path,
		Output: output,
		Metadata: map[string]any{
			"path":  params.Path,
			"lines": total,
		},
	}, nil
}
