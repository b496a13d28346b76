package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/snow-ai/snow/internal/search"
)

// GrepTool implements the code-search text search tool.
type GrepTool struct {
	index *search.Index
}

// GrepInput represents the input for the code-search tool.
type GrepInput struct {
	Pattern string `json:"pattern"`
	Glob    string `json:"glob,omitempty"`
	Max     int    `json:"max,omitempty"`
}

// NewGrepTool creates a text search tool over a workspace index.
func NewGrepTool(index *search.Index) *GrepTool {
	return &GrepTool{index: index}
}

func (t *GrepTool) ID() string          { return "code-search" }
func (t *GrepTool) Description() string {
	return `Searches file contents with a regex pattern.

Usage:
- Uses git grep, ripgrep, or a built-in walker, whichever is available
- Recently modified files rank first
- Filter with the glob parameter (e.g. "*.go")`
}
func (t *GrepTool) Parallelizable() bool { return true }

func (t *GrepTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The regex pattern to search for"
			},
			"glob": {
				"type": "string",
				"description": "File glob to restrict the search (e.g. \"*.go\")"
			},
			"max": {
				"type": "integer",
				"description": "Maximum number of matches (default 100)"
			}
		},
		"required": ["pattern"]
	}`)
}

func (t *GrepTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params GrepInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}

	matches, err := t.index.TextSearch(ctx, search.TextQuery{
		Pattern: params.Pattern,
		Glob:    params.Glob,
		Max:     params.Max,
	})
	if err != nil {
		return ErrorResult(params.Pattern, err.Error()), nil
	}
	if len(matches) == 0 {
		return &Result{Title: params.Pattern, Output: "No matches found"}, nil
	}

	var sb strings.Builder
	for _, m := range matches {
		sb.WriteString(fmt.Sprintf("%s:%d: %s\n", m.Path, m.Line, m.Content))
	}
	return &Result{
		Title:    params.Pattern,
		Output:   sb.String(),
		Metadata: map[string]any{"matches": len(matches)},
	}, nil
}

// SymbolSearchTool implements fuzzy symbol name search.
type SymbolSearchTool struct {
	index *search.Index
}

// SymbolSearchInput represents the input for the symbol-search tool.
type SymbolSearchInput struct {
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"`
	Language string `json:"language,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// NewSymbolSearchTool creates a symbol search tool.
func NewSymbolSearchTool(index *search.Index) *SymbolSearchTool {
	return &SymbolSearchTool{index: index}
}

func (t *SymbolSearchTool) ID() string          { return "symbol-search" }
func (t *SymbolSearchTool) Description() string {
	return `Fuzzy-searches symbol names (functions, classes, types, variables)
across the workspace and returns the best matches with their locations.`
}
func (t *SymbolSearchTool) Parallelizable() bool { return true }

func (t *SymbolSearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {
				"type": "string",
				"description": "The symbol name to search for (fuzzy)"
			},
			"kind": {
				"type": "string",
				"description": "Optional kind filter: function, class, variable, interface, type, enum, import, export"
			},
			"language": {
				"type": "string",
				"description": "Optional language filter (e.g. \"go\")"
			},
			"limit": {
				"type": "integer",
				"description": "Maximum results (default 20)"
			}
		},
		"required": ["name"]
	}`)
}

func (t *SymbolSearchTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params SymbolSearchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	results, err := t.index.FuzzySearch(ctx, search.FuzzyQuery{
		Name:     params.Name,
		Kind:     search.SymbolKind(params.Kind),
		Language: params.Language,
		Limit:    params.Limit,
	})
	if err != nil {
		return ErrorResult(params.Name, err.Error()), nil
	}
	if len(results) == 0 {
		return &Result{Title: params.Name, Output: "No symbols found"}, nil
	}

	var sb strings.Builder
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("%s (%s) %s:%d  %s\n",
			r.Symbol.Name, r.Symbol.Kind, r.Symbol.Path, r.Symbol.Line, r.Symbol.Context))
	}
	return &Result{
		Title:    params.Name,
		Output:   sb.String(),
		Metadata: map[string]any{"results": len(results)},
	}, nil
}

// OutlineTool implements the file-outline tool.
type OutlineTool struct {
	index *search.Index
}

// OutlineInput represents the input for the outline tool.
type OutlineInput struct {
	Path string `json:"path"`
}

// NewOutlineTool creates an outline tool.
func NewOutlineTool(index *search.Index) *OutlineTool {
	return &OutlineTool{index: index}
}

func (t *OutlineTool) ID() string          { return "file-outline" }
func (t *OutlineTool) Description() string {
	return "Returns the symbol outline of a single file: functions, classes, types, and imports with line numbers."
}
func (t *OutlineTool) Parallelizable() bool { return true }

func (t *OutlineTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "The file to outline"
			}
		},
		"required": ["path"]
	}`)
}

func (t *OutlineTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params OutlineInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	symbols, err := t.index.Outline(ctx, params.Path)
	if err != nil {
		return ErrorResult(params.Path, err.Error()), nil
	}
	if len(symbols) == 0 {
		return &Result{Title: params.Path, Output: "No symbols found (unrecognized language or empty file)"}, nil
	}

	var sb strings.Builder
	for _, s := range symbols {
		sb.WriteString(fmt.Sprintf("%5d %-10s %s\n", s.Line, s.Kind, s.Name))
	}
	return &Result{
		Title:    params.Path,
		Output:   sb.String(),
		Metadata: map[string]any{"symbols": len(symbols)},
	}, nil
}

// ReferencesTool implements the find-references tool.
type ReferencesTool struct {
	index *search.Index
}

// ReferencesInput represents the input for the references tool.
type ReferencesInput struct {
	Name string `json:"name"`
	Max  int    `json:"max,omitempty"`
}

// NewReferencesTool creates a references tool.
func NewReferencesTool(index *search.Index) *ReferencesTool {
	return &ReferencesTool{index: index}
}

func (t *ReferencesTool) ID() string          { return "find-references" }
func (t *ReferencesTool) Description() string {
	return "Finds occurrences of a symbol name across the workspace, classified as definition, import, type, or usage."
}
func (t *ReferencesTool) Parallelizable() bool { return true }

func (t *ReferencesTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {
				"type": "string",
				"description": "The symbol name to find references for"
			},
			"max": {
				"type": "integer",
				"description": "Maximum results (default 200)"
			}
		},
		"required": ["name"]
	}`)
}

func (t *ReferencesTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ReferencesInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	refs, err := t.index.FindReferences(ctx, params.Name, params.Max)
	if err != nil {
		return ErrorResult(params.Name, err.Error()), nil
	}
	if len(refs) == 0 {
		return &Result{Title: params.Name, Output: "No references found"}, nil
	}

	var sb strings.Builder
	for _, r := range refs {
		sb.WriteString(fmt.Sprintf("%-10s %s:%d: %s\n", r.Kind, r.Path, r.Line, strings.TrimSpace(r.Content)))
	}
	return &Result{
		Title:    params.Name,
		Output:   sb.String(),
		Metadata: map[string]any{"references": len(refs)},
	}, nil
}
