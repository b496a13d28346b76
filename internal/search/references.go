package search

import (
	"context"
	"regexp"
	"strings"
)

// ReferenceKind classifies a reference occurrence.
type ReferenceKind string

const (
	RefDefinition ReferenceKind = "definition"
	RefImport     ReferenceKind = "import"
	RefType       ReferenceKind = "type"
	RefUsage      ReferenceKind = "usage"
)

// Reference is one classified occurrence of a symbol name.
type Reference struct {
	Path    string        `json:"path"`
	Line    int           `json:"line"`
	Content string        `json:"content"`
	Kind    ReferenceKind `json:"kind"`
}

var (
	importLine = regexp.MustCompile(`^\s*(?:import|from|require|use|using|#include|#import|source)\b`)
	typeLine   = regexp.MustCompile(`^\s*(?:type|struct|interface|trait|protocol|enum|typedef)\b`)
	defLine    = regexp.MustCompile(`^\s*(?:func|fn|def|function|sub|class|module|let\s+rec|public|private|protected|static|val|var|const)\b`)
)

// FindReferences scans files in scope for a symbol name and classifies each
// match heuristically by its line shape.
func (idx *Index) FindReferences(ctx context.Context, name string, max int) ([]Reference, error) {
	if max <= 0 {
		max = 200
	}

	word := regexp.QuoteMeta(name)
	matches, err := idx.TextSearch(ctx, TextQuery{Pattern: `\b` + word + `\b`, Max: max})
	if err != nil {
		return nil, err
	}

	defRe := regexp.MustCompile(`\b(?:func|fn|def|function|class|type|interface|trait|struct|enum|module)\b[^=]*\b` + word + `\b`)

	refs := make([]Reference, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, Reference{
			Path:    m.Path,
			Line:    m.Line,
			Content: m.Content,
			Kind:    classifyReference(m.Content, defRe),
		})
	}
	return refs, nil
}

func classifyReference(line string, defRe *regexp.Regexp) ReferenceKind {
	trimmed := strings.TrimSpace(line)
	switch {
	case importLine.MatchString(trimmed):
		return RefImport
	case defRe.MatchString(trimmed) && defLine.MatchString(trimmed):
		return RefDefinition
	case typeLine.MatchString(trimmed):
		return RefType
	default:
		return RefUsage
	}
}
