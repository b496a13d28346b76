// Package search implements the workspace code search service: a lazily
// built symbol index, fuzzy name matching, multi-strategy text search,
// reference finding, and file outlines.
package search

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultExclusions apply when no ignore files are present.
var defaultExclusions = []string{
	"node_modules/**",
	".git/**",
	"vendor/**",
	"dist/**",
	"build/**",
	"target/**",
	"__pycache__/**",
	".venv/**",
	"venv/**",
	"*.min.js",
	"*.lock",
	".snow/**",
	".idea/**",
	".vscode/**",
}

// binaryExtensions are never indexed or walked for text search.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".bz2": true,
	".so": true, ".dylib": true, ".dll": true, ".exe": true, ".bin": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".wav": true, ".webm": true,
	".db": true, ".sqlite": true,
}

// Ignorer evaluates exclusion patterns for a workspace.
type Ignorer struct {
	root     string
	patterns []string
}

// NewIgnorer loads exclusion patterns from .gitignore and .snowignore at the
// workspace root; the default exclusion list applies when both are absent.
func NewIgnorer(root string) *Ignorer {
	ig := &Ignorer{root: root}

	loaded := false
	for _, name := range []string{".gitignore", ".snowignore"} {
		if patterns := readIgnoreFile(filepath.Join(root, name)); len(patterns) > 0 {
			ig.patterns = append(ig.patterns, patterns...)
			loaded = true
		}
	}
	if !loaded {
		ig.patterns = append(ig.patterns, defaultExclusions...)
	}

	// Some trees are always noise regardless of ignore files.
	ig.patterns = append(ig.patterns, ".git/**", ".snow/**")
	return ig
}

// Excluded reports whether the path (relative or absolute) is excluded.
func (ig *Ignorer) Excluded(path string) bool {
	rel := path
	if filepath.IsAbs(path) {
		if r, err := filepath.Rel(ig.root, path); err == nil {
			rel = r
		}
	}
	rel = filepath.ToSlash(rel)

	if binaryExtensions[strings.ToLower(filepath.Ext(rel))] {
		return true
	}

	for _, pattern := range ig.patterns {
		if matchIgnorePattern(pattern, rel) {
			return true
		}
	}
	return false
}

func matchIgnorePattern(pattern, rel string) bool {
	pattern = strings.TrimSuffix(pattern, "/")
	if pattern == "" {
		return false
	}

	// A bare directory name matches the directory and everything below it.
	if !strings.ContainsAny(pattern, "*?[") {
		if rel == pattern || strings.HasPrefix(rel, pattern+"/") {
			return true
		}
		// gitignore semantics: an unanchored name matches at any depth.
		if strings.Contains(rel, "/"+pattern+"/") || strings.HasSuffix(rel, "/"+pattern) {
			return true
		}
		return false
	}

	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	// Unanchored glob: try every suffix component.
	if ok, _ := doublestar.Match("**/"+pattern, rel); ok {
		return true
	}
	return false
}

func readIgnoreFile(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}
