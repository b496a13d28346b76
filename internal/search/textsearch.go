package search

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/snow-ai/snow/internal/logging"
)

// Match is one text search hit.
type Match struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// TextQuery describes a text search.
type TextQuery struct {
	Pattern string
	Glob    string // optional file glob
	Max     int    // result cap
}

// recencyWindow is the modification window that promotes files to the top of
// the result order.
const recencyWindow = 24 * time.Hour

// TextSearch runs the strategy chain: git grep when the workspace is a git
// repository and git is available, otherwise ripgrep, otherwise system grep,
// otherwise a pure in-process walker. Results are capped at q.Max and
// re-ranked so files modified within the last 24 h come first.
func (idx *Index) TextSearch(ctx context.Context, q TextQuery) ([]Match, error) {
	max := q.Max
	if max <= 0 {
		max = 100
	}

	var matches []Match
	var err error

	switch {
	case idx.hasGit():
		matches, err = idx.gitGrep(ctx, q, max)
	case commandAvailable("rg"):
		matches, err = idx.ripgrep(ctx, q, max)
	case commandAvailable("grep"):
		matches, err = idx.systemGrep(ctx, q, max)
	default:
		matches, err = idx.walkSearch(ctx, q, max)
	}
	if err != nil {
		// External strategies can fail on exotic patterns; the walker is the
		// fallback of last resort.
		log := logging.For("search")
		log.Debug().Err(err).Msg("text search strategy failed, walking")
		matches, err = idx.walkSearch(ctx, q, max)
		if err != nil {
			return nil, err
		}
	}

	return rerankByRecency(matches), nil
}

func (idx *Index) hasGit() bool {
	if _, err := os.Stat(filepath.Join(idx.root, ".git")); err != nil {
		return false
	}
	return commandAvailable("git")
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func (idx *Index) gitGrep(ctx context.Context, q TextQuery, max int) ([]Match, error) {
	args := []string{"grep", "--untracked", "-n", "-i", "-I", q.Pattern}
	if q.Glob != "" {
		args = append(args, "--", q.Glob)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = idx.root
	out, err := cmd.Output()
	if err != nil {
		// Exit code 1 means no matches.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("git grep: %w", err)
	}
	return parseGrepOutput(idx.root, string(out), max), nil
}

func (idx *Index) ripgrep(ctx context.Context, q TextQuery, max int) ([]Match, error) {
	args := []string{"--line-number", "--no-heading", "--color=never", "-i", "--max-count", strconv.Itoa(max)}
	if q.Glob != "" {
		args = append(args, "--glob", q.Glob)
	}
	args = append(args, q.Pattern, idx.root)
	cmd := exec.CommandContext(ctx, "rg", args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("ripgrep: %w", err)
	}
	return parseGrepOutput(idx.root, string(out), max), nil
}

func (idx *Index) systemGrep(ctx context.Context, q TextQuery, max int) ([]Match, error) {
	args := []string{"-rnH", "-i", "-I"}
	if q.Glob != "" {
		args = append(args, "--include", q.Glob)
	}
	args = append(args, q.Pattern, idx.root)
	cmd := exec.CommandContext(ctx, "grep", args...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("grep: %w", err)
	}
	return parseGrepOutput(idx.root, string(out), max), nil
}

// walkSearch is the pure in-process fallback; it respects exclusions and
// streams matches until the cap.
func (idx *Index) walkSearch(ctx context.Context, q TextQuery, max int) ([]Match, error) {
	re, err := regexp.Compile("(?i)" + q.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	var matches []Match
	filepath.WalkDir(idx.root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if ctx.Err() != nil || len(matches) >= max {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if path != idx.root && idx.ignorer.Excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if idx.ignorer.Excluded(path) {
			return nil
		}
		if q.Glob != "" {
			if ok, _ := doublestar.Match(q.Glob, filepath.Base(path)); !ok {
				if ok2, _ := doublestar.Match(q.Glob, filepath.ToSlash(path)); !ok2 {
					return nil
				}
			}
		}

		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if re.MatchString(line) {
				matches = append(matches, Match{Path: path, Line: lineNo, Content: line})
				if len(matches) >= max {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})

	return matches, nil
}

// parseGrepOutput parses "path:line:content" records.
func parseGrepOutput(root, out string, max int) []Match {
	var matches []Match
	for _, line := range strings.Split(out, "\n") {
		if line == "" || len(matches) >= max {
			break
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		lineNo, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		path := parts[0]
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		matches = append(matches, Match{Path: path, Line: lineNo, Content: parts[2]})
	}
	return matches
}

// rerankByRecency stably moves matches in files modified within the last 24 h
// to the front, newest first; the rest keep their original order.
func rerankByRecency(matches []Match) []Match {
	type ranked struct {
		match Match
		mtime time.Time
		fresh bool
	}

	cutoff := time.Now().Add(-recencyWindow)
	mtimes := make(map[string]time.Time)
	items := make([]ranked, len(matches))
	for i, m := range matches {
		mt, ok := mtimes[m.Path]
		if !ok {
			if info, err := os.Stat(m.Path); err == nil {
				mt = info.ModTime()
			}
			mtimes[m.Path] = mt
		}
		items[i] = ranked{match: m, mtime: mt, fresh: mt.After(cutoff)}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].fresh != items[j].fresh {
			return items[i].fresh
		}
		if items[i].fresh && items[j].fresh && !items[i].mtime.Equal(items[j].mtime) {
			return items[i].mtime.After(items[j].mtime)
		}
		return false
	})

	out := make([]Match, len(items))
	for i, it := range items {
		out[i] = it.match
	}
	return out
}
