// Package usefulinfo tracks per-session annotated file regions surfaced to
// the model as shared context.
package usefulinfo

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/snow-ai/snow/internal/checkpoint"
)

// MaxSurfaced is how many items are surfaced to the model at most.
const MaxSurfaced = 100

// Item is one annotated file region.
type Item struct {
	Path        string    `json:"path"`
	StartLine   int       `json:"startLine"`
	EndLine     int       `json:"endLine"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Set is a session's useful-info collection.
type Set struct {
	mu    sync.RWMutex
	items []Item
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{}
}

// Add appends an item.
func (s *Set) Add(path string, startLine, endLine int, description string) Item {
	item := Item{
		Path:        path,
		StartLine:   startLine,
		EndLine:     endLine,
		Description: description,
		CreatedAt:   time.Now(),
	}
	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	return item
}

// Surfaced returns at most MaxSurfaced items, newest-first by creation time.
func (s *Set) Surfaced() []Item {
	s.mu.RLock()
	out := append([]Item(nil), s.items...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > MaxSurfaced {
		out = out[:MaxSurfaced]
	}
	return out
}

// Snapshot converts the set for checkpoint storage.
func (s *Set) Snapshot() []checkpoint.UsefulInfoItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]checkpoint.UsefulInfoItem, len(s.items))
	for i, item := range s.items {
		out[i] = checkpoint.UsefulInfoItem{
			Path:        item.Path,
			StartLine:   item.StartLine,
			EndLine:     item.EndLine,
			Description: item.Description,
			CreatedAt:   item.CreatedAt,
		}
	}
	return out
}

// Restore replaces the set from a checkpoint snapshot.
func (s *Set) Restore(snapshot *checkpoint.UsefulInfoSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = s.items[:0]
	if snapshot == nil {
		return
	}
	for _, item := range snapshot.Items {
		s.items = append(s.items, Item{
			Path:        item.Path,
			StartLine:   item.StartLine,
			EndLine:     item.EndLine,
			Description: item.Description,
			CreatedAt:   item.CreatedAt,
		})
	}
}

// Render formats the surfaced items as a prompt block.
func (s *Set) Render() string {
	items := s.Surfaced()
	if len(items) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Useful info shared by the user:\n")
	for _, item := range items {
		sb.WriteString(fmt.Sprintf("- %s:%d-%d", item.Path, item.StartLine, item.EndLine))
		if item.Description != "" {
			sb.WriteString(" — " + item.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
