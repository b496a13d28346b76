// Package todo persists the per-session TODO tree under a date-partitioned
// directory keyed by session id.
package todo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/snow-ai/snow/internal/storage"
)

// Statuses of a TODO item.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Item is one TODO entry. ParentID forms a tree; deleting a parent cascades
// to its children.
type Item struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	ParentID string `json:"parentId,omitempty"`
}

// listFile is the persisted per-session document.
type listFile struct {
	SessionID string  `json:"sessionId"`
	Items     []*Item `json:"items"`
	UpdatedAt string  `json:"updatedAt"`
}

// Store reads and writes per-session TODO lists.
type Store struct {
	mu      sync.Mutex
	storage *storage.Storage
	// created remembers which date partition a session's list lives in so
	// updates do not migrate it at midnight.
	created map[string]string
}

// NewStore creates a TODO store.
func NewStore(st *storage.Storage) *Store {
	return &Store{
		storage: st,
		created: make(map[string]string),
	}
}

// key returns the date-partitioned storage path for a session.
func (s *Store) key(ctx context.Context, sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if date, ok := s.created[sessionID]; ok {
		return []string{"todos", date, sessionID}
	}

	// Find an existing partition before minting today's.
	dates, _ := s.storage.List(ctx, []string{"todos"})
	for _, date := range dates {
		if s.storage.Exists(ctx, []string{"todos", date, sessionID}) {
			s.created[sessionID] = date
			return []string{"todos", date, sessionID}
		}
	}

	date := time.Now().Format("2006-01-02")
	s.created[sessionID] = date
	return []string{"todos", date, sessionID}
}

// List returns the session's items in stored order.
func (s *Store) List(ctx context.Context, sessionID string) ([]*Item, error) {
	var file listFile
	if err := s.storage.Get(ctx, s.key(ctx, sessionID), &file); err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return file.Items, nil
}

// Replace overwrites the session's list, assigning ids to new items and
// validating parent references and statuses.
func (s *Store) Replace(ctx context.Context, sessionID string, items []*Item) ([]*Item, error) {
	ids := make(map[string]bool)
	for _, item := range items {
		if item.ID == "" {
			item.ID = ulid.Make().String()
		}
		if item.Status == "" {
			item.Status = StatusPending
		}
		if item.Status != StatusPending && item.Status != StatusCompleted {
			return nil, fmt.Errorf("invalid todo status: %s", item.Status)
		}
		ids[item.ID] = true
	}
	for _, item := range items {
		if item.ParentID != "" && !ids[item.ParentID] {
			return nil, fmt.Errorf("todo %s references unknown parent %s", item.ID, item.ParentID)
		}
	}

	file := listFile{
		SessionID: sessionID,
		Items:     items,
		UpdatedAt: time.Now().Format(time.RFC3339),
	}
	return items, s.storage.Put(ctx, s.key(ctx, sessionID), &file)
}

// Delete removes an item and, cascading, all of its descendants.
func (s *Store) Delete(ctx context.Context, sessionID, id string) error {
	items, err := s.List(ctx, sessionID)
	if err != nil {
		return err
	}

	doomed := map[string]bool{id: true}
	// Children may appear in any order; iterate until the set is closed.
	for changed := true; changed; {
		changed = false
		for _, item := range items {
			if item.ParentID != "" && doomed[item.ParentID] && !doomed[item.ID] {
				doomed[item.ID] = true
				changed = true
			}
		}
	}

	var kept []*Item
	for _, item := range items {
		if !doomed[item.ID] {
			kept = append(kept, item)
		}
	}
	_, err = s.Replace(ctx, sessionID, kept)
	return err
}
