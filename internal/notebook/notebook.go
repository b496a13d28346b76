// Package notebook stores per-file and per-folder developer notes that are
// surfaced to the model when those paths are touched. Mutations are recorded
// in a per-session journal so a cancelled turn can revert them.
package notebook

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/snow-ai/snow/internal/storage"
)

// MaxEntriesPerPath caps how many entries one path accumulates.
const MaxEntriesPerPath = 50

var notebookKey = []string{"notebooks"}

// Entry is one note attached to a file or folder path. Folder entries (path
// ending in "/") attach to all files under that folder.
type Entry struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// notebookFile is the persisted document.
type notebookFile struct {
	Entries []*Entry `json:"entries"`
}

// Book is a project's notebook, persisted under the project .snow tree.
type Book struct {
	mu      sync.RWMutex
	storage *storage.Storage
	entries map[string]*Entry // by id
	workDir string
}

// Load reads the notebook from a project-scoped store.
func Load(ctx context.Context, st *storage.Storage, workDir string) *Book {
	b := &Book{
		storage: st,
		entries: make(map[string]*Entry),
		workDir: workDir,
	}

	var file notebookFile
	if err := st.Get(ctx, notebookKey, &file); err == nil {
		for _, e := range file.Entries {
			b.entries[e.ID] = e
		}
	}
	return b
}

// normalizePath makes a path workspace-relative with forward slashes,
// preserving a trailing slash (folder entry).
func (b *Book) normalizePath(path string) string {
	folder := strings.HasSuffix(path, "/")
	if filepath.IsAbs(path) {
		if rel, err := filepath.Rel(b.workDir, path); err == nil {
			path = rel
		}
	}
	path = filepath.ToSlash(filepath.Clean(path))
	if folder && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}

// Add creates an entry, enforcing the per-path cap by evicting the oldest.
func (b *Book) Add(ctx context.Context, path, note string) (*Entry, error) {
	path = b.normalizePath(path)
	now := time.Now()
	entry := &Entry{
		ID:        ulid.Make().String(),
		Path:      path,
		Note:      note,
		CreatedAt: now,
		UpdatedAt: now,
	}

	b.mu.Lock()
	var samePath []*Entry
	for _, e := range b.entries {
		if e.Path == path {
			samePath = append(samePath, e)
		}
	}
	if len(samePath) >= MaxEntriesPerPath {
		sort.Slice(samePath, func(i, j int) bool {
			return samePath[i].CreatedAt.Before(samePath[j].CreatedAt)
		})
		delete(b.entries, samePath[0].ID)
	}
	b.entries[entry.ID] = entry
	b.mu.Unlock()

	return entry, b.persist(ctx)
}

// Update edits an entry's note.
func (b *Book) Update(ctx context.Context, id, note string) (*Entry, *Entry, error) {
	b.mu.Lock()
	entry, ok := b.entries[id]
	if !ok {
		b.mu.Unlock()
		return nil, nil, fmt.Errorf("notebook entry not found: %s", id)
	}
	prev := *entry
	entry.Note = note
	entry.UpdatedAt = time.Now()
	b.mu.Unlock()

	return entry, &prev, b.persist(ctx)
}

// Delete removes an entry, returning what was removed.
func (b *Book) Delete(ctx context.Context, id string) (*Entry, error) {
	b.mu.Lock()
	entry, ok := b.entries[id]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("notebook entry not found: %s", id)
	}
	delete(b.entries, id)
	b.mu.Unlock()

	return entry, b.persist(ctx)
}

// restore puts an entry back (journal revert).
func (b *Book) restore(ctx context.Context, entry *Entry) error {
	b.mu.Lock()
	b.entries[entry.ID] = entry
	b.mu.Unlock()
	return b.persist(ctx)
}

// remove drops an entry without journaling (journal revert).
func (b *Book) remove(ctx context.Context, id string) error {
	b.mu.Lock()
	delete(b.entries, id)
	b.mu.Unlock()
	return b.persist(ctx)
}

// ForPath returns the entries relevant to a file: exact-path entries plus
// every folder entry covering it, grouped oldest-first.
func (b *Book) ForPath(path string) []*Entry {
	path = b.normalizePath(path)

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Entry
	for _, e := range b.entries {
		if e.Path == path {
			out = append(out, e)
			continue
		}
		if strings.HasSuffix(e.Path, "/") && strings.HasPrefix(path, e.Path) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// All returns every entry grouped by path.
func (b *Book) All() map[string][]*Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string][]*Entry)
	for _, e := range b.entries {
		out[e.Path] = append(out[e.Path], e)
	}
	for _, group := range out {
		sort.Slice(group, func(i, j int) bool { return group[i].CreatedAt.Before(group[j].CreatedAt) })
	}
	return out
}

func (b *Book) persist(ctx context.Context) error {
	b.mu.RLock()
	file := notebookFile{Entries: make([]*Entry, 0, len(b.entries))}
	for _, e := range b.entries {
		file.Entries = append(file.Entries, e)
	}
	b.mu.RUnlock()

	sort.Slice(file.Entries, func(i, j int) bool {
		return file.Entries[i].CreatedAt.Before(file.Entries[j].CreatedAt)
	})
	return b.storage.Put(ctx, notebookKey, &file)
}
