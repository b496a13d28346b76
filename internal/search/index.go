package search

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/snow-ai/snow/internal/logging"
)

const (
	// IndexTTL bounds index staleness: reads older than this trigger a refresh.
	IndexTTL = 30 * time.Second

	// maxIndexFileSize skips pathological files.
	maxIndexFileSize = 2 << 20
)

// Symbol is one indexed symbol occurrence.
type Symbol struct {
	Name     string     `json:"name"`
	Kind     SymbolKind `json:"kind"`
	Path     string     `json:"path"`
	Line     int        `json:"line"`
	Column   int        `json:"column"`
	Context  string     `json:"context"`
	Language string     `json:"language"`
}

// fileEntry is the index record of one file.
type fileEntry struct {
	mtime   time.Time
	symbols []Symbol
}

// snapshot is one immutable index generation. Reads observe a whole
// generation, never a partial mid-build view.
type snapshot struct {
	files   map[string]fileEntry
	builtAt time.Time
}

// Index is the per-workspace symbol index. Builds are lazy, refreshed
// incrementally by file mtime, and serialized by a build queue: concurrent
// callers that trigger a rebuild await the in-flight build.
type Index struct {
	root    string
	ignorer *Ignorer

	mu       sync.Mutex
	current  *snapshot
	building chan struct{} // non-nil while a build is in flight

	watcher *fsnotify.Watcher
	dirty   bool
}

// NewIndex creates an index for the workspace root.
func NewIndex(root string) *Index {
	idx := &Index{
		root:    root,
		ignorer: NewIgnorer(root),
	}
	idx.startWatcher()
	return idx
}

// startWatcher marks the index dirty on changes directly in the root
// directory so the next read refreshes early instead of waiting out the TTL.
// The watch is not recursive: changes in subdirectories are picked up when
// the TTL expires.
func (idx *Index) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log := logging.For("search")
		log.Debug().Err(err).Msg("index watcher unavailable")
		return
	}
	if err := watcher.Add(idx.root); err != nil {
		watcher.Close()
		return
	}
	idx.watcher = watcher

	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				idx.mu.Lock()
				idx.dirty = true
				idx.mu.Unlock()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Close stops the watcher.
func (idx *Index) Close() {
	if idx.watcher != nil {
		idx.watcher.Close()
	}
}

// Snapshot returns a coherent index view, building or refreshing first if
// needed.
func (idx *Index) Snapshot(ctx context.Context) (*snapshot, error) {
	for {
		idx.mu.Lock()
		cur := idx.current
		fresh := cur != nil && !idx.dirty && time.Since(cur.builtAt) < IndexTTL
		if fresh {
			idx.mu.Unlock()
			return cur, nil
		}

		if idx.building != nil {
			// Await the in-flight build.
			done := idx.building
			idx.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		done := make(chan struct{})
		idx.building = done
		prev := idx.current
		idx.dirty = false
		idx.mu.Unlock()

		next := idx.build(ctx, prev)

		idx.mu.Lock()
		idx.current = next
		idx.building = nil
		close(done)
		idx.mu.Unlock()
		return next, nil
	}
}

// build produces the next generation, reusing entries whose mtime is
// unchanged.
func (idx *Index) build(ctx context.Context, prev *snapshot) *snapshot {
	next := &snapshot{
		files:   make(map[string]fileEntry),
		builtAt: time.Now(),
	}

	filepath.WalkDir(idx.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
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

		language := LanguageForFile(path)
		if language == "" {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > maxIndexFileSize {
			return nil
		}

		if prev != nil {
			if entry, ok := prev.files[path]; ok && entry.mtime.Equal(info.ModTime()) {
				next.files[path] = entry
				return nil
			}
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		symbols := extractSymbols(string(data), language)
		for i := range symbols {
			symbols[i].Path = path
		}
		next.files[path] = fileEntry{mtime: info.ModTime(), symbols: symbols}
		return nil
	})

	return next
}

// Outline returns the full symbol list for a single file.
func (idx *Index) Outline(ctx context.Context, path string) ([]Symbol, error) {
	abs := path
	if !filepath.IsAbs(path) {
		abs = filepath.Join(idx.root, path)
	}

	snap, err := idx.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if entry, ok := snap.files[abs]; ok {
		return entry.symbols, nil
	}

	// Not indexed (excluded or freshly created): outline directly.
	language := LanguageForFile(abs)
	if language == "" {
		return nil, nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	symbols := extractSymbols(string(data), language)
	for i := range symbols {
		symbols[i].Path = abs
	}
	return symbols, nil
}

// Symbols returns every indexed symbol.
func (idx *Index) Symbols(ctx context.Context) ([]Symbol, error) {
	snap, err := idx.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []Symbol
	for _, entry := range snap.files {
		out = append(out, entry.symbols...)
	}
	return out, nil
}
