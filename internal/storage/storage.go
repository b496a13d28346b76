// Package storage provides the file-based JSON store backing all persistent
// runtime state: sessions, checkpoints, notebooks, permissions, todos.
//
// Values are addressed by path slices that map onto a directory tree rooted
// at the store's base path; the last segment names a JSON document, earlier
// segments name directories. Writes marshal first, land in a uniquely named
// temp file, and are renamed into place, so readers observe either the
// previous document or the next, never a torn write.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBadPath is returned for empty or traversal-prone path segments.
	ErrBadPath = errors.New("invalid storage path")
)

// Storage provides file-based JSON storage.
type Storage struct {
	basePath string
	locks    sync.Map // document path -> *sync.Mutex
}

// New creates a new Storage instance rooted at basePath.
func New(basePath string) *Storage {
	return &Storage{basePath: basePath}
}

// BasePath returns the store's root directory.
func (s *Storage) BasePath() string { return s.basePath }

// resolve maps a path slice onto the filesystem. A document resolution
// appends the .json extension to the last segment.
func (s *Storage) resolve(path []string, document bool) (string, error) {
	if document && len(path) == 0 {
		return "", ErrBadPath
	}
	for _, segment := range path {
		if segment == "" || segment == "." || segment == ".." || strings.ContainsRune(segment, os.PathSeparator) {
			return "", fmt.Errorf("%w: %q", ErrBadPath, segment)
		}
	}
	resolved := filepath.Join(append([]string{s.basePath}, path...)...)
	if document {
		resolved += ".json"
	}
	return resolved, nil
}

// Get retrieves a value from storage.
func (s *Storage) Get(ctx context.Context, path []string, v any) error {
	file, err := s.resolve(path, true)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(file)
	switch {
	case os.IsNotExist(err):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("read %s: %w", file, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", file, err)
	}
	return nil
}

// Put stores a value, serialized against other writers of the same document.
func (s *Storage) Put(ctx context.Context, path []string, v any) error {
	file, err := s.resolve(path, true)
	if err != nil {
		return err
	}

	// Marshal before taking the lock; an unencodable value should not hold
	// the document hostage.
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", file, err)
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	unlock, err := s.lockPath(file)
	if err != nil {
		return err
	}
	defer unlock()

	return writeAtomic(file, data)
}

// writeAtomic lands data in a unique temp file in the target directory and
// renames it over the destination.
func writeAtomic(file string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(file), filepath.Base(file)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, file); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Delete removes a value. Deleting an absent key is not an error.
func (s *Storage) Delete(ctx context.Context, path []string) error {
	file, err := s.resolve(path, true)
	if err != nil {
		return err
	}
	if _, err := os.Stat(file); os.IsNotExist(err) {
		return nil
	}

	unlock, err := s.lockPath(file)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", file, err)
	}
	return nil
}

// Exists checks if a document exists.
func (s *Storage) Exists(ctx context.Context, path []string) bool {
	file, err := s.resolve(path, true)
	if err != nil {
		return false
	}
	_, err = os.Stat(file)
	return err == nil
}

// List returns the child keys at a path: subdirectory names plus document
// names with the .json extension stripped. A missing directory lists empty.
func (s *Storage) List(ctx context.Context, path []string) ([]string, error) {
	dir, err := s.resolve(path, false)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	switch {
	case os.IsNotExist(err):
		return []string{}, nil
	case err != nil:
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		switch name := entry.Name(); {
		case entry.IsDir():
			keys = append(keys, name)
		case strings.HasSuffix(name, ".json"):
			keys = append(keys, strings.TrimSuffix(name, ".json"))
		}
	}
	return keys, nil
}

// Scan calls fn for every document at a path in lexical key order, passing
// the raw JSON. fn returning an error stops the scan; unreadable files are
// skipped. A missing directory scans nothing.
func (s *Storage) Scan(ctx context.Context, path []string, fn func(key string, data json.RawMessage) error) error {
	dir, err := s.resolve(path, false)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	switch {
	case os.IsNotExist(err):
		return nil
	case err != nil:
		return fmt.Errorf("scan %s: %w", dir, err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if err := fn(strings.TrimSuffix(name, ".json"), json.RawMessage(data)); err != nil {
			return err
		}
	}
	return nil
}
