package permission

import (
	"context"
	"sort"
	"sync"

	"github.com/snow-ai/snow/internal/logging"
	"github.com/snow-ai/snow/internal/storage"
)

// projectPermissionsKey is the storage key inside a project's .snow tree.
var projectPermissionsKey = []string{"permissions"}

// projectPermissionsFile is the on-disk document.
type projectPermissionsFile struct {
	AlwaysApproved []string `json:"alwaysApproved"`
}

// ProjectPermissions is the persisted always-approve set for one working
// directory, stored under <project>/.snow/permissions.json. Mutated only by
// the user granting approve-always.
type ProjectPermissions struct {
	mu      sync.RWMutex
	storage *storage.Storage
	tools   map[string]bool
}

// LoadProjectPermissions reads (or initializes) the project permission set
// from a store rooted at the project's .snow directory.
func LoadProjectPermissions(ctx context.Context, st *storage.Storage) *ProjectPermissions {
	p := &ProjectPermissions{
		storage: st,
		tools:   make(map[string]bool),
	}

	var file projectPermissionsFile
	if err := st.Get(ctx, projectPermissionsKey, &file); err == nil {
		for _, tool := range file.AlwaysApproved {
			p.tools[tool] = true
		}
	}
	return p
}

// Contains reports whether a tool is always approved for this project.
func (p *ProjectPermissions) Contains(tool string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tools[tool]
}

// Add records a tool and persists the set atomically.
func (p *ProjectPermissions) Add(ctx context.Context, tool string) {
	p.mu.Lock()
	if p.tools[tool] {
		p.mu.Unlock()
		return
	}
	p.tools[tool] = true
	file := projectPermissionsFile{AlwaysApproved: make([]string, 0, len(p.tools))}
	for t := range p.tools {
		file.AlwaysApproved = append(file.AlwaysApproved, t)
	}
	sort.Strings(file.AlwaysApproved)
	p.mu.Unlock()

	if err := p.storage.Put(ctx, projectPermissionsKey, &file); err != nil {
		logging.Warn().Str("tool", tool).Err(err).Msg("persisting project permissions failed")
	}
}

// Tools returns the persisted set, sorted.
func (p *ProjectPermissions) Tools() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.tools))
	for t := range p.tools {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
