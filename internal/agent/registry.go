package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/snow-ai/snow/internal/logging"
)

// Registry manages agent profiles: built-ins plus user-defined YAML profiles
// that override built-ins by id.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewRegistry creates a registry seeded with the built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{
		profiles: make(map[string]*Profile),
	}
	for id, profile := range BuiltInProfiles() {
		r.profiles[id] = profile
	}
	return r
}

// Get retrieves a profile by id.
func (r *Registry) Get(id string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("agent profile not found: %s", id)
	}
	return profile, nil
}

// Register adds or replaces a profile.
func (r *Registry) Register(profile *Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.ID] = profile
}

// Subagents returns profiles invocable as tools.
func (r *Registry) Subagents() []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Profile
	for _, profile := range r.profiles {
		if profile.IsSubagent() {
			out = append(out, profile)
		}
	}
	return out
}

// Exists checks whether a profile id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.profiles[id]
	return ok
}

// LoadDir loads user-defined profiles from *.yaml files in dir. A user
// profile with a built-in id overrides the built-in (as a user copy).
func (r *Registry) LoadDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}

		var profile Profile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			logging.Warn().Str("file", name).Err(err).Msg("invalid agent profile")
			continue
		}
		if profile.ID == "" {
			profile.ID = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}
		if profile.Name == "" {
			profile.Name = profile.ID
		}
		if profile.Mode == "" {
			profile.Mode = ModeSubagent
		}
		profile.BuiltIn = false

		r.Register(&profile)
		logging.Debug().Str("id", profile.ID).Msg("loaded agent profile")
	}
}
