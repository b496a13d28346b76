// Package provider defines the provider adapter contract and the adapters
// shipped with the runtime. An adapter owns wire-protocol translation; the
// runtime consumes only the normalized event stream.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/snow-ai/snow/internal/message"
	"github.com/snow-ai/snow/internal/stream"
)

// ToolDefinition describes one tool advertised to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ThinkingConfig enables extended reasoning with a token budget.
type ThinkingConfig struct {
	Enabled      bool `json:"enabled"`
	BudgetTokens int  `json:"budgetTokens,omitempty"`
}

// Options are the per-request provider options.
type Options struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"maxTokens"`
	Temperature float64         `json:"temperature,omitempty"`
	Thinking    *ThinkingConfig `json:"thinking,omitempty"`
	CacheTTL    string          `json:"cacheTtl,omitempty"`
	UserID      string          `json:"userId,omitempty"`
}

// Request is one streaming completion request.
type Request struct {
	System   string
	Messages []*message.Message
	Tools    []ToolDefinition
	Options  Options
}

// Client is the provider adapter contract. Stream returns the normalized
// event channel plus a result channel carrying the terminal error (nil on
// success); cancellation of ctx aborts the underlying transport.
type Client interface {
	// ID returns the adapter's stable identifier.
	ID() string
	// Stream starts a streaming completion.
	Stream(ctx context.Context, req *Request) (<-chan stream.Event, <-chan stream.Result, error)
}

// Registry maps provider ids to clients.
type Registry struct {
	mu        sync.RWMutex
	clients   map[string]Client
	defaultID string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register adds a client; the first registered client becomes the default.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) == 0 {
		r.defaultID = c.ID()
	}
	r.clients[c.ID()] = c
}

// SetDefault selects the default provider.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return fmt.Errorf("provider not registered: %s", id)
	}
	r.defaultID = id
	return nil
}

// Get returns a client by id, or the default when id is empty.
func (r *Registry) Get(id string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		id = r.defaultID
	}
	c, ok := r.clients[id]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", id)
	}
	return c, nil
}

// IDs returns the registered provider ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}
