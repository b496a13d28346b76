package message

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/snow-ai/snow/internal/storage"
)

// SessionFile is the stable on-disk session document.
type SessionFile struct {
	ID               string     `json:"id"`
	WorkingDirectory string     `json:"working-directory"`
	AgentProfile     string     `json:"agentProfile,omitempty"`
	CreatedAt        time.Time  `json:"created-at"`
	UpdatedAt        time.Time  `json:"updated-at"`
	Messages         []*Message `json:"messages"`
}

// Store is the append-only per-session message log.
//
// Appends assign contiguous monotone indices under a single critical section.
// Writes are batched in memory and flushed atomically at turn boundaries; a
// crash between turns loses at most the in-flight unflushed tail.
type Store struct {
	mu      sync.RWMutex
	storage *storage.Storage
	file    SessionFile
	dirty   bool
}

// NewStore creates a store for a fresh session.
func NewStore(st *storage.Storage, sessionID, workDir, agentProfile string) *Store {
	now := time.Now()
	return &Store{
		storage: st,
		file: SessionFile{
			ID:               sessionID,
			WorkingDirectory: workDir,
			AgentProfile:     agentProfile,
			CreatedAt:        now,
			UpdatedAt:        now,
		},
		dirty: true,
	}
}

// Load reads an existing session from storage.
func Load(ctx context.Context, st *storage.Storage, sessionID string) (*Store, error) {
	var file SessionFile
	if err := st.Get(ctx, []string{"sessions", sessionID}, &file); err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	// Indices must be contiguous; repair a document mangled by hand edits.
	for i, m := range file.Messages {
		m.Index = i
	}
	return &Store{storage: st, file: file}, nil
}

// SessionID returns the session id.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.ID
}

// WorkingDirectory returns the session's working directory.
func (s *Store) WorkingDirectory() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.WorkingDirectory
}

// AgentProfile returns the session's agent profile id.
func (s *Store) AgentProfile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.AgentProfile
}

// Append adds a message, assigns its index, and returns it.
func (s *Store) Append(msg *Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Index = len(s.file.Messages)
	s.file.Messages = append(s.file.Messages, msg)
	s.file.UpdatedAt = time.Now()
	s.dirty = true
	return msg.Index
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.file.Messages)
}

// Get returns the message at index, or nil.
func (s *Store) Get(index int) *Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.file.Messages) {
		return nil
	}
	return s.file.Messages[index]
}

// Messages returns a snapshot of all messages in index order.
func (s *Store) Messages() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Message, len(s.file.Messages))
	copy(out, s.file.Messages)
	return out
}

// History returns the messages to include in a provider request: everything
// except sub-agent-internal messages.
func (s *Store) History() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Message, 0, len(s.file.Messages))
	for _, m := range s.file.Messages {
		if m.SubAgentInternal {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Reverse calls fn for each message newest-first; fn returning false stops
// the iteration. This is the reverse-chronological view the UI layer uses.
func (s *Store) Reverse(fn func(*Message) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.file.Messages) - 1; i >= 0; i-- {
		if !fn(s.file.Messages[i]) {
			return
		}
	}
}

// RollbackTo truncates the log to count messages. It is the only mutating
// operation other than Append.
func (s *Store) RollbackTo(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if count < 0 {
		count = 0
	}
	if count >= len(s.file.Messages) {
		return
	}
	s.file.Messages = s.file.Messages[:count]
	s.file.UpdatedAt = time.Now()
	s.dirty = true
}

// Flush writes the session document atomically if anything changed since the
// last flush.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := s.file
	snapshot.Messages = append([]*Message(nil), s.file.Messages...)
	s.dirty = false
	s.mu.Unlock()

	if err := s.storage.Put(ctx, []string{"sessions", snapshot.ID}, &snapshot); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("flush session %s: %w", snapshot.ID, err)
	}
	return nil
}

// Validate checks the store invariants: contiguous monotone indices and every
// tool-result answering a preceding assistant tool call.
func (s *Store) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for i, m := range s.file.Messages {
		if m.Index != i {
			return fmt.Errorf("message %d carries index %d", i, m.Index)
		}
		for _, tc := range m.ToolCalls {
			seen[tc.ID] = true
		}
		if m.IsToolResult() && !seen[m.ToolCallID] {
			return fmt.Errorf("tool result at %d references unknown call %s", i, m.ToolCallID)
		}
	}
	return nil
}
