// Package session implements the session manager and the agent loop: the
// top-level driver that streams provider turns, dispatches tool calls, and
// keeps persistent per-session state coherent across cancellation and
// retries.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/snow-ai/snow/internal/agent"
	"github.com/snow-ai/snow/internal/checkpoint"
	"github.com/snow-ai/snow/internal/config"
	"github.com/snow-ai/snow/internal/event"
	"github.com/snow-ai/snow/internal/logging"
	"github.com/snow-ai/snow/internal/message"
	"github.com/snow-ai/snow/internal/notebook"
	"github.com/snow-ai/snow/internal/permission"
	"github.com/snow-ai/snow/internal/provider"
	"github.com/snow-ai/snow/internal/storage"
	"github.com/snow-ai/snow/internal/todo"
	"github.com/snow-ai/snow/internal/tool"
	"github.com/snow-ai/snow/internal/usefulinfo"
)

// Manager owns sessions and their turn execution.
type Manager struct {
	cfg         config.Config
	global      *storage.Storage
	checkpoints *checkpoint.Manager
	todos       *todo.Store
	notebooks   *notebook.Journal
	providers   *provider.Registry
	executor    *tool.Executor
	gate        *permission.Gate
	profiles    *agent.Registry
	devUserID   string

	mu       sync.Mutex
	sessions map[string]*Session
}

// ManagerConfig wires the manager's collaborators.
type ManagerConfig struct {
	Config      config.Config
	Global      *storage.Storage
	Checkpoints *checkpoint.Manager
	Todos       *todo.Store
	Notebooks   *notebook.Journal
	Providers   *provider.Registry
	Executor    *tool.Executor
	Gate        *permission.Gate
	Profiles    *agent.Registry
	// DevUserID is attached to provider requests for tracing; empty
	// disables it.
	DevUserID string
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:         cfg.Config,
		global:      cfg.Global,
		checkpoints: cfg.Checkpoints,
		todos:       cfg.Todos,
		notebooks:   cfg.Notebooks,
		providers:   cfg.Providers,
		executor:    cfg.Executor,
		gate:        cfg.Gate,
		profiles:    cfg.Profiles,
		devUserID:   cfg.DevUserID,
		sessions:    make(map[string]*Session),
	}
}

// Gate returns the main permission gate.
func (m *Manager) Gate() *permission.Gate { return m.gate }

// Profiles returns the agent profile registry.
func (m *Manager) Profiles() *agent.Registry { return m.profiles }

// Session is one live session with its turn queue. Exactly one turn runs at
// a time; concurrent submissions queue FIFO until the current turn settles.
type Session struct {
	mu         sync.Mutex
	store      *message.Store
	usefulInfo *usefulinfo.Set
	profile    *agent.Profile

	queue   chan *turnRequest
	cancel  context.CancelFunc // cancels the active turn
	started bool
}

// turnRequest is one queued user submission.
type turnRequest struct {
	input UserInput
	done  chan error
}

// ID returns the session id.
func (s *Session) ID() string { return s.store.SessionID() }

// Store returns the session's message store.
func (s *Session) Store() *message.Store { return s.store }

// Create creates a new session rooted at the working directory.
func (m *Manager) Create(ctx context.Context, profileID string) (*Session, error) {
	if profileID == "" {
		profileID = "main"
	}
	profile, err := m.profiles.Get(profileID)
	if err != nil {
		return nil, err
	}

	id := ulid.Make().String()
	sess := &Session{
		store:      message.NewStore(m.global, id, m.cfg.WorkDir, profileID),
		usefulInfo: usefulinfo.NewSet(),
		profile:    profile,
		queue:      make(chan *turnRequest, 16),
	}
	if err := sess.store.Flush(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	event.Publish(event.Event{Type: event.SessionCreated, Data: event.SessionData{SessionID: id}})
	return sess, nil
}

// Load resumes a persisted session.
func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	store, err := message.Load(ctx, m.global, id)
	if err != nil {
		return nil, err
	}
	profileID := store.AgentProfile()
	if profileID == "" {
		profileID = "main"
	}
	profile, err := m.profiles.Get(profileID)
	if err != nil {
		profile, _ = m.profiles.Get("main")
	}

	sess := &Session{
		store:      store,
		usefulInfo: usefulinfo.NewSet(),
		profile:    profile,
		queue:      make(chan *turnRequest, 16),
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return sess, nil
}

// LastSessionID returns the most recently updated persisted session id.
func (m *Manager) LastSessionID(ctx context.Context) (string, error) {
	ids, err := m.global.List(ctx, []string{"sessions"})
	if err != nil {
		return "", err
	}
	var best string
	var bestTime int64
	for _, id := range ids {
		var file message.SessionFile
		if err := m.global.Get(ctx, []string{"sessions", id}, &file); err != nil {
			continue
		}
		if t := file.UpdatedAt.UnixMilli(); t >= bestTime {
			bestTime = t
			best = id
		}
	}
	if best == "" {
		return "", fmt.Errorf("no sessions found")
	}
	return best, nil
}

// Submit enqueues a user turn and returns a channel resolving when the turn
// settles. Submissions are served FIFO.
func (m *Manager) Submit(sess *Session, input UserInput) <-chan error {
	req := &turnRequest{input: input, done: make(chan error, 1)}

	sess.mu.Lock()
	if !sess.started {
		sess.started = true
		go m.serve(sess)
	}
	sess.mu.Unlock()

	select {
	case sess.queue <- req:
	default:
		req.done <- fmt.Errorf("session queue full")
	}
	return req.done
}

// Cancel aborts the session's active turn, if any. Idempotent.
func (m *Manager) Cancel(sess *Session) {
	sess.mu.Lock()
	cancel := sess.cancel
	sess.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// serve drains the session's queue, one turn at a time.
func (m *Manager) serve(sess *Session) {
	for req := range sess.queue {
		ctx, cancel := context.WithCancel(context.Background())
		sess.mu.Lock()
		sess.cancel = cancel
		sess.mu.Unlock()

		err := m.runTurn(ctx, sess, req.input)

		sess.mu.Lock()
		sess.cancel = nil
		sess.mu.Unlock()
		cancel()

		if err != nil {
			logging.Debug().Str("sessionId", sess.ID()).Err(err).Msg("turn finished with error")
		}
		req.done <- err
	}
}

// RollbackTo truncates the session to count messages and reverts the side
// effects recorded past that point: checkpointed files, the notebook
// journal, and the useful-info snapshot.
func (m *Manager) RollbackTo(ctx context.Context, sess *Session, count int) {
	if restored, info, ok := m.checkpoints.Rollback(ctx, sess.ID()); ok {
		if restored < count {
			count = restored
		}
		sess.usefulInfo.Restore(info)
	}
	m.notebooks.RevertAfter(ctx, sess.ID(), count)
	sess.store.RollbackTo(count)
	if err := sess.store.Flush(ctx); err != nil {
		logging.Warn().Err(err).Msg("flush after rollback failed")
	}
}
