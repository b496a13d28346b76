// Package checkpoint records pre-mutation file snapshots so a cancelled turn
// can restore the workspace to its pre-turn state.
package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/snow-ai/snow/internal/logging"
	"github.com/snow-ai/snow/internal/storage"
)

// FileSnapshot is the prior state of one path. At most one snapshot exists
// per path per checkpoint; the first mutation wins.
type FileSnapshot struct {
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Exists    bool      `json:"exists"`
}

// UsefulInfoItem mirrors the session's useful-info entries for snapshotting.
type UsefulInfoItem struct {
	Path        string    `json:"path"`
	StartLine   int       `json:"startLine"`
	EndLine     int       `json:"endLine"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UsefulInfoSnapshot is the useful-info set captured at checkpoint creation.
type UsefulInfoSnapshot struct {
	Items     []UsefulInfoItem `json:"items"`
	Timestamp time.Time        `json:"timestamp"`
}

// Checkpoint is the persisted checkpoint document.
type Checkpoint struct {
	SessionID          string              `json:"sessionId"`
	MessageCount       int                 `json:"messageCount"`
	FileSnapshots      []FileSnapshot      `json:"fileSnapshots"`
	UsefulInfoSnapshot *UsefulInfoSnapshot `json:"usefulInfoSnapshot,omitempty"`
	Timestamp          time.Time           `json:"timestamp"`
}

// Manager owns the active checkpoint of each session. At most one checkpoint
// is active per session at a time.
type Manager struct {
	mu      sync.Mutex
	storage *storage.Storage
	active  map[string]*Checkpoint
}

// NewManager creates a checkpoint manager backed by the given store.
func NewManager(st *storage.Storage) *Manager {
	return &Manager{
		storage: st,
		active:  make(map[string]*Checkpoint),
	}
}

// Create opens an active checkpoint for the session, snapshotting the current
// useful-info set. An uncommitted previous checkpoint is overwritten with a
// warning.
func (m *Manager) Create(ctx context.Context, sessionID string, messageCount int, usefulInfo []UsefulInfoItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[sessionID]; ok {
		logging.Warn().Str("sessionId", sessionID).Msg("overwriting uncommitted checkpoint")
	}

	cp := &Checkpoint{
		SessionID:    sessionID,
		MessageCount: messageCount,
		Timestamp:    time.Now(),
	}
	if usefulInfo != nil {
		cp.UsefulInfoSnapshot = &UsefulInfoSnapshot{
			Items:     append([]UsefulInfoItem(nil), usefulInfo...),
			Timestamp: cp.Timestamp,
		}
	}
	m.active[sessionID] = cp
	m.persist(ctx, cp)
}

// Active reports whether the session has an active checkpoint.
func (m *Manager) Active(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[sessionID]
	return ok
}

// RecordFile snapshots the current contents of path into the session's active
// checkpoint. Idempotent per path: the first call wins, later calls are no-ops.
func (m *Manager) RecordFile(ctx context.Context, sessionID, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.active[sessionID]
	if !ok {
		return
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	for _, snap := range cp.FileSnapshots {
		if snap.Path == abs {
			return
		}
	}

	snap := FileSnapshot{Path: abs, Timestamp: time.Now()}
	data, err := os.ReadFile(abs)
	if err == nil {
		snap.Exists = true
		snap.Content = string(data)
	} else if !os.IsNotExist(err) {
		// Unreadable but present: record existence with whatever we have.
		snap.Exists = true
		snap.Content = string(data)
		logging.Warn().Str("path", abs).Err(err).Msg("snapshot read failed")
	}

	cp.FileSnapshots = append(cp.FileSnapshots, snap)
	m.persist(ctx, cp)
}

// LastSnapshot returns the recorded snapshot for path within the active turn,
// used by the undo tool.
func (m *Manager) LastSnapshot(sessionID, path string) (FileSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.active[sessionID]
	if !ok {
		return FileSnapshot{}, false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	for _, snap := range cp.FileSnapshots {
		if snap.Path == abs {
			return snap, true
		}
	}
	return FileSnapshot{}, false
}

// Commit discards the session's checkpoint: the turn succeeded.
func (m *Manager) Commit(ctx context.Context, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[sessionID]; !ok {
		return
	}
	delete(m.active, sessionID)
	if err := m.storage.Delete(ctx, []string{"checkpoints", sessionID}); err != nil {
		logging.Warn().Str("sessionId", sessionID).Err(err).Msg("checkpoint delete failed")
	}
}

// Rollback restores each snapshot in reverse order, clears the checkpoint,
// and returns the message count the session log must be truncated to plus the
// useful-info snapshot to restore. Failures on individual files are logged
// and do not abort the rollback.
func (m *Manager) Rollback(ctx context.Context, sessionID string) (int, *UsefulInfoSnapshot, bool) {
	m.mu.Lock()
	cp, ok := m.active[sessionID]
	if !ok {
		// A crashed process may have left a persisted checkpoint behind.
		var stored Checkpoint
		if err := m.storage.Get(ctx, []string{"checkpoints", sessionID}, &stored); err != nil {
			m.mu.Unlock()
			return 0, nil, false
		}
		cp = &stored
	}
	delete(m.active, sessionID)
	m.mu.Unlock()

	for i := len(cp.FileSnapshots) - 1; i >= 0; i-- {
		snap := cp.FileSnapshots[i]
		if err := restoreSnapshot(snap); err != nil {
			logging.Error().Str("path", snap.Path).Err(err).Msg("rollback restore failed")
		}
	}

	if err := m.storage.Delete(ctx, []string{"checkpoints", sessionID}); err != nil {
		logging.Warn().Str("sessionId", sessionID).Err(err).Msg("checkpoint delete failed")
	}

	return cp.MessageCount, cp.UsefulInfoSnapshot, true
}

func restoreSnapshot(snap FileSnapshot) error {
	if !snap.Exists {
		if err := os.Remove(snap.Path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(snap.Path), 0755); err != nil {
		return err
	}
	return os.WriteFile(snap.Path, []byte(snap.Content), 0644)
}

// persist writes the active checkpoint under checkpoints/<session-id>.json.
func (m *Manager) persist(ctx context.Context, cp *Checkpoint) {
	if err := m.storage.Put(ctx, []string{"checkpoints", cp.SessionID}, cp); err != nil {
		logging.Warn().Str("sessionId", cp.SessionID).Err(err).Msg("checkpoint persist failed")
	}
}
