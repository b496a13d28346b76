package notebook

import (
	"context"
	"sync"

	"github.com/snow-ai/snow/internal/logging"
)

// OpKind is a journaled notebook mutation kind.
type OpKind string

const (
	OpAdd    OpKind = "add"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Op records one notebook mutation keyed by the session message index at
// which it happened.
type Op struct {
	Kind         OpKind `json:"kind"`
	MessageIndex int    `json:"messageIndex"`
	EntryID      string `json:"entryId"`
	// Prev holds the pre-mutation entry for update and delete ops.
	Prev *Entry `json:"prev,omitempty"`
}

// Journal is the per-session operation log replayed on rollback. The journal
// is authoritative for notebook rollback; checkpoints do not snapshot
// notebooks.
type Journal struct {
	mu   sync.Mutex
	book *Book
	ops  map[string][]Op // sessionID -> ops
}

// NewJournal creates a journal over a notebook.
func NewJournal(book *Book) *Journal {
	return &Journal{
		book: book,
		ops:  make(map[string][]Op),
	}
}

// Book returns the underlying notebook.
func (j *Journal) Book() *Book { return j.book }

// RecordAdd journals an add.
func (j *Journal) RecordAdd(sessionID string, messageIndex int, entryID string) {
	j.append(sessionID, Op{Kind: OpAdd, MessageIndex: messageIndex, EntryID: entryID})
}

// RecordUpdate journals an update with the pre-mutation entry.
func (j *Journal) RecordUpdate(sessionID string, messageIndex int, prev *Entry) {
	j.append(sessionID, Op{Kind: OpUpdate, MessageIndex: messageIndex, EntryID: prev.ID, Prev: prev})
}

// RecordDelete journals a delete with the removed entry.
func (j *Journal) RecordDelete(sessionID string, messageIndex int, prev *Entry) {
	j.append(sessionID, Op{Kind: OpDelete, MessageIndex: messageIndex, EntryID: prev.ID, Prev: prev})
}

func (j *Journal) append(sessionID string, op Op) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ops[sessionID] = append(j.ops[sessionID], op)
}

// RevertAfter undoes, newest-first, every op recorded at or past the given
// message index, then drops those ops from the journal.
func (j *Journal) RevertAfter(ctx context.Context, sessionID string, messageIndex int) {
	j.mu.Lock()
	ops := j.ops[sessionID]
	var keep, revert []Op
	for _, op := range ops {
		if op.MessageIndex >= messageIndex {
			revert = append(revert, op)
		} else {
			keep = append(keep, op)
		}
	}
	j.ops[sessionID] = keep
	j.mu.Unlock()

	for i := len(revert) - 1; i >= 0; i-- {
		op := revert[i]
		var err error
		switch op.Kind {
		case OpAdd:
			err = j.book.remove(ctx, op.EntryID)
		case OpUpdate, OpDelete:
			if op.Prev != nil {
				err = j.book.restore(ctx, op.Prev)
			}
		}
		if err != nil {
			logging.Warn().Str("entryId", op.EntryID).Err(err).Msg("notebook revert failed")
		}
	}
}

// Commit drops a session's journal (the turn succeeded).
func (j *Journal) Commit(sessionID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.ops, sessionID)
}
