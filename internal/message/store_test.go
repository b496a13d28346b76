package message

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snow-ai/snow/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.New(t.TempDir()), "ses-1", "/work", "main")
}

func TestStore_AppendAssignsContiguousIndices(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		idx := s.Append(&Message{Role: RoleUser, Content: "m"})
		assert.Equal(t, i, idx)
	}
	require.NoError(t, s.Validate())
}

func TestStore_RollbackTruncates(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		s.Append(&Message{Role: RoleUser, Content: "m"})
	}

	s.RollbackTo(2)
	assert.Equal(t, 2, s.Len())

	idx := s.Append(&Message{Role: RoleUser, Content: "again"})
	assert.Equal(t, 2, idx)
	require.NoError(t, s.Validate())
}

func TestStore_HistoryExcludesSubAgentInternal(t *testing.T) {
	s := newTestStore(t)
	s.Append(&Message{Role: RoleUser, Content: "q"})
	s.Append(&Message{Role: RoleAssistant, Content: "internal", SubAgentInternal: true, SubAgentID: "agent_explore"})
	s.Append(&Message{Role: RoleAssistant, Content: "visible"})

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, "q", history[0].Content)
	assert.Equal(t, "visible", history[1].Content)

	// The full log still has all three.
	assert.Equal(t, 3, s.Len())
}

func TestStore_ReverseIteration(t *testing.T) {
	s := newTestStore(t)
	s.Append(&Message{Role: RoleUser, Content: "a"})
	s.Append(&Message{Role: RoleAssistant, Content: "b"})
	s.Append(&Message{Role: RoleUser, Content: "c"})

	var seen []string
	s.Reverse(func(m *Message) bool {
		seen = append(seen, m.Content)
		return true
	})
	assert.Equal(t, []string{"c", "b", "a"}, seen)
}

func TestStore_ValidateRejectsOrphanToolResult(t *testing.T) {
	s := newTestStore(t)
	s.Append(&Message{Role: RoleUser, Content: "q"})
	s.Append(&Message{Role: RoleTool, ToolCallID: "missing", Content: "out"})

	assert.Error(t, s.Validate())
}

func TestStore_ValidateAcceptsLinkedToolResult(t *testing.T) {
	s := newTestStore(t)
	s.Append(&Message{Role: RoleUser, Content: "q"})
	s.Append(&Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCallDescriptor{{ID: "call-1", Name: "filesystem-read", Arguments: []byte(`{}`)}},
	})
	s.Append(&Message{Role: RoleTool, ToolCallID: "call-1", Content: "out", Status: StatusOK})

	assert.NoError(t, s.Validate())
}

func TestStore_FlushAndLoadRoundTrip(t *testing.T) {
	st := storage.New(t.TempDir())
	ctx := context.Background()

	s := NewStore(st, "ses-rt", "/work", "main")
	s.Append(&Message{Role: RoleUser, Content: "hello", Images: []Image{{Data: "aGk=", MediaType: "image/png"}}})
	s.Append(&Message{
		Role:     RoleAssistant,
		Content:  "hi",
		Thinking: &Thinking{Text: "pondering", Signature: "sig"},
		ToolCalls: []ToolCallDescriptor{
			{ID: "c1", Name: "terminal-execute", Arguments: []byte(`{"command":"ls"}`)},
		},
	})
	s.Append(&Message{Role: RoleTool, ToolCallID: "c1", Content: "a\nb\n", Status: StatusOK})
	require.NoError(t, s.Flush(ctx))

	loaded, err := Load(ctx, st, "ses-rt")
	require.NoError(t, err)

	assert.Equal(t, "ses-rt", loaded.SessionID())
	assert.Equal(t, "/work", loaded.WorkingDirectory())
	assert.Equal(t, s.Len(), loaded.Len())
	require.NoError(t, loaded.Validate())

	orig := s.Messages()
	got := loaded.Messages()
	for i := range orig {
		assert.Equal(t, orig[i].Role, got[i].Role)
		assert.Equal(t, orig[i].Content, got[i].Content)
		assert.Equal(t, orig[i].Index, got[i].Index)
	}
	assert.Equal(t, "pondering", got[1].Thinking.Text)
	assert.Equal(t, "c1", got[2].ToolCallID)
}

// Property: any interleaving of appends and rollbacks leaves indices 0..N-1
// contiguous and monotone.
func TestStore_IndexInvariantProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("indices stay contiguous under append/rollback", prop.ForAll(
		func(ops []int) bool {
			s := NewStore(storage.New(t.TempDir()), "ses-p", "/work", "main")
			for _, op := range ops {
				if op >= 0 {
					s.Append(&Message{Role: RoleUser, Content: "m"})
				} else {
					target := (-op) % (s.Len() + 1)
					s.RollbackTo(target)
				}
			}
			if err := s.Validate(); err != nil {
				return false
			}
			msgs := s.Messages()
			for i, m := range msgs {
				if m.Index != i {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-50, 50)),
	))

	properties.TestingRun(t)
}
