package todo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snow-ai/snow/internal/storage"
)

func TestStore_ReplaceAssignsIDsAndDefaults(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.New(t.TempDir()))

	items, err := s.Replace(ctx, "ses", []*Item{
		{Content: "first"},
		{Content: "second", Status: StatusCompleted},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.NotEmpty(t, items[0].ID)
	assert.Equal(t, StatusPending, items[0].Status)
	assert.Equal(t, StatusCompleted, items[1].Status)
}

func TestStore_ReplaceRejectsBadStatusAndOrphanParent(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.New(t.TempDir()))

	_, err := s.Replace(ctx, "ses", []*Item{{Content: "x", Status: "doing"}})
	assert.Error(t, err)

	_, err = s.Replace(ctx, "ses", []*Item{{Content: "x", ParentID: "ghost"}})
	assert.Error(t, err)
}

func TestStore_DeleteCascadesToDescendants(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.New(t.TempDir()))

	items, err := s.Replace(ctx, "ses", []*Item{
		{ID: "root", Content: "root"},
		{ID: "child", Content: "child", ParentID: "root"},
		{ID: "grandchild", Content: "grandchild", ParentID: "child"},
		{ID: "other", Content: "unrelated"},
	})
	require.NoError(t, err)
	require.Len(t, items, 4)

	require.NoError(t, s.Delete(ctx, "ses", "root"))

	remaining, err := s.List(ctx, "ses")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "other", remaining[0].ID)
}

func TestStore_ListEmptySession(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.New(t.TempDir()))

	items, err := s.List(ctx, "fresh")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStore_PartitionStableAcrossWrites(t *testing.T) {
	ctx := context.Background()
	st := storage.New(t.TempDir())
	s := NewStore(st)

	_, err := s.Replace(ctx, "ses", []*Item{{Content: "a"}})
	require.NoError(t, err)

	// A second store over the same tree finds the existing partition.
	s2 := NewStore(st)
	items, err := s2.List(ctx, "ses")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
