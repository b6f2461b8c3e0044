package document

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabforge/colabhub/internal/ot"
	"github.com/collabforge/colabhub/pkg/cache"
)

func newTestStore(t *testing.T) *Store {
	return NewStore(cache.NewTestCache(t), 1000, time.Hour)
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	doc, err := store.Create(ctx, "doc1", "hello", "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Version)
	assert.Equal(t, "hello", doc.Content)

	got, ok := store.Get(ctx, "doc1")
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)
}

func TestApplyOperationReplaySemantics(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.Create(ctx, "doc1", "foo bar baz", "u1")
	require.NoError(t, err)

	doc, err := store.ApplyOperation(ctx, "doc1", ot.Operation{
		Type: ot.Insert, Position: 4, Content: "BAR", Length: 3, UserID: "u1", Version: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "foo BAR baz", doc.Content)
	assert.Equal(t, 1, doc.Version)
	require.Len(t, doc.OpHistory, 1)

	// content must equal the fold of opHistory over the initial content.
	replayed := "foo bar baz"
	for _, op := range doc.OpHistory {
		replayed, _, err = ot.Apply(replayed, op)
		require.NoError(t, err)
	}
	assert.Equal(t, doc.Content, replayed)
}

func TestApplyOperationHistoryTrimmed(t *testing.T) {
	ctx := context.Background()
	store := NewStore(cache.NewTestCache(t), 3, time.Hour)
	_, err := store.Create(ctx, "doc1", "", "u1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := store.ApplyOperation(ctx, "doc1", ot.Operation{
			Type: ot.Insert, Position: 0, Content: "x", UserID: "u1", Version: i + 1,
		})
		require.NoError(t, err)
	}

	doc, ok := store.Get(ctx, "doc1")
	require.True(t, ok)
	assert.Len(t, doc.OpHistory, 3)
	assert.Equal(t, 5, doc.Version)
}

func TestCollaboratorShiftAfterOperation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.Create(ctx, "doc1", "Hello World", "author")
	require.NoError(t, err)

	_, err = store.AddCollaborator(ctx, "doc1", Collaborator{ID: "observer", Cursor: 8, Selection: &Selection{Start: 6, End: 10}})
	require.NoError(t, err)
	_, err = store.AddCollaborator(ctx, "doc1", Collaborator{ID: "author", Cursor: 2})
	require.NoError(t, err)

	// Insert 3 chars at position 5 (before observer's cursor/selection).
	doc, err := store.ApplyOperation(ctx, "doc1", ot.Operation{
		Type: ot.Insert, Position: 5, Content: "abc", UserID: "author", Version: 1,
	})
	require.NoError(t, err)

	observer := doc.Collaborators["observer"]
	assert.Equal(t, 11, observer.Cursor) // 8 + 3
	assert.Equal(t, 9, observer.Selection.Start)
	assert.Equal(t, 13, observer.Selection.End)

	// Author's own presence is untouched by their own operation.
	author := doc.Collaborators["author"]
	assert.Equal(t, 2, author.Cursor)
}

func TestCollaboratorShiftClampsAtZeroOnDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.Create(ctx, "doc1", "Hello World", "author")
	require.NoError(t, err)
	_, err = store.AddCollaborator(ctx, "doc1", Collaborator{ID: "observer", Cursor: 3})
	require.NoError(t, err)

	doc, err := store.ApplyOperation(ctx, "doc1", ot.Operation{
		Type: ot.Delete, Position: 0, Length: 11, UserID: "author", Version: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, doc.Collaborators["observer"].Cursor)
	assert.Equal(t, "", doc.Content)
}

func TestApplyOperationUnknownTypeIsFatal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.Create(ctx, "doc1", "x", "u1")
	require.NoError(t, err)

	_, err = store.ApplyOperation(ctx, "doc1", ot.Operation{Type: "bogus", UserID: "u1", Version: 1})
	assert.Error(t, err)
}

func TestApplyOperationMissingDocumentReturnsNil(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	doc, err := store.ApplyOperation(ctx, "missing", ot.Operation{Type: ot.Retain, Length: 1, UserID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, doc)
}
