package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabforge/colabhub/pkg/cache"
)

func newTestStore(t *testing.T) *Store {
	return NewStore(cache.NewTestCache(t), time.Hour)
}

func TestValidateUser(t *testing.T) {
	store := newTestStore(t)
	assert.True(t, store.ValidateUser("u1", "Alice"))
	assert.False(t, store.ValidateUser("", "Alice"))
	assert.False(t, store.ValidateUser("u1", "   "))
}

func TestCreateSessionDisplacesOlderSameUserSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, displaced := store.CreateSession(ctx, "u1", "Alice", "doc1", "conn1", "")
	require.Nil(t, displaced)

	second, displaced := store.CreateSession(ctx, "u1", "Alice", "doc1", "conn2", "")
	require.NotNil(t, displaced)
	assert.Equal(t, first.ID, displaced.ID)

	_, ok := store.GetBySessionID(first.ID)
	assert.False(t, ok)

	got, ok := store.GetBySessionID(second.ID)
	require.True(t, ok)
	assert.Equal(t, "conn2", got.ConnectionID)
}

func TestGetDocumentSessionsOnlyActive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	s1, _ := store.CreateSession(ctx, "u1", "Alice", "doc1", "conn1", "")
	_, _ = store.CreateSession(ctx, "u2", "Bob", "doc1", "conn2", "")

	store.Deactivate(ctx, s1.ID)

	sessions := store.GetDocumentSessions("doc1")
	require.Len(t, sessions, 1)
	assert.Equal(t, "u2", sessions[0].UserID)
}

func TestRemoveByConnectionID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sess, _ := store.CreateSession(ctx, "u1", "Alice", "doc1", "conn1", "")

	removed, ok := store.RemoveByConnectionID(ctx, "conn1")
	require.True(t, ok)
	assert.Equal(t, sess.ID, removed.ID)

	_, ok = store.GetBySessionID(sess.ID)
	assert.False(t, ok)
	_, ok = store.GetByConnectionID("conn1")
	assert.False(t, ok)
}

func TestSweepIdleRemovesExpiredSessions(t *testing.T) {
	ctx := context.Background()
	store := NewStore(cache.NewTestCache(t), 10*time.Millisecond)
	sess, _ := store.CreateSession(ctx, "u1", "Alice", "doc1", "conn1", "")

	time.Sleep(20 * time.Millisecond)

	expired := store.SweepIdle(ctx)
	require.Len(t, expired, 1)
	assert.Equal(t, sess.ID, expired[0].ID)

	_, ok := store.GetBySessionID(sess.ID)
	assert.False(t, ok)
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.CreateSession(ctx, "u1", "Alice", "doc1", "conn1", "")
	store.CreateSession(ctx, "u2", "Bob", "doc2", "conn2", "")

	store.ClearAll(ctx)

	assert.Empty(t, store.GetDocumentSessions("doc1"))
	assert.Empty(t, store.GetDocumentSessions("doc2"))
}

func TestSessionToCollaborator(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	sess, _ := store.CreateSession(ctx, "u1", "Alice", "doc1", "conn1", "avatar.png")

	c := SessionToCollaborator(sess)
	assert.Equal(t, "u1", c.ID)
	assert.Equal(t, "Alice", c.Name)
	assert.Equal(t, 0, c.Cursor)
	assert.True(t, c.Active)
}
