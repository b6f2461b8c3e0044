package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabforge/colabhub/internal/document"
	"github.com/collabforge/colabhub/internal/ot"
	"github.com/collabforge/colabhub/internal/protocol"
	"github.com/collabforge/colabhub/pkg/cache"
)

func newTestBroadcaster(t *testing.T) (*Broadcaster, *document.Store) {
	docs := document.NewStore(cache.NewTestCache(t), 1000, time.Hour)
	return New(docs, 16), docs
}

// TestConcurrentInsertsConverge models spec.md §8 scenario 1: two users
// submit inserts at the same position against the same base version. Both
// must be applied, in some serialized order, and every subscriber
// (including both authors) must observe the same final content.
func TestConcurrentInsertsConverge(t *testing.T) {
	ctx := context.Background()
	b, docs := newTestBroadcaster(t)

	_, err := docs.Create(ctx, "doc1", "hello", "")
	require.NoError(t, err)

	sub := b.Subscribe("doc1", "watcher")

	opA := ot.Operation{Type: ot.Insert, Position: 5, Content: "A", UserID: "alice", Timestamp: time.Now(), Version: 1}
	opB := ot.Operation{Type: ot.Insert, Position: 5, Content: "B", UserID: "bob", Timestamp: time.Now(), Version: 1}

	resA := make(chan error, 1)
	resB := make(chan error, 1)
	go func() {
		_, err := b.Submit(ctx, "doc1", "connA", opA)
		resA <- err
	}()
	go func() {
		_, err := b.Submit(ctx, "doc1", "connB", opB)
		resB <- err
	}()

	require.NoError(t, <-resA)
	require.NoError(t, <-resB)

	doc, ok := docs.Get(ctx, "doc1")
	require.True(t, ok)
	assert.Equal(t, 2, doc.Version)
	assert.True(t, doc.Content == "helloAB" || doc.Content == "helloBA", "got %q", doc.Content)

	seen := 0
	for seen < 2 {
		select {
		case ev := <-sub:
			if ev.Type == protocol.EventOperation {
				seen++
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast operations")
		}
	}
}

// TestOutdatedVersionRejected models spec.md §8 scenario 6: an operation
// submitted against a version older than the document's current version is
// rejected and the document is left unchanged.
func TestOutdatedVersionRejected(t *testing.T) {
	ctx := context.Background()
	b, docs := newTestBroadcaster(t)

	_, err := docs.Create(ctx, "doc1", "hello", "")
	require.NoError(t, err)

	first := ot.Operation{Type: ot.Insert, Position: 5, Content: "!", UserID: "alice", Timestamp: time.Now(), Version: 1}
	_, err = b.Submit(ctx, "doc1", "connA", first)
	require.NoError(t, err)

	stale := ot.Operation{Type: ot.Insert, Position: 0, Content: "X", UserID: "bob", Timestamp: time.Now(), Version: 0}
	_, err = b.Submit(ctx, "doc1", "connB", stale)
	assert.Error(t, err)

	doc, ok := docs.Get(ctx, "doc1")
	require.True(t, ok)
	assert.Equal(t, "hello!", doc.Content)
	assert.Equal(t, 1, doc.Version)
}

// TestPerDocumentSerialization submits a burst of sequential inserts from a
// single author and checks the final content reflects every one of them
// applied in submission order.
func TestPerDocumentSerialization(t *testing.T) {
	ctx := context.Background()
	b, docs := newTestBroadcaster(t)

	_, err := docs.Create(ctx, "doc1", "", "")
	require.NoError(t, err)

	for i, ch := range []string{"a", "b", "c", "d"} {
		op := ot.Operation{Type: ot.Insert, Position: i, Content: ch, UserID: "alice", Timestamp: time.Now(), Version: i + 1}
		_, err := b.Submit(ctx, "doc1", "connA", op)
		require.NoError(t, err)
	}

	doc, ok := docs.Get(ctx, "doc1")
	require.True(t, ok)
	assert.Equal(t, "abcd", doc.Content)
	assert.Equal(t, 4, doc.Version)
}

// TestMissingDocumentRejected ensures Submit against an unknown document
// fails instead of silently creating state.
func TestMissingDocumentRejected(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroadcaster(t)

	op := ot.Operation{Type: ot.Insert, Position: 0, Content: "x", UserID: "alice", Timestamp: time.Now(), Version: 1}
	_, err := b.Submit(ctx, "ghost", "connA", op)
	assert.Error(t, err)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b, _ := newTestBroadcaster(t)
	ch := b.Subscribe("doc1", "conn1")
	b.BroadcastUserLeft("doc1", protocol.UserLeftPayload{UserID: "u1"})

	select {
	case ev := <-ch:
		assert.Equal(t, protocol.EventUserLeft, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}

	b.Unsubscribe("doc1", "conn1")
	_, open := <-ch
	assert.False(t, open)
}
