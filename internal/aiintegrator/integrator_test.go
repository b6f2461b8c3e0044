package aiintegrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabforge/colabhub/internal/aiqueue"
	"github.com/collabforge/colabhub/internal/broadcast"
	"github.com/collabforge/colabhub/internal/document"
	"github.com/collabforge/colabhub/pkg/cache"
)

type echoCompleter struct{ prefix string }

func (e *echoCompleter) Complete(ctx context.Context, req aiqueue.AIRequest) (aiqueue.CompleterResult, error) {
	return aiqueue.CompleterResult{Success: true, Result: e.prefix + req.SelectedText}, nil
}

func newHarness(t *testing.T) (*Integrator, *document.Store, *broadcast.Broadcaster, *aiqueue.Queue) {
	c := cache.NewTestCache(t)
	docs := document.NewStore(c, 1000, time.Hour)
	b := broadcast.New(docs, 16)
	q := aiqueue.New(c, &echoCompleter{prefix: "AI:"}, aiqueue.Config{
		MaxConcurrentRequests:      5,
		RequestTimeout:             time.Second,
		RateLimitPerUserPerMinute:  100,
		RetryDelay:                 10 * time.Millisecond,
		MaxRetries:                 3,
		EnableRequestDeduplication: true,
		EnableResponseCaching:      true,
		CacheTTL:                   time.Minute,
	})
	integrator := New(docs, q, b, true, true, 2*time.Second)
	return integrator, docs, b, q
}

func TestProcessAIRequestAppliesReplacement(t *testing.T) {
	ctx := context.Background()
	integrator, docs, _, q := newHarness(t)
	defer q.Stop()

	_, err := docs.Create(ctx, "doc1", "hello world", "")
	require.NoError(t, err)

	id, err := integrator.ProcessAIRequest(ctx, "alice", "doc1", "world", "capitalize", 6, 11)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for AI application")
		default:
		}
		doc, _ := docs.Get(ctx, "doc1")
		if doc.Content != "hello world" {
			assert.Equal(t, "hello AI:world", doc.Content)
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestProcessAIRequestRejectsInvalidSelection(t *testing.T) {
	ctx := context.Background()
	integrator, docs, _, q := newHarness(t)
	defer q.Stop()

	_, _ = docs.Create(ctx, "doc1", "hello", "")

	_, err := integrator.ProcessAIRequest(ctx, "alice", "doc1", "hello", "p", 3, 1)
	assert.Error(t, err)
}

func TestProcessAIRequestRejectsOversizeSelectedText(t *testing.T) {
	ctx := context.Background()
	integrator, docs, _, q := newHarness(t)
	defer q.Stop()

	content := strings.Repeat("a", aiqueue.MaxSelectedTextLen+1)
	_, _ = docs.Create(ctx, "doc1", content, "")

	_, err := integrator.ProcessAIRequest(ctx, "alice", "doc1", content, "p", 0, len(content))
	assert.Error(t, err)
}

func TestProcessAIRequestRejectsOversizePrompt(t *testing.T) {
	ctx := context.Background()
	integrator, docs, _, q := newHarness(t)
	defer q.Stop()

	_, _ = docs.Create(ctx, "doc1", "hello world", "")
	prompt := strings.Repeat("p", aiqueue.MaxPromptLen+1)

	_, err := integrator.ProcessAIRequest(ctx, "alice", "doc1", "world", prompt, 6, 11)
	assert.Error(t, err)
}

func TestCancelUnauthorizedUserRejected(t *testing.T) {
	ctx := context.Background()
	integrator, docs, _, q := newHarness(t)
	defer q.Stop()

	_, _ = docs.Create(ctx, "doc1", "hello world", "")
	id, err := integrator.ProcessAIRequest(ctx, "alice", "doc1", "world", "p", 6, 11)
	require.NoError(t, err)

	err = integrator.Cancel(id, "bob")
	assert.Error(t, err)
}

func TestResolveSelectionTolerantWindow(t *testing.T) {
	integrator, _, _, q := newHarness(t)
	defer q.Stop()

	content := "the quick brown fox jumps over the lazy dog"
	// Claim the selection is at an offset that has drifted by a few chars.
	start, end := integrator.resolveSelection(content, "brown fox", 8, 17)
	assert.Equal(t, "brown fox", content[start:end])
}
