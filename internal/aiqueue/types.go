// Package aiqueue implements AIQueue: a durable, rate-limited,
// deduplicating, caching priority queue for AI rewrite requests, backed by
// the shared key-value cache per spec.md §4.6.
package aiqueue

import (
	"context"
	"time"
)

// Status is the lifecycle state of a queued AI request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// spec.md §3's AIRequest constraints: selectedText and prompt are each
// bounded, checked once on admission (AIIntegrator) and again on dequeue
// (AIQueue.process, spec.md §4.6 "Revalidate {selectedText,prompt} bounds").
const (
	MaxSelectedTextLen = 10000
	MaxPromptLen       = 1000
)

// AIRequest is the caller-supplied rewrite request.
type AIRequest struct {
	ID           string `json:"id"`
	UserID       string `json:"userId"`
	DocumentID   string `json:"documentId"`
	SelectedText string `json:"selectedText"`
	Prompt       string `json:"prompt"`
}

// QueuedRequest is an AIRequest plus queue bookkeeping, the value stored in
// `ai:queue:processing` and embedded in `ai:results:{id}`.
type QueuedRequest struct {
	AIRequest
	Priority    int       `json:"priority"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
	TimeoutAt   time.Time `json:"timeoutAt"`
	RetryCount  int       `json:"retryCount"`
}

// AIResult is the terminal record for a request, stored at
// `ai:results:{id}`.
type AIResult struct {
	QueuedRequest
	Status      Status    `json:"status"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

// Stats is the snapshot AIQueue exposes for monitoring.
type Stats struct {
	Pending                 int64   `json:"pending"`
	Processing              int64   `json:"processing"`
	Completed               int64   `json:"completed"`
	Failed                  int64   `json:"failed"`
	AverageProcessingTimeMs float64 `json:"averageProcessingTimeMs"`
}

// EnqueueResult is AIQueue.Enqueue's return contract.
type EnqueueResult struct {
	Success           bool
	Cached            bool
	ExistingRequestID string
	Error             string
}

// CompleterResult is what AICompleter.Complete returns.
type CompleterResult struct {
	Success    bool
	Result     string
	Error      string
	RetryCount int
}

// AICompleter is the opaque upstream large-language-model capability; the
// queue retries and rate-limits around it but never inspects its internals.
type AICompleter interface {
	Complete(ctx context.Context, req AIRequest) (CompleterResult, error)
}
