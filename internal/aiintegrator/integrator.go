// Package aiintegrator implements AIIntegrator: the bridge between an
// inbound ai_request event and the document mutation an accepted AI
// rewrite ultimately produces, per spec.md §4.7.
package aiintegrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/collabforge/colabhub/internal/aiqueue"
	"github.com/collabforge/colabhub/internal/broadcast"
	"github.com/collabforge/colabhub/internal/document"
	"github.com/collabforge/colabhub/internal/ot"
	"github.com/collabforge/colabhub/internal/protocol"
	"github.com/collabforge/colabhub/pkg/logger"
)

// tolerantSearchWindow is the ±100 char window spec.md §4.7 step 1 searches
// when the client's selection has drifted out from under it.
const tolerantSearchWindow = 100

// pollInterval is how often a non-cached request is polled for a terminal
// result while no push notification has arrived.
const pollInterval = 2 * time.Second

// Request is the in-process status record AIIntegrator tracks when status
// tracking is enabled.
type Request struct {
	ID             string
	DocumentID     string
	UserID         string
	SelectionStart int
	SelectionEnd   int
	Status         aiqueue.Status
	Error          string
	CreatedAt      time.Time
	applied        bool
}

// Integrator is AIIntegrator.
type Integrator struct {
	docs        *document.Store
	queue       *aiqueue.Queue
	broadcaster *broadcast.Broadcaster

	enableStatusTracking    bool
	enableUserNotifications bool
	maxProcessingTime       time.Duration

	mu       sync.Mutex
	requests map[string]*Request
}

// New constructs an AIIntegrator.
func New(docs *document.Store, queue *aiqueue.Queue, b *broadcast.Broadcaster, enableStatusTracking, enableUserNotifications bool, maxProcessingTime time.Duration) *Integrator {
	return &Integrator{
		docs:                    docs,
		queue:                   queue,
		broadcaster:             b,
		enableStatusTracking:    enableStatusTracking,
		enableUserNotifications: enableUserNotifications,
		maxProcessingTime:       maxProcessingTime,
		requests:                make(map[string]*Request),
	}
}

// ProcessAIRequest validates and enqueues req, then asynchronously awaits
// its outcome and applies it to the document once it completes. It returns
// immediately with the assigned request id once the request has been
// accepted (validated and enqueued).
func (i *Integrator) ProcessAIRequest(ctx context.Context, userID, documentID, selectedText, prompt string, selectionStart, selectionEnd int) (string, error) {
	doc, ok := i.docs.Get(ctx, documentID)
	if !ok {
		return "", fmt.Errorf("aiintegrator: document %s not found", documentID)
	}
	if selectionStart < 0 || selectionStart >= selectionEnd {
		return "", fmt.Errorf("aiintegrator: invalid selection [%d,%d)", selectionStart, selectionEnd)
	}
	if selectedText == "" {
		return "", fmt.Errorf("aiintegrator: selectedText must not be empty")
	}
	if len(selectedText) > aiqueue.MaxSelectedTextLen {
		return "", fmt.Errorf("aiintegrator: selectedText exceeds %d chars", aiqueue.MaxSelectedTextLen)
	}
	if len(prompt) > aiqueue.MaxPromptLen {
		return "", fmt.Errorf("aiintegrator: prompt exceeds %d chars", aiqueue.MaxPromptLen)
	}

	selectionStart, selectionEnd = i.resolveSelection(doc.Content, selectedText, selectionStart, selectionEnd)

	priority := priorityFor(len(selectedText))

	result := i.queue.Enqueue(ctx, aiqueue.AIRequest{
		UserID:       userID,
		DocumentID:   documentID,
		SelectedText: selectedText,
		Prompt:       prompt,
	}, priority)

	if !result.Success {
		return "", fmt.Errorf("aiintegrator: %s", result.Error)
	}

	id := result.ExistingRequestID
	req := &Request{
		ID:             id,
		DocumentID:     documentID,
		UserID:         userID,
		SelectionStart: selectionStart,
		SelectionEnd:   selectionEnd,
		Status:         aiqueue.StatusPending,
		CreatedAt:      time.Now(),
	}
	if i.enableStatusTracking {
		i.mu.Lock()
		i.requests[id] = req
		i.mu.Unlock()
	}

	go i.awaitCompletion(req, result.Cached)

	return id, nil
}

// resolveSelection implements spec.md §4.7 step 1's tolerant resolution:
// if the content at [start,end) no longer matches selectedText, search the
// ±100 char neighborhood for it before giving up and proceeding with the
// original coordinates.
func (i *Integrator) resolveSelection(content, selectedText string, start, end int) (int, int) {
	runes := []rune(content)
	n := len(runes)

	clampedStart, clampedEnd := start, end
	if clampedStart < 0 {
		clampedStart = 0
	}
	if clampedEnd > n {
		clampedEnd = n
	}
	if clampedStart < clampedEnd && string(runes[clampedStart:clampedEnd]) == selectedText {
		return start, end
	}

	winStart := start - tolerantSearchWindow
	if winStart < 0 {
		winStart = 0
	}
	winEnd := end + tolerantSearchWindow
	if winEnd > n {
		winEnd = n
	}
	window := string(runes[winStart:winEnd])

	selRunes := []rune(selectedText)
	windowRunes := []rune(window)
	for offset := 0; offset+len(selRunes) <= len(windowRunes); offset++ {
		if string(windowRunes[offset:offset+len(selRunes)]) == selectedText {
			foundStart := winStart + offset
			return foundStart, foundStart + len(selRunes)
		}
	}

	logger.Warn("aiintegrator: selection drifted and could not be relocated for [%d,%d), proceeding with original coordinates", start, end)
	return start, end
}

func priorityFor(selectedTextLen int) int {
	switch {
	case selectedTextLen < 100:
		return 5
	case selectedTextLen < 500:
		return 3
	default:
		return 1
	}
}

// awaitCompletion waits for req's terminal result, either via a short
// timer (cache hit) or by polling AIQueue every ~2s, bounded by
// maxProcessingTimeMs, then applies or reports the outcome.
func (i *Integrator) awaitCompletion(req *Request, cached bool) {
	ctx := context.Background()
	deadline := time.Now().Add(i.maxProcessingTime)

	if cached {
		time.Sleep(10 * time.Millisecond)
	}

	var result *aiqueue.AIResult
	for {
		if res, ok := i.queue.GetRequestResult(ctx, req.ID); ok && terminal(res.Status) {
			result = res
			break
		}
		if time.Now().After(deadline) {
			i.finish(req, aiqueue.StatusFailed, "", "AI request timed out")
			return
		}
		time.Sleep(pollInterval)
	}

	if result.Status == aiqueue.StatusFailed {
		i.finish(req, aiqueue.StatusFailed, "", result.Error)
		return
	}

	i.apply(req, result.Result)
}

func terminal(s aiqueue.Status) bool {
	return s == aiqueue.StatusCompleted || s == aiqueue.StatusFailed
}

// apply synthesizes the replacement operation spec.md §4.7 describes and
// routes it through the same broadcaster path a client-submitted operation
// takes, guarded so a result already applied (e.g. by a racing cached-hit
// delivery and a polled delivery of the same request) is never applied
// twice.
func (i *Integrator) apply(req *Request, result string) {
	i.mu.Lock()
	if req.applied {
		i.mu.Unlock()
		return
	}
	req.applied = true
	i.mu.Unlock()

	ctx := context.Background()
	doc, ok := i.docs.Get(ctx, req.DocumentID)
	if !ok {
		i.finish(req, aiqueue.StatusFailed, "", "document no longer exists")
		return
	}

	op := ot.Operation{
		Type:      ot.Insert,
		Position:  req.SelectionStart,
		Content:   result,
		Length:    req.SelectionEnd - req.SelectionStart,
		UserID:    req.UserID,
		Timestamp: time.Now(),
		Version:   doc.Version + 1,
	}

	applied, err := i.docs.ApplyOperation(ctx, req.DocumentID, op)
	if err != nil || applied == nil {
		i.finish(req, aiqueue.StatusFailed, "", fmt.Sprintf("failed to apply AI result: %v", err))
		return
	}

	i.broadcaster.Broadcast(&broadcast.Event{
		Type:       protocol.EventOperation,
		DocumentID: req.DocumentID,
		Payload:    protocol.OperationPayload{Operation: op, DocumentID: req.DocumentID},
	})

	i.finish(req, aiqueue.StatusCompleted, result, "")
}

// finish updates the tracked status (if enabled) and, when user
// notifications are enabled, emits the terminal ai_response notification.
func (i *Integrator) finish(req *Request, status aiqueue.Status, result, errMsg string) {
	if i.enableStatusTracking {
		i.mu.Lock()
		req.Status = status
		req.Error = errMsg
		i.mu.Unlock()
	}

	if !i.enableUserNotifications {
		return
	}

	i.broadcaster.Broadcast(&broadcast.Event{
		Type:       protocol.EventAIResponse,
		DocumentID: req.DocumentID,
		Payload: protocol.AIResponsePayload{
			RequestID: req.ID,
			Status:    string(status),
			Result:    result,
			Error:     errMsg,
		},
	})
}

// Cancel implements spec.md §4.7's cancellation contract: authorized only
// by the originating user, and only while the request is not yet terminal.
func (i *Integrator) Cancel(requestID, userID string) error {
	i.mu.Lock()
	req, ok := i.requests[requestID]
	if !ok {
		i.mu.Unlock()
		return fmt.Errorf("aiintegrator: request %s not found", requestID)
	}
	if req.UserID != userID {
		i.mu.Unlock()
		return fmt.Errorf("aiintegrator: not authorized to cancel request %s", requestID)
	}
	if terminal(req.Status) {
		i.mu.Unlock()
		return fmt.Errorf("aiintegrator: request %s already terminal", requestID)
	}
	req.applied = true // suppress any in-flight completion from applying
	i.mu.Unlock()

	i.finish(req, aiqueue.StatusFailed, "", "Cancelled by user")
	return nil
}

// Cleanup drops tracked statuses for requests that are in a terminal state
// and were created more than an hour ago, per spec.md §4.7's cleanup task.
func (i *Integrator) Cleanup() {
	cutoff := time.Now().Add(-time.Hour)

	i.mu.Lock()
	defer i.mu.Unlock()
	for id, req := range i.requests {
		if terminal(req.Status) && req.CreatedAt.Before(cutoff) {
			delete(i.requests, id)
		}
	}
}

// Status returns the tracked in-process status for a request, if status
// tracking is enabled and the request is still known.
func (i *Integrator) Status(requestID string) (*Request, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	req, ok := i.requests[requestID]
	if !ok {
		return nil, false
	}
	cp := *req
	return &cp, true
}
