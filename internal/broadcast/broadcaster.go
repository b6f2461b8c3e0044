// Package broadcast implements OperationBroadcaster: per-document
// serialization of incoming operations, validation/transformation against
// conflicting history, application via DocumentStore, and fan-out to every
// subscriber of the document, per spec.md §4.3.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/collabforge/colabhub/internal/document"
	"github.com/collabforge/colabhub/internal/ot"
	"github.com/collabforge/colabhub/internal/protocol"
	"github.com/collabforge/colabhub/pkg/logger"
	"github.com/collabforge/colabhub/pkg/metrics"
)

// idleWorkerGrace is how long a per-document worker lingers with an empty
// queue before releasing its goroutine, per SPEC_FULL's note that idle
// documents should not pin a goroutine forever.
const idleWorkerGrace = 30 * time.Second

type submission struct {
	ctx    context.Context
	op     ot.Operation
	connID string
	done   chan submissionResult
}

type submissionResult struct {
	op  ot.Operation
	err error
}

type docWorker struct {
	queue chan submission
	stop  chan struct{}
}

// Broadcaster is OperationBroadcaster.
type Broadcaster struct {
	docs *document.Store

	mu          sync.Mutex
	workers     map[string]*docWorker
	subscribers map[string]map[string]chan *Event

	bufferSize int
}

// New constructs a Broadcaster over the given DocumentStore. bufferSize
// sizes each subscriber's outbound channel (spec.md's
// BROADCAST_BUFFER_SIZE).
func New(docs *document.Store, bufferSize int) *Broadcaster {
	return &Broadcaster{
		docs:        docs,
		workers:     make(map[string]*docWorker),
		subscribers: make(map[string]map[string]chan *Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers subscriberID (typically a connection id) to receive
// every Event fanned out for documentID, including the sender's own
// reconciled operations — spec.md §4.3 requires every client, including
// the author, to reconcile against the canonical transformed op.
func (b *Broadcaster) Subscribe(documentID, subscriberID string) <-chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[documentID]; !ok {
		b.subscribers[documentID] = make(map[string]chan *Event)
	}
	ch := make(chan *Event, b.bufferSize)
	b.subscribers[documentID][subscriberID] = ch
	return ch
}

// Unsubscribe removes a subscriber, closing its channel.
func (b *Broadcaster) Unsubscribe(documentID, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[documentID]
	if !ok {
		return
	}
	if ch, ok := subs[subscriberID]; ok {
		close(ch)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(b.subscribers, documentID)
	}
}

// broadcast fans an event out to every subscriber of its document
// (non-blocking: a full subscriber channel drops the event rather than
// stalling the document's worker).
func (b *Broadcaster) broadcast(ev *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[ev.DocumentID]
	for id, ch := range subs {
		if ev.ToConnection != "" && id != ev.ToConnection {
			continue
		}
		select {
		case ch <- ev:
		default:
			logger.Warn("broadcast: dropping event %s for %s (subscriber %s backpressured)", ev.Type, ev.DocumentID, id)
		}
	}
}

// BroadcastPresence, BroadcastUserJoined, BroadcastUserLeft and
// BroadcastNamed are the "additional broadcasts" spec.md §4.3 offers on
// the same delivery path as operations.
func (b *Broadcaster) BroadcastPresence(documentID string, payload protocol.Collaborator) {
	b.broadcast(&Event{Type: protocol.EventPresence, DocumentID: documentID, Payload: payload})
}

func (b *Broadcaster) BroadcastUserJoined(documentID string, payload protocol.UserJoinedPayload) {
	b.broadcast(&Event{Type: protocol.EventUserJoined, DocumentID: documentID, Payload: payload})
}

func (b *Broadcaster) BroadcastUserLeft(documentID string, payload protocol.UserLeftPayload) {
	b.broadcast(&Event{Type: protocol.EventUserLeft, DocumentID: documentID, Payload: payload})
}

func (b *Broadcaster) BroadcastCollaboratorsUpdated(documentID string, payload protocol.CollaboratorsUpdatedPayload) {
	b.broadcast(&Event{Type: protocol.EventCollaboratorsUpdated, DocumentID: documentID, Payload: payload})
}

func (b *Broadcaster) BroadcastNamed(documentID string, eventType protocol.EventType, payload interface{}) {
	b.broadcast(&Event{Type: eventType, DocumentID: documentID, Payload: payload})
}

// Broadcast re-exports an already-assembled Event, used by AIIntegrator to
// deliver a completed rewrite's replacement operation the same way a
// client-submitted operation is delivered.
func (b *Broadcaster) Broadcast(ev *Event) {
	b.broadcast(ev)
}

// Submit enqueues op for documentID and blocks until it has been
// validated, transformed, applied and broadcast (or rejected). connID
// identifies the originating connection so a validation error can be
// addressed back to it alone.
func (b *Broadcaster) Submit(ctx context.Context, documentID, connID string, op ot.Operation) (ot.Operation, error) {
	worker := b.getOrStartWorker(documentID)

	done := make(chan submissionResult, 1)
	select {
	case worker.queue <- submission{ctx: ctx, op: op, connID: connID, done: done}:
	case <-ctx.Done():
		return ot.Operation{}, ctx.Err()
	}

	select {
	case res := <-done:
		return res.op, res.err
	case <-ctx.Done():
		return ot.Operation{}, ctx.Err()
	}
}

func (b *Broadcaster) getOrStartWorker(documentID string) *docWorker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w, ok := b.workers[documentID]; ok {
		return w
	}

	w := &docWorker{
		queue: make(chan submission, 256),
		stop:  make(chan struct{}),
	}
	b.workers[documentID] = w
	go b.runWorker(documentID, w)
	return w
}

// runWorker drains documentID's FIFO queue one submission at a time,
// guaranteeing strict per-document ordering. It releases itself after
// idleWorkerGrace with nothing to do.
func (b *Broadcaster) runWorker(documentID string, w *docWorker) {
	timer := time.NewTimer(idleWorkerGrace)
	defer timer.Stop()

	for {
		select {
		case sub := <-w.queue:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			op, err := b.process(sub.ctx, documentID, sub.connID, sub.op)
			sub.done <- submissionResult{op: op, err: err}
			timer.Reset(idleWorkerGrace)

		case <-timer.C:
			b.mu.Lock()
			// Double-check nothing raced in between the timer firing and
			// acquiring the lock.
			if len(w.queue) == 0 {
				delete(b.workers, documentID)
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
			timer.Reset(idleWorkerGrace)
		}
	}
}

// process performs validate -> transform -> apply -> broadcast for a
// single submission. It is only ever called from the document's own
// worker goroutine, so it never races with another submission on the same
// document.
func (b *Broadcaster) process(ctx context.Context, documentID, connID string, op ot.Operation) (ot.Operation, error) {
	doc, ok := b.docs.Get(ctx, documentID)
	if !ok {
		err := fmt.Errorf("document %s not found", documentID)
		b.broadcast(&Event{
			Type: protocol.EventError, DocumentID: documentID, ToConnection: connID,
			Payload: protocol.ErrorPayload{Message: err.Error()},
		})
		return ot.Operation{}, err
	}

	if op.Version < doc.Version {
		err := fmt.Errorf("Operation version is outdated")
		b.broadcast(&Event{
			Type: protocol.EventError, DocumentID: documentID, ToConnection: connID,
			Payload: protocol.ErrorPayload{Message: err.Error(), Code: "outdated_version"},
		})
		return ot.Operation{}, err
	}

	transformed := b.transformAgainstHistory(op, doc)

	applied, err := b.docs.ApplyOperation(ctx, documentID, transformed)
	if err != nil {
		logger.Error("broadcast: apply failed for %s: %v", documentID, err)
		b.broadcast(&Event{
			Type: protocol.EventError, DocumentID: documentID, ToConnection: connID,
			Payload: protocol.ErrorPayload{Message: err.Error()},
		})
		return ot.Operation{}, err
	}

	b.broadcast(&Event{
		Type:       protocol.EventOperation,
		DocumentID: documentID,
		Payload:    protocol.OperationPayload{Operation: transformed, DocumentID: documentID},
	})

	b.broadcast(&Event{
		Type: protocol.EventOperationAck, DocumentID: documentID, ToConnection: connID,
		Payload: protocol.OperationAckPayload{OperationVersion: applied.Version, Timestamp: time.Now()},
	})

	metrics.OperationsTotal.WithLabelValues(documentID).Inc()

	return transformed, nil
}

// transformAgainstHistory implements spec.md §4.3's conflict fold: every
// history op with version >= op.Version-1 is considered concurrent with
// (or after) op's base version, and op is transformed against each in
// order.
func (b *Broadcaster) transformAgainstHistory(op ot.Operation, doc *document.Document) ot.Operation {
	current := op
	for _, h := range doc.OpHistory {
		if h.Version < current.Version-1 {
			continue
		}
		priority := current.Timestamp.Before(h.Timestamp)
		if current.Timestamp.Equal(h.Timestamp) {
			priority = current.UserID < h.UserID
		}
		t, _ := ot.Transform(current, h, priority)
		current = t
	}
	return current
}

// ClearQueue drops every pending (not-yet-processed) submission for a
// document, an administrative escape hatch spec.md §4.3 allows. Anyone
// still waiting on Submit for a dropped item receives a "queue cleared"
// error.
func (b *Broadcaster) ClearQueue(documentID string) {
	b.mu.Lock()
	w, ok := b.workers[documentID]
	b.mu.Unlock()
	if !ok {
		return
	}

	for {
		select {
		case sub := <-w.queue:
			sub.done <- submissionResult{err: fmt.Errorf("broadcast: queue cleared")}
		default:
			return
		}
	}
}
