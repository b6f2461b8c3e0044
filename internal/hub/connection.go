package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/collabforge/colabhub/internal/broadcast"
	"github.com/collabforge/colabhub/internal/protocol"
	"github.com/collabforge/colabhub/pkg/logger"
	"github.com/collabforge/colabhub/pkg/metrics"
)

// Connection is one client socket's lifecycle: inbound event dispatch and
// the per-connection fan-out loop that mirrors broadcaster events back out
// over the wire, grounded on the teacher's Connection.Handle/
// broadcastUpdates split.
type Connection struct {
	id         string
	userID     string
	userName   string
	documentID string

	conn   *websocket.Conn
	hub    *Hub
	sub    <-chan *broadcast.Event
	sendMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	subReady chan struct{}
	subOnce  sync.Once
}

func newConnection(h *Hub, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:       newConnectionID(),
		conn:     conn,
		hub:      h,
		ctx:      ctx,
		cancel:   cancel,
		subReady: make(chan struct{}),
	}
}

// setSubscription attaches the broadcaster subscription once join_document
// succeeds, unblocking relayOutbound.
func (c *Connection) setSubscription(ch <-chan *broadcast.Event) {
	c.sub = ch
	c.subOnce.Do(func() { close(c.subReady) })
}

// Handle runs the connection until it closes or ctx is cancelled, per
// spec.md §4.8/§5: read inbound events, dispatch and authorize them, and
// concurrently relay outbound broadcaster events.
func (h *Hub) Handle(ctx context.Context, conn *websocket.Conn) error {
	c := newConnection(h, conn)
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()
	defer h.handleDisconnect(context.Background(), c)

	fanoutDone := make(chan struct{})
	go c.relayOutbound(fanoutDone)
	defer func() { <-fanoutDone }()
	defer c.cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		readCtx := ctx
		cancelRead := func() {}
		if h.readTimeout > 0 {
			readCtx, cancelRead = context.WithTimeout(ctx, h.readTimeout)
		}

		var env protocol.Envelope
		err := wsjson.Read(readCtx, conn, &env)
		cancelRead()
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("hub: read message: %w", err)
		}

		if err := c.dispatch(ctx, env); err != nil {
			logger.Warn("hub: error handling %s from connection %s: %v", env.Type, c.id, err)
		}
	}
}

// dispatch routes one inbound envelope to the matching handler, per
// spec.md §4.8's event table. Unknown events are ignored with an error
// reply, per spec.md §6.
func (c *Connection) dispatch(ctx context.Context, env protocol.Envelope) error {
	switch env.Type {
	case protocol.EventJoinDocument:
		var p protocol.JoinDocumentPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return c.sendError("malformed join_document payload")
		}
		return c.hub.handleJoinDocument(ctx, c, p)

	case protocol.EventLeaveDocument:
		return c.hub.handleLeaveDocument(ctx, c)

	case protocol.EventOperation:
		var p protocol.OperationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return c.sendError("malformed operation payload")
		}
		return c.hub.handleOperation(ctx, c, p)

	case protocol.EventPresence:
		var p protocol.PresencePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return c.sendError("malformed presence payload")
		}
		return c.hub.handlePresence(ctx, c, p)

	case protocol.EventAIRequest:
		var p protocol.AIRequestPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return c.sendError("malformed ai_request payload")
		}
		return c.hub.handleAIRequest(ctx, c, p)

	case protocol.EventAICancel:
		var p protocol.AICancelPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return c.sendError("malformed ai_cancel payload")
		}
		return c.hub.handleAICancel(c, p)

	default:
		return c.sendError(fmt.Sprintf("unknown event type %q", env.Type))
	}
}

// relayOutbound forwards every broadcaster event addressed to this
// connection's document onto the socket, until the subscription channel
// closes (on leave/disconnect) or the connection's context ends.
func (c *Connection) relayOutbound(done chan struct{}) {
	defer close(done)

	select {
	case <-c.ctx.Done():
		return
	case <-c.subReady:
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-c.sub:
			if !ok {
				return
			}
			if err := c.send(ev.Type, ev.Payload); err != nil {
				logger.Warn("hub: outbound send failed for connection %s: %v", c.id, err)
				c.cancel()
				return
			}
		}
	}
}

func (c *Connection) send(t protocol.EventType, payload interface{}) error {
	env, err := protocol.NewEnvelope(t, payload)
	if err != nil {
		return fmt.Errorf("hub: marshal envelope: %w", err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	writeCtx := c.ctx
	if c.hub.writeTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(c.ctx, c.hub.writeTimeout)
		defer cancel()
	}
	return wsjson.Write(writeCtx, c.conn, env)
}

func (c *Connection) sendError(message string) error {
	return c.send(protocol.EventError, protocol.ErrorPayload{Message: message})
}
