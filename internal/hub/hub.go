// Package hub implements ConnectionHub: the wire adapter between a socket
// connection and the rest of the system, per spec.md §4.8. It never
// mutates documents directly — every inbound event is authorized against
// the connection's own state and forwarded to SessionStore,
// OperationBroadcaster or AIIntegrator.
package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/collabforge/colabhub/internal/aiintegrator"
	"github.com/collabforge/colabhub/internal/broadcast"
	"github.com/collabforge/colabhub/internal/document"
	"github.com/collabforge/colabhub/internal/ot"
	"github.com/collabforge/colabhub/internal/protocol"
	"github.com/collabforge/colabhub/internal/session"
)

const welcomeContent = ""

// Hub wires every per-connection Connection to the shared components.
type Hub struct {
	docs        *document.Store
	sessions    *session.Store
	broadcaster *broadcast.Broadcaster
	integrator  *aiintegrator.Integrator

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// New constructs a Hub.
func New(docs *document.Store, sessions *session.Store, b *broadcast.Broadcaster, integrator *aiintegrator.Integrator, readTimeout, writeTimeout time.Duration) *Hub {
	return &Hub{
		docs:         docs,
		sessions:     sessions,
		broadcaster:  b,
		integrator:   integrator,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// handleJoinDocument implements spec.md §4.8's join_document contract.
func (h *Hub) handleJoinDocument(ctx context.Context, c *Connection, payload protocol.JoinDocumentPayload) error {
	if !h.sessions.ValidateUser(payload.UserID, payload.UserName) {
		return c.sendError("invalid userId/userName")
	}

	doc, ok := h.docs.Get(ctx, payload.DocumentID)
	if !ok {
		var err error
		doc, err = h.docs.Create(ctx, payload.DocumentID, welcomeContent, payload.UserID)
		if err != nil {
			return c.sendError(fmt.Sprintf("failed to create document: %v", err))
		}
		if payload.RequestAccessCode {
			code := document.GenerateAccessCode()
			if doc, err = h.docs.SetAccessCode(ctx, payload.DocumentID, code); err != nil {
				return c.sendError(fmt.Sprintf("failed to protect document: %v", err))
			}
			if err := c.send(protocol.EventNotification, protocol.NotificationPayload{
				Level: "info", Message: "document protected with access code: " + code,
			}); err != nil {
				return err
			}
		}
	} else if doc.AccessCode != "" && payload.AccessCode != doc.AccessCode {
		return c.sendError("invalid access code")
	}

	sess, displaced := h.sessions.CreateSession(ctx, payload.UserID, payload.UserName, payload.DocumentID, c.id, payload.Avatar)
	if displaced != nil {
		// An older connection for the same (userId, documentId) is still
		// open; evict it so only the newest connection stays joined.
		h.broadcaster.Unsubscribe(payload.DocumentID, displaced.ConnectionID)
		h.broadcaster.Broadcast(&broadcast.Event{
			Type:         protocol.EventNotification,
			DocumentID:   payload.DocumentID,
			ToConnection: displaced.ConnectionID,
			Payload:      protocol.NotificationPayload{Level: "info", Message: "replaced by a newer connection"},
		})
	}

	c.userID = payload.UserID
	c.userName = payload.UserName
	c.documentID = payload.DocumentID

	collaborator := session.SessionToCollaborator(sess)
	updated, err := h.docs.AddCollaborator(ctx, payload.DocumentID, collaborator)
	if err != nil || updated == nil {
		return c.sendError("failed to join document")
	}

	c.setSubscription(h.broadcaster.Subscribe(payload.DocumentID, c.id))

	if err := c.send(protocol.EventDocumentState, protocol.DocumentStatePayload{
		Document:      toDocumentView(updated),
		Collaborators: toProtocolCollaborators(updated.CollaboratorList()),
	}); err != nil {
		return err
	}

	h.broadcaster.BroadcastUserJoined(payload.DocumentID, protocol.UserJoinedPayload{
		Collaborator: toProtocolCollaborator(&collaborator),
	})
	h.broadcaster.BroadcastCollaboratorsUpdated(payload.DocumentID, protocol.CollaboratorsUpdatedPayload{
		Collaborators: toProtocolCollaborators(updated.CollaboratorList()),
	})

	return nil
}

func (h *Hub) handleLeaveDocument(ctx context.Context, c *Connection) error {
	if c.documentID == "" {
		return nil
	}
	h.removeFromDocument(ctx, c)
	return nil
}

func (h *Hub) handleDisconnect(ctx context.Context, c *Connection) {
	if c.documentID == "" {
		return
	}
	h.removeFromDocument(ctx, c)
}

func (h *Hub) removeFromDocument(ctx context.Context, c *Connection) {
	documentID, userID := c.documentID, c.userID

	h.sessions.RemoveByConnectionID(ctx, c.id)
	_, _ = h.docs.RemoveCollaborator(ctx, documentID, userID)

	if c.sub != nil {
		h.broadcaster.Unsubscribe(documentID, c.id)
	}

	h.broadcaster.BroadcastUserLeft(documentID, protocol.UserLeftPayload{UserID: userID})
	if doc, ok := h.docs.Get(ctx, documentID); ok {
		h.broadcaster.BroadcastCollaboratorsUpdated(documentID, protocol.CollaboratorsUpdatedPayload{
			Collaborators: toProtocolCollaborators(doc.CollaboratorList()),
		})
	}

	c.documentID = ""
}

func (h *Hub) handleOperation(ctx context.Context, c *Connection, payload protocol.OperationPayload) error {
	if payload.Operation.UserID != c.userID || payload.DocumentID != c.documentID {
		return c.sendError("unauthorized operation")
	}

	h.sessions.UpdateActivity(ctx, sessionIDFor(h, c))

	if _, err := h.broadcaster.Submit(ctx, payload.DocumentID, c.id, payload.Operation); err != nil {
		return c.sendError(err.Error())
	}
	return nil
}

func (h *Hub) handlePresence(ctx context.Context, c *Connection, payload protocol.PresencePayload) error {
	if payload.DocumentID != c.documentID {
		return c.sendError("unauthorized presence update")
	}

	h.sessions.UpdateActivity(ctx, sessionIDFor(h, c))

	var sel *document.Selection
	if payload.Collaborator.Selection != nil {
		sel = &document.Selection{Start: payload.Collaborator.Selection.Start, End: payload.Collaborator.Selection.End}
	}

	updated, err := h.docs.UpdateCollaboratorPresence(ctx, payload.DocumentID, c.userID, payload.Collaborator.Cursor, sel, payload.Collaborator.Active)
	if err != nil || updated == nil {
		return nil
	}

	var collab *document.Collaborator
	for _, cc := range updated.CollaboratorList() {
		if cc.ID == c.userID {
			collab = cc
			break
		}
	}
	if collab == nil {
		return nil
	}

	h.broadcaster.BroadcastPresence(payload.DocumentID, toProtocolCollaborator(collab))
	return nil
}

func (h *Hub) handleAIRequest(ctx context.Context, c *Connection, payload protocol.AIRequestPayload) error {
	if payload.DocumentID != c.documentID {
		return c.sendError("unauthorized AI request")
	}

	if err := c.send(protocol.EventAIResponse, protocol.AIResponsePayload{Status: string("pending")}); err != nil {
		return err
	}

	_, err := h.integrator.ProcessAIRequest(ctx, c.userID, payload.DocumentID, payload.SelectedText, payload.Prompt, payload.SelectionStart, payload.SelectionEnd)
	if err != nil {
		return c.send(protocol.EventAIResponse, protocol.AIResponsePayload{Status: "failed", Error: err.Error()})
	}
	return nil
}

func (h *Hub) handleAICancel(c *Connection, payload protocol.AICancelPayload) error {
	if err := h.integrator.Cancel(payload.RequestID, c.userID); err != nil {
		return c.sendError(err.Error())
	}
	return nil
}

// sessionIDFor looks up the session bound to a connection; used to refresh
// activity without every handler threading an extra lookup.
func sessionIDFor(h *Hub, c *Connection) string {
	sess, ok := h.sessions.GetByConnectionID(c.id)
	if !ok {
		return ""
	}
	return sess.ID
}

func toDocumentView(d *document.Document) protocol.DocumentView {
	return protocol.DocumentView{
		ID:        d.ID,
		Content:   d.Content,
		Version:   d.Version,
		OpHistory: append([]ot.Operation(nil), d.OpHistory...),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func toProtocolCollaborator(c *document.Collaborator) protocol.Collaborator {
	var sel *protocol.Selection
	if c.Selection != nil {
		sel = &protocol.Selection{Start: c.Selection.Start, End: c.Selection.End}
	}
	return protocol.Collaborator{
		ID:        c.ID,
		Name:      c.Name,
		Avatar:    c.Avatar,
		Cursor:    c.Cursor,
		Selection: sel,
		Active:    c.Active,
		LastSeen:  c.LastSeen,
	}
}

func toProtocolCollaborators(cs []*document.Collaborator) []protocol.Collaborator {
	out := make([]protocol.Collaborator, 0, len(cs))
	for _, c := range cs {
		out = append(out, toProtocolCollaborator(c))
	}
	return out
}

// newConnectionID is split out so tests can observe id generation if ever
// needed; production callers always use this.
func newConnectionID() string {
	return uuid.NewString()
}
