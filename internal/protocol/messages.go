// Package protocol defines the JSON wire protocol between a client socket
// connection and the ConnectionHub, per spec.md §6.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/collabforge/colabhub/internal/ot"
)

// EventType names one of the named client->server or server->client
// events in spec.md §6.
type EventType string

const (
	// Client -> server
	EventJoinDocument  EventType = "join_document"
	EventLeaveDocument EventType = "leave_document"
	EventOperation     EventType = "operation"
	EventPresence      EventType = "presence"
	EventAIRequest     EventType = "ai_request"
	EventAICancel      EventType = "ai_cancel"

	// Server -> client
	EventDocumentState        EventType = "document_state"
	EventOperationAck         EventType = "operation_ack"
	EventUserJoined           EventType = "user_joined"
	EventUserLeft             EventType = "user_left"
	EventCollaboratorsUpdated EventType = "collaborators_updated"
	EventNotification         EventType = "notification"
	EventAIResponse           EventType = "ai_response"
	EventError                EventType = "error"
)

// Envelope is the shape every message carries: {type, payload, timestamp}.
type Envelope struct {
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope marshals payload and wraps it in an Envelope stamped with the
// current time.
func NewEnvelope(t EventType, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: t, Payload: raw, Timestamp: time.Now()}, nil
}

// --- Client -> server payloads ---

type JoinDocumentPayload struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	Avatar     string `json:"avatar,omitempty"`
	AccessCode string `json:"accessCode,omitempty"`

	// RequestAccessCode, set only on the call that creates a new document,
	// asks the server to generate and protect the document with a fresh
	// access code (returned via a notification payload).
	RequestAccessCode bool `json:"requestAccessCode,omitempty"`
}

type OperationPayload struct {
	Operation  ot.Operation `json:"operation"`
	DocumentID string       `json:"documentId"`
}

type PresencePayload struct {
	Collaborator CollaboratorPresence `json:"collaborator"`
	DocumentID   string               `json:"documentId"`
}

// CollaboratorPresence is the subset of Collaborator a client may push
// directly (cursor/selection/active), as opposed to fields the server
// derives (id, name, lastSeen).
type CollaboratorPresence struct {
	Cursor    int        `json:"cursor"`
	Selection *Selection `json:"selection,omitempty"`
	Active    bool       `json:"active"`
}

type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type AIRequestPayload struct {
	DocumentID     string `json:"documentId"`
	SelectedText   string `json:"selectedText"`
	Prompt         string `json:"prompt"`
	SelectionStart int    `json:"selectionStart"`
	SelectionEnd   int    `json:"selectionEnd"`
}

type AICancelPayload struct {
	RequestID string `json:"requestId"`
}

// --- Server -> client payloads ---

type DocumentStatePayload struct {
	Document      DocumentView   `json:"document"`
	Collaborators []Collaborator `json:"collaborators"`
}

// DocumentView is the client-facing projection of a document: content,
// version, and opHistory trimmed to the configured cap.
type DocumentView struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Version   int            `json:"version"`
	OpHistory []ot.Operation `json:"opHistory"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type Collaborator struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Avatar    string     `json:"avatar,omitempty"`
	Cursor    int        `json:"cursor"`
	Selection *Selection `json:"selection,omitempty"`
	Active    bool       `json:"active"`
	LastSeen  time.Time  `json:"lastSeen"`
}

type OperationAckPayload struct {
	OperationVersion int       `json:"operationVersion"`
	Timestamp        time.Time `json:"timestamp"`
}

type UserJoinedPayload struct {
	Collaborator Collaborator `json:"collaborator"`
}

type UserLeftPayload struct {
	UserID string `json:"userId"`
}

type CollaboratorsUpdatedPayload struct {
	Collaborators []Collaborator `json:"collaborators"`
}

type NotificationPayload struct {
	Level   string `json:"level"` // info|warning|error
	Message string `json:"message"`
}

type AIResponsePayload struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"` // pending|processing|completed|failed
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
