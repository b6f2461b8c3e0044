package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/collabforge/colabhub/internal/document"
	"github.com/collabforge/colabhub/pkg/cache"
	"github.com/collabforge/colabhub/pkg/logger"
)

const cacheKeyPrefix = "session:"

// Store is SessionStore: the single authority for sessions. Indexes are
// kept in-memory (by session id, by connection id, by document) and
// mirrored to the cache keyed by session id with a TTL equal to the
// configured session timeout, per spec.md §6.
type Store struct {
	mu sync.RWMutex

	byID         map[string]*Session
	byConnection map[string]string // connectionId -> sessionId
	byDocument   map[string]map[string]string // documentId -> userId -> sessionId

	cache   cache.Cache
	timeout time.Duration
}

// NewStore constructs a SessionStore with the given idle timeout.
func NewStore(c cache.Cache, timeout time.Duration) *Store {
	return &Store{
		byID:         make(map[string]*Session),
		byConnection: make(map[string]string),
		byDocument:   make(map[string]map[string]string),
		cache:        c,
		timeout:      timeout,
	}
}

// Count returns the number of sessions currently tracked in memory.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// ValidateUser is the hook for future auth: spec.md's only requirement
// today is that userId/userName are non-empty once trimmed.
func (s *Store) ValidateUser(userID, userName string) bool {
	return strings.TrimSpace(userID) != "" && strings.TrimSpace(userName) != ""
}

// CreateSession creates a session, displacing (forgetting from the in-memory
// indexes) any existing session for the same (userId, documentId) pair, per
// spec.md §3 "duplicates on the same process displace the older session".
func (s *Store) CreateSession(ctx context.Context, userID, userName, documentID, connectionID, avatar string) (*Session, *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var displaced *Session
	if docSessions, ok := s.byDocument[documentID]; ok {
		if oldID, ok := docSessions[userID]; ok {
			if old, ok := s.byID[oldID]; ok {
				displaced = old.clone()
				s.removeLocked(oldID)
			}
		}
	}

	now := time.Now()
	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		UserName:     userName,
		Avatar:       avatar,
		DocumentID:   documentID,
		ConnectionID: connectionID,
		JoinedAt:     now,
		LastActivity: now,
		Active:       true,
	}

	s.byID[sess.ID] = sess
	s.byConnection[connectionID] = sess.ID
	if _, ok := s.byDocument[documentID]; !ok {
		s.byDocument[documentID] = make(map[string]string)
	}
	s.byDocument[documentID][userID] = sess.ID

	s.writeThroughLocked(ctx, sess)
	return sess.clone(), displaced
}

func cacheKey(id string) string { return cacheKeyPrefix + id }

// GetBySessionID returns the session, if still present.
func (s *Store) GetBySessionID(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// GetByConnectionID returns the session bound to a socket connection.
func (s *Store) GetByConnectionID(connectionID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byConnection[connectionID]
	if !ok {
		return nil, false
	}
	sess, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// GetDocumentSessions returns every active session for a document.
func (s *Store) GetDocumentSessions(documentID string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.byDocument[documentID]
	if !ok {
		return nil
	}
	out := make([]*Session, 0, len(ids))
	for _, sid := range ids {
		if sess, ok := s.byID[sid]; ok && sess.Active {
			out = append(out, sess.clone())
		}
	}
	return out
}

// UpdateActivity refreshes lastActivity for a session, on any inbound
// message from its connection.
func (s *Store) UpdateActivity(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[id]
	if !ok {
		return
	}
	sess.LastActivity = time.Now()
	s.writeThroughLocked(ctx, sess)
}

// Deactivate marks a session inactive without removing its indexes (used
// ahead of a Remove so GetDocumentSessions stops returning it immediately).
func (s *Store) Deactivate(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[id]
	if !ok {
		return
	}
	sess.Active = false
	s.writeThroughLocked(ctx, sess)
}

// Remove deletes a session entirely (on leave/disconnect/sweep).
func (s *Store) Remove(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	_ = s.cache.Del(ctx, cacheKey(id))
}

// RemoveByConnectionID removes whatever session is bound to connectionID,
// if any, and reports it.
func (s *Store) RemoveByConnectionID(ctx context.Context, connectionID string) (*Session, bool) {
	s.mu.Lock()
	id, ok := s.byConnection[connectionID]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	sess, ok := s.byID[id]
	var removed *Session
	if ok {
		removed = sess.clone()
	}
	s.removeLocked(id)
	s.mu.Unlock()

	_ = s.cache.Del(ctx, cacheKey(id))
	return removed, removed != nil
}

func (s *Store) removeLocked(id string) {
	sess, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	delete(s.byConnection, sess.ConnectionID)
	if docSessions, ok := s.byDocument[sess.DocumentID]; ok {
		delete(docSessions, sess.UserID)
		if len(docSessions) == 0 {
			delete(s.byDocument, sess.DocumentID)
		}
	}
}

// ClearAll purges every session this store tracks in memory, together with
// its cache key. Session keys in the cache that this process does not track
// (such as those left over from a previous run) are not removed, and
// cmd/server does not call it at startup.
func (s *Store) ClearAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	s.byID = make(map[string]*Session)
	s.byConnection = make(map[string]string)
	s.byDocument = make(map[string]map[string]string)
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.cache.Del(ctx, cacheKey(id))
	}
}

// SweepIdle removes every session idle longer than the configured timeout
// and returns them, for the ~60s periodic sweep in spec.md §4.5.
func (s *Store) SweepIdle(ctx context.Context) []*Session {
	now := time.Now()

	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.byID {
		if sess.Idle(s.timeout, now) {
			expired = append(expired, sess.clone())
			s.removeLocked(id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		_ = s.cache.Del(ctx, cacheKey(sess.ID))
	}
	return expired
}

// SessionToCollaborator projects a Session into the Collaborator shape
// DocumentStore tracks, with cursor=0 until the client reports otherwise.
func SessionToCollaborator(sess *Session) document.Collaborator {
	return document.Collaborator{
		ID:       sess.UserID,
		Name:     sess.UserName,
		Avatar:   sess.Avatar,
		Cursor:   0,
		Active:   sess.Active,
		LastSeen: sess.LastActivity,
	}
}

func (s *Store) writeThroughLocked(ctx context.Context, sess *Session) {
	raw, err := json.Marshal(sess)
	if err != nil {
		logger.Error("session: marshal %s: %v", sess.ID, err)
		return
	}
	if err := s.cache.Set(ctx, cacheKey(sess.ID), string(raw), s.timeout); err != nil {
		logger.Error("session: cache write-through %s: %v", sess.ID, err)
	}
}
