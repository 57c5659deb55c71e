package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"surveysync/pkg/interfaces"
	"surveysync/pkg/types"
)

// LockKey identifies one lockable survey element within a session.
type LockKey struct {
	ElementType string
	ElementID   string
}

// Session holds the in-memory collaborative state of one survey document:
// the participant roster keyed by connection id, the document snapshot, a
// bounded change log, comments, and element locks. A session is created
// lazily on first join and survives emptiness until the reaper evicts it,
// so rejoining users retain comments, locks, and history.
type Session struct {
	ID           string
	Participants map[string]*types.Participant
	Document     types.Document
	Changes      []types.ChangeRecord
	Comments     []*types.Comment
	Locks        map[LockKey]*types.ElementLock
	CreatedAt    time.Time
	LastActivity time.Time
}

// Affected pairs a session with the participant a mutation touched, for
// fan-out by the caller.
type Affected struct {
	SessionID   string
	Participant types.Participant
}

// LockExpiry reports one lock removed by the sweep.
type LockExpiry struct {
	SessionID string
	Lock      types.ElementLock
}

// SweepResult collects everything one housekeeping pass changed.
type SweepResult struct {
	StatusChanges   []Affected
	ExpiredLocks    []LockExpiry
	EvictedSessions []string
}

// SessionInfo is a read-only summary for the admin surface.
type SessionInfo struct {
	ID           string    `json:"id"`
	Participants int       `json:"participants"`
	DocVersion   int64     `json:"docVersion"`
	Comments     int       `json:"comments"`
	Locks        int       `json:"locks"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Store is the single shared mutable resource of the collaboration core.
// Every mutation takes the store lock; callers receive copies, never
// references into guarded state.
type Store struct {
	mu             sync.RWMutex
	sessions       map[string]*Session
	policy         interfaces.SweepPolicy
	changeLogLimit int
	now            func() time.Time
}

// DefaultChangeLogLimit bounds the recent-change window kept per session.
const DefaultChangeLogLimit = 100

// Housekeeping defaults, applied when the policy leaves a field unset.
const (
	DefaultIdleAfter    = 5 * time.Minute
	DefaultOfflineAfter = 30 * time.Minute
	DefaultSessionTTL   = 24 * time.Hour
	DefaultLockTTL      = 30 * time.Minute
)

// NewStore creates a session store with the given housekeeping policy.
func NewStore(policy interfaces.SweepPolicy, changeLogLimit int) *Store {
	if changeLogLimit <= 0 {
		changeLogLimit = DefaultChangeLogLimit
	}
	if policy.IdleAfter <= 0 {
		policy.IdleAfter = DefaultIdleAfter
	}
	if policy.OfflineAfter <= 0 {
		policy.OfflineAfter = DefaultOfflineAfter
	}
	if policy.SessionTTL <= 0 {
		policy.SessionTTL = DefaultSessionTTL
	}
	if policy.LockTTL <= 0 {
		policy.LockTTL = DefaultLockTTL
	}
	return &Store{
		sessions:       make(map[string]*Session),
		policy:         policy,
		changeLogLimit: changeLogLimit,
		now:            time.Now,
	}
}

// GetOrCreate returns the session with the given id, creating an empty one
// if none exists. It never fails; unknown session identifiers auto-vivify.
func (s *Store) GetOrCreate(sessionID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(sessionID)
}

func (s *Store) getOrCreateLocked(sessionID string) *Session {
	if sess, ok := s.sessions[sessionID]; ok {
		return sess
	}
	now := s.now().UTC()
	sess := &Session{
		ID:           sessionID,
		Participants: make(map[string]*types.Participant),
		Locks:        make(map[LockKey]*types.ElementLock),
		CreatedAt:    now,
		LastActivity: now,
	}
	s.sessions[sessionID] = sess
	return sess
}

// AddParticipant creates or refreshes the participant entry for a
// (session, connection) pair, marks it online, and records the join in the
// change feed.
func (s *Store) AddParticipant(sessionID, connectionID, userID, username string) types.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID)
	now := s.now().UTC()

	p, ok := sess.Participants[connectionID]
	if !ok {
		p = &types.Participant{
			ConnectionID: connectionID,
			JoinedAt:     now,
		}
		sess.Participants[connectionID] = p
	}
	p.UserID = userID
	p.Username = username
	p.Status = types.StatusOnline
	p.LastActive = now
	sess.LastActivity = now

	s.appendChangeLocked(sess, types.ChangeRecord{
		ID:         uuid.New().String(),
		UserID:     userID,
		Username:   username,
		Operation:  types.OpJoin,
		DocVersion: sess.Document.Version,
		Timestamp:  now,
	})

	return *p
}

// RemoveParticipant removes the participant for a connection. The session
// itself is not deleted even when it becomes empty; it survives for the
// reaper's eviction window.
func (s *Store) RemoveParticipant(sessionID, connectionID string) (types.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return types.Participant{}, false
	}
	p, ok := sess.Participants[connectionID]
	if !ok {
		return types.Participant{}, false
	}
	delete(sess.Participants, connectionID)

	now := s.now().UTC()
	sess.LastActivity = now
	s.appendChangeLocked(sess, types.ChangeRecord{
		ID:         uuid.New().String(),
		UserID:     p.UserID,
		Username:   p.Username,
		Operation:  types.OpLeave,
		DocVersion: sess.Document.Version,
		Timestamp:  now,
	})

	return *p, true
}

// MarkOffline flips every participant of the connection to offline without
// removing it, keeping the record rebindable for the reconnection window.
func (s *Store) MarkOffline(connectionID string) []Affected {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected []Affected
	now := s.now().UTC()
	for _, sess := range s.sessions {
		if p, ok := sess.Participants[connectionID]; ok {
			p.Status = types.StatusOffline
			p.LastActive = now
			sess.LastActivity = now
			affected = append(affected, Affected{SessionID: sess.ID, Participant: *p})
		}
	}
	return affected
}

// Rebind re-keys every participant record of a previous connection id onto
// a new connection and marks it online again. An empty result means the
// prior identifier is unknown and the caller should fall back to a fresh
// join.
func (s *Store) Rebind(oldConnectionID, newConnectionID string) []Affected {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected []Affected
	now := s.now().UTC()
	for _, sess := range s.sessions {
		p, ok := sess.Participants[oldConnectionID]
		if !ok {
			continue
		}
		delete(sess.Participants, oldConnectionID)
		p.ConnectionID = newConnectionID
		p.Status = types.StatusOnline
		p.LastActive = now
		sess.Participants[newConnectionID] = p
		sess.LastActivity = now
		affected = append(affected, Affected{SessionID: sess.ID, Participant: *p})
	}
	return affected
}

// UpdateStatus applies an explicit presence transition across every session
// the connection participates in. Last write wins.
func (s *Store) UpdateStatus(connectionID string, status types.ParticipantStatus) []Affected {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected []Affected
	now := s.now().UTC()
	for _, sess := range s.sessions {
		if p, ok := sess.Participants[connectionID]; ok {
			p.Status = status
			p.LastActive = now
			sess.LastActivity = now
			affected = append(affected, Affected{SessionID: sess.ID, Participant: *p})
		}
	}
	return affected
}

// UpdateCursor records a new cursor position for the connection's
// participants.
func (s *Store) UpdateCursor(connectionID string, pos types.CursorPosition) []Affected {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected []Affected
	now := s.now().UTC()
	for _, sess := range s.sessions {
		if p, ok := sess.Participants[connectionID]; ok {
			cursor := pos
			p.Cursor = &cursor
			p.LastActive = now
			sess.LastActivity = now
			affected = append(affected, Affected{SessionID: sess.ID, Participant: *p})
		}
	}
	return affected
}

// Touch refreshes the activity timestamps for a participant without any
// other mutation.
func (s *Store) Touch(sessionID, connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	now := s.now().UTC()
	if p, ok := sess.Participants[connectionID]; ok {
		p.LastActive = now
	}
	sess.LastActivity = now
}

// ApplyChange mutates the document content at a byte offset, increments the
// version, and appends to the change log. Concurrent edits from different
// connections serialize in arrival order; the last write wins at an
// overlapping position.
func (s *Store) ApplyChange(sessionID, connectionID string, dc types.DocumentChange) (types.ChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID)
	p, ok := sess.Participants[connectionID]
	if !ok {
		return types.ChangeRecord{}, ErrNotParticipant
	}

	content := sess.Document.Content
	pos := clamp(dc.Position, 0, len(content))
	switch dc.Operation {
	case types.OpInsert:
		content = content[:pos] + dc.Content + content[pos:]
	case types.OpDelete:
		end := clamp(pos+dc.Length, pos, len(content))
		content = content[:pos] + content[end:]
	case types.OpUpdate:
		end := clamp(pos+dc.Length, pos, len(content))
		content = content[:pos] + dc.Content + content[end:]
	}
	sess.Document.Content = content
	sess.Document.Version++

	now := s.now().UTC()
	p.LastActive = now
	sess.LastActivity = now

	rec := types.ChangeRecord{
		ID:         uuid.New().String(),
		UserID:     p.UserID,
		Username:   p.Username,
		Operation:  dc.Operation,
		Position:   dc.Position,
		Length:     dc.Length,
		Content:    dc.Content,
		DocVersion: sess.Document.Version,
		Timestamp:  now,
	}
	s.appendChangeLocked(sess, rec)
	return rec, nil
}

// AddComment appends a comment authored by the sender.
func (s *Store) AddComment(sessionID, connectionID string, ca types.CommentAdd) (types.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID)
	p, ok := sess.Participants[connectionID]
	if !ok {
		return types.Comment{}, ErrNotParticipant
	}

	now := s.now().UTC()
	c := &types.Comment{
		ID:         uuid.New().String(),
		AuthorID:   p.UserID,
		AuthorName: p.Username,
		Text:       ca.Text,
		Position:   ca.Position,
		CreatedAt:  now,
	}
	sess.Comments = append(sess.Comments, c)
	p.LastActive = now
	sess.LastActivity = now
	return *c, nil
}

// ResolveComment flips a comment to resolved. Resolving an already-resolved
// comment leaves it resolved; the transition is one-way.
func (s *Store) ResolveComment(sessionID, connectionID, commentID string) (types.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return types.Comment{}, ErrCommentNotFound
	}
	p, ok := sess.Participants[connectionID]
	if !ok {
		return types.Comment{}, ErrNotParticipant
	}

	for _, c := range sess.Comments {
		if c.ID != commentID {
			continue
		}
		now := s.now().UTC()
		if !c.Resolved {
			c.Resolved = true
			c.ResolvedBy = p.UserID
			resolvedAt := now
			c.ResolvedAt = &resolvedAt
		}
		p.LastActive = now
		sess.LastActivity = now
		return *c, nil
	}
	return types.Comment{}, ErrCommentNotFound
}

// AcquireLock claims an element for the sender. A live lock held by a
// different user rejects the claim; re-acquisition by the holder refreshes
// the expiration.
func (s *Store) AcquireLock(sessionID, connectionID, elementType, elementID string) (types.ElementLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID)
	p, ok := sess.Participants[connectionID]
	if !ok {
		return types.ElementLock{}, ErrNotParticipant
	}

	now := s.now().UTC()
	key := LockKey{ElementType: elementType, ElementID: elementID}
	if existing, ok := sess.Locks[key]; ok && existing.Live(now) && existing.HolderID != p.UserID {
		return types.ElementLock{}, ErrElementLocked
	}

	lock := &types.ElementLock{
		ElementType: elementType,
		ElementID:   elementID,
		HolderID:    p.UserID,
		HolderName:  p.Username,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(s.policy.LockTTL),
	}
	if existing, ok := sess.Locks[key]; ok && existing.Live(now) && existing.HolderID == p.UserID {
		// Refresh keeps the original acquisition time.
		lock.AcquiredAt = existing.AcquiredAt
	}
	sess.Locks[key] = lock

	p.LastActive = now
	sess.LastActivity = now
	return *lock, nil
}

// ReleaseLock removes a claim. Only the current holder may release it.
func (s *Store) ReleaseLock(sessionID, connectionID, elementType, elementID string) (types.ElementLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return types.ElementLock{}, ErrLockNotFound
	}
	p, ok := sess.Participants[connectionID]
	if !ok {
		return types.ElementLock{}, ErrNotParticipant
	}

	key := LockKey{ElementType: elementType, ElementID: elementID}
	existing, ok := sess.Locks[key]
	if !ok {
		return types.ElementLock{}, ErrLockNotFound
	}
	if existing.HolderID != p.UserID {
		return types.ElementLock{}, ErrNotLockHolder
	}
	delete(sess.Locks, key)

	now := s.now().UTC()
	p.LastActive = now
	sess.LastActivity = now
	return *existing, nil
}

// Participant returns a copy of the participant entry for a (session,
// connection) pair.
func (s *Store) Participant(sessionID, connectionID string) (types.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return types.Participant{}, false
	}
	p, ok := sess.Participants[connectionID]
	if !ok {
		return types.Participant{}, false
	}
	return *p, true
}

// ParticipantConnectionIDs lists the connection ids of every participant of
// a session, for fan-out.
func (s *Store) ParticipantConnectionIDs(sessionID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(sess.Participants))
	for connID := range sess.Participants {
		ids = append(ids, connID)
	}
	return ids
}

// SessionsOf lists every session a connection currently participates in.
func (s *Store) SessionsOf(connectionID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, sess := range s.sessions {
		if _, ok := sess.Participants[connectionID]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Snapshot returns the full-state sync view of a session. Unlike mutations,
// reads do not auto-vivify.
func (s *Store) Snapshot(sessionID string) (types.SessionSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return types.SessionSnapshot{}, false
	}

	snap := types.SessionSnapshot{
		SessionID:    sess.ID,
		Document:     sess.Document,
		Participants: make([]types.Participant, 0, len(sess.Participants)),
		Comments:     make([]types.Comment, 0, len(sess.Comments)),
		Changes:      append([]types.ChangeRecord(nil), sess.Changes...),
		Locks:        make([]types.ElementLock, 0, len(sess.Locks)),
	}
	for _, p := range sess.Participants {
		snap.Participants = append(snap.Participants, *p)
	}
	for _, c := range sess.Comments {
		snap.Comments = append(snap.Comments, *c)
	}
	for _, l := range sess.Locks {
		snap.Locks = append(snap.Locks, *l)
	}
	return snap, true
}

// Sweep is the housekeeping pass: demote idle participants, offline the
// long-silent, expire stale locks, and evict sessions past the eviction
// window. Best effort; a missed cycle only delays cleanup.
func (s *Store) Sweep(now time.Time) SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result SweepResult
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > s.policy.SessionTTL {
			delete(s.sessions, id)
			result.EvictedSessions = append(result.EvictedSessions, id)
			continue
		}

		for _, p := range sess.Participants {
			silence := now.Sub(p.LastActive)
			switch {
			case p.Status != types.StatusOffline && silence > s.policy.OfflineAfter:
				p.Status = types.StatusOffline
				result.StatusChanges = append(result.StatusChanges, Affected{SessionID: id, Participant: *p})
			case p.Status == types.StatusOnline && silence > s.policy.IdleAfter:
				p.Status = types.StatusIdle
				result.StatusChanges = append(result.StatusChanges, Affected{SessionID: id, Participant: *p})
			}
		}

		for key, lock := range sess.Locks {
			if !lock.Live(now) {
				delete(sess.Locks, key)
				result.ExpiredLocks = append(result.ExpiredLocks, LockExpiry{SessionID: id, Lock: *lock})
			}
		}
	}
	return result
}

// List returns summaries of every live session for the admin surface.
func (s *Store) List() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, SessionInfo{
			ID:           sess.ID,
			Participants: len(sess.Participants),
			DocVersion:   sess.Document.Version,
			Comments:     len(sess.Comments),
			Locks:        len(sess.Locks),
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.LastActivity,
		})
	}
	return infos
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// SetClock overrides the time source. Used by tests to drive expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) appendChangeLocked(sess *Session, rec types.ChangeRecord) {
	sess.Changes = append(sess.Changes, rec)
	if len(sess.Changes) > s.changeLogLimit {
		sess.Changes = sess.Changes[len(sess.Changes)-s.changeLogLimit:]
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
