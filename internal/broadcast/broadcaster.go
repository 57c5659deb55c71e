package broadcast

import (
	"context"
	"fmt"
	"log"
	"time"

	"surveysync/internal/metrics"
	"surveysync/internal/session"
	"surveysync/internal/websocket"
	"surveysync/pkg/interfaces"
	"surveysync/pkg/types"
)

// Broadcaster applies incoming mutations to session state and fans the
// resulting events out to the other connected participants of the session.
// Every mutation follows the same shape: validate the sender is a known
// participant, mutate the store, append to the change log where applicable,
// then broadcast sender-exclusively (the sender already holds optimistic
// local state).
type Broadcaster struct {
	store     *session.Store
	registry  *websocket.Registry
	directory interfaces.SessionDirectory // nil disables join-target validation
}

// NewBroadcaster creates a broadcaster over the given store and registry.
func NewBroadcaster(store *session.Store, registry *websocket.Registry, directory interfaces.SessionDirectory) *Broadcaster {
	return &Broadcaster{
		store:     store,
		registry:  registry,
		directory: directory,
	}
}

// Join validates the join target against the session directory, adds the
// participant, and notifies the session's other participants. The returned
// snapshot is the full-state sync for the joiner.
func (b *Broadcaster) Join(ctx context.Context, conn *websocket.Connection, sessionID, userID, username string) (types.SessionSnapshot, error) {
	if b.directory != nil {
		exists, err := b.directory.SessionExists(ctx, sessionID)
		if err != nil {
			return types.SessionSnapshot{}, fmt.Errorf("%w: %v", interfaces.ErrDirectoryUnavailable, err)
		}
		if !exists {
			return types.SessionSnapshot{}, interfaces.ErrSessionNotFound
		}
	}

	p := b.store.AddParticipant(sessionID, conn.ID(), userID, username)
	conn.AddSession(sessionID)
	metrics.ActiveSessions.Set(float64(b.store.Len()))

	b.Emit(sessionID, conn.ID(), &types.ServerEvent{
		Type:      types.MessageTypeUpdate,
		SessionID: sessionID,
		Action:    types.ActionJoin,
		Field:     "participant",
		UserID:    p.UserID,
		Username:  p.Username,
		Payload:   p,
		Timestamp: time.Now().UTC(),
	})

	snap, _ := b.store.Snapshot(sessionID)
	return snap, nil
}

// Leave removes the participant and notifies peers. The session itself
// survives until the reaper evicts it.
func (b *Broadcaster) Leave(conn *websocket.Connection, sessionID string) {
	p, ok := b.store.RemoveParticipant(sessionID, conn.ID())
	if !ok {
		return
	}
	conn.RemoveSession(sessionID)

	b.Emit(sessionID, conn.ID(), &types.ServerEvent{
		Type:      types.MessageTypeUpdate,
		SessionID: sessionID,
		Action:    types.ActionLeave,
		Field:     "participant",
		UserID:    p.UserID,
		Username:  p.Username,
		Payload:   p,
		Timestamp: time.Now().UTC(),
	})
}

// Disconnect handles transport loss: participants are marked offline rather
// than removed, so a reconnect within the eviction window can rebind them.
// Each affected session's peers receive exactly one "left" event.
func (b *Broadcaster) Disconnect(conn *websocket.Connection) {
	for _, aff := range b.store.MarkOffline(conn.ID()) {
		b.Emit(aff.SessionID, conn.ID(), &types.ServerEvent{
			Type:      types.MessageTypeUpdate,
			SessionID: aff.SessionID,
			Action:    types.ActionLeave,
			Field:     "participant",
			UserID:    aff.Participant.UserID,
			Username:  aff.Participant.Username,
			Payload:   aff.Participant,
			Timestamp: time.Now().UTC(),
		})
	}
}

// Apply dispatches one decoded mutation. Presence mutations (cursor,
// status) are handled by the presence tracker, not here.
func (b *Broadcaster) Apply(conn *websocket.Connection, sessionID string, m types.Mutation) error {
	switch mut := m.(type) {
	case types.DocumentChange:
		return b.applyDocumentChange(conn, sessionID, mut)
	case types.CommentAdd:
		return b.applyCommentAdd(conn, sessionID, mut)
	case types.CommentResolve:
		return b.applyCommentResolve(conn, sessionID, mut)
	case types.LockElement:
		return b.applyLock(conn, sessionID, mut)
	case types.UnlockElement:
		return b.applyUnlock(conn, sessionID, mut)
	case types.ReviewSubmit:
		return b.applyReviewSubmit(conn, sessionID, mut)
	case types.QuestionOp, types.OptionOp, types.VersionOp, types.ReviewRequest, types.Notification:
		return b.relay(conn, sessionID, m)
	}
	return types.ErrUnknownAction
}

func (b *Broadcaster) applyDocumentChange(conn *websocket.Connection, sessionID string, dc types.DocumentChange) error {
	rec, err := b.store.ApplyChange(sessionID, conn.ID(), dc)
	if err != nil {
		return err
	}

	// The broadcast carries the full change plus the new version so peers
	// can detect gaps.
	b.Emit(sessionID, conn.ID(), &types.ServerEvent{
		Type:       types.MessageTypeUpdate,
		SessionID:  sessionID,
		Action:     types.ActionUpdate,
		Field:      types.FieldChangeDoc,
		UserID:     rec.UserID,
		Username:   rec.Username,
		Payload:    rec,
		DocVersion: rec.DocVersion,
		Timestamp:  rec.Timestamp,
	})
	return nil
}

func (b *Broadcaster) applyCommentAdd(conn *websocket.Connection, sessionID string, ca types.CommentAdd) error {
	c, err := b.store.AddComment(sessionID, conn.ID(), ca)
	if err != nil {
		return err
	}

	b.Emit(sessionID, conn.ID(), &types.ServerEvent{
		Type:      types.MessageTypeUpdate,
		SessionID: sessionID,
		Action:    types.ActionUpdate,
		Field:     types.FieldComment,
		UserID:    c.AuthorID,
		Username:  c.AuthorName,
		EntityID:  c.ID,
		Payload:   c,
		Timestamp: c.CreatedAt,
	})
	return nil
}

func (b *Broadcaster) applyCommentResolve(conn *websocket.Connection, sessionID string, cr types.CommentResolve) error {
	c, err := b.store.ResolveComment(sessionID, conn.ID(), cr.CommentID)
	if err != nil {
		return err
	}

	b.Emit(sessionID, conn.ID(), &types.ServerEvent{
		Type:      types.MessageTypeUpdate,
		SessionID: sessionID,
		Action:    types.ActionUpdate,
		Field:     types.FieldResolveComment,
		UserID:    c.ResolvedBy,
		EntityID:  c.ID,
		Payload:   c,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (b *Broadcaster) applyLock(conn *websocket.Connection, sessionID string, le types.LockElement) error {
	lock, err := b.store.AcquireLock(sessionID, conn.ID(), le.ElementType, le.ElementID)
	if err != nil {
		// A rejected acquisition produces no broadcast.
		return err
	}

	b.Emit(sessionID, conn.ID(), &types.ServerEvent{
		Type:      types.MessageTypeUpdate,
		SessionID: sessionID,
		Action:    types.ActionUpdate,
		Field:     types.FieldLockElement,
		UserID:    lock.HolderID,
		Username:  lock.HolderName,
		EntityID:  lock.ElementID,
		Payload:   lock,
		Timestamp: lock.AcquiredAt,
	})
	return nil
}

func (b *Broadcaster) applyUnlock(conn *websocket.Connection, sessionID string, ue types.UnlockElement) error {
	lock, err := b.store.ReleaseLock(sessionID, conn.ID(), ue.ElementType, ue.ElementID)
	if err != nil {
		return err
	}

	b.Emit(sessionID, conn.ID(), &types.ServerEvent{
		Type:      types.MessageTypeUpdate,
		SessionID: sessionID,
		Action:    types.ActionUpdate,
		Field:     types.FieldUnlockElement,
		UserID:    lock.HolderID,
		Username:  lock.HolderName,
		EntityID:  lock.ElementID,
		Payload:   lock,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// applyReviewSubmit relays the submission to session peers and additionally
// notifies each named reviewer directly, including reviewers not currently
// connected to the session.
func (b *Broadcaster) applyReviewSubmit(conn *websocket.Connection, sessionID string, rs types.ReviewSubmit) error {
	if err := b.relay(conn, sessionID, rs); err != nil {
		return err
	}

	p, _ := b.store.Participant(sessionID, conn.ID())
	for _, reviewerID := range rs.ReviewerIDs {
		b.BroadcastToUser(reviewerID, &types.ServerEvent{
			Type:      types.MessageTypeUpdate,
			SessionID: sessionID,
			Action:    types.ActionNotification,
			Field:     types.FieldReview,
			UserID:    p.UserID,
			Username:  p.Username,
			EntityID:  rs.ReviewID,
			Payload:   rs,
			Timestamp: time.Now().UTC(),
		})
	}
	return nil
}

// relay stamps a structural mutation with the sender identity and fans it
// out verbatim. Question and option structure is persisted by the REST
// layer; the broadcaster only provides the live-update notification.
func (b *Broadcaster) relay(conn *websocket.Connection, sessionID string, m types.Mutation) error {
	p, ok := b.store.Participant(sessionID, conn.ID())
	if !ok {
		return session.ErrNotParticipant
	}
	b.store.Touch(sessionID, conn.ID())

	action, field, entityID := relayEnvelope(m)
	b.Emit(sessionID, conn.ID(), &types.ServerEvent{
		Type:      types.MessageTypeUpdate,
		SessionID: sessionID,
		Action:    action,
		Field:     field,
		UserID:    p.UserID,
		Username:  p.Username,
		EntityID:  entityID,
		Payload:   m,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func relayEnvelope(m types.Mutation) (action, field, entityID string) {
	switch mut := m.(type) {
	case types.QuestionOp:
		switch mut.Operation {
		case "add":
			action = types.ActionAddQuestion
		case "update":
			action = types.ActionUpdateQuestion
		default:
			action = types.ActionDeleteQuestion
		}
		return action, types.FieldQuestion, mut.QuestionID
	case types.OptionOp:
		switch mut.Operation {
		case "add":
			action = types.ActionAddOption
		case "update":
			action = types.ActionUpdateOption
		default:
			action = types.ActionDeleteOption
		}
		return action, types.FieldOption, mut.OptionID
	case types.VersionOp:
		if mut.Operation == "create" {
			return types.ActionCreateVersion, types.FieldVersion, mut.VersionID
		}
		return types.ActionSwitchVersion, types.FieldVersion, mut.VersionID
	case types.ReviewRequest:
		return types.ActionRequestReview, types.FieldReview, ""
	case types.ReviewSubmit:
		return types.ActionSubmitReview, types.FieldReview, mut.ReviewID
	case types.Notification:
		return types.ActionNotification, types.FieldNotification, ""
	}
	return types.ActionUpdate, "", ""
}

// Emit delivers an event to every participant of the session except the
// excluded connection. Peers whose socket is not writable simply miss the
// frame; they catch up on their next reconnect sync.
func (b *Broadcaster) Emit(sessionID, excludeConnectionID string, event *types.ServerEvent) int {
	sent := 0
	for _, connID := range b.store.ParticipantConnectionIDs(sessionID) {
		if connID == excludeConnectionID {
			continue
		}
		conn, ok := b.registry.Lookup(connID)
		if !ok {
			continue
		}
		if err := conn.WriteJSON(event); err != nil {
			metrics.BroadcastFailures.Inc()
			log.Printf("Broadcast delivery failed: session=%s connection=%s err=%v", sessionID, connID, err)
			continue
		}
		sent++
	}
	metrics.BroadcastsSent.Add(float64(sent))
	return sent
}

// BroadcastToSession delivers an event to every connected participant of a
// session. Exported for the REST layer's cross-cutting notifications.
func (b *Broadcaster) BroadcastToSession(sessionID string, event interface{}) int {
	sent := 0
	for _, connID := range b.store.ParticipantConnectionIDs(sessionID) {
		conn, ok := b.registry.Lookup(connID)
		if !ok {
			continue
		}
		if err := conn.WriteJSON(event); err != nil {
			metrics.BroadcastFailures.Inc()
			continue
		}
		sent++
	}
	metrics.BroadcastsSent.Add(float64(sent))
	return sent
}

// BroadcastToUser delivers an event to every live connection of a user,
// regardless of session membership.
func (b *Broadcaster) BroadcastToUser(userID string, event interface{}) int {
	sent := 0
	for _, conn := range b.registry.ConnectionsForUser(userID) {
		if err := conn.WriteJSON(event); err != nil {
			metrics.BroadcastFailures.Inc()
			continue
		}
		sent++
	}
	metrics.BroadcastsSent.Add(float64(sent))
	return sent
}
