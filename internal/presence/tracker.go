// Package presence tracks per-session participant state: online/idle/
// offline status and optional cursor positions. Transitions come from two
// sources, explicit client messages handled here and the time-driven reaper
// sweep; both write the same store fields, last write wins.
package presence

import (
	"time"

	"surveysync/internal/broadcast"
	"surveysync/internal/session"
	"surveysync/internal/websocket"
	"surveysync/pkg/types"
)

// Tracker applies explicit presence messages and fans the resulting state
// out to session peers.
type Tracker struct {
	store *session.Store
	bcast *broadcast.Broadcaster
}

// NewTracker creates a presence tracker over the shared store.
func NewTracker(store *session.Store, bcast *broadcast.Broadcaster) *Tracker {
	return &Tracker{store: store, bcast: bcast}
}

// UpdateStatus sets the sender's status in every session it participates
// in, refreshes its activity timestamp, and notifies peers.
func (t *Tracker) UpdateStatus(conn *websocket.Connection, sc types.StatusChange) error {
	affected := t.store.UpdateStatus(conn.ID(), sc.Status)
	if len(affected) == 0 {
		return session.ErrNotParticipant
	}
	t.emit(conn, affected, types.FieldStatus)
	return nil
}

// UpdateCursor records the sender's cursor position and notifies peers.
func (t *Tracker) UpdateCursor(conn *websocket.Connection, cm types.CursorMove) error {
	affected := t.store.UpdateCursor(conn.ID(), cm.Position)
	if len(affected) == 0 {
		return session.ErrNotParticipant
	}
	t.emit(conn, affected, types.FieldCursor)
	return nil
}

func (t *Tracker) emit(conn *websocket.Connection, affected []session.Affected, field string) {
	for _, aff := range affected {
		t.bcast.Emit(aff.SessionID, conn.ID(), &types.ServerEvent{
			Type:      types.MessageTypeUpdate,
			SessionID: aff.SessionID,
			Action:    types.ActionUpdate,
			Field:     field,
			UserID:    aff.Participant.UserID,
			Username:  aff.Participant.Username,
			Payload:   aff.Participant,
			Timestamp: time.Now().UTC(),
		})
	}
}
