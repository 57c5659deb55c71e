package broadcast

import (
	"time"

	"surveysync/internal/websocket"
	"surveysync/pkg/types"
)

// Reconnect attempts to rebind a previously issued connection identifier to
// its prior participant records on a fresh transport. On success the caller
// receives one full-state sync per rebound session; there is no mechanism
// to compute what the client missed, so the sync is always complete. An
// empty result means the identifier is unknown (evicted by the reaper or
// never issued) and the connection should be treated as fresh.
func (b *Broadcaster) Reconnect(conn *websocket.Connection, oldConnectionID string) []*types.SyncMessage {
	affected := b.store.Rebind(oldConnectionID, conn.ID())
	if len(affected) == 0 {
		return nil
	}

	// Restore the identity the old connection carried so user-directed
	// delivery keeps working.
	b.registry.Identify(conn, affected[0].Participant.UserID, affected[0].Participant.Username)

	syncs := make([]*types.SyncMessage, 0, len(affected))
	for _, aff := range affected {
		conn.AddSession(aff.SessionID)

		b.Emit(aff.SessionID, conn.ID(), &types.ServerEvent{
			Type:      types.MessageTypeUpdate,
			SessionID: aff.SessionID,
			Action:    types.ActionJoin,
			Field:     "participant",
			UserID:    aff.Participant.UserID,
			Username:  aff.Participant.Username,
			Payload:   aff.Participant,
			Timestamp: time.Now().UTC(),
		})

		if snap, ok := b.store.Snapshot(aff.SessionID); ok {
			syncs = append(syncs, types.NewSyncMessage(conn.ID(), snap))
		}
	}
	return syncs
}
