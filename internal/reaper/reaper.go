// Package reaper implements the periodic housekeeping sweep: demoting idle
// participants, offlining the long-silent, expiring stale element locks,
// and evicting sessions after 24 hours without activity. Best-effort; a
// missed cycle only delays cleanup, it never corrupts state.
package reaper

import (
	"log"
	"time"

	"surveysync/internal/broadcast"
	"surveysync/internal/metrics"
	"surveysync/internal/session"
	"surveysync/pkg/types"
)

// Reaper runs housekeeping over the session store. Sweep is invoked from
// the hub's event loop, so it never races with message handling.
type Reaper struct {
	store *session.Store
	bcast *broadcast.Broadcaster
}

// New creates a reaper over the shared store.
func New(store *session.Store, bcast *broadcast.Broadcaster) *Reaper {
	return &Reaper{store: store, bcast: bcast}
}

// expiredLock is the broadcast payload for a lock removed by the sweep.
type expiredLock struct {
	types.ElementLock
	Reason string `json:"reason"`
}

// Sweep performs one housekeeping pass at the given instant and broadcasts
// every resulting transition to the affected sessions.
func (r *Reaper) Sweep(now time.Time) session.SweepResult {
	result := r.store.Sweep(now)

	for _, sc := range result.StatusChanges {
		r.bcast.Emit(sc.SessionID, sc.Participant.ConnectionID, &types.ServerEvent{
			Type:      types.MessageTypeUpdate,
			SessionID: sc.SessionID,
			Action:    types.ActionUpdate,
			Field:     types.FieldStatus,
			UserID:    sc.Participant.UserID,
			Username:  sc.Participant.Username,
			Payload:   sc.Participant,
			Timestamp: now,
		})
	}

	for _, le := range result.ExpiredLocks {
		metrics.LocksExpired.Inc()
		r.bcast.Emit(le.SessionID, "", &types.ServerEvent{
			Type:      types.MessageTypeUpdate,
			SessionID: le.SessionID,
			Action:    types.ActionUpdate,
			Field:     types.FieldUnlockElement,
			UserID:    le.Lock.HolderID,
			Username:  le.Lock.HolderName,
			EntityID:  le.Lock.ElementID,
			Payload:   expiredLock{ElementLock: le.Lock, Reason: "expired"},
			Timestamp: now,
		})
	}

	for range result.EvictedSessions {
		metrics.SessionsReaped.Inc()
	}
	metrics.ActiveSessions.Set(float64(r.store.Len()))

	if len(result.StatusChanges) > 0 || len(result.ExpiredLocks) > 0 || len(result.EvictedSessions) > 0 {
		log.Printf("Reaper sweep: demoted=%d expired_locks=%d evicted_sessions=%d",
			len(result.StatusChanges), len(result.ExpiredLocks), len(result.EvictedSessions))
	}
	return result
}
