package interfaces

import (
	"context"
	"time"
)

// SessionDirectory is the narrow persistence surface the collaboration core
// consumes: it validates that a join target exists and nothing more.
// Document, comment, and lock state never touch the directory; they live in
// process memory and vanish on restart.
type SessionDirectory interface {
	// SessionExists reports whether a collaboration session row exists.
	SessionExists(ctx context.Context, sessionID string) (bool, error)

	// CreateSession inserts a directory row so subsequent joins validate.
	CreateSession(ctx context.Context, sessionID, title, ownerID string) error

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

// SessionPeerBroadcaster is the fan-out surface exposed to the REST layer
// for cross-cutting notifications that reuse the collaboration machinery.
type SessionPeerBroadcaster interface {
	// BroadcastToSession delivers an event to every connected participant
	// of a session.
	BroadcastToSession(sessionID string, event interface{}) int

	// BroadcastToUser delivers an event to every live connection of a user,
	// across all sessions.
	BroadcastToUser(userID string, event interface{}) int
}

// SweepPolicy carries the housekeeping cadences shared by the session store
// and the reaper.
type SweepPolicy struct {
	IdleAfter    time.Duration // online -> idle
	OfflineAfter time.Duration // online/idle -> offline
	SessionTTL   time.Duration // session eviction after total silence
	LockTTL      time.Duration // element lock lifetime without refresh
}
