// Package hub serializes every session, participant, and lock mutation onto
// one event loop. All decoded client messages are queued on a single
// buffered channel and consumed by one goroutine; the reaper sweep runs as
// a ticker case in the same select, so it cannot race with message
// handling. Messages from a single connection arrive in order; there is no
// cross-connection ordering guarantee beyond channel arrival order.
package hub

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"surveysync/internal/broadcast"
	"surveysync/internal/metrics"
	"surveysync/internal/presence"
	"surveysync/internal/reaper"
	"surveysync/internal/session"
	"surveysync/internal/websocket"
	"surveysync/pkg/interfaces"
	"surveysync/pkg/types"
)

// Event is one unit of work for the loop: either a decoded client message
// or a transport-loss notification.
type Event struct {
	Conn       *websocket.Connection
	Message    *types.ClientMessage
	Disconnect bool
}

// Hub coordinates message dispatch and housekeeping.
type Hub struct {
	events   chan Event
	shutdown chan struct{}

	registry *websocket.Registry
	bcast    *broadcast.Broadcaster
	tracker  *presence.Tracker
	reaper   *reaper.Reaper

	sweepInterval time.Duration

	mu      sync.RWMutex
	running bool
}

// NewHub creates a hub. sweepInterval controls the reaper cadence; 60
// seconds covers both lock expiry and presence demotion.
func NewHub(registry *websocket.Registry, bcast *broadcast.Broadcaster, tracker *presence.Tracker, rp *reaper.Reaper, sweepInterval time.Duration) *Hub {
	if sweepInterval <= 0 {
		sweepInterval = 60 * time.Second
	}
	return &Hub{
		events:        make(chan Event, 1000),
		shutdown:      make(chan struct{}),
		registry:      registry,
		bcast:         bcast,
		tracker:       tracker,
		reaper:        rp,
		sweepInterval: sweepInterval,
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting collaboration hub...")
	go h.run(ctx)
	return nil
}

// Stop shuts the hub down.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	select {
	case <-h.shutdown:
	default:
		close(h.shutdown)
	}
	return nil
}

// Dispatch queues a decoded client message for the event loop.
func (h *Hub) Dispatch(conn *websocket.Connection, msg *types.ClientMessage) error {
	return h.enqueue(Event{Conn: conn, Message: msg})
}

// DispatchDisconnect queues a transport-loss notification. Connection loss
// is terminal for the connection; the user must reconnect and go through
// the reconnection resolver.
func (h *Hub) DispatchDisconnect(conn *websocket.Connection) error {
	return h.enqueue(Event{Conn: conn, Disconnect: true})
}

func (h *Hub) enqueue(ev Event) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.events <- ev:
		return nil
	default:
		return ErrEventChannelFull
	}
}

func (h *Hub) run(ctx context.Context) {
	defer log.Println("Hub processing stopped")

	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-h.events:
			h.handleEvent(ctx, ev)
		case <-ticker.C:
			h.reaper.Sweep(time.Now().UTC())
		case <-h.shutdown:
			log.Println("Hub shutdown requested")
			return
		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}

func (h *Hub) handleEvent(ctx context.Context, ev Event) {
	conn := ev.Conn
	if conn == nil {
		return
	}
	conn.Touch()

	if ev.Disconnect {
		metrics.EventsProcessed.WithLabelValues("disconnect").Inc()
		h.bcast.Disconnect(conn)
		return
	}

	msg := ev.Message
	if msg == nil {
		return
	}
	metrics.EventsProcessed.WithLabelValues(eventLabel(msg)).Inc()

	switch msg.Type {
	case types.MessageTypeConnection:
		h.handleHandshake(conn, msg)
	case types.MessageTypeJoin:
		h.handleJoin(ctx, conn, msg)
	case types.MessageTypeLeave:
		h.handleLeave(conn, msg)
	case types.MessageTypeUpdate:
		h.handleUpdate(conn, msg)
	case types.MessageTypeReconnect:
		h.handleReconnect(conn, msg)
	default:
		h.reply(conn, types.NewErrorMessage(types.ErrUnknownMessageType.Error(), msg.Type))
	}
}

// handleHandshake authenticates the connection and returns its identifier.
func (h *Hub) handleHandshake(conn *websocket.Connection, msg *types.ClientMessage) {
	if !types.IsValidUserID(msg.UserID) {
		h.reply(conn, types.NewConnectionErrorMessage("invalid handshake", types.ErrInvalidUserID.Error()))
		return
	}
	if !types.IsValidUsername(msg.Username) {
		h.reply(conn, types.NewConnectionErrorMessage("invalid handshake", types.ErrInvalidUsername.Error()))
		return
	}

	h.registry.Identify(conn, msg.UserID, msg.Username)
	h.reply(conn, &types.ConnectionSuccessMessage{
		Type:         types.MessageTypeConnectionSuccess,
		ConnectionID: conn.ID(),
		UserID:       msg.UserID,
		Timestamp:    time.Now().UTC(),
	})
	log.Printf("Connection authenticated: connection=%s user=%s", conn.ID(), msg.UserID)
}

func (h *Hub) handleJoin(ctx context.Context, conn *websocket.Connection, msg *types.ClientMessage) {
	if !types.IsValidSessionID(msg.SessionID) {
		h.reply(conn, types.NewConnectionErrorMessage("invalid join request", types.ErrInvalidSessionID.Error()))
		return
	}

	userID, username := msg.UserID, msg.Username
	if userID == "" {
		userID, username = conn.UserID(), conn.Username()
	}
	if !types.IsValidUserID(userID) {
		h.reply(conn, types.NewConnectionErrorMessage("invalid join request", types.ErrInvalidUserID.Error()))
		return
	}
	if !conn.Authenticated() {
		h.registry.Identify(conn, userID, username)
	}

	snap, err := h.bcast.Join(ctx, conn, msg.SessionID, userID, username)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrSessionNotFound):
			h.reply(conn, types.NewConnectionErrorMessage("session not found", msg.SessionID))
		default:
			log.Printf("Join failed: session=%s user=%s err=%v", msg.SessionID, userID, err)
			h.reply(conn, types.NewConnectionErrorMessage("join failed", "session lookup unavailable"))
		}
		return
	}

	h.reply(conn, &types.JoinSuccessMessage{
		Type:         types.MessageTypeJoinSuccess,
		SessionID:    msg.SessionID,
		ConnectionID: conn.ID(),
		Timestamp:    time.Now().UTC(),
	})
	h.reply(conn, types.NewSyncMessage(conn.ID(), snap))
	log.Printf("Participant joined: session=%s user=%s connection=%s", msg.SessionID, userID, conn.ID())
}

func (h *Hub) handleLeave(conn *websocket.Connection, msg *types.ClientMessage) {
	if msg.SessionID == "" {
		h.reply(conn, types.NewErrorMessage("invalid leave request", types.ErrInvalidSessionID.Error()))
		return
	}
	h.bcast.Leave(conn, msg.SessionID)
}

func (h *Hub) handleUpdate(conn *websocket.Connection, msg *types.ClientMessage) {
	if msg.SessionID == "" {
		h.reply(conn, types.NewErrorMessage("invalid update", types.ErrInvalidSessionID.Error()))
		return
	}

	m, err := types.DecodeMutation(msg)
	if err != nil {
		h.reply(conn, types.NewErrorMessage("invalid update", err.Error()))
		return
	}

	switch mut := m.(type) {
	case types.StatusChange:
		err = h.tracker.UpdateStatus(conn, mut)
	case types.CursorMove:
		err = h.tracker.UpdateCursor(conn, mut)
	default:
		err = h.bcast.Apply(conn, msg.SessionID, m)
	}

	if err != nil {
		// Not-found and forbidden outcomes surface to the sender instead
		// of silently dropping; the connection stays open either way.
		h.reply(conn, types.NewErrorMessage(err.Error(), ""))
	}
}

// handleReconnect rebinds a prior connection identifier and replays a
// full-state sync per session. An unknown identifier degrades to a fresh
// connection: the client receives its new identifier and joins again.
func (h *Hub) handleReconnect(conn *websocket.Connection, msg *types.ClientMessage) {
	if msg.ConnectionID == "" {
		h.reply(conn, types.NewErrorMessage("invalid reconnect request", "connectionId is required"))
		return
	}

	syncs := h.bcast.Reconnect(conn, msg.ConnectionID)
	if len(syncs) == 0 {
		h.reply(conn, &types.ConnectionSuccessMessage{
			Type:         types.MessageTypeConnectionSuccess,
			ConnectionID: conn.ID(),
			UserID:       conn.UserID(),
			Timestamp:    time.Now().UTC(),
		})
		return
	}

	for _, sync := range syncs {
		h.reply(conn, sync)
	}
	log.Printf("Connection rebound: old=%s new=%s sessions=%d", msg.ConnectionID, conn.ID(), len(syncs))
}

func (h *Hub) reply(conn *websocket.Connection, v interface{}) {
	if err := conn.WriteJSON(v); err != nil {
		log.Printf("Reply delivery failed: connection=%s err=%v", conn.ID(), err)
	}
}

func eventLabel(msg *types.ClientMessage) string {
	if msg.Type == types.MessageTypeUpdate && msg.Action != "" {
		return msg.Action
	}
	return msg.Type
}

// SweepNow runs one reaper pass immediately. Used by tests and the admin
// surface.
func (h *Hub) SweepNow(now time.Time) session.SweepResult {
	return h.reaper.Sweep(now)
}
