package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"surveysync/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development; production deployments sit
		// behind an origin-checking proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Dispatcher consumes decoded client messages and transport-loss
// notifications. The hub implements it.
type Dispatcher interface {
	Dispatch(conn *Connection, msg *types.ClientMessage) error
	DispatchDisconnect(conn *Connection) error
}

// Config carries the transport tuning knobs.
type Config struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   100,
	}
}

// Handler accepts WebSocket connections, registers them, and pumps decoded
// messages into the dispatcher. All protocol semantics live behind the
// dispatcher; the handler only owns transport lifecycle.
type Handler struct {
	registry   *Registry
	dispatcher Dispatcher
	cfg        Config
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry *Registry, dispatcher Dispatcher, cfg Config) *Handler {
	if cfg.PingInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// HandleWebSocket upgrades the request and starts the connection lifecycle.
// The connection identifier is generated here, at accept time; identity
// arrives later with the handshake message.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(raw, h.cfg.SendBuffer, h.cfg.WriteTimeout)
	if err := h.registry.Register(conn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = conn.Close()
		return
	}

	go h.handleConnection(conn)
}

// handleConnection owns the read pump and heartbeat for one connection.
// Closing the transport always unregisters the connection and notifies each
// of its sessions; connection loss is terminal, there are no retries.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		if err := h.dispatcher.DispatchDisconnect(conn); err != nil {
			log.Printf("Disconnect dispatch failed: connection=%s err=%v", conn.ID(), err)
		}
		h.registry.Unregister(conn)
		_ = conn.Close()
	}()

	if err := conn.transport.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	conn.transport.SetPongHandler(func(string) error {
		return conn.transport.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.transport.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.transport.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: connection=%s err=%v", conn.ID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg types.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed input keeps the connection open.
			_ = conn.WriteJSON(types.NewErrorMessage("malformed message", "invalid JSON"))
			continue
		}

		if err := h.dispatcher.Dispatch(conn, &msg); err != nil {
			_ = conn.WriteJSON(types.NewErrorMessage("server busy", err.Error()))
		}
	}
}
