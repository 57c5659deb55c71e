package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// Frame types, matching RFC 6455 opcodes and the gorilla/websocket values.
const (
	TextMessage = 1
	PingMessage = 9
)

// Transport is the subset of the underlying socket the connection wrapper
// needs. *gorilla/websocket.Conn satisfies it; tests substitute fakes.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Connection wraps one live transport socket. Writes are serialized through
// a single writer goroutine. The connection identifier is opaque, unique,
// and generated at accept time; identity fields stay empty until the client
// completes the handshake.
type Connection struct {
	id        string
	transport Transport
	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu            sync.RWMutex
	userID        string
	username      string
	authenticated bool
	sessions      map[string]struct{}
	lastActive    time.Time

	writeTimeout time.Duration
}

// NewConnection creates a connection wrapper and starts its writer
// goroutine.
func NewConnection(t Transport, sendBuffer int, writeTimeout time.Duration) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           ksuid.New().String(),
		transport:    t,
		writeCh:      make(chan []byte, sendBuffer),
		ctx:          ctx,
		cancel:       cancel,
		sessions:     make(map[string]struct{}),
		lastActive:   time.Now().UTC(),
		writeTimeout: writeTimeout,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.transport.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.transport.WriteMessage(TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON marshals v and queues it for the writer goroutine. A peer whose
// socket is gone simply misses the frame; there is no retry.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close shuts down the writer goroutine and the underlying transport.
// Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.transport.Close()
	})
	return err
}

// Done is closed when the connection has been shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// ID returns the opaque connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// SetIdentity records the handshake identity and marks the connection
// authenticated.
func (c *Connection) SetIdentity(userID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.username = username
	c.authenticated = true
}

func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Connection) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// Touch refreshes the last-activity timestamp.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActive = time.Now().UTC()
}

func (c *Connection) LastActive() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

// AddSession records membership in a collaboration session.
func (c *Connection) AddSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionID] = struct{}{}
}

// RemoveSession drops membership in a collaboration session.
func (c *Connection) RemoveSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

// Sessions lists the session identifiers this connection participates in.
func (c *Connection) Sessions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}
