package websocket

import (
	"sync"

	"surveysync/internal/metrics"
)

// Registry tracks every live transport connection, independent of which
// collaboration session it belongs to. Pure connection bookkeeping; no
// session state lives here.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection            // connection id -> Connection
	byUser map[string]map[string]*Connection // user id -> connection id -> Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[string]map[string]*Connection),
	}
}

// Register adds a connection. Idempotent by connection identifier.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID()]; exists {
		return nil
	}
	r.conns[conn.ID()] = conn
	if userID := conn.UserID(); userID != "" {
		r.indexUserLocked(userID, conn)
	}
	metrics.ActiveConnections.Set(float64(len(r.conns)))
	return nil
}

// Identify records the handshake identity on the connection and indexes it
// by user for user-directed delivery. Re-identifying under a different user
// moves the connection out of the previous user's index.
func (r *Registry) Identify(conn *Connection, userID, username string) {
	if conn == nil {
		return
	}
	prevUserID := conn.UserID()
	conn.SetIdentity(userID, username)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[conn.ID()]; !exists {
		return
	}
	if prevUserID != "" && prevUserID != userID {
		r.dropUserIndexLocked(prevUserID, conn.ID())
	}
	r.indexUserLocked(userID, conn)
}

// Unregister removes the connection from every index. Idempotent; safe to
// call for connections that were never registered.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID()]; !exists {
		return
	}
	delete(r.conns, conn.ID())

	if userID := conn.UserID(); userID != "" {
		r.dropUserIndexLocked(userID, conn.ID())
	}
	metrics.ActiveConnections.Set(float64(len(r.conns)))
}

// Lookup returns the connection with the given identifier.
func (r *Registry) Lookup(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connectionID]
	return conn, ok
}

// ConnectionsForUser returns every live connection of a user, across all
// sessions.
func (r *Registry) ConnectionsForUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	conns := make([]*Connection, 0, len(userConns))
	for _, conn := range userConns {
		conns = append(conns, conn)
	}
	return conns
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stats returns registry counters for the admin surface.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"total_connections":   len(r.conns),
		"authenticated_users": len(r.byUser),
	}
}

func (r *Registry) indexUserLocked(userID string, conn *Connection) {
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*Connection)
	}
	r.byUser[userID][conn.ID()] = conn
}

func (r *Registry) dropUserIndexLocked(userID, connectionID string) {
	userConns, ok := r.byUser[userID]
	if !ok {
		return
	}
	delete(userConns, connectionID)
	if len(userConns) == 0 {
		delete(r.byUser, userID)
	}
}
