// Package database implements the session directory over Postgres or
// SQLite. The directory answers exactly one question for the hub, "does
// this session exist", and carries the rows the admin API creates.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	dbconfig "surveysync/pkg/database"
)

// Manager implements interfaces.SessionDirectory.
type Manager struct {
	db     *sql.DB
	config *dbconfig.Config

	mu     sync.RWMutex
	closed bool
}

// NewManager opens the configured backend and, for SQLite, bootstraps the
// directory schema so development setups need no migration step.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if config.Driver == dbconfig.DriverSQLite {
		if err := dbconfig.EnsureSchema(db, config.Driver); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &Manager{db: db, config: config}, nil
}

// rebind rewrites ?-style placeholders into the $n form Postgres expects.
// Queries are written in the SQLite dialect and translated on demand.
func (m *Manager) rebind(query string) string {
	if m.config.Driver != dbconfig.DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (m *Manager) guard() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrManagerClosed
	}
	return nil
}

// SessionExists reports whether a directory row exists for the session.
func (m *Manager) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	if err := m.guard(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.QueryTimeout)
	defer cancel()

	var one int
	err := m.db.QueryRowContext(ctx,
		m.rebind("SELECT 1 FROM collaboration_sessions WHERE id = ?"),
		sessionID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	return true, nil
}

// CreateSession inserts a directory row. A duplicate identifier surfaces as
// ErrSessionAlreadyExists so the API can answer 409.
func (m *Manager) CreateSession(ctx context.Context, sessionID, title, ownerID string) error {
	if err := m.guard(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.QueryTimeout)
	defer cancel()

	exists, err := m.SessionExists(ctx, sessionID)
	if err != nil {
		return err
	}
	if exists {
		return ErrSessionAlreadyExists
	}

	_, err = m.db.ExecContext(ctx,
		m.rebind("INSERT INTO collaboration_sessions (id, title, owner_id, created_at) VALUES (?, ?, ?, ?)"),
		sessionID, title, ownerID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", sessionID, err)
	}
	return nil
}

// HealthCheck verifies connectivity and that the directory table answers.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.guard(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.QueryTimeout)
	defer cancel()

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM collaboration_sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close shuts the manager down. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
