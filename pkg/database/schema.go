package database

import (
	"database/sql"
	"fmt"
)

// The directory holds one row per collaboration session. Live state
// (participants, locks, comments, document) never touches the database;
// only session identity and ownership are durable.
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS collaboration_sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_collaboration_sessions_owner ON collaboration_sessions(owner_id);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS collaboration_sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_collaboration_sessions_owner ON collaboration_sessions(owner_id);
`

// EnsureSchema creates the directory table if it does not exist. Intended
// for SQLite development databases and tests; production Postgres schemas
// are managed out of band.
func EnsureSchema(db *sql.DB, driver string) error {
	var ddl string
	switch driver {
	case DriverSQLite:
		ddl = schemaSQLite
	case DriverPostgres:
		ddl = schemaPostgres
	default:
		return fmt.Errorf("unsupported database driver: %q", driver)
	}

	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create directory schema: %w", err)
	}
	return nil
}
