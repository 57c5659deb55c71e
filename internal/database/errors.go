package database

import "errors"

// Database manager error types.
var (
	ErrManagerClosed        = errors.New("database manager is closed")
	ErrSessionAlreadyExists = errors.New("session already exists")
)
