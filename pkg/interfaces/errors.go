package interfaces

import "errors"

// Shared error types used across component boundaries.
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrDirectoryUnavailable = errors.New("session directory unavailable")
)
