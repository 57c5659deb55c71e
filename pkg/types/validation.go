package types

import (
	"regexp"
)

const maxContentBytes = 65536 // 64KB limit for document/comment payloads

var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID reports whether a user identifier is well-formed.
func IsValidUserID(userID string) bool {
	return len(userID) >= 1 && len(userID) <= 64 && identifierRegex.MatchString(userID)
}

// IsValidSessionID reports whether a session identifier is well-formed.
// Session identifiers are caller-supplied and stable, so the same rules
// apply as for user identifiers.
func IsValidSessionID(sessionID string) bool {
	return len(sessionID) >= 1 && len(sessionID) <= 64 && identifierRegex.MatchString(sessionID)
}

// IsValidUsername reports whether a display name is acceptable. Usernames
// are free-form but bounded.
func IsValidUsername(username string) bool {
	return len(username) <= 128
}
