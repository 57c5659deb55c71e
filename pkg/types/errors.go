package types

import "errors"

// Protocol decode and validation errors. These surface to the client as
// error messages; they never close the connection.
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-64 characters, alphanumeric plus underscore/hyphen")
	ErrInvalidSessionID   = errors.New("session ID must be 1-64 characters, alphanumeric plus underscore/hyphen")
	ErrInvalidUsername    = errors.New("username must be at most 128 characters")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrUnknownAction      = errors.New("unknown collaboration action")
	ErrUnknownField       = errors.New("unknown change field")
	ErrMissingChanges     = errors.New("collaboration update carries no changes")
	ErrInvalidPayload     = errors.New("invalid change payload")
	ErrInvalidOperation   = errors.New("operation must be insert, delete, or update")
	ErrInvalidPosition    = errors.New("position must be non-negative")
	ErrInvalidStatus      = errors.New("status must be online, idle, or offline")
	ErrEmptyCommentText   = errors.New("comment text cannot be empty")
	ErrContentTooLarge    = errors.New("content exceeds 64KB limit")
	ErrMissingCommentID   = errors.New("comment ID is required")
	ErrMissingElementKey  = errors.New("element type and element ID are required")
	ErrMissingEntityID    = errors.New("entity ID is required")
	ErrMissingReviewers   = errors.New("review request names no reviewers")
)
