package session

import "errors"

// Session store error types. Not-found and forbidden outcomes are distinct
// so callers can report them instead of silently dropping the operation.
var (
	ErrNotParticipant  = errors.New("sender is not a participant of this session")
	ErrCommentNotFound = errors.New("comment not found")
	ErrElementLocked   = errors.New("element is locked by another user")
	ErrLockNotFound    = errors.New("no lock held on this element")
	ErrNotLockHolder   = errors.New("lock is held by a different user")
)
