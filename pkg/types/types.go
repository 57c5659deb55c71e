package types

import (
	"time"
)

// ParticipantStatus is the presence state of one participant within a session.
type ParticipantStatus string

const (
	StatusOnline  ParticipantStatus = "online"
	StatusIdle    ParticipantStatus = "idle"
	StatusOffline ParticipantStatus = "offline"
)

// CursorPosition is a participant's pointer location in the editor canvas.
type CursorPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Participant represents one user's presence within one session, tied 1:1
// to a connection. A user joined from two connections holds two participants.
type Participant struct {
	ConnectionID string            `json:"connectionId"`
	UserID       string            `json:"userId"`
	Username     string            `json:"username"`
	Status       ParticipantStatus `json:"status"`
	Cursor       *CursorPosition   `json:"cursor,omitempty"`
	JoinedAt     time.Time         `json:"joinedAt"`
	LastActive   time.Time         `json:"lastActive"`
}

// Document is the coarse-grained shared document snapshot. Version only
// ever increases for a given session.
type Document struct {
	Content string `json:"content"`
	Version int64  `json:"version"`
}

// Change log operations. Document edits carry insert/delete/update;
// join and leave entries mark roster transitions in the feed.
const (
	OpInsert = "insert"
	OpDelete = "delete"
	OpUpdate = "update"
	OpJoin   = "join"
	OpLeave  = "leave"
)

// ChangeRecord is one entry in a session's bounded change log.
type ChangeRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	Operation  string    `json:"operation"`
	Position   int       `json:"position"`
	Length     int       `json:"length,omitempty"`
	Content    string    `json:"content,omitempty"`
	DocVersion int64     `json:"docVersion"`
	Timestamp  time.Time `json:"timestamp"`
}

// Comment is immutable once created except for the one-way resolved
// transition.
type Comment struct {
	ID         string     `json:"id"`
	AuthorID   string     `json:"authorId"`
	AuthorName string     `json:"authorName"`
	Text       string     `json:"text"`
	Position   int        `json:"position"`
	CreatedAt  time.Time  `json:"createdAt"`
	Resolved   bool       `json:"resolved"`
	ResolvedBy string     `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// ElementLock is a mutual-exclusion claim on one survey sub-element.
// At most one non-expired lock exists per (session, element type, element id).
type ElementLock struct {
	ElementType string    `json:"elementType"`
	ElementID   string    `json:"elementId"`
	HolderID    string    `json:"holderId"`
	HolderName  string    `json:"holderName"`
	AcquiredAt  time.Time `json:"acquiredAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Live reports whether the lock is still in force at the given instant.
func (l *ElementLock) Live(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// SessionSnapshot is the full-state sync payload sent to a (re)joining
// participant. There is no delta replay; a snapshot is always complete.
type SessionSnapshot struct {
	SessionID    string         `json:"sessionId"`
	Document     Document       `json:"document"`
	Participants []Participant  `json:"participants"`
	Comments     []Comment      `json:"comments"`
	Changes      []ChangeRecord `json:"changes"`
	Locks        []ElementLock  `json:"locks"`
}
