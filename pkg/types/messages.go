package types

import (
	"encoding/json"
	"time"
)

// Client message types.
const (
	MessageTypeConnection = "connection"
	MessageTypeJoin       = "collaborationJoin"
	MessageTypeLeave      = "collaborationLeave"
	MessageTypeUpdate     = "collaborationUpdate"
	MessageTypeReconnect  = "reconnect"
)

// Server message types.
const (
	MessageTypeConnectionSuccess = "connectionSuccess"
	MessageTypeConnectionError   = "connectionError"
	MessageTypeJoinSuccess       = "collaborationConnectionSuccess"
	MessageTypeSync              = "collaborationSync"
	MessageTypeError             = "error"
)

// Actions carried by collaborationUpdate messages. Lowercase actions cover
// session lifecycle and field-level updates; uppercase actions are the
// structural survey operations relayed for live notification.
const (
	ActionJoin   = "join"
	ActionLeave  = "leave"
	ActionUpdate = "update"
	ActionSync   = "sync"

	ActionAddQuestion    = "ADD_QUESTION"
	ActionUpdateQuestion = "UPDATE_QUESTION"
	ActionDeleteQuestion = "DELETE_QUESTION"
	ActionAddOption      = "ADD_OPTION"
	ActionUpdateOption   = "UPDATE_OPTION"
	ActionDeleteOption   = "DELETE_OPTION"
	ActionCreateVersion  = "CREATE_VERSION"
	ActionSwitchVersion  = "SWITCH_VERSION"
	ActionRequestReview  = "REQUEST_REVIEW"
	ActionSubmitReview   = "SUBMIT_REVIEW"
	ActionNotification   = "NOTIFICATION"
)

// FieldChange is the generic {field, value} pair clients send inside a
// collaborationUpdate. It exists only at the wire boundary; DecodeMutation
// converts it into a typed Mutation before any state is touched.
type FieldChange struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// ClientMessage is the inbound envelope for every client frame.
type ClientMessage struct {
	Type         string        `json:"type"`
	ConnectionID string        `json:"connectionId,omitempty"`
	SessionID    string        `json:"sessionId,omitempty"`
	UserID       string        `json:"userId,omitempty"`
	Username     string        `json:"username,omitempty"`
	Action       string        `json:"action,omitempty"`
	EntityID     string        `json:"entityId,omitempty"`
	Changes      []FieldChange `json:"changes,omitempty"`
	Timestamp    time.Time     `json:"timestamp,omitempty"`
}

// change returns the raw value of the named field, if present.
func (m *ClientMessage) change(field string) (json.RawMessage, bool) {
	for _, c := range m.Changes {
		if c.Field == field {
			return c.Value, true
		}
	}
	return nil, false
}

// ServerEvent is the outbound broadcast envelope. Field disambiguates the
// payload shape the same way inbound changes do.
type ServerEvent struct {
	Type       string      `json:"type"`
	SessionID  string      `json:"sessionId,omitempty"`
	Action     string      `json:"action"`
	Field      string      `json:"field,omitempty"`
	UserID     string      `json:"userId,omitempty"`
	Username   string      `json:"username,omitempty"`
	EntityID   string      `json:"entityId,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	DocVersion int64       `json:"docVersion,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// SyncMessage is the full-state sync reply to a join or reconnect.
type SyncMessage struct {
	Type         string         `json:"type"`
	SessionID    string         `json:"sessionId"`
	ConnectionID string         `json:"connectionId"`
	Document     Document       `json:"document"`
	Participants []Participant  `json:"participants"`
	Comments     []Comment      `json:"comments"`
	Changes      []ChangeRecord `json:"changes"`
	Locks        []ElementLock  `json:"locks"`
	Timestamp    time.Time      `json:"timestamp"`
}

// NewSyncMessage wraps a snapshot for delivery to one connection.
func NewSyncMessage(connectionID string, snap SessionSnapshot) *SyncMessage {
	return &SyncMessage{
		Type:         MessageTypeSync,
		SessionID:    snap.SessionID,
		ConnectionID: connectionID,
		Document:     snap.Document,
		Participants: snap.Participants,
		Comments:     snap.Comments,
		Changes:      snap.Changes,
		Locks:        snap.Locks,
		Timestamp:    time.Now().UTC(),
	}
}

// ConnectionSuccessMessage acknowledges the connection handshake.
type ConnectionSuccessMessage struct {
	Type         string    `json:"type"`
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// JoinSuccessMessage acknowledges a collaboration join before the sync.
type JoinSuccessMessage struct {
	Type         string    `json:"type"`
	SessionID    string    `json:"sessionId"`
	ConnectionID string    `json:"connectionId"`
	Timestamp    time.Time `json:"timestamp"`
}

// ErrorMessage reports a scoped failure without closing the connection.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// NewErrorMessage builds a standard error frame.
func NewErrorMessage(message, details string) *ErrorMessage {
	return &ErrorMessage{Type: MessageTypeError, Message: message, Details: details}
}

// NewConnectionErrorMessage builds a connection-scoped error frame, used
// when a handshake or join is rejected.
func NewConnectionErrorMessage(message, details string) *ErrorMessage {
	return &ErrorMessage{Type: MessageTypeConnectionError, Message: message, Details: details}
}
