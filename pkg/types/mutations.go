package types

import (
	"encoding/json"
)

// MutationKind identifies one decoded mutation variant.
type MutationKind string

const (
	MutationCursor         MutationKind = "cursor"
	MutationStatus         MutationKind = "status"
	MutationDocumentChange MutationKind = "change"
	MutationCommentAdd     MutationKind = "comment"
	MutationCommentResolve MutationKind = "resolveComment"
	MutationLock           MutationKind = "lockElement"
	MutationUnlock         MutationKind = "unlockElement"
	MutationQuestion       MutationKind = "question"
	MutationOption         MutationKind = "option"
	MutationVersion        MutationKind = "version"
	MutationReviewRequest  MutationKind = "requestReview"
	MutationReviewSubmit   MutationKind = "submitReview"
	MutationNotification   MutationKind = "notification"
)

// Mutation is the typed form of one collaborationUpdate. The generic
// {field, value} envelope is decoded exactly once, at the wire boundary,
// so downstream handling can switch exhaustively on the variant.
type Mutation interface {
	Kind() MutationKind
	Validate() error
}

// CursorMove updates the sender's cursor position.
type CursorMove struct {
	Position CursorPosition
}

func (CursorMove) Kind() MutationKind { return MutationCursor }
func (CursorMove) Validate() error    { return nil }

// StatusChange is an explicit presence transition from the client.
type StatusChange struct {
	Status ParticipantStatus `json:"status"`
}

func (StatusChange) Kind() MutationKind { return MutationStatus }

func (m StatusChange) Validate() error {
	switch m.Status {
	case StatusOnline, StatusIdle, StatusOffline:
		return nil
	}
	return ErrInvalidStatus
}

// DocumentChange is one coarse-grained edit of the shared document.
type DocumentChange struct {
	Operation string `json:"operation"`
	Position  int    `json:"position"`
	Length    int    `json:"length,omitempty"`
	Content   string `json:"content,omitempty"`
}

func (DocumentChange) Kind() MutationKind { return MutationDocumentChange }

func (m DocumentChange) Validate() error {
	switch m.Operation {
	case OpInsert, OpDelete, OpUpdate:
	default:
		return ErrInvalidOperation
	}
	if m.Position < 0 || m.Length < 0 {
		return ErrInvalidPosition
	}
	if len(m.Content) > maxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// CommentAdd appends a comment at a document offset.
type CommentAdd struct {
	Text     string `json:"text"`
	Position int    `json:"position"`
}

func (CommentAdd) Kind() MutationKind { return MutationCommentAdd }

func (m CommentAdd) Validate() error {
	if m.Text == "" {
		return ErrEmptyCommentText
	}
	if len(m.Text) > maxContentBytes {
		return ErrContentTooLarge
	}
	if m.Position < 0 {
		return ErrInvalidPosition
	}
	return nil
}

// CommentResolve flips one comment to resolved. The transition is one-way.
type CommentResolve struct {
	CommentID string `json:"commentId"`
}

func (CommentResolve) Kind() MutationKind { return MutationCommentResolve }

func (m CommentResolve) Validate() error {
	if m.CommentID == "" {
		return ErrMissingCommentID
	}
	return nil
}

// LockElement requests a mutual-exclusion claim on one survey element.
type LockElement struct {
	ElementType string `json:"elementType"`
	ElementID   string `json:"elementId"`
}

func (LockElement) Kind() MutationKind { return MutationLock }

func (m LockElement) Validate() error {
	if m.ElementType == "" || m.ElementID == "" {
		return ErrMissingElementKey
	}
	return nil
}

// UnlockElement releases a claim held by the sender.
type UnlockElement struct {
	ElementType string `json:"elementType"`
	ElementID   string `json:"elementId"`
}

func (UnlockElement) Kind() MutationKind { return MutationUnlock }

func (m UnlockElement) Validate() error {
	if m.ElementType == "" || m.ElementID == "" {
		return ErrMissingElementKey
	}
	return nil
}

// QuestionOp is a pure relay of a question add/update/delete. The REST
// layer owns persistence of question structure; this only carries the
// live notification.
type QuestionOp struct {
	Operation  string          `json:"operation"`
	QuestionID string          `json:"questionId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func (QuestionOp) Kind() MutationKind { return MutationQuestion }

func (m QuestionOp) Validate() error {
	if m.QuestionID == "" {
		return ErrMissingEntityID
	}
	return nil
}

// OptionOp is a pure relay of an option add/update/delete.
type OptionOp struct {
	Operation  string          `json:"operation"`
	QuestionID string          `json:"questionId"`
	OptionID   string          `json:"optionId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func (OptionOp) Kind() MutationKind { return MutationOption }

func (m OptionOp) Validate() error {
	if m.QuestionID == "" {
		return ErrMissingEntityID
	}
	return nil
}

// VersionOp relays a survey version create or switch.
type VersionOp struct {
	Operation string `json:"operation"`
	VersionID string `json:"versionId"`
	Name      string `json:"name,omitempty"`
}

func (VersionOp) Kind() MutationKind { return MutationVersion }

func (m VersionOp) Validate() error {
	if m.VersionID == "" {
		return ErrMissingEntityID
	}
	return nil
}

// ReviewRequest relays a request for review to session peers.
type ReviewRequest struct {
	ReviewerIDs []string `json:"reviewers"`
	Note        string   `json:"note,omitempty"`
}

func (ReviewRequest) Kind() MutationKind { return MutationReviewRequest }

func (m ReviewRequest) Validate() error {
	if len(m.ReviewerIDs) == 0 {
		return ErrMissingReviewers
	}
	return nil
}

// ReviewSubmit relays a completed review. Named reviewers additionally
// receive a direct notification even when not connected to the session.
type ReviewSubmit struct {
	ReviewID    string   `json:"reviewId"`
	Verdict     string   `json:"verdict"`
	ReviewerIDs []string `json:"reviewers,omitempty"`
	Note        string   `json:"note,omitempty"`
}

func (ReviewSubmit) Kind() MutationKind { return MutationReviewSubmit }

func (m ReviewSubmit) Validate() error {
	if m.ReviewID == "" {
		return ErrMissingEntityID
	}
	return nil
}

// Notification relays an arbitrary in-session notification.
type Notification struct {
	Level string `json:"level,omitempty"`
	Text  string `json:"text"`
}

func (Notification) Kind() MutationKind { return MutationNotification }

func (m Notification) Validate() error {
	if len(m.Text) > maxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// Change field names accepted inside an action=update envelope.
const (
	FieldCursor         = "cursor"
	FieldStatus         = "status"
	FieldChangeDoc      = "change"
	FieldComment        = "comment"
	FieldResolveComment = "resolveComment"
	FieldLockElement    = "lockElement"
	FieldUnlockElement  = "unlockElement"
	FieldQuestion       = "question"
	FieldOption         = "option"
	FieldVersion        = "version"
	FieldReview         = "review"
	FieldNotification   = "notification"
)

// DecodeMutation converts a collaborationUpdate envelope into its typed
// variant and validates it. Unknown actions and fields are decode errors,
// not silent drops.
func DecodeMutation(msg *ClientMessage) (Mutation, error) {
	var m Mutation
	var err error

	switch msg.Action {
	case ActionUpdate:
		m, err = decodeFieldUpdate(msg)
	case ActionAddQuestion:
		m, err = decodeQuestionOp(msg, "add")
	case ActionUpdateQuestion:
		m, err = decodeQuestionOp(msg, "update")
	case ActionDeleteQuestion:
		m, err = decodeQuestionOp(msg, "delete")
	case ActionAddOption:
		m, err = decodeOptionOp(msg, "add")
	case ActionUpdateOption:
		m, err = decodeOptionOp(msg, "update")
	case ActionDeleteOption:
		m, err = decodeOptionOp(msg, "delete")
	case ActionCreateVersion:
		m, err = decodeVersionOp(msg, "create")
	case ActionSwitchVersion:
		m, err = decodeVersionOp(msg, "switch")
	case ActionRequestReview:
		var rr ReviewRequest
		err = decodeField(msg, FieldReview, &rr)
		m = rr
	case ActionSubmitReview:
		var rs ReviewSubmit
		err = decodeField(msg, FieldReview, &rs)
		if rs.ReviewID == "" && msg.EntityID != "" {
			rs.ReviewID = msg.EntityID
		}
		m = rs
	case ActionNotification:
		var n Notification
		err = decodeField(msg, FieldNotification, &n)
		m = n
	default:
		return nil, ErrUnknownAction
	}

	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeFieldUpdate(msg *ClientMessage) (Mutation, error) {
	if len(msg.Changes) == 0 {
		return nil, ErrMissingChanges
	}
	c := msg.Changes[0]

	switch c.Field {
	case FieldCursor:
		var pos CursorPosition
		if err := json.Unmarshal(c.Value, &pos); err != nil {
			return nil, ErrInvalidPayload
		}
		return CursorMove{Position: pos}, nil
	case FieldStatus:
		var sc StatusChange
		if err := unmarshalChange(c.Value, &sc, &sc.Status); err != nil {
			return nil, err
		}
		return sc, nil
	case FieldChangeDoc:
		var dc DocumentChange
		if err := json.Unmarshal(c.Value, &dc); err != nil {
			return nil, ErrInvalidPayload
		}
		return dc, nil
	case FieldComment:
		var ca CommentAdd
		if err := json.Unmarshal(c.Value, &ca); err != nil {
			return nil, ErrInvalidPayload
		}
		return ca, nil
	case FieldResolveComment:
		var cr CommentResolve
		if err := unmarshalChange(c.Value, &cr, &cr.CommentID); err != nil {
			return nil, err
		}
		return cr, nil
	case FieldLockElement:
		var le LockElement
		if err := json.Unmarshal(c.Value, &le); err != nil {
			return nil, ErrInvalidPayload
		}
		return le, nil
	case FieldUnlockElement:
		var ue UnlockElement
		if err := json.Unmarshal(c.Value, &ue); err != nil {
			return nil, ErrInvalidPayload
		}
		return ue, nil
	}
	return nil, ErrUnknownField
}

// unmarshalChange accepts either an object payload or a bare scalar, since
// clients send both `{"value": "idle"}` and `{"value": {"status": "idle"}}`
// shapes for single-field updates.
func unmarshalChange[T any](raw json.RawMessage, obj interface{}, scalar *T) error {
	if err := json.Unmarshal(raw, obj); err == nil {
		return nil
	}
	if err := json.Unmarshal(raw, scalar); err != nil {
		return ErrInvalidPayload
	}
	return nil
}

func decodeQuestionOp(msg *ClientMessage, op string) (Mutation, error) {
	q := QuestionOp{Operation: op, QuestionID: msg.EntityID}
	if raw, ok := msg.change(FieldQuestion); ok {
		q.Payload = raw
	}
	return q, nil
}

func decodeOptionOp(msg *ClientMessage, op string) (Mutation, error) {
	o := OptionOp{Operation: op, QuestionID: msg.EntityID}
	if raw, ok := msg.change(FieldOption); ok {
		// The option payload may carry its own identifiers.
		var ids struct {
			OptionID   string `json:"optionId"`
			QuestionID string `json:"questionId"`
		}
		if err := json.Unmarshal(raw, &ids); err == nil {
			o.OptionID = ids.OptionID
			if ids.QuestionID != "" {
				o.QuestionID = ids.QuestionID
			}
		}
		o.Payload = raw
	}
	return o, nil
}

func decodeVersionOp(msg *ClientMessage, op string) (Mutation, error) {
	v := VersionOp{Operation: op, VersionID: msg.EntityID}
	if raw, ok := msg.change(FieldVersion); ok {
		var body struct {
			VersionID string `json:"versionId"`
			Name      string `json:"name"`
		}
		if err := json.Unmarshal(raw, &body); err == nil {
			if body.VersionID != "" {
				v.VersionID = body.VersionID
			}
			v.Name = body.Name
		}
	}
	return v, nil
}

func decodeField(msg *ClientMessage, field string, dst interface{}) error {
	raw, ok := msg.change(field)
	if !ok {
		return ErrMissingChanges
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return ErrInvalidPayload
	}
	return nil
}
