package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveysync/internal/broadcast"
	"surveysync/internal/presence"
	"surveysync/internal/reaper"
	"surveysync/internal/session"
	"surveysync/internal/websocket"
	"surveysync/pkg/interfaces"
	"surveysync/pkg/types"
)

type testStack struct {
	store *session.Store
	hub   *Hub
	srv   *httptest.Server
	url   string
}

// newStack wires the full collaboration stack behind an httptest server,
// with no session directory so joins always validate.
func newStack(t *testing.T) *testStack {
	t.Helper()

	store := session.NewStore(interfaces.SweepPolicy{}, 0)
	registry := websocket.NewRegistry()
	bcast := broadcast.NewBroadcaster(store, registry, nil)
	tracker := presence.NewTracker(store, bcast)
	sweeper := reaper.New(store, bcast)
	h := NewHub(registry, bcast, tracker, sweeper, time.Hour)

	require.NoError(t, h.Start(context.Background()))

	handler := websocket.NewHandler(registry, h, websocket.DefaultConfig())
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))

	t.Cleanup(func() {
		srv.Close()
		_ = h.Stop()
	})

	return &testStack{
		store: store,
		hub:   h,
		srv:   srv,
		url:   "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func dial(t *testing.T, stack *testStack) *gws.Conn {
	t.Helper()
	c, _, err := gws.DefaultDialer.Dial(stack.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// readUntil reads frames until one of the wanted type arrives, skipping
// interleaved broadcasts.
func readUntil(t *testing.T, c *gws.Conn, msgType string) map[string]interface{} {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var m map[string]interface{}
		require.NoError(t, c.ReadJSON(&m), "waiting for %q", msgType)
		if m["type"] == msgType {
			return m
		}
	}
}

func handshake(t *testing.T, c *gws.Conn, userID, username string) string {
	t.Helper()
	require.NoError(t, c.WriteJSON(&types.ClientMessage{
		Type:     types.MessageTypeConnection,
		UserID:   userID,
		Username: username,
	}))
	reply := readUntil(t, c, types.MessageTypeConnectionSuccess)
	connID, _ := reply["connectionId"].(string)
	require.NotEmpty(t, connID)
	return connID
}

func join(t *testing.T, c *gws.Conn, sessionID string) map[string]interface{} {
	t.Helper()
	require.NoError(t, c.WriteJSON(&types.ClientMessage{
		Type:      types.MessageTypeJoin,
		SessionID: sessionID,
	}))
	readUntil(t, c, types.MessageTypeJoinSuccess)
	return readUntil(t, c, types.MessageTypeSync)
}

func TestHub_HandshakeJoinAndSync(t *testing.T) {
	stack := newStack(t)

	alice := dial(t, stack)
	handshake(t, alice, "u1", "Alice")
	sync := join(t, alice, "s1")

	assert.Equal(t, "s1", sync["sessionId"])
	participants := sync["participants"].([]interface{})
	assert.Len(t, participants, 1)

	// A second joiner sees the full roster in their sync.
	bob := dial(t, stack)
	handshake(t, bob, "u2", "Bob")
	sync = join(t, bob, "s1")
	assert.Len(t, sync["participants"].([]interface{}), 2)

	// And Alice hears about Bob.
	ev := readUntil(t, alice, types.MessageTypeUpdate)
	assert.Equal(t, types.ActionJoin, ev["action"])
	assert.Equal(t, "u2", ev["userId"])
}

func TestHub_HandshakeValidation(t *testing.T) {
	stack := newStack(t)

	c := dial(t, stack)
	require.NoError(t, c.WriteJSON(&types.ClientMessage{
		Type:     types.MessageTypeConnection,
		UserID:   "no spaces allowed",
		Username: "Alice",
	}))
	reply := readUntil(t, c, types.MessageTypeConnectionError)
	assert.NotEmpty(t, reply["message"])
}

func TestHub_UnknownMessageTypeSurfacesError(t *testing.T) {
	stack := newStack(t)

	c := dial(t, stack)
	handshake(t, c, "u1", "Alice")

	require.NoError(t, c.WriteJSON(&types.ClientMessage{Type: "bogus"}))
	reply := readUntil(t, c, types.MessageTypeError)
	assert.Equal(t, types.ErrUnknownMessageType.Error(), reply["message"])
	assert.Equal(t, "bogus", reply["details"])
}

func TestHub_DocumentUpdateFlowsToPeers(t *testing.T) {
	stack := newStack(t)

	alice := dial(t, stack)
	handshake(t, alice, "u1", "Alice")
	join(t, alice, "s1")

	bob := dial(t, stack)
	handshake(t, bob, "u2", "Bob")
	join(t, bob, "s1")
	readUntil(t, alice, types.MessageTypeUpdate) // Bob's join

	require.NoError(t, alice.WriteJSON(&types.ClientMessage{
		Type:      types.MessageTypeUpdate,
		SessionID: "s1",
		Action:    types.ActionUpdate,
		Changes: []types.FieldChange{{
			Field: types.FieldChangeDoc,
			Value: json.RawMessage(`{"operation": "insert", "position": 0, "content": "hello"}`),
		}},
	}))

	ev := readUntil(t, bob, types.MessageTypeUpdate)
	assert.Equal(t, types.FieldChangeDoc, ev["field"])
	assert.Equal(t, float64(1), ev["docVersion"])
	assert.Equal(t, "u1", ev["userId"])

	snap, ok := stack.store.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, "hello", snap.Document.Content)
}

func TestHub_PresenceUpdatesFlowToPeers(t *testing.T) {
	stack := newStack(t)

	alice := dial(t, stack)
	handshake(t, alice, "u1", "Alice")
	join(t, alice, "s1")

	bob := dial(t, stack)
	handshake(t, bob, "u2", "Bob")
	join(t, bob, "s1")
	readUntil(t, alice, types.MessageTypeUpdate)

	require.NoError(t, alice.WriteJSON(&types.ClientMessage{
		Type:      types.MessageTypeUpdate,
		SessionID: "s1",
		Action:    types.ActionUpdate,
		Changes:   []types.FieldChange{{Field: types.FieldStatus, Value: json.RawMessage(`"idle"`)}},
	}))

	ev := readUntil(t, bob, types.MessageTypeUpdate)
	assert.Equal(t, types.FieldStatus, ev["field"])
	assert.Equal(t, "u1", ev["userId"])
	payload := ev["payload"].(map[string]interface{})
	assert.Equal(t, "idle", payload["status"])

	require.NoError(t, alice.WriteJSON(&types.ClientMessage{
		Type:      types.MessageTypeUpdate,
		SessionID: "s1",
		Action:    types.ActionUpdate,
		Changes:   []types.FieldChange{{Field: types.FieldCursor, Value: json.RawMessage(`{"x": 120, "y": 48}`)}},
	}))

	ev = readUntil(t, bob, types.MessageTypeUpdate)
	assert.Equal(t, types.FieldCursor, ev["field"])
	payload = ev["payload"].(map[string]interface{})
	cursor := payload["cursor"].(map[string]interface{})
	assert.Equal(t, float64(120), cursor["x"])
}

func TestHub_InvalidUpdateSurfacesError(t *testing.T) {
	stack := newStack(t)

	alice := dial(t, stack)
	handshake(t, alice, "u1", "Alice")
	join(t, alice, "s1")

	// Unknown field inside the changes envelope.
	require.NoError(t, alice.WriteJSON(&types.ClientMessage{
		Type:      types.MessageTypeUpdate,
		SessionID: "s1",
		Action:    types.ActionUpdate,
		Changes:   []types.FieldChange{{Field: "sparkles", Value: json.RawMessage(`1`)}},
	}))
	reply := readUntil(t, alice, types.MessageTypeError)
	assert.NotEmpty(t, reply["message"])

	// Resolving a nonexistent comment is a typed failure, not a silent drop.
	require.NoError(t, alice.WriteJSON(&types.ClientMessage{
		Type:      types.MessageTypeUpdate,
		SessionID: "s1",
		Action:    types.ActionUpdate,
		Changes:   []types.FieldChange{{Field: types.FieldResolveComment, Value: json.RawMessage(`"ghost"`)}},
	}))
	reply = readUntil(t, alice, types.MessageTypeError)
	assert.Contains(t, reply["message"], "comment")
}

func TestHub_ReconnectReplaysState(t *testing.T) {
	stack := newStack(t)

	alice := dial(t, stack)
	aliceConnID := handshake(t, alice, "u1", "Alice")
	join(t, alice, "s1")

	bob := dial(t, stack)
	handshake(t, bob, "u2", "Bob")
	join(t, bob, "s1")

	// Alice edits, then her transport drops.
	require.NoError(t, alice.WriteJSON(&types.ClientMessage{
		Type:      types.MessageTypeUpdate,
		SessionID: "s1",
		Action:    types.ActionUpdate,
		Changes: []types.FieldChange{{
			Field: types.FieldChangeDoc,
			Value: json.RawMessage(`{"operation": "insert", "position": 0, "content": "draft"}`),
		}},
	}))
	readUntil(t, bob, types.MessageTypeUpdate) // the edit
	require.NoError(t, alice.Close())

	// Bob sees Alice drop.
	ev := readUntil(t, bob, types.MessageTypeUpdate)
	assert.Equal(t, types.ActionLeave, ev["action"])
	assert.Equal(t, "u1", ev["userId"])

	// Alice returns on a fresh socket and presents her old identifier.
	alice2 := dial(t, stack)
	require.NoError(t, alice2.WriteJSON(&types.ClientMessage{
		Type:         types.MessageTypeReconnect,
		ConnectionID: aliceConnID,
	}))

	sync := readUntil(t, alice2, types.MessageTypeSync)
	assert.Equal(t, "s1", sync["sessionId"])
	doc := sync["document"].(map[string]interface{})
	assert.Equal(t, "draft", doc["content"])
	assert.Len(t, sync["participants"].([]interface{}), 2)

	// Bob sees her rejoin.
	ev = readUntil(t, bob, types.MessageTypeUpdate)
	assert.Equal(t, types.ActionJoin, ev["action"])
	assert.Equal(t, "u1", ev["userId"])
}

func TestHub_UnknownReconnectFallsBackToFresh(t *testing.T) {
	stack := newStack(t)

	c := dial(t, stack)
	require.NoError(t, c.WriteJSON(&types.ClientMessage{
		Type:         types.MessageTypeReconnect,
		ConnectionID: "long-gone",
	}))

	reply := readUntil(t, c, types.MessageTypeConnectionSuccess)
	newID, _ := reply["connectionId"].(string)
	assert.NotEmpty(t, newID)
	assert.NotEqual(t, "long-gone", newID)
}

func TestHub_StartStop(t *testing.T) {
	store := session.NewStore(interfaces.SweepPolicy{}, 0)
	registry := websocket.NewRegistry()
	bcast := broadcast.NewBroadcaster(store, registry, nil)
	h := NewHub(registry, bcast, presence.NewTracker(store, bcast), reaper.New(store, bcast), time.Hour)

	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)

	require.NoError(t, h.Start(context.Background()))
	assert.ErrorIs(t, h.Start(context.Background()), ErrHubAlreadyRunning)

	require.NoError(t, h.Stop())
	assert.ErrorIs(t, h.Dispatch(nil, nil), ErrHubNotRunning)
}

func TestHub_SweepNowDemotesSilentParticipants(t *testing.T) {
	stack := newStack(t)

	base := time.Now().UTC()
	stack.store.SetClock(func() time.Time { return base })

	alice := dial(t, stack)
	handshake(t, alice, "u1", "Alice")
	join(t, alice, "s1")

	bob := dial(t, stack)
	handshake(t, bob, "u2", "Bob")
	join(t, bob, "s1")
	readUntil(t, alice, types.MessageTypeUpdate)

	result := stack.hub.SweepNow(base.Add(session.DefaultIdleAfter + time.Minute))
	require.Len(t, result.StatusChanges, 2)

	// Each participant hears about the other's demotion.
	ev := readUntil(t, alice, types.MessageTypeUpdate)
	assert.Equal(t, types.FieldStatus, ev["field"])
	assert.Equal(t, "u2", ev["userId"])
}
