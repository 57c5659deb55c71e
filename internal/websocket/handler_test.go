package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveysync/pkg/types"
)

type recordingDispatcher struct {
	mu          sync.Mutex
	messages    []*types.ClientMessage
	disconnects int
}

func (d *recordingDispatcher) Dispatch(conn *Connection, msg *types.ClientMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
	return nil
}

func (d *recordingDispatcher) DispatchDisconnect(conn *Connection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects++
	return nil
}

func (d *recordingDispatcher) messageCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages)
}

func (d *recordingDispatcher) disconnectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}

func dialTestServer(t *testing.T) (*websocket.Conn, *Registry, *recordingDispatcher, func()) {
	t.Helper()

	registry := NewRegistry()
	dispatcher := &recordingDispatcher{}
	handler := NewHandler(registry, dispatcher, DefaultConfig())

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	cleanup := func() {
		_ = client.Close()
		srv.Close()
	}
	return client, registry, dispatcher, cleanup
}

func TestHandler_DispatchesDecodedMessages(t *testing.T) {
	client, registry, dispatcher, cleanup := dialTestServer(t)
	defer cleanup()

	require.Eventually(t, func() bool { return registry.Len() == 1 },
		time.Second, 5*time.Millisecond)

	err := client.WriteJSON(&types.ClientMessage{
		Type:     types.MessageTypeConnection,
		UserID:   "u1",
		Username: "Alice",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return dispatcher.messageCount() == 1 },
		time.Second, 5*time.Millisecond)

	dispatcher.mu.Lock()
	msg := dispatcher.messages[0]
	dispatcher.mu.Unlock()
	assert.Equal(t, types.MessageTypeConnection, msg.Type)
	assert.Equal(t, "u1", msg.UserID)
}

func TestHandler_MalformedJSONKeepsConnectionOpen(t *testing.T) {
	client, _, dispatcher, cleanup := dialTestServer(t)
	defer cleanup()

	err := client.WriteMessage(websocket.TextMessage, []byte("{nope"))
	require.NoError(t, err)

	// The server answers with an error frame instead of dropping us.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	var reply types.ErrorMessage
	require.NoError(t, client.ReadJSON(&reply))
	assert.Equal(t, types.MessageTypeError, reply.Type)

	// A valid message still goes through afterwards.
	err = client.WriteJSON(&types.ClientMessage{Type: types.MessageTypeConnection, UserID: "u1", Username: "A"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return dispatcher.messageCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	client, registry, dispatcher, cleanup := dialTestServer(t)
	defer cleanup()

	require.Eventually(t, func() bool { return registry.Len() == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		return registry.Len() == 0 && dispatcher.disconnectCount() == 1
	}, time.Second, 5*time.Millisecond)
}
