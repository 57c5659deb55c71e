package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveysync/internal/session"
	"surveysync/internal/websocket"
	"surveysync/pkg/interfaces"
	"surveysync/pkg/types"
)

// fakeTransport records every frame the connection's writer goroutine
// flushes. ReadMessage blocks until Close, matching a quiet socket.
type fakeTransport struct {
	mu        sync.Mutex
	frames    [][]byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closed: make(chan struct{})}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, io.EOF
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeTransport) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeTransport) SetWriteDeadline(time.Time) error          { return nil }
func (f *fakeTransport) SetPongHandler(func(string) error)         {}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeTransport) events(t *testing.T) []types.ServerEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.ServerEvent, 0, len(f.frames))
	for _, frame := range f.frames {
		var ev types.ServerEvent
		require.NoError(t, json.Unmarshal(frame, &ev))
		out = append(out, ev)
	}
	return out
}

// waitFrames blocks until the transport has flushed at least n frames.
func waitFrames(t *testing.T, ft *fakeTransport, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return ft.frameCount() >= n },
		time.Second, 5*time.Millisecond)
}

type fixture struct {
	store    *session.Store
	registry *websocket.Registry
	bcast    *Broadcaster
}

func newFixture() *fixture {
	store := session.NewStore(interfaces.SweepPolicy{}, 0)
	registry := websocket.NewRegistry()
	return &fixture{
		store:    store,
		registry: registry,
		bcast:    NewBroadcaster(store, registry, nil),
	}
}

func (fx *fixture) join(t *testing.T, sessionID, userID, username string) (*websocket.Connection, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	conn := websocket.NewConnection(ft, 32, time.Second)
	require.NoError(t, fx.registry.Register(conn))
	fx.registry.Identify(conn, userID, username)
	_, err := fx.bcast.Join(context.Background(), conn, sessionID, userID, username)
	require.NoError(t, err)
	return conn, ft
}

func TestJoin_FanOutExcludesSender(t *testing.T) {
	fx := newFixture()

	_, ftAlice := fx.join(t, "s1", "u1", "Alice")
	_, ftBob := fx.join(t, "s1", "u2", "Bob")

	// Alice was alone when she joined; Bob's join notifies her only.
	waitFrames(t, ftAlice, 1)
	evs := ftAlice.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, types.ActionJoin, evs[0].Action)
	assert.Equal(t, "u2", evs[0].UserID)

	assert.Equal(t, 0, ftBob.frameCount())
}

func TestJoin_SnapshotReflectsRoster(t *testing.T) {
	fx := newFixture()
	fx.join(t, "s1", "u1", "Alice")

	ft := newFakeTransport()
	conn := websocket.NewConnection(ft, 32, time.Second)
	require.NoError(t, fx.registry.Register(conn))
	fx.registry.Identify(conn, "u2", "Bob")

	snap, err := fx.bcast.Join(context.Background(), conn, "s1", "u2", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.SessionID)
	assert.Len(t, snap.Participants, 2)
}

type fakeDirectory struct {
	exists bool
	err    error
}

func (d *fakeDirectory) SessionExists(context.Context, string) (bool, error) { return d.exists, d.err }
func (d *fakeDirectory) CreateSession(context.Context, string, string, string) error {
	return nil
}
func (d *fakeDirectory) HealthCheck(context.Context) error { return nil }
func (d *fakeDirectory) Close() error                      { return nil }

func TestJoin_DirectoryValidation(t *testing.T) {
	store := session.NewStore(interfaces.SweepPolicy{}, 0)
	registry := websocket.NewRegistry()

	ft := newFakeTransport()
	conn := websocket.NewConnection(ft, 32, time.Second)
	require.NoError(t, registry.Register(conn))

	bcast := NewBroadcaster(store, registry, &fakeDirectory{exists: false})
	_, err := bcast.Join(context.Background(), conn, "nope", "u1", "Alice")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)

	bcast = NewBroadcaster(store, registry, &fakeDirectory{err: errors.New("connection refused")})
	_, err = bcast.Join(context.Background(), conn, "s1", "u1", "Alice")
	assert.ErrorIs(t, err, interfaces.ErrDirectoryUnavailable)

	// Neither failure left session state behind.
	assert.Equal(t, 0, store.Len())
}

func TestApply_DocumentChangeBroadcastsWithVersion(t *testing.T) {
	fx := newFixture()
	connAlice, _ := fx.join(t, "s1", "u1", "Alice")
	_, ftBob := fx.join(t, "s1", "u2", "Bob")

	err := fx.bcast.Apply(connAlice, "s1", types.DocumentChange{Operation: types.OpInsert, Position: 0, Content: "hi"})
	require.NoError(t, err)

	waitFrames(t, ftBob, 1)
	evs := ftBob.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, types.FieldChangeDoc, evs[0].Field)
	assert.Equal(t, int64(1), evs[0].DocVersion)
	assert.Equal(t, "u1", evs[0].UserID)
}

func TestApply_LockRejectionProducesNoBroadcast(t *testing.T) {
	fx := newFixture()
	connAlice, ftAlice := fx.join(t, "s1", "u1", "Alice")
	connBob, ftBob := fx.join(t, "s1", "u2", "Bob")

	require.NoError(t, fx.bcast.Apply(connAlice, "s1", types.LockElement{ElementType: "question", ElementID: "q1"}))
	waitFrames(t, ftBob, 1)
	before := ftAlice.frameCount()

	err := fx.bcast.Apply(connBob, "s1", types.LockElement{ElementType: "question", ElementID: "q1"})
	assert.ErrorIs(t, err, session.ErrElementLocked)

	// Give the writer goroutine a moment; no frame should arrive.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, ftAlice.frameCount())
}

func TestApply_NonParticipantIsRejected(t *testing.T) {
	fx := newFixture()
	fx.join(t, "s1", "u1", "Alice")

	ft := newFakeTransport()
	stranger := websocket.NewConnection(ft, 32, time.Second)
	require.NoError(t, fx.registry.Register(stranger))

	err := fx.bcast.Apply(stranger, "s1", types.CommentAdd{Text: "hi", Position: 0})
	assert.ErrorIs(t, err, session.ErrNotParticipant)
}

func TestApply_RelayStampsSenderIdentity(t *testing.T) {
	fx := newFixture()
	connAlice, _ := fx.join(t, "s1", "u1", "Alice")
	_, ftBob := fx.join(t, "s1", "u2", "Bob")

	err := fx.bcast.Apply(connAlice, "s1", types.QuestionOp{Operation: "add", QuestionID: "q-7"})
	require.NoError(t, err)

	waitFrames(t, ftBob, 1)
	evs := ftBob.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, types.ActionAddQuestion, evs[0].Action)
	assert.Equal(t, "q-7", evs[0].EntityID)
	assert.Equal(t, "u1", evs[0].UserID)
	assert.Equal(t, "Alice", evs[0].Username)
}

func TestApply_ReviewSubmitNotifiesReviewerOutsideSession(t *testing.T) {
	fx := newFixture()
	connAlice, _ := fx.join(t, "s1", "u1", "Alice")

	// Carol is connected but not a participant of s1.
	ftCarol := newFakeTransport()
	carol := websocket.NewConnection(ftCarol, 32, time.Second)
	require.NoError(t, fx.registry.Register(carol))
	fx.registry.Identify(carol, "u3", "Carol")

	err := fx.bcast.Apply(connAlice, "s1", types.ReviewSubmit{
		ReviewID:    "r-1",
		Verdict:     "approved",
		ReviewerIDs: []string{"u3"},
	})
	require.NoError(t, err)

	waitFrames(t, ftCarol, 1)
	evs := ftCarol.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, types.ActionNotification, evs[0].Action)
	assert.Equal(t, "r-1", evs[0].EntityID)
}

func TestDisconnect_MarksOfflineAndNotifiesPeers(t *testing.T) {
	fx := newFixture()
	connAlice, _ := fx.join(t, "s1", "u1", "Alice")
	_, ftBob := fx.join(t, "s1", "u2", "Bob")

	fx.bcast.Disconnect(connAlice)

	waitFrames(t, ftBob, 1)
	evs := ftBob.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, types.ActionLeave, evs[0].Action)
	assert.Equal(t, "u1", evs[0].UserID)

	// Alice's record survives, offline, for the reconnection window.
	p, ok := fx.store.Participant("s1", connAlice.ID())
	require.True(t, ok)
	assert.Equal(t, types.StatusOffline, p.Status)
}

func TestReconnect_RebindsAndSyncs(t *testing.T) {
	fx := newFixture()
	connAlice, _ := fx.join(t, "s1", "u1", "Alice")
	_, ftBob := fx.join(t, "s1", "u2", "Bob")
	fx.bcast.Disconnect(connAlice)
	waitFrames(t, ftBob, 1)

	ftNew := newFakeTransport()
	fresh := websocket.NewConnection(ftNew, 32, time.Second)
	require.NoError(t, fx.registry.Register(fresh))

	syncs := fx.bcast.Reconnect(fresh, connAlice.ID())
	require.Len(t, syncs, 1)
	assert.Equal(t, "s1", syncs[0].SessionID)
	assert.Equal(t, fresh.ID(), syncs[0].ConnectionID)
	assert.Len(t, syncs[0].Participants, 2)

	// Identity carried over for user-directed delivery.
	assert.Equal(t, "u1", fresh.UserID())
	assert.Contains(t, fresh.Sessions(), "s1")

	// Peers saw the rejoin.
	waitFrames(t, ftBob, 2)
	evs := ftBob.events(t)
	last := evs[len(evs)-1]
	assert.Equal(t, types.ActionJoin, last.Action)
	assert.Equal(t, "u1", last.UserID)

	// The old identifier no longer rebinds.
	another := websocket.NewConnection(newFakeTransport(), 32, time.Second)
	require.NoError(t, fx.registry.Register(another))
	assert.Empty(t, fx.bcast.Reconnect(another, connAlice.ID()))
}

func TestBroadcastToSessionAndUser(t *testing.T) {
	fx := newFixture()
	fx.join(t, "s1", "u1", "Alice")
	fx.join(t, "s1", "u2", "Bob")

	n := fx.bcast.BroadcastToSession("s1", &types.ServerEvent{
		Type:      types.MessageTypeUpdate,
		Action:    types.ActionNotification,
		Timestamp: time.Now().UTC(),
	})
	assert.Equal(t, 2, n)

	n = fx.bcast.BroadcastToUser("u2", &types.ServerEvent{
		Type:      types.MessageTypeUpdate,
		Action:    types.ActionNotification,
		Timestamp: time.Now().UTC(),
	})
	assert.Equal(t, 1, n)

	assert.Equal(t, 0, fx.bcast.BroadcastToUser("nobody", &types.ServerEvent{}))
}
