package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/pkg/protocol"
)

const roomTestWindow = 50 * time.Millisecond

type emitted struct {
	event string
	data  any
}

type fakeSub struct {
	wire  *fakeWire
	event string
	id    uint64
}

func (s *fakeSub) Cancel() {
	s.wire.mu.Lock()
	defer s.wire.mu.Unlock()
	subs := s.wire.subs[s.event]
	for i, sub := range subs {
		if sub.id == s.id {
			s.wire.subs[s.event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

type fakeWireSub struct {
	id uint64
	fn Handler
}

type fakeWire struct {
	mu         sync.Mutex
	state      State
	emits      []emitted
	subs       map[string][]fakeWireSub
	nextID     uint64
	connectErr error
	closed     bool
}

func newFakeWire() *fakeWire {
	return &fakeWire{subs: make(map[string][]fakeWireSub)}
}

func (w *fakeWire) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *fakeWire) Connect(context.Context, string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.connectErr != nil {
		return w.connectErr
	}
	w.state = StateConnected
	return nil
}

func (w *fakeWire) Emit(event string, data any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateConnected {
		return ErrNotConnected
	}
	w.emits = append(w.emits, emitted{event: event, data: data})
	return nil
}

func (w *fakeWire) On(event string, fn Handler) Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	w.subs[event] = append(w.subs[event], fakeWireSub{id: w.nextID, fn: fn})
	return &fakeSub{wire: w, event: event, id: w.nextID}
}

func (w *fakeWire) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StateDisconnected
	w.subs = make(map[string][]fakeWireSub)
	w.closed = true
}

// inject delivers a server frame to current subscribers, synchronously, the
// way the real read loop does.
func (w *fakeWire) inject(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	w.mu.Lock()
	handlers := append([]fakeWireSub(nil), w.subs[event]...)
	w.mu.Unlock()
	for _, h := range handlers {
		h.fn(raw)
	}
}

func (w *fakeWire) emitted() []emitted {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]emitted(nil), w.emits...)
}

func (w *fakeWire) emittedEvents(event string) []emitted {
	out := []emitted{}
	for _, e := range w.emitted() {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeAPI struct {
	mu       sync.Mutex
	joinErr  error
	fetchErr error
	sendErr  error
	history  []protocol.Message
	members  []protocol.User
	joined   []string
	left     []string
	sent     []string
	nextID   int
}

func (a *fakeAPI) JoinRoom(_ context.Context, roomID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.joined = append(a.joined, roomID)
	return a.joinErr
}

func (a *fakeAPI) LeaveRoom(_ context.Context, roomID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.left = append(a.left, roomID)
	return nil
}

func (a *fakeAPI) RoomMessages(_ context.Context, _ string, _ int) ([]protocol.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	return append([]protocol.Message(nil), a.history...), nil
}

func (a *fakeAPI) RoomMembers(_ context.Context, _ string) ([]protocol.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	return append([]protocol.User(nil), a.members...), nil
}

func (a *fakeAPI) SendMessage(_ context.Context, roomID, content string) (*protocol.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	a.sent = append(a.sent, content)
	a.nextID++
	return &protocol.Message{
		ID:        fmt.Sprintf("m-%d", a.nextID),
		Content:   content,
		UserID:    "self",
		RoomID:    roomID,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func newTestRoomSession(api *fakeAPI) (*RoomSession, *fakeWire) {
	w := newFakeWire()
	r := newRoomSession(w, api, Identity{UserID: "self", Username: "me"},
		"ws://localhost/v1/ws", zap.NewNop().Sugar(), WithTypingWindow(roomTestWindow))
	return r, w
}

func TestJoinSeedsLocalStateAndAnnounces(t *testing.T) {
	api := &fakeAPI{
		history: []protocol.Message{{ID: "m-0", Content: "old", UserID: "peer"}},
		members: []protocol.User{
			{ID: "self", Username: "me"},
			{ID: "peer", Username: "ana"},
		},
	}
	r, w := newTestRoomSession(api)
	defer r.Close()

	require.NoError(t, r.Join(context.Background(), "general"))

	assert.Equal(t, "general", r.Room())
	assert.Equal(t, StateConnected, w.State())
	require.Len(t, r.Messages(), 1)
	assert.Equal(t, "old", r.Messages()[0].Content)

	// member list is exposed without the local user
	assert.Equal(t, []protocol.RoomUser{{UserID: "peer", Username: "ana"}}, r.Peers())

	joins := w.emittedEvents(protocol.EventJoinRoom)
	require.Len(t, joins, 1)
	assert.Equal(t, protocol.JoinRoomData{UserID: "self", Username: "me", RoomID: "general"}, joins[0].data)
}

func TestJoinToleratesExistingMembership(t *testing.T) {
	api := &fakeAPI{joinErr: ErrAlreadyMember}
	r, _ := newTestRoomSession(api)
	defer r.Close()

	require.NoError(t, r.Join(context.Background(), "general"))
	assert.Equal(t, "general", r.Room())
}

func TestJoinFailsWithoutSeedData(t *testing.T) {
	api := &fakeAPI{fetchErr: errors.New("store down")}
	r, w := newTestRoomSession(api)
	defer r.Close()

	require.Error(t, r.Join(context.Background(), "general"))
	assert.Equal(t, "", r.Room())
	assert.Empty(t, w.emittedEvents(protocol.EventJoinRoom))
}

func TestSendMessagePersistsBeforeBroadcast(t *testing.T) {
	api := &fakeAPI{}
	r, w := newTestRoomSession(api)
	defer r.Close()
	require.NoError(t, r.Join(context.Background(), "general"))

	require.NoError(t, r.SendMessage(context.Background(), "hi"))

	// local append happens from the persistence result, not from broadcast
	msgs := r.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "m-1", msgs[0].ID)

	sends := w.emittedEvents(protocol.EventSendMessage)
	require.Len(t, sends, 1)
	assert.Equal(t, protocol.SendMessageData{
		RoomID: "general", Message: "hi", UserID: "self", Username: "me",
	}, sends[0].data)
}

func TestSendMessageFailedPersistenceEmitsNothing(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("store rejected")}
	r, w := newTestRoomSession(api)
	defer r.Close()
	require.NoError(t, r.Join(context.Background(), "general"))

	require.Error(t, r.SendMessage(context.Background(), "hi"))
	assert.Empty(t, r.Messages())
	assert.Empty(t, w.emittedEvents(protocol.EventSendMessage))
}

func TestSendMessageOutsideRoom(t *testing.T) {
	r, _ := newTestRoomSession(&fakeAPI{})
	assert.ErrorIs(t, r.SendMessage(context.Background(), "hi"), ErrNoRoom)
}

func TestNewMessageFromPeerAppends(t *testing.T) {
	api := &fakeAPI{}
	r, w := newTestRoomSession(api)
	defer r.Close()
	require.NoError(t, r.Join(context.Background(), "general"))

	w.inject(t, protocol.EventNewMessage, protocol.Message{ID: "m-peer", Content: "yo", UserID: "peer"})
	w.inject(t, protocol.EventNewMessage, protocol.Message{ID: "m-own", Content: "echo", UserID: "self"})

	msgs := r.Messages()
	require.Len(t, msgs, 1, "own broadcasts must be filtered, they were appended at send time")
	assert.Equal(t, "m-peer", msgs[0].ID)
}

func TestUsersInRoomReplacesPeersFilteringSelf(t *testing.T) {
	api := &fakeAPI{}
	r, w := newTestRoomSession(api)
	defer r.Close()
	require.NoError(t, r.Join(context.Background(), "general"))

	w.inject(t, protocol.EventUsersInRoom, []protocol.RoomUser{
		{UserID: "self", Username: "me"},
		{UserID: "peer", Username: "ana"},
		{UserID: "peer2", Username: "bob"},
	})

	assert.ElementsMatch(t, []protocol.RoomUser{
		{UserID: "peer", Username: "ana"},
		{UserID: "peer2", Username: "bob"},
	}, r.Peers())

	w.inject(t, protocol.EventUsersInRoom, []protocol.RoomUser{
		{UserID: "self", Username: "me"},
	})
	assert.Empty(t, r.Peers())
}

func TestPeerTypingIndicatorSelfExpires(t *testing.T) {
	api := &fakeAPI{}
	r, w := newTestRoomSession(api)
	defer r.Close()
	require.NoError(t, r.Join(context.Background(), "general"))

	w.inject(t, protocol.EventUserTyping, protocol.UserTypingData{UserID: "peer", Username: "ana"})
	assert.Equal(t, []string{"ana"}, r.TypingPeers())

	// refresh inside the window extends the indicator
	time.Sleep(roomTestWindow * 3 / 4)
	w.inject(t, protocol.EventUserTyping, protocol.UserTypingData{UserID: "peer", Username: "ana"})
	time.Sleep(roomTestWindow / 2)
	assert.Equal(t, []string{"ana"}, r.TypingPeers())

	// no further signal: indicator disappears without any server event
	time.Sleep(roomTestWindow)
	assert.Empty(t, r.TypingPeers())
}

func TestOwnTypingEchoIsIgnored(t *testing.T) {
	api := &fakeAPI{}
	r, w := newTestRoomSession(api)
	defer r.Close()
	require.NoError(t, r.Join(context.Background(), "general"))

	w.inject(t, protocol.EventUserTyping, protocol.UserTypingData{UserID: "self", Username: "me"})
	assert.Empty(t, r.TypingPeers())
}

func TestTypingIsSuppressedWhileOwnWindowIsLive(t *testing.T) {
	api := &fakeAPI{}
	r, w := newTestRoomSession(api)
	defer r.Close()
	require.NoError(t, r.Join(context.Background(), "general"))

	require.NoError(t, r.Typing())
	require.NoError(t, r.Typing())
	require.NoError(t, r.Typing())
	assert.Len(t, w.emittedEvents(protocol.EventTyping), 1)

	time.Sleep(roomTestWindow + 10*time.Millisecond)
	require.NoError(t, r.Typing())
	assert.Len(t, w.emittedEvents(protocol.EventTyping), 2)
}

func TestLeaveResetsStateAndUnsubscribes(t *testing.T) {
	api := &fakeAPI{}
	r, w := newTestRoomSession(api)
	defer r.Close()
	require.NoError(t, r.Join(context.Background(), "general"))

	w.inject(t, protocol.EventUserTyping, protocol.UserTypingData{UserID: "peer", Username: "ana"})
	r.Leave(context.Background())

	assert.Equal(t, "", r.Room())
	assert.Empty(t, r.Messages())
	assert.Empty(t, r.Peers())
	assert.Empty(t, r.TypingPeers())
	assert.Equal(t, []string{"general"}, api.left)

	leaves := w.emittedEvents(protocol.EventLeaveRoom)
	require.Len(t, leaves, 1)
	assert.Equal(t, protocol.LeaveRoomData{RoomID: "general"}, leaves[0].data)

	// events arriving after leave hit cancelled subscriptions
	w.inject(t, protocol.EventNewMessage, protocol.Message{ID: "late", UserID: "peer"})
	assert.Empty(t, r.Messages())
}

func TestCloseTearsDownWire(t *testing.T) {
	api := &fakeAPI{}
	r, w := newTestRoomSession(api)
	require.NoError(t, r.Join(context.Background(), "general"))

	r.Close()

	assert.True(t, w.closed)
	assert.Equal(t, StateDisconnected, w.State())
	assert.Equal(t, "", r.Room())
}

func TestRejoinSwitchesRooms(t *testing.T) {
	api := &fakeAPI{}
	r, w := newTestRoomSession(api)
	defer r.Close()

	require.NoError(t, r.Join(context.Background(), "general"))
	require.NoError(t, r.Join(context.Background(), "random"))

	assert.Equal(t, "random", r.Room())
	joins := w.emittedEvents(protocol.EventJoinRoom)
	require.Len(t, joins, 2)
	assert.Equal(t, protocol.JoinRoomData{UserID: "self", Username: "me", RoomID: "random"}, joins[1].data)

	// only one live subscription set: a peer message lands exactly once
	w.inject(t, protocol.EventNewMessage, protocol.Message{ID: "m-1", UserID: "peer"})
	assert.Len(t, r.Messages(), 1)
}
