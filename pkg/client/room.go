package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/pkg/protocol"
)

// defaultTypingWindow mirrors the server's typing quiescence window. Peers
// never receive a "stopped typing" event; the local indicator for a peer is
// dropped this long after the last signal seen from them.
const defaultTypingWindow = 2 * time.Second

const historyLimit = 50

var (
	ErrNoRoom = errors.New("client: not in a room")
	// ErrAlreadyMember is returned by RoomAPI.JoinRoom when the user already
	// belongs to the room; Join treats it as success.
	ErrAlreadyMember = errors.New("client: already a room member")
)

// RoomAPI is the REST collaborator: the room directory plus the message
// store. SendMessage must durably persist and return the canonical record
// before anything is broadcast.
type RoomAPI interface {
	JoinRoom(ctx context.Context, roomID string) error
	LeaveRoom(ctx context.Context, roomID string) error
	RoomMessages(ctx context.Context, roomID string, limit int) ([]protocol.Message, error)
	RoomMembers(ctx context.Context, roomID string) ([]protocol.User, error)
	SendMessage(ctx context.Context, roomID, content string) (*protocol.Message, error)
}

// Identity is the authenticated user this session acts as.
type Identity struct {
	UserID   string
	Username string
}

// wire is what RoomSession needs from a Socket.
type wire interface {
	State() State
	Connect(ctx context.Context, url string) error
	Emit(event string, data any) error
	On(event string, fn Handler) Subscription
	Close()
}

type typingPeer struct {
	username string
	timer    *time.Timer
}

// RoomSession owns the local view of the current room: message list, online
// peers, and which peers are typing. The view is rebuilt wholesale on each
// Join and then updated incrementally from broadcast events.
type RoomSession struct {
	sock      wire
	api       RoomAPI
	self      Identity
	socketURL string
	window    time.Duration
	log       *zap.SugaredLogger

	mu              sync.Mutex
	roomID          string
	messages        []protocol.Message
	peers           []protocol.RoomUser
	typingPeers     map[string]*typingPeer
	selfTypingUntil time.Time
	subs            []Subscription
}

// Option configures a RoomSession.
type Option func(*RoomSession)

// WithTypingWindow overrides the typing indicator window.
func WithTypingWindow(d time.Duration) Option {
	return func(r *RoomSession) { r.window = d }
}

func NewRoomSession(sock *Socket, api RoomAPI, self Identity, socketURL string, log *zap.SugaredLogger, opts ...Option) *RoomSession {
	return newRoomSession(sock, api, self, socketURL, log, opts...)
}

func newRoomSession(sock wire, api RoomAPI, self Identity, socketURL string, log *zap.SugaredLogger, opts ...Option) *RoomSession {
	r := &RoomSession{
		sock:        sock,
		api:         api,
		self:        self,
		socketURL:   socketURL,
		window:      defaultTypingWindow,
		log:         log,
		typingPeers: make(map[string]*typingPeer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join enters a room: registers membership with the room directory, seeds
// local state from the message store and member list, connects the socket
// if needed, and announces the join on the wire.
func (r *RoomSession) Join(ctx context.Context, roomID string) error {
	if err := r.api.JoinRoom(ctx, roomID); err != nil && !errors.Is(err, ErrAlreadyMember) {
		return err
	}
	msgs, err := r.api.RoomMessages(ctx, roomID, historyLimit)
	if err != nil {
		return err
	}
	members, err := r.api.RoomMembers(ctx, roomID)
	if err != nil {
		return err
	}

	if r.sock.State() != StateConnected {
		if err := r.sock.Connect(ctx, r.socketURL); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.resetLocked()
	r.roomID = roomID
	r.messages = msgs
	r.peers = make([]protocol.RoomUser, 0, len(members))
	for _, m := range members {
		if m.ID == r.self.UserID {
			continue
		}
		r.peers = append(r.peers, protocol.RoomUser{UserID: m.ID, Username: m.Username})
	}
	r.subs = []Subscription{
		r.sock.On(protocol.EventNewMessage, r.onNewMessage),
		r.sock.On(protocol.EventUsersInRoom, r.onUsersInRoom),
		r.sock.On(protocol.EventUserTyping, r.onUserTyping),
	}
	r.mu.Unlock()

	return r.sock.Emit(protocol.EventJoinRoom, protocol.JoinRoomData{
		UserID:   r.self.UserID,
		Username: r.self.Username,
		RoomID:   roomID,
	})
}

// SendMessage persists the message first; nothing goes on the wire for a
// message the store did not accept. On success the canonical record is
// appended locally (peers get theirs via new_message) and the frame is sent.
func (r *RoomSession) SendMessage(ctx context.Context, content string) error {
	r.mu.Lock()
	roomID := r.roomID
	r.mu.Unlock()
	if roomID == "" {
		return ErrNoRoom
	}

	rec, err := r.api.SendMessage(ctx, roomID, content)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.messages = append(r.messages, *rec)
	r.mu.Unlock()

	return r.sock.Emit(protocol.EventSendMessage, protocol.SendMessageData{
		RoomID:   roomID,
		Message:  content,
		UserID:   r.self.UserID,
		Username: r.self.Username,
	})
}

// Typing signals that the local user is composing. While the user's own
// window is live, repeated calls are suppressed — the server refreshes its
// entry from the first signal's window anyway, and peers are already showing
// the indicator.
func (r *RoomSession) Typing() error {
	r.mu.Lock()
	roomID := r.roomID
	now := time.Now()
	if roomID == "" || now.Before(r.selfTypingUntil) {
		r.mu.Unlock()
		return nil
	}
	r.selfTypingUntil = now.Add(r.window)
	r.mu.Unlock()

	return r.sock.Emit(protocol.EventTyping, protocol.TypingData{
		RoomID:   roomID,
		UserID:   r.self.UserID,
		Username: r.self.Username,
	})
}

// Leave exits the current room: best-effort directory update, leave_room on
// the wire, and a full local reset.
func (r *RoomSession) Leave(ctx context.Context) {
	r.mu.Lock()
	roomID := r.roomID
	r.mu.Unlock()
	if roomID == "" {
		return
	}

	if err := r.api.LeaveRoom(ctx, roomID); err != nil {
		r.log.Warnw("room directory leave failed", "roomId", roomID, "error", err)
	}
	if err := r.sock.Emit(protocol.EventLeaveRoom, protocol.LeaveRoomData{RoomID: roomID}); err != nil {
		r.log.Debugw("leave_room emit failed", "roomId", roomID, "error", err)
	}

	r.mu.Lock()
	r.resetLocked()
	r.mu.Unlock()
}

// Close leaves nothing behind: local state, subscriptions, and the socket.
func (r *RoomSession) Close() {
	r.mu.Lock()
	r.resetLocked()
	r.mu.Unlock()
	r.sock.Close()
}

// Messages returns a copy of the local message list.
func (r *RoomSession) Messages() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.messages...)
}

// Peers returns a copy of the online peers, never including the local user.
func (r *RoomSession) Peers() []protocol.RoomUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.RoomUser(nil), r.peers...)
}

// TypingPeers returns the usernames currently shown as typing.
func (r *RoomSession) TypingPeers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.typingPeers))
	for _, p := range r.typingPeers {
		out = append(out, p.username)
	}
	return out
}

// Room returns the current room id, "" when not in a room.
func (r *RoomSession) Room() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID
}

func (r *RoomSession) onNewMessage(data json.RawMessage) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		r.log.Warnw("bad new_message payload", "error", err)
		return
	}
	// own messages were appended synchronously after persistence
	if msg.UserID == r.self.UserID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roomID == "" {
		return
	}
	r.messages = append(r.messages, msg)
}

func (r *RoomSession) onUsersInRoom(data json.RawMessage) {
	var users []protocol.RoomUser
	if err := json.Unmarshal(data, &users); err != nil {
		r.log.Warnw("bad users_in_room payload", "error", err)
		return
	}
	filtered := make([]protocol.RoomUser, 0, len(users))
	for _, u := range users {
		if u.UserID != r.self.UserID {
			filtered = append(filtered, u)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roomID == "" {
		return
	}
	r.peers = filtered
}

func (r *RoomSession) onUserTyping(data json.RawMessage) {
	var evt protocol.UserTypingData
	if err := json.Unmarshal(data, &evt); err != nil {
		r.log.Warnw("bad user_typing payload", "error", err)
		return
	}
	if evt.UserID == r.self.UserID {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roomID == "" {
		return
	}
	if p, ok := r.typingPeers[evt.UserID]; ok {
		p.timer.Reset(r.window)
		return
	}
	p := &typingPeer{username: evt.Username}
	p.timer = time.AfterFunc(r.window, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.typingPeers[evt.UserID]; ok && cur == p {
			delete(r.typingPeers, evt.UserID)
		}
	})
	r.typingPeers[evt.UserID] = p
}

// resetLocked clears room state, subscriptions, and typing timers. Caller
// holds r.mu.
func (r *RoomSession) resetLocked() {
	for _, sub := range r.subs {
		sub.Cancel()
	}
	r.subs = nil
	for userID, p := range r.typingPeers {
		p.timer.Stop()
		delete(r.typingPeers, userID)
	}
	r.roomID = ""
	r.messages = nil
	r.peers = nil
	r.selfTypingUntil = time.Time{}
}
