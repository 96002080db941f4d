// Package typing tracks which users are actively composing a message in a
// room. Entries self-expire: there is no "stop typing" wire event, peers
// drop their indicators after the same quiescence window.
package typing

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/pkg/protocol"
)

// DefaultWindow is the quiescence window after which a typing entry with no
// refresh disappears. Clients hold their local indicators for the same span.
const DefaultWindow = 2 * time.Second

// Broadcaster fans an event out to one room. Satisfied by *hub.Hub.
type Broadcaster interface {
	Broadcast(roomID, event string, data any, excludeUserID string)
}

type entry struct {
	username string
	timer    *time.Timer
}

// Manager holds one cancellable timer per (room, user) pair. All map
// mutations happen under the mutex; timer callbacks re-check entry identity
// so a fire racing a refresh never removes the fresh entry.
type Manager struct {
	mu     sync.Mutex
	rooms  map[string]map[string]*entry // roomID -> userID -> entry
	window time.Duration
	b      Broadcaster
	log    *zap.SugaredLogger
}

func NewManager(window time.Duration, b Broadcaster, log *zap.SugaredLogger) *Manager {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Manager{
		rooms:  make(map[string]map[string]*entry),
		window: window,
		b:      b,
		log:    log,
	}
}

// Signal records that the user is typing in the room. The first signal of an
// active period broadcasts user_typing to the rest of the room; while the
// entry is live, further signals only push the expiry out.
func (m *Manager) Signal(roomID, userID, username string) {
	if roomID == "" || userID == "" {
		return
	}

	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		room = make(map[string]*entry)
		m.rooms[roomID] = room
	}
	if e, ok := room[userID]; ok {
		e.timer.Reset(m.window)
		m.mu.Unlock()
		return
	}
	e := &entry{username: username}
	e.timer = time.AfterFunc(m.window, func() {
		m.expire(roomID, userID, e)
	})
	room[userID] = e
	m.mu.Unlock()

	m.b.Broadcast(roomID, protocol.EventUserTyping, protocol.UserTypingData{
		UserID:   userID,
		Username: username,
	}, userID)
}

// expire removes the entry when its window elapses. Identity check: a stale
// timer that lost the race against a refresh or a newer entry does nothing.
func (m *Manager) expire(roomID, userID string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok || room[userID] != e {
		return
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(m.rooms, roomID)
	}
}

// ClearUser cancels the user's typing entries in every room. Called on room
// leave and on disconnect so no timer is left dangling.
func (m *Manager) ClearUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for roomID, room := range m.rooms {
		if e, ok := room[userID]; ok {
			e.timer.Stop()
			delete(room, userID)
			if len(room) == 0 {
				delete(m.rooms, roomID)
			}
		}
	}
}

// Typists returns the users currently typing in the room.
func (m *Manager) Typists(roomID string) []protocol.RoomUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.RoomUser, 0)
	for userID, e := range m.rooms[roomID] {
		out = append(out, protocol.RoomUser{UserID: userID, Username: e.username})
	}
	return out
}

// Stop cancels every timer. Used on shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for roomID, room := range m.rooms {
		for userID, e := range room {
			e.timer.Stop()
			delete(room, userID)
		}
		delete(m.rooms, roomID)
	}
}
