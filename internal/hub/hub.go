// Package hub owns the registry of live connections and the room fan-out.
// It is the only place that holds shared mutable realtime state on the
// server; everything goes through one mutex.
package hub

import (
	"sync"

	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/pkg/protocol"
)

// Conn is the transport seam. The websocket layer implements it with a
// buffered send channel, so Send never blocks on a slow peer.
type Conn interface {
	Send(data []byte) error
	Close() error
}

type entry struct {
	username string
	roomID   string // "" when the user is not in a room
	conn     Conn
}

type Hub struct {
	mu      sync.Mutex
	entries map[string]*entry // userID -> entry
	log     *zap.SugaredLogger
}

func New(log *zap.SugaredLogger) *Hub {
	return &Hub{
		entries: make(map[string]*entry),
		log:     log,
	}
}

// Register records a user's live connection. Last connection wins: an
// existing entry for the same user is replaced and its connection closed,
// so reconnect storms do not leak sockets. Returns the room the superseded
// entry occupied, "" if none, so callers can push a refreshed presence
// snapshot to the room that silently lost the user.
func (h *Hub) Register(userID, username string, conn Conn) (prevRoom string) {
	h.mu.Lock()
	old, existed := h.entries[userID]
	h.entries[userID] = &entry{username: username, conn: conn}
	h.mu.Unlock()

	if !existed {
		return ""
	}
	if old.conn != conn {
		_ = old.conn.Close()
		h.log.Infow("connection superseded", "userId", userID)
	}
	return old.roomID
}

// SetRoom moves the user's recorded room and returns the room it left, ""
// if none. Unknown users are a no-op: a SetRoom racing a close is stale,
// not an error.
func (h *Hub) SetRoom(userID, roomID string) (prev string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[userID]
	if !ok {
		return ""
	}
	prev = e.roomID
	e.roomID = roomID
	return prev
}

// Unregister removes the user's entry and returns the room it occupied.
// When conn is non-nil the entry is only removed if it still belongs to
// that connection: a close arriving after the user reconnected must not
// evict the newer connection. removed reports whether an entry actually
// went away, so callers can skip cleanup on stale closes.
func (h *Hub) Unregister(userID string, conn Conn) (prev string, removed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[userID]
	if !ok {
		return "", false
	}
	if conn != nil && e.conn != conn {
		return "", false
	}
	delete(h.entries, userID)
	return e.roomID, true
}

// MembersOf computes a fresh presence snapshot for the room. Linear scan;
// the registry is small and in-process.
func (h *Hub) MembersOf(roomID string) []protocol.RoomUser {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := make([]protocol.RoomUser, 0)
	if roomID == "" {
		return members
	}
	for userID, e := range h.entries {
		if e.roomID == roomID {
			members = append(members, protocol.RoomUser{UserID: userID, Username: e.username})
		}
	}
	return members
}

// Broadcast delivers an event to every connection currently in the room,
// skipping excludeUserID if non-empty. Delivery is best effort per
// recipient: one failed send is logged and the loop keeps going.
func (h *Hub) Broadcast(roomID, event string, data any, excludeUserID string) {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		h.log.Errorw("encode broadcast", "event", event, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, e := range h.entries {
		if e.roomID != roomID || userID == excludeUserID {
			continue
		}
		if err := e.conn.Send(frame); err != nil {
			h.log.Warnw("send failed", "userId", userID, "roomId", roomID, "event", event, "error", err)
		}
	}
}

// BroadcastUserList sends the room's presence snapshot to everyone in it.
func (h *Hub) BroadcastUserList(roomID string) {
	if roomID == "" {
		return
	}
	h.Broadcast(roomID, protocol.EventUsersInRoom, h.MembersOf(roomID), "")
}
