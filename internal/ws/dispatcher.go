// Package ws is the wire edge of the realtime core: it upgrades connections,
// decodes inbound frames, and turns them into registry, typing, and
// broadcast operations.
package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/auth"
	"github.com/fathima-sithara/realtime-service/internal/events"
	"github.com/fathima-sithara/realtime-service/internal/hub"
	"github.com/fathima-sithara/realtime-service/internal/presence"
	"github.com/fathima-sithara/realtime-service/internal/typing"
	"github.com/fathima-sithara/realtime-service/pkg/protocol"
)

const mirrorTimeout = 2 * time.Second

// Session is the per-connection state the dispatcher tracks: the identity
// the connection registered under and the room it currently occupies.
type Session struct {
	conn     hub.Conn
	claims   *auth.Claims
	userID   string
	username string
	roomID   string
}

// Dispatcher routes decoded frames to the hub and typing manager. mirror
// and producer may be nil; both are best-effort side channels that run off
// the frame-handling path.
type Dispatcher struct {
	hub      *hub.Hub
	typing   *typing.Manager
	mirror   presence.Mirror
	producer events.Producer
	log      *zap.SugaredLogger
}

func NewDispatcher(h *hub.Hub, t *typing.Manager, mirror presence.Mirror, producer events.Producer, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{hub: h, typing: t, mirror: mirror, producer: producer, log: log}
}

// NewSession wraps an accepted connection. Registration with the hub waits
// for the first join_room frame, as the payload carries the identity the
// user joins under.
func (d *Dispatcher) NewSession(conn hub.Conn, claims *auth.Claims) *Session {
	return &Session{conn: conn, claims: claims}
}

// HandleFrame decodes and applies one inbound frame. Malformed and unknown
// frames are dropped with a warning; nothing here tears the connection down.
func (d *Dispatcher) HandleFrame(s *Session, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		d.log.Warnw("malformed frame dropped", "error", err)
		return
	}

	switch env.Event {
	case protocol.EventJoinRoom:
		var data protocol.JoinRoomData
		if err := json.Unmarshal(env.Data, &data); err != nil || data.UserID == "" || data.RoomID == "" {
			d.log.Warnw("bad join_room payload dropped", "error", err)
			return
		}
		d.handleJoin(s, data)
	case protocol.EventLeaveRoom:
		var data protocol.LeaveRoomData
		if err := json.Unmarshal(env.Data, &data); err != nil || data.RoomID == "" {
			d.log.Warnw("bad leave_room payload dropped", "error", err)
			return
		}
		d.handleLeave(s, data)
	case protocol.EventSendMessage:
		var data protocol.SendMessageData
		if err := json.Unmarshal(env.Data, &data); err != nil || data.RoomID == "" || data.UserID == "" {
			d.log.Warnw("bad send_message payload dropped", "error", err)
			return
		}
		d.handleSendMessage(data)
	case protocol.EventTyping:
		var data protocol.TypingData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			d.log.Warnw("bad typing payload dropped", "error", err)
			return
		}
		d.typing.Signal(data.RoomID, data.UserID, data.Username)
	default:
		d.log.Warnw("unknown event dropped", "event", env.Event)
	}
}

func (d *Dispatcher) handleJoin(s *Session, data protocol.JoinRoomData) {
	if s.claims != nil && data.UserID != s.claims.UserID {
		d.log.Warnw("join_room identity differs from token", "tokenUserId", s.claims.UserID, "payloadUserId", data.UserID)
	}

	// Leaving the previous room comes first so its members see the updated
	// list before the new room's snapshot goes out.
	if s.roomID != "" {
		if prev := d.hub.SetRoom(s.userID, ""); prev != "" {
			d.hub.BroadcastUserList(prev)
		}
	}

	// A reconnect may supersede an entry that was still in a room; that room
	// needs a refreshed snapshot too, or its members keep showing the user.
	supersededRoom := d.hub.Register(data.UserID, data.Username, s.conn)
	d.hub.SetRoom(data.UserID, data.RoomID)
	s.userID = data.UserID
	s.username = data.Username
	s.roomID = data.RoomID

	if supersededRoom != "" && supersededRoom != data.RoomID {
		d.hub.BroadcastUserList(supersededRoom)
	}
	d.hub.BroadcastUserList(data.RoomID)
	d.markPresence(data.UserID, true)
}

func (d *Dispatcher) handleLeave(s *Session, data protocol.LeaveRoomData) {
	if s.userID == "" {
		return
	}
	d.hub.SetRoom(s.userID, "")
	d.typing.ClearUser(s.userID)
	s.roomID = ""
	d.hub.BroadcastUserList(data.RoomID)
}

func (d *Dispatcher) handleSendMessage(data protocol.SendMessageData) {
	// The sender already persisted the message and appended it locally;
	// here it only gets a transient record and a fan-out to the peers.
	msg := protocol.Message{
		ID:        uuid.NewString(),
		Content:   data.Message,
		UserID:    data.UserID,
		RoomID:    data.RoomID,
		CreatedAt: time.Now().UTC(),
		User: protocol.User{
			ID:       data.UserID,
			Username: data.Username,
		},
	}
	d.hub.Broadcast(data.RoomID, protocol.EventNewMessage, msg, data.UserID)

	if d.producer != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			defer cancel()
			if err := d.producer.PublishMessageSent(ctx, msg); err != nil {
				d.log.Warnw("message event publish failed", "roomId", msg.RoomID, "error", err)
			}
		}()
	}
}

// CloseSession runs the transport-close cleanup: drop the registry entry,
// cancel the user's typing entries, and tell the vacated room. A close that
// lost the race against a reconnect leaves the fresh entry alone.
func (d *Dispatcher) CloseSession(s *Session) {
	if s.userID == "" {
		return
	}
	prev, removed := d.hub.Unregister(s.userID, s.conn)
	if !removed {
		return
	}
	d.typing.ClearUser(s.userID)
	if prev != "" {
		d.hub.BroadcastUserList(prev)
	}
	d.markPresence(s.userID, false)
}

func (d *Dispatcher) markPresence(userID string, online bool) {
	if d.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		var err error
		if online {
			err = d.mirror.MarkOnline(ctx, userID)
		} else {
			err = d.mirror.MarkOffline(ctx, userID)
		}
		if err != nil {
			d.log.Debugw("presence mirror update failed", "userId", userID, "online", online, "error", err)
		}
	}()
}
