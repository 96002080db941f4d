// Package protocol defines the wire format shared by the realtime server
// and the Go client: a JSON envelope {"event": ..., "data": ...} carried in
// websocket text frames, plus the payload shapes for each event.
package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// Client -> server events.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
)

// Server -> client events.
const (
	EventNewMessage  = "new_message"
	EventUsersInRoom = "users_in_room"
	EventUserTyping  = "user_typing"
)

var ErrEmptyEvent = errors.New("protocol: empty event name")

// Envelope is the frame format in both directions. Data stays raw until the
// receiver knows which payload shape the event implies.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode marshals data and wraps it in an envelope.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode parses a frame. Frames without an event name are rejected so the
// dispatcher can drop them in one place.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Event == "" {
		return nil, ErrEmptyEvent
	}
	return &env, nil
}

// RoomUser is one element of a presence snapshot.
type RoomUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// JoinRoomData is the payload of EventJoinRoom.
type JoinRoomData struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

// LeaveRoomData is the payload of EventLeaveRoom.
type LeaveRoomData struct {
	RoomID string `json:"roomId"`
}

// SendMessageData is the payload of EventSendMessage. Message carries the
// text content; the canonical record already exists in the message store by
// the time this frame is sent.
type SendMessageData struct {
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// TypingData is the payload of EventTyping.
type TypingData struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// UserTypingData is the payload of EventUserTyping.
type UserTypingData struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// User is the author block embedded in a message record.
type User struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Avatar   *string `json:"avatar"`
}

// Message is the payload of EventNewMessage and the record shape returned by
// the message store collaborator.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	UserID    string    `json:"userId"`
	RoomID    string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
	User      User      `json:"user"`
}
