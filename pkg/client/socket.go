// Package client is the Go session adapter for the realtime service: one
// outbound websocket connection with subscribe/publish semantics, plus a
// room session that keeps a local view of the current room.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/pkg/protocol"
)

func closeWriteDeadline() time.Time {
	return time.Now().Add(time.Second)
}

// State of the socket. No automatic reconnect: after a disconnect the caller
// has to ask for a new connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	ErrNotConnected     = errors.New("client: not connected")
	ErrAlreadyConnected = errors.New("client: already connected")
)

// Handler receives the data portion of a matching inbound frame. Handlers
// for one socket run on a single goroutine, in subscription order; no two
// dispatches overlap.
type Handler func(data json.RawMessage)

type subscriber struct {
	id uint64
	fn Handler
}

// Subscription is the opaque handle returned by On. Cancelling through the
// handle removes exactly this subscriber, even if the same function was
// subscribed twice.
type Subscription interface {
	Cancel()
}

type socketSubscription struct {
	sock  *Socket
	event string
	id    uint64
}

// Cancel removes the subscription. Safe to call more than once.
func (s *socketSubscription) Cancel() {
	s.sock.mu.Lock()
	defer s.sock.mu.Unlock()
	subs := s.sock.subs[s.event]
	for i, sub := range subs {
		if sub.id == s.id {
			s.sock.subs[s.event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

// Socket owns one outbound websocket connection.
type Socket struct {
	mu      sync.Mutex
	writeMu sync.Mutex
	state   State
	conn    *websocket.Conn
	subs    map[string][]subscriber
	nextID  uint64
	log     *zap.SugaredLogger
}

func NewSocket(log *zap.SugaredLogger) *Socket {
	return &Socket{
		subs: make(map[string][]subscriber),
		log:  log,
	}
}

// State returns the current connection state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the server and starts the read loop. Only valid while
// disconnected.
func (s *Socket) Connect(ctx context.Context, url string) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.mu.Unlock()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return fmt.Errorf("client: dial %s: %w", url, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.mu.Unlock()

	go s.readLoop(conn)
	return nil
}

// Emit sends one frame. While not connected the frame is not queued; the
// caller gets ErrNotConnected instead.
func (s *Socket) Emit(event string, data any) error {
	s.mu.Lock()
	if s.state != StateConnected || s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.Unlock()

	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// On registers a callback for an event name. Multiple subscribers per event
// are allowed and fire in subscription order.
func (s *Socket) On(event string, fn Handler) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs[event] = append(s.subs[event], subscriber{id: id, fn: fn})
	return &socketSubscription{sock: s, event: event, id: id}
}

// Close tears the connection down immediately and clears every
// subscription, so transient views do not leak listeners across reconnects.
func (s *Socket) Close() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.subs = make(map[string][]subscriber)
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			closeWriteDeadline())
		s.writeMu.Unlock()
		_ = conn.Close()
	}
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			// only demote state if this connection is still the current one
			if s.conn == conn {
				s.conn = nil
				s.state = StateDisconnected
			}
			s.mu.Unlock()
			_ = conn.Close()
			return
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			s.log.Warnw("malformed frame dropped", "error", err)
			continue
		}

		s.mu.Lock()
		handlers := append([]subscriber(nil), s.subs[env.Event]...)
		s.mu.Unlock()

		for _, sub := range handlers {
			sub.fn(env.Data)
		}
	}
}
