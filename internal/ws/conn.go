package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const sendBufferSize = 256

// ErrSendBufferFull means the peer is not draining its socket fast enough.
// The frame is dropped so one slow connection cannot stall a broadcast.
var ErrSendBufferFull = errors.New("ws: send buffer full")

var ErrConnClosed = errors.New("ws: connection closed")

// Conn wraps a server-side websocket connection with a buffered outbound
// channel drained by a write pump, implementing hub.Conn.
type Conn struct {
	ws            *websocket.Conn
	send          chan []byte
	pingInterval  time.Duration
	writeDeadline time.Duration
	log           *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
}

func newConn(wsc *websocket.Conn, pingInterval, writeDeadline time.Duration, log *zap.SugaredLogger) *Conn {
	return &Conn{
		ws:            wsc,
		send:          make(chan []byte, sendBufferSize),
		pingInterval:  pingInterval,
		writeDeadline: writeDeadline,
		log:           log,
	}
}

// Send queues a frame for the write pump. Never blocks: a full buffer is an
// error for the caller to log, not a stall.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close shuts the outbound channel and the underlying socket. Safe to call
// more than once and from any goroutine.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	return c.ws.Close()
}

// writePump serializes all writes to the socket: queued frames plus
// keepalive pings. Exits when the send channel closes or a write fails;
// closing the socket on the way out unblocks the read loop.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeDeadline))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debugw("write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeDeadline))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
