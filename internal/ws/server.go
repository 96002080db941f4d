package ws

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/auth"
	"github.com/fathima-sithara/realtime-service/internal/config"
)

// Server ties the upgrade handler to the dispatcher.
type Server struct {
	dispatcher *Dispatcher
	cfg        *config.Config
	log        *zap.SugaredLogger
}

func NewServer(d *Dispatcher, cfg *config.Config, log *zap.SugaredLogger) *Server {
	return &Server{dispatcher: d, cfg: cfg, log: log}
}

// Handler returns the websocket handler for /v1/ws?token=<jwt>. The token
// gates the upgrade; the identity it carries is what join_room payloads are
// checked against.
func (s *Server) Handler() func(*websocket.Conn) {
	return func(wsc *websocket.Conn) {
		token := wsc.Query("token")
		if token == "" {
			_ = wsc.Close()
			return
		}
		claims, err := auth.ParseAndValidateToken(s.cfg.App.JWTSecret, token)
		if err != nil {
			s.log.Warnw("upgrade rejected", "error", err)
			_ = wsc.Close()
			return
		}

		conn := newConn(wsc, s.cfg.PingInterval, s.cfg.WriteDeadline, s.log)
		go conn.writePump()

		sess := s.dispatcher.NewSession(conn, claims)
		s.log.Infow("connection opened", "userId", claims.UserID)

		defer func() {
			s.dispatcher.CloseSession(sess)
			_ = conn.Close()
			s.log.Infow("connection closed", "userId", claims.UserID)
		}()

		wsc.SetReadLimit(s.cfg.WS.MaxMessageSizeBytes)
		_ = wsc.SetReadDeadline(time.Now().Add(s.cfg.ReadDeadline))
		wsc.SetPongHandler(func(string) error {
			return wsc.SetReadDeadline(time.Now().Add(s.cfg.ReadDeadline))
		})

		for {
			mt, data, err := wsc.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			s.dispatcher.HandleFrame(sess, data)
		}
	}
}
