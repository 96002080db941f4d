// Package api exposes the service's HTTP surface: the websocket upgrade
// endpoint plus small read-only views over the live registry.
package api

import (
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"

	"github.com/fathima-sithara/realtime-service/internal/hub"
	"github.com/fathima-sithara/realtime-service/internal/typing"
)

type Server struct {
	hub    *hub.Hub
	typing *typing.Manager
}

// NewApp builds the fiber app. wsHandler serves an upgraded connection; see
// internal/ws.Server.Handler.
func NewApp(h *hub.Hub, t *typing.Manager, wsHandler func(*websocket.Conn)) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(fiberlogger.New())
	s := &Server{hub: h, typing: t}

	v1 := app.Group("/v1")

	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/ws", websocket.New(wsHandler))

	v1.Get("/rooms/:room_id/presence", s.getRoomPresence)
	v1.Get("/rooms/:room_id/typing", s.getRoomTyping)

	return app
}

func (s *Server) getRoomPresence(c *fiber.Ctx) error {
	roomID := c.Params("room_id")
	return c.JSON(fiber.Map{"roomId": roomID, "users": s.hub.MembersOf(roomID)})
}

func (s *Server) getRoomTyping(c *fiber.Ctx) error {
	roomID := c.Params("room_id")
	return c.JSON(fiber.Map{"roomId": roomID, "users": s.typing.Typists(roomID)})
}
