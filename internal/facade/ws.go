package facade

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// WSUpgrade gates /stream to WebSocket-only requests: a dedicated
// pre-check before websocket.New takes over the connection.
func (s *Service) WSUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Stream is the long-lived duplex observer endpoint: one connection
// carries round_started/multiplier_tick/round_crashed fan-out and
// accepts register/cash_out/get_state/ping inbound messages, all routed
// through the Broadcast Hub.
func (s *Service) Stream(conn *websocket.Conn) {
	s.Hub.Attach(conn)
}
