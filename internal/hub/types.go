package hub

import (
	"time"

	"crashcore/internal/engine"
	"crashcore/internal/events"
)

// Conn is the minimal duplex transport an Observer wraps. Satisfied by
// *github.com/gofiber/contrib/websocket.Conn; narrowed to an interface so
// this package's dispatch logic can be exercised without a live socket.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// RoundEngine is the narrow slice of the Round Engine the hub is allowed
// to call. The hub never holds the
// engine itself beyond this interface: it calls cash-out and reads a
// snapshot, and nothing else.
type RoundEngine interface {
	CashOut(playerID string) engine.CashOutResult
	Snapshot() events.StateSnapshot
}
