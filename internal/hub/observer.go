package hub

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Observer is one long-lived duplex attachment. It is registered with at
// most one player id (via an inbound "register" message) and owns a
// bounded outbound queue; writePump is the only goroutine that touches
// the underlying connection for writes.
type Observer struct {
	hub  *Hub
	conn Conn
	send chan []byte

	mu        sync.RWMutex
	playerID  string
	lastSeen  time.Time
	closeOnce sync.Once
}

func newObserver(h *Hub, conn Conn) *Observer {
	return &Observer{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.cfg.ObserverQueueSize),
		lastSeen: time.Now(),
	}
}

// PlayerID returns the player id bound to this observer, or "" if none.
func (o *Observer) PlayerID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.playerID
}

func (o *Observer) bind(playerID string) {
	o.mu.Lock()
	o.playerID = playerID
	o.mu.Unlock()
}

func (o *Observer) touch() {
	o.mu.Lock()
	o.lastSeen = time.Now()
	o.mu.Unlock()
}

func (o *Observer) idleSince() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return time.Since(o.lastSeen)
}

// enqueue is the hub's non-blocking fan-out write. It reports whether the
// message was accepted; a false return means the observer's queue is full
// and it must be dropped rather than allowed to stall the caller.
func (o *Observer) enqueue(msg []byte) bool {
	select {
	case o.send <- msg:
		return true
	default:
		return false
	}
}

// closeConn closes the underlying connection exactly once; readPump's
// resulting ReadMessage error drives unregistration.
func (o *Observer) closeConn() {
	o.closeOnce.Do(func() {
		_ = o.conn.Close()
	})
}

// writePump drains send and writes frames to the connection, and emits a
// periodic ping so liveness can be tracked independent of inbound traffic.
func (o *Observer) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		o.closeConn()
	}()

	for {
		select {
		case msg, ok := <-o.send:
			if !ok {
				return
			}
			_ = o.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := o.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = o.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads inbound frames and dispatches them; it returns (and
// unregisters the observer) on any read error or close frame. Panics
// inside dispatch are contained here so one bad observer can never take
// down the hub or another observer.
func (o *Observer) readPump(h *Hub) {
	defer func() {
		if r := recover(); r != nil {
			h.logPanic(o, r)
		}
		h.unregisterCh <- o
	}()

	o.conn.SetPongHandler(func(string) error {
		o.touch()
		return nil
	})

	for {
		_, msg, err := o.conn.ReadMessage()
		if err != nil {
			return
		}
		o.touch()
		h.dispatch(o, msg)
	}
}
