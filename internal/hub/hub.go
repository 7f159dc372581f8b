// Package hub implements the Broadcast Hub: it owns the set of connected
// observers, fans out Round Engine events to all of them in emission
// order, and routes each observer's inbound register/cash_out/get_state/
// ping messages to the appropriate handler. The engine never calls hub
// methods directly; it only ever calls Publish, which this package's
// Hub implements to satisfy engine.Sink, keeping the dependency one-way.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"crashcore/internal/config"
	"crashcore/internal/events"
)

// Hub is the Broadcast Hub. Construct with New, call Run in its own
// goroutine before accepting any Attach calls.
type Hub struct {
	engine RoundEngine
	cfg    config.HubConfig

	mu        sync.RWMutex
	observers map[*Observer]bool

	broadcast    chan events.Outbound
	registerCh   chan *Observer
	unregisterCh chan *Observer
}

// New constructs a Hub bound to engine (used only for CashOut and
// Snapshot; the engine->hub edge stays one-way).
func New(engine RoundEngine, cfg config.HubConfig) *Hub {
	return &Hub{
		engine:       engine,
		cfg:          cfg,
		observers:    make(map[*Observer]bool),
		broadcast:    make(chan events.Outbound, 4096),
		registerCh:   make(chan *Observer),
		unregisterCh: make(chan *Observer),
	}
}

// Publish implements engine.Sink. It never blocks: events are handed to
// a large internal buffer drained by Run, so a slow or stalled fan-out
// can never stall the tick loop.
func (h *Hub) Publish(evt events.Outbound) {
	select {
	case h.broadcast <- evt:
	default:
		log.Printf("[HUB] broadcast buffer full, dropping %s event", evt.Kind)
	}
}

// Run drives registration, unregistration, fan-out, and the reap sweep.
// Call once, in its own goroutine.
func (h *Hub) Run() {
	reapTicker := time.NewTicker(h.cfg.PingInterval)
	defer reapTicker.Stop()

	for {
		select {
		case o := <-h.registerCh:
			h.mu.Lock()
			h.observers[o] = true
			n := len(h.observers)
			h.mu.Unlock()
			log.Printf("[HUB] observer attached (total: %d)", n)

		case o := <-h.unregisterCh:
			h.remove(o)

		case evt := <-h.broadcast:
			h.fanOut(evt)

		case <-reapTicker.C:
			h.reapStale()
		}
	}
}

// fanOut serialises evt once and hands it to every observer's queue in
// the same order events arrive here, preserving each observer's ordering.
// An observer whose queue is already full is dropped rather than allowed
// to stall delivery to the rest.
func (h *Hub) fanOut(evt events.Outbound) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[HUB] marshal error for %s: %v", evt.Kind, err)
		return
	}

	h.mu.RLock()
	toDrop := make([]*Observer, 0)
	for o := range h.observers {
		if !o.enqueue(data) {
			toDrop = append(toDrop, o)
		}
	}
	h.mu.RUnlock()

	for _, o := range toDrop {
		log.Printf("[HUB] observer queue exceeded %d pending events, dropping", h.cfg.ObserverQueueSize)
		h.remove(o)
	}
}

// remove detaches o from the observer set and tears down its connection.
// Must only be called from the Run goroutine.
func (h *Hub) remove(o *Observer) {
	h.mu.Lock()
	if _, ok := h.observers[o]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.observers, o)
	n := len(h.observers)
	h.mu.Unlock()

	close(o.send)
	o.closeConn()
	log.Printf("[HUB] observer detached (total: %d)", n)
}

// reapStale closes any observer silent for longer than cfg.ReapAfter.
func (h *Hub) reapStale() {
	h.mu.RLock()
	var stale []*Observer
	for o := range h.observers {
		if o.idleSince() > h.cfg.ReapAfter {
			stale = append(stale, o)
		}
	}
	h.mu.RUnlock()

	for _, o := range stale {
		log.Printf("[HUB] reaping observer silent for over %s", h.cfg.ReapAfter)
		h.remove(o)
	}
}

// Attach registers a new observer over conn and starts its read/write
// pumps. Call from the HTTP upgrade handler; it blocks until the
// connection closes.
func (h *Hub) Attach(conn Conn) {
	o := newObserver(h, conn)
	h.registerCh <- o

	go o.writePump(h.cfg.PingInterval)
	o.readPump(h)
}

// Count returns the number of currently attached observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Shutdown queues a "server_shutdown" message for every attached observer
// and closes its connection. The engine finishes or aborts its round
// first, then the hub severs all connections. No WebSocket close frame or
// close code is sent, and the connection is closed without waiting for
// the queued message to be written.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	all := make([]*Observer, 0, len(h.observers))
	for o := range h.observers {
		all = append(all, o)
	}
	h.mu.RUnlock()

	for _, o := range all {
		closeMsg, _ := json.Marshal(events.Reply{Kind: "server_shutdown"})
		o.enqueue(closeMsg)
		o.closeConn()
	}
}

func (h *Hub) logPanic(o *Observer, r interface{}) {
	log.Printf("[HUB] recovered panic in observer handler for player %q: %v", o.PlayerID(), r)
}
