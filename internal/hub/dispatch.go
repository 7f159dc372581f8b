package hub

import (
	"encoding/json"
	"log"

	"crashcore/internal/events"
)

// dispatch decodes one inbound frame and routes it to the matching
// handler. Each inbound kind is a distinct variant of events.Inbound, a
// tagged sum; this is the one place that switches on Kind.
func (h *Hub) dispatch(o *Observer, raw []byte) {
	var in events.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		o.enqueue(mustJSON(events.Reply{Kind: events.RegisterError, Error: "malformed message"}))
		return
	}

	switch in.Kind {
	case events.Register:
		h.handleRegister(o, in)
	case events.CashOut:
		h.handleCashOut(o, in)
	case events.GetState:
		h.handleGetState(o)
	case events.Ping:
		o.enqueue(mustJSON(events.Reply{Kind: events.Pong}))
	default:
		log.Printf("[HUB] unknown inbound kind %q", in.Kind)
	}
}

func (h *Hub) handleRegister(o *Observer, in events.Inbound) {
	if in.PlayerID == "" {
		o.enqueue(mustJSON(events.Reply{Kind: events.RegisterError, Error: "player_id is required"}))
		return
	}
	o.bind(in.PlayerID)
	o.enqueue(mustJSON(events.Reply{Kind: events.Registered, Data: in.PlayerID}))
}

func (h *Hub) handleCashOut(o *Observer, in events.Inbound) {
	playerID := in.PlayerID
	if playerID == "" {
		playerID = o.PlayerID()
	}
	if playerID == "" {
		o.enqueue(mustJSON(events.Reply{Kind: events.CashoutErr, Error: "not registered to a player"}))
		return
	}

	result := h.engine.CashOut(playerID)
	if result.Err != nil {
		o.enqueue(mustJSON(events.Reply{Kind: events.CashoutErr, Error: result.Err.Error()}))
		return
	}

	o.enqueue(mustJSON(events.Reply{
		Kind: events.CashoutOK,
		Data: events.CashoutResultData{
			Multiplier:  result.Multiplier,
			PayoutFiat:  result.PayoutFiat,
			PayoutAsset: result.PayoutAsset,
			Asset:       result.Asset,
		},
	}))
}

func (h *Hub) handleGetState(o *Observer) {
	snap := h.engine.Snapshot()
	o.enqueue(mustJSON(events.Reply{Kind: events.State, Data: snap}))
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[HUB] marshal reply error: %v", err)
		return []byte(`{"type":"register_error","error":"internal error"}`)
	}
	return data
}
