package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"crashcore/internal/events"
)

// Sink is the engine's outbound publication point. The hub implements
// this; the engine never calls hub methods directly, only Publish, so
// the tick loop's backpressure point is this one call.
type Sink interface {
	Publish(events.Outbound)
}

// PlaceWagerRequest is sent on the engine's bet channel; Reply receives
// exactly one PlaceWagerResult.
type PlaceWagerRequest struct {
	PlayerID  string
	StakeFiat decimal.Decimal
	Asset     string
	Reply     chan PlaceWagerResult
}

type PlaceWagerResult struct {
	WagerID string
	Err     error
}

// CashOutRequest is sent on the engine's cash-out channel; Reply receives
// exactly one CashOutResult.
type CashOutRequest struct {
	PlayerID string
	Reply    chan CashOutResult
}

type CashOutResult struct {
	Multiplier  decimal.Decimal
	PayoutFiat  decimal.Decimal
	PayoutAsset decimal.Decimal
	Asset       string
	Err         error
}

type wagerInfo struct {
	wagerID    string
	asset      string
	stakeFiat  decimal.Decimal
	stakeAsset decimal.Decimal
	price      decimal.Decimal
}

// liveRound is the Round Engine's sole in-memory mutable round value.
type liveRound struct {
	id         string
	number     int64
	seed       string
	hash       string
	crashPoint decimal.Decimal
	state      string // betting, live, crashed, settled
	startTime  time.Time
	liveStart  time.Time
	multiplier decimal.Decimal
	peak       decimal.Decimal
	openWagers map[string]wagerInfo // keyed by player id
}
