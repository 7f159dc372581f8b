// Package events defines the wire-level tagged-sum messages exchanged
// between the Round Engine, the Broadcast Hub, and observers. Keeping
// both directions here, rather than scattered across engine and hub,
// gives the dispatch on message kind a single home.
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutboundKind enumerates engine-to-observer event types.
type OutboundKind string

const (
	RoundStarted    OutboundKind = "round_started"
	MultiplierTick  OutboundKind = "multiplier_tick"
	RoundCrashed    OutboundKind = "round_crashed"
	WagerPlaced     OutboundKind = "wager_placed"
	CashoutAccepted OutboundKind = "cashout_accepted"
)

// Outbound is the single envelope broadcast to observers; Data holds one
// of the *Data structs below depending on Kind.
type Outbound struct {
	Kind OutboundKind `json:"type"`
	Data interface{}  `json:"data"`
}

type RoundStartedData struct {
	RoundID   string    `json:"round_id"`
	Hash      string    `json:"hash"`
	StartTime time.Time `json:"start_time"`
}

type MultiplierTickData struct {
	RoundID    string          `json:"round_id"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Now        time.Time       `json:"now"`
}

type RoundCrashedData struct {
	RoundID    string          `json:"round_id"`
	CrashPoint decimal.Decimal `json:"crash_point"`
	Seed       string          `json:"seed"`
	Now        time.Time       `json:"now"`
}

type WagerPlacedData struct {
	RoundID    string          `json:"round_id"`
	PlayerID   string          `json:"player_id"`
	StakeFiat  decimal.Decimal `json:"stake_fiat"`
	StakeAsset decimal.Decimal `json:"stake_asset"`
	Asset      string          `json:"asset"`
}

type CashoutAcceptedData struct {
	RoundID    string          `json:"round_id"`
	PlayerID   string          `json:"player_id"`
	Multiplier decimal.Decimal `json:"multiplier"`
	PayoutFiat decimal.Decimal `json:"payout_fiat"`
	Asset      string          `json:"asset"`
}

// InboundKind enumerates observer-to-hub message types.
type InboundKind string

const (
	Register InboundKind = "register"
	CashOut  InboundKind = "cash_out"
	GetState InboundKind = "get_state"
	Ping     InboundKind = "ping"
)

// Inbound is the single envelope an observer sends; only the field
// relevant to Kind is populated.
type Inbound struct {
	Kind     InboundKind `json:"type"`
	PlayerID string      `json:"player_id,omitempty"`
}

// ReplyKind enumerates hub-to-observer direct replies (as opposed to
// fanned-out broadcasts).
type ReplyKind string

const (
	Registered    ReplyKind = "registered"
	RegisterError ReplyKind = "register_error"
	CashoutOK     ReplyKind = "cashout_ok"
	CashoutErr    ReplyKind = "cashout_err"
	State         ReplyKind = "state"
	Pong          ReplyKind = "pong"
)

// Reply is the envelope for direct (non-broadcast) responses to an
// observer's inbound message.
type Reply struct {
	Kind  ReplyKind   `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// StateSnapshot is the get_state reply payload and the current-round
// facade query's output.
type StateSnapshot struct {
	RoundID    string          `json:"round_id"`
	State      string          `json:"state"`
	Multiplier decimal.Decimal `json:"multiplier"`
	IsLive     bool            `json:"is_live"`
	StartTime  time.Time       `json:"start_time"`
	WagerCount int             `json:"wager_count"`
	Hash       string          `json:"hash"`
}

// CashoutResultData is the cashout_ok reply payload.
type CashoutResultData struct {
	Multiplier  decimal.Decimal `json:"multiplier"`
	PayoutFiat  decimal.Decimal `json:"payout_fiat"`
	PayoutAsset decimal.Decimal `json:"payout_asset"`
	Asset       string          `json:"asset"`
}
