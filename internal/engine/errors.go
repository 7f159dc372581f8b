package engine

import "errors"

var (
	// ErrRoundNotBetting is returned when a bet is placed outside the
	// betting window.
	ErrRoundNotBetting = errors.New("round is not accepting bets")

	// ErrRoundNotLive is returned when a cash-out is attempted outside
	// the live phase.
	ErrRoundNotLive = errors.New("round is not live")

	// ErrAlreadyWagered is returned when a player already has an open
	// wager in the current round.
	ErrAlreadyWagered = errors.New("player already has an open wager this round")

	// ErrNoOpenWager is returned when a cash-out is attempted with no
	// matching open wager.
	ErrNoOpenWager = errors.New("no open wager for this player")
)
