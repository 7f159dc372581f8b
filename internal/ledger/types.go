package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is an enumerated tag identifying a digital-asset denomination.
type Asset string

// TransactionKind enumerates the append-only transaction log's entry types.
type TransactionKind string

const (
	TxWager      TransactionKind = "wager"
	TxCashout    TransactionKind = "cashout"
	TxDeposit    TransactionKind = "deposit"
	TxWithdrawal TransactionKind = "withdrawal"
)

// Player is identified by an opaque external id; balance is mutated only
// through Ledger operations. Never deleted, only soft-disabled.
type Player struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Active       bool      `json:"active"`
	WagersPlaced int64     `json:"wagers_placed"`
	Wins         int64     `json:"wins"`
	Losses       int64     `json:"losses"`
	CreatedAt    time.Time `json:"created_at"`
}

// Balance reports a player's holdings across supported assets, priced at
// query time, plus the fiat-equivalent total.
type Balance struct {
	PlayerID  string                    `json:"player_id"`
	Amounts   map[Asset]decimal.Decimal `json:"amounts"`
	Prices    map[Asset]decimal.Decimal `json:"prices"`
	TotalFiat decimal.Decimal           `json:"total_fiat"`
}

// Transaction is an append-only audit record. Never mutated after write.
type Transaction struct {
	ID            string          `json:"id"`
	PlayerID      string          `json:"player_id"`
	RoundID       string          `json:"round_id,omitempty"` // empty for non-round transactions (deposit/withdrawal)
	WagerID       string          `json:"wager_id,omitempty"` // empty unless Kind is wager or cashout
	Kind          TransactionKind `json:"kind"`
	FiatAmount    decimal.Decimal `json:"fiat_amount"`
	AssetAmount   decimal.Decimal `json:"asset_amount"`
	Asset         Asset           `json:"asset"`
	PriceAtTime   decimal.Decimal `json:"price_at_time"`
	Multiplier    decimal.Decimal `json:"multiplier"` // zero value when not applicable
	HasMultiplier bool            `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
}

// HistoryFilter narrows a transaction-history query.
type HistoryFilter struct {
	Kind TransactionKind // empty means no filter
}

// Page carries offset-pagination parameters; the store replaces a Number
// below 1 with 1 and a Size outside 1-200 with 20.
type Page struct {
	Number int // 1-based
	Size   int
}

// PagedTransactions is the paged response shape used across history
// operations.
type PagedTransactions struct {
	Items    []Transaction
	Page     int
	PageSize int
	Total    int64
}
