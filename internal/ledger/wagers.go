package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Wager records a player's stake within a single round.
type Wager struct {
	ID                 string          `json:"id"`
	RoundID            string          `json:"round_id"`
	PlayerID           string          `json:"player_id"`
	Asset              Asset           `json:"asset"`
	StakeFiat          decimal.Decimal `json:"stake_fiat"`
	StakeAsset         decimal.Decimal `json:"stake_asset"`
	PriceAtPlacement   decimal.Decimal `json:"price_at_placement"`
	CashedOut          bool            `json:"cashed_out"`
	CashoutMultiplier  decimal.Decimal `json:"cashout_multiplier"`
	CashoutAssetAmount decimal.Decimal `json:"cashout_asset_amount"`
	PlacedAt           time.Time       `json:"placed_at"`
}

// PlaceWager atomically debits the player's balance, inserts the wager
// row, appends the wager Transaction, and increments the player's
// wagers_placed counter. Fails with ErrInsufficientBalance if the debit
// cannot be satisfied, in which case no wager or transaction is recorded.
func (s *Store) PlaceWager(ctx context.Context, w Wager, txn Transaction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := checkPlayerActive(ctx, tx, w.PlayerID); err != nil {
		return err
	}

	var current decimal.Decimal
	err = tx.QueryRow(ctx,
		`SELECT amount FROM balances WHERE player_id = $1 AND asset = $2 FOR UPDATE`,
		w.PlayerID, string(w.Asset)).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ledger: lock balance: %w", err)
	}
	if current.LessThan(w.StakeAsset) {
		return ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx,
		`UPDATE balances SET amount = amount - $1, updated_at = now() WHERE player_id = $2 AND asset = $3`,
		w.StakeAsset, w.PlayerID, string(w.Asset)); err != nil {
		return fmt.Errorf("ledger: debit stake: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO wagers (id, round_id, player_id, asset, stake_fiat, stake_asset, price_at_placement, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		w.ID, w.RoundID, w.PlayerID, string(w.Asset), w.StakeFiat, w.StakeAsset, w.PriceAtPlacement)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrWagerAlreadySettled
		}
		return fmt.Errorf("ledger: insert wager: %w", err)
	}

	if err := insertTransaction(ctx, tx, txn); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE players SET wagers_placed = wagers_placed + 1 WHERE id = $1`, w.PlayerID); err != nil {
		return fmt.Errorf("ledger: increment wagers_placed: %w", err)
	}

	return commit(ctx, tx)
}

// GetOpenWager locates a player's not-yet-cashed-out wager in a round, if
// any. Returns ErrWagerNotFound when none exists.
func (s *Store) GetOpenWager(ctx context.Context, roundID, playerID string) (*Wager, error) {
	var w Wager
	var asset string
	err := s.pool.QueryRow(ctx, `
		SELECT id, round_id, player_id, asset, stake_fiat, stake_asset, price_at_placement, placed_at
		FROM wagers WHERE round_id = $1 AND player_id = $2 AND cashed_out = false`,
		roundID, playerID,
	).Scan(&w.ID, &w.RoundID, &w.PlayerID, &asset, &w.StakeFiat, &w.StakeAsset, &w.PriceAtPlacement, &w.PlacedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWagerNotFound
		}
		return nil, fmt.Errorf("ledger: get open wager: %w", err)
	}
	w.Asset = Asset(asset)
	return &w, nil
}

// SettleCashout atomically marks a wager cashed_out, credits the payout,
// appends the cashout Transaction, and increments the player's wins
// counter. It deliberately skips the active check: a player disabled
// mid-round still gets the payout for a wager placed while enabled.
func (s *Store) SettleCashout(ctx context.Context, wagerID, playerID string, asset Asset, multiplier, payoutAsset decimal.Decimal, txn Transaction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE wagers SET cashed_out = true, cashout_multiplier = $1, cashout_asset_amount = $2
		WHERE id = $3 AND cashed_out = false`,
		multiplier, payoutAsset, wagerID)
	if err != nil {
		return fmt.Errorf("ledger: mark cashed out: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWagerAlreadySettled
	}

	if err := upsertBalanceLocked(ctx, tx, playerID, asset, payoutAsset); err != nil {
		return err
	}
	if err := insertTransaction(ctx, tx, txn); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE players SET wins = wins + 1 WHERE id = $1`, playerID); err != nil {
		return fmt.Errorf("ledger: increment wins: %w", err)
	}

	return commit(ctx, tx)
}

// SettleLoss increments a losing player's losses counter. The stake was
// already debited at placement; no further fund movement occurs.
func (s *Store) SettleLoss(ctx context.Context, playerID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE players SET losses = losses + 1 WHERE id = $1`, playerID)
	if err != nil {
		return fmt.Errorf("ledger: increment losses: %w", err)
	}
	return nil
}

// ReconcileUncreditedCashouts finds wagers marked cashed_out that have no
// cashout transaction (the wager was marked but neither the credit nor
// its log entry was written) and applies the missing credit together with
// a cashout transaction. Call once at startup.
func (s *Store) ReconcileUncreditedCashouts(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT w.id, w.player_id, w.asset, w.cashout_multiplier, w.cashout_asset_amount,
		       w.stake_fiat, w.price_at_placement, w.round_id
		FROM wagers w
		LEFT JOIN transactions t ON t.wager_id = w.id AND t.kind = 'cashout'
		WHERE w.cashed_out = true AND t.id IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("ledger: reconcile query: %w", err)
	}
	type pending struct {
		wagerID, playerID, roundID string
		asset                      Asset
		multiplier, payout         decimal.Decimal
		stakeFiat, price           decimal.Decimal
	}
	var todo []pending
	for rows.Next() {
		var p pending
		var asset string
		if err := rows.Scan(&p.wagerID, &p.playerID, &asset, &p.multiplier, &p.payout, &p.stakeFiat, &p.price, &p.roundID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("ledger: reconcile scan: %w", err)
		}
		p.asset = Asset(asset)
		todo = append(todo, p)
	}
	rows.Close()

	for _, p := range todo {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return 0, fmt.Errorf("ledger: reconcile begin: %w", err)
		}
		if err := upsertBalanceLocked(ctx, tx, p.playerID, p.asset, p.payout); err != nil {
			tx.Rollback(ctx)
			return 0, err
		}
		txn := Transaction{
			ID:            p.wagerID + "-reconcile",
			PlayerID:      p.playerID,
			RoundID:       p.roundID,
			WagerID:       p.wagerID,
			Kind:          TxCashout,
			FiatAmount:    p.stakeFiat.Mul(p.multiplier),
			AssetAmount:   p.payout,
			Asset:         p.asset,
			PriceAtTime:   p.price,
			Multiplier:    p.multiplier,
			HasMultiplier: true,
		}
		if err := insertTransaction(ctx, tx, txn); err != nil {
			tx.Rollback(ctx)
			return 0, err
		}
		if err := commit(ctx, tx); err != nil {
			return 0, err
		}
	}
	return len(todo), nil
}

func commit(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}
