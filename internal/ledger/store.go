// Package ledger persists players, wagers, rounds, and transactions, and
// offers atomic balance mutations. It is the Ledger component: the sole
// owner of Player and Transaction records.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"crashcore/internal/config"
)

// PriceSource supplies fiat-denominated asset prices for Balance's
// total_fiat computation. Satisfied by *priceoracle.Oracle without this
// package importing it directly.
type PriceSource interface {
	Price(ctx context.Context, asset string) (decimal.Decimal, error)
}

// Store is the pgx-backed Ledger. All mutating methods are single
// logical transactions: no caller ever observes a partial update.
type Store struct {
	pool   *pgxpool.Pool
	prices PriceSource
}

// NewStore dials Postgres per cfg and returns a ready Store. prices may
// be nil; Balance then reports no prices and a zero TotalFiat.
func NewStore(ctx context.Context, cfg config.StoreConfig, prices PriceSource) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pc.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("ledger: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	log.Println("[LEDGER] connected to postgres")
	return &Store{pool: pool, prices: prices}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// CreatePlayer registers a new player with an optional set of initial
// balances. Fails with ErrPlayerExists if id or name collides.
func (s *Store) CreatePlayer(ctx context.Context, id, name string, initial map[Asset]decimal.Decimal) (*Player, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO players (id, name) VALUES ($1, $2)`, id, name)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrPlayerExists
		}
		return nil, fmt.Errorf("ledger: create player: %w", err)
	}

	for asset, amount := range initial {
		_, err = tx.Exec(ctx,
			`INSERT INTO balances (player_id, asset, amount) VALUES ($1, $2, $3)`,
			id, string(asset), amount)
		if err != nil {
			return nil, fmt.Errorf("ledger: seed balance: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ledger: commit: %w", err)
	}

	return &Player{ID: id, Name: name, Active: true}, nil
}

// GetPlayer fetches a player's profile and lifetime counters.
func (s *Store) GetPlayer(ctx context.Context, id string) (*Player, error) {
	var p Player
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, active, wagers_placed, wins, losses, created_at FROM players WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Active, &p.WagersPlaced, &p.Wins, &p.Losses, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("ledger: get player: %w", err)
	}
	return &p, nil
}

// SetPlayerActive flips a player's soft-disable flag. Disabled players
// keep their balances and history; Credit, Debit, Transfer and
// PlaceWager reject them until re-enabled. Settlement (SettleCashout,
// SettleLoss) does not check the flag.
func (s *Store) SetPlayerActive(ctx context.Context, playerID string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE players SET active = $1 WHERE id = $2`, active, playerID)
	if err != nil {
		return fmt.Errorf("ledger: set player active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// checkPlayerActive verifies the player exists and is not soft-disabled.
// Must run inside tx so the check and the mutation are one unit.
func checkPlayerActive(ctx context.Context, tx pgx.Tx, playerID string) error {
	var active bool
	err := tx.QueryRow(ctx, `SELECT active FROM players WHERE id = $1`, playerID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPlayerNotFound
	}
	if err != nil {
		return fmt.Errorf("ledger: check player: %w", err)
	}
	if !active {
		return ErrPlayerInactive
	}
	return nil
}

// Balance returns a player's per-asset holdings, the prices used, and a
// fiat-equivalent total computed from the configured PriceSource.
func (s *Store) Balance(ctx context.Context, playerID string) (*Balance, error) {
	if _, err := s.GetPlayer(ctx, playerID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `SELECT asset, amount FROM balances WHERE player_id = $1`, playerID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query balances: %w", err)
	}
	defer rows.Close()

	bal := &Balance{
		PlayerID: playerID,
		Amounts:  make(map[Asset]decimal.Decimal),
		Prices:   make(map[Asset]decimal.Decimal),
	}
	for rows.Next() {
		var asset string
		var amount decimal.Decimal
		if err := rows.Scan(&asset, &amount); err != nil {
			return nil, fmt.Errorf("ledger: scan balance: %w", err)
		}
		bal.Amounts[Asset(asset)] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: balance rows: %w", err)
	}

	total := decimal.Zero
	for asset, amount := range bal.Amounts {
		if s.prices == nil {
			continue
		}
		price, err := s.prices.Price(ctx, string(asset))
		if err != nil {
			continue
		}
		bal.Prices[asset] = price
		total = total.Add(amount.Mul(price))
	}
	bal.TotalFiat = total
	return bal, nil
}

// Credit atomically increases a player's balance in asset by delta and
// appends a transaction record in the same unit of work. delta must be
// positive.
func (s *Store) Credit(ctx context.Context, playerID string, asset Asset, delta decimal.Decimal, txn Transaction) error {
	if delta.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("ledger: credit delta must be positive, got %s", delta)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := checkPlayerActive(ctx, tx, playerID); err != nil {
		return err
	}
	if err := upsertBalanceLocked(ctx, tx, playerID, asset, delta); err != nil {
		return err
	}
	if err := insertTransaction(ctx, tx, txn); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// Debit atomically decreases a player's balance in asset by delta and
// appends a transaction record in the same unit of work. Fails with
// ErrInsufficientBalance when the current balance is less than delta.
func (s *Store) Debit(ctx context.Context, playerID string, asset Asset, delta decimal.Decimal, txn Transaction) error {
	if delta.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("ledger: debit delta must be positive, got %s", delta)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := checkPlayerActive(ctx, tx, playerID); err != nil {
		return err
	}

	var current decimal.Decimal
	err = tx.QueryRow(ctx,
		`SELECT amount FROM balances WHERE player_id = $1 AND asset = $2 FOR UPDATE`,
		playerID, string(asset)).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ledger: lock balance: %w", err)
	}
	if current.LessThan(delta) {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx,
		`UPDATE balances SET amount = amount - $1, updated_at = now() WHERE player_id = $2 AND asset = $3`,
		delta, playerID, string(asset))
	if err != nil {
		return fmt.Errorf("ledger: debit update: %w", err)
	}
	if err := insertTransaction(ctx, tx, txn); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// Transfer atomically moves delta of asset from src to dst, all-or-nothing.
func (s *Store) Transfer(ctx context.Context, src, dst string, asset Asset, delta decimal.Decimal) error {
	if delta.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("ledger: transfer delta must be positive, got %s", delta)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := checkPlayerActive(ctx, tx, src); err != nil {
		return err
	}
	if err := checkPlayerActive(ctx, tx, dst); err != nil {
		return err
	}

	// Lock rows in a stable order (lexicographic by player id) to avoid
	// deadlocking against a concurrent transfer in the opposite direction.
	first, second := src, dst
	if second < first {
		first, second = second, first
	}
	for _, id := range []string{first, second} {
		if _, err := tx.Exec(ctx, `SELECT 1 FROM balances WHERE player_id = $1 AND asset = $2 FOR UPDATE`, id, string(asset)); err != nil {
			return fmt.Errorf("ledger: lock transfer row: %w", err)
		}
	}

	var available decimal.Decimal
	err = tx.QueryRow(ctx, `SELECT amount FROM balances WHERE player_id = $1 AND asset = $2`, src, string(asset)).Scan(&available)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ledger: read src balance: %w", err)
	}
	if available.LessThan(delta) {
		return ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx, `UPDATE balances SET amount = amount - $1, updated_at = now() WHERE player_id = $2 AND asset = $3`, delta, src, string(asset)); err != nil {
		return fmt.Errorf("ledger: transfer debit: %w", err)
	}
	if err := upsertBalanceLocked(ctx, tx, dst, asset, delta); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// upsertBalanceLocked adds delta to playerID's asset balance, creating the
// row if absent. Must run inside tx.
func upsertBalanceLocked(ctx context.Context, tx pgx.Tx, playerID string, asset Asset, delta decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO balances (player_id, asset, amount, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (player_id, asset)
		DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = now()`,
		playerID, string(asset), delta)
	if err != nil {
		return fmt.Errorf("ledger: upsert balance: %w", err)
	}
	return nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t Transaction) error {
	var roundID, wagerID *string
	if t.RoundID != "" {
		roundID = &t.RoundID
	}
	if t.WagerID != "" {
		wagerID = &t.WagerID
	}
	var multiplier *decimal.Decimal
	if t.HasMultiplier {
		multiplier = &t.Multiplier
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions
			(id, player_id, round_id, wager_id, kind, fiat_amount, asset_amount, asset, price_at_time, multiplier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		t.ID, t.PlayerID, roundID, wagerID, string(t.Kind), t.FiatAmount, t.AssetAmount, string(t.Asset), t.PriceAtTime, multiplier)
	if err != nil {
		return fmt.Errorf("ledger: insert transaction: %w", err)
	}
	return nil
}

// History returns a player's transaction log, chronological-descending,
// optionally filtered by kind.
func (s *Store) History(ctx context.Context, playerID string, filter HistoryFilter, page Page) (*PagedTransactions, error) {
	if page.Number < 1 {
		page.Number = 1
	}
	if page.Size < 1 || page.Size > 200 {
		page.Size = 20
	}
	offset := (page.Number - 1) * page.Size

	var rows pgx.Rows
	var err error
	if filter.Kind != "" {
		rows, err = s.pool.Query(ctx, `
			SELECT id, player_id, COALESCE(round_id, ''), COALESCE(wager_id, ''), kind, fiat_amount, asset_amount, asset, price_at_time, multiplier, created_at
			FROM transactions WHERE player_id = $1 AND kind = $2
			ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
			playerID, string(filter.Kind), page.Size, offset)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, player_id, COALESCE(round_id, ''), COALESCE(wager_id, ''), kind, fiat_amount, asset_amount, asset, price_at_time, multiplier, created_at
			FROM transactions WHERE player_id = $1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			playerID, page.Size, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: history query: %w", err)
	}
	defer rows.Close()

	var items []Transaction
	for rows.Next() {
		var t Transaction
		var kind, asset string
		var multiplier *decimal.Decimal
		if err := rows.Scan(&t.ID, &t.PlayerID, &t.RoundID, &t.WagerID, &kind, &t.FiatAmount, &t.AssetAmount, &asset, &t.PriceAtTime, &multiplier, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan transaction: %w", err)
		}
		t.Kind = TransactionKind(kind)
		t.Asset = Asset(asset)
		if multiplier != nil {
			t.Multiplier = *multiplier
			t.HasMultiplier = true
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: history rows: %w", err)
	}

	var total int64
	if filter.Kind != "" {
		err = s.pool.QueryRow(ctx, `SELECT count(*) FROM transactions WHERE player_id = $1 AND kind = $2`, playerID, string(filter.Kind)).Scan(&total)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT count(*) FROM transactions WHERE player_id = $1`, playerID).Scan(&total)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: history count: %w", err)
	}

	return &PagedTransactions{Items: items, Page: page.Number, PageSize: page.Size, Total: total}, nil
}

// Deposit credits amount directly into a player's balance and logs a
// deposit transaction. Any approval workflow for real-money deposits
// belongs to the external facade, not the core.
func (s *Store) Deposit(ctx context.Context, playerID string, asset Asset, amount, price decimal.Decimal, txnID string) error {
	return s.Credit(ctx, playerID, asset, amount, Transaction{
		ID:          txnID,
		PlayerID:    playerID,
		Kind:        TxDeposit,
		FiatAmount:  amount.Mul(price),
		AssetAmount: amount,
		Asset:       asset,
		PriceAtTime: price,
	})
}

// Withdraw debits amount directly from a player's balance and logs a
// withdrawal transaction.
func (s *Store) Withdraw(ctx context.Context, playerID string, asset Asset, amount, price decimal.Decimal, txnID string) error {
	return s.Debit(ctx, playerID, asset, amount, Transaction{
		ID:          txnID,
		PlayerID:    playerID,
		Kind:        TxWithdrawal,
		FiatAmount:  amount.Mul(price),
		AssetAmount: amount,
		Asset:       asset,
		PriceAtTime: price,
	})
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
