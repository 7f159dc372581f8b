package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Round is the persisted record of one round's full lifecycle, including
// the seed (revealed only after crash).
type Round struct {
	ID             string          `json:"id"`
	Number         int64           `json:"number"`
	Seed           string          `json:"seed,omitempty"`
	Hash           string          `json:"hash"`
	CrashPoint     decimal.Decimal `json:"crash_point"`
	PeakMultiplier decimal.Decimal `json:"peak_multiplier"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	State          string          `json:"state"`
}

// PagedRounds is the paged response shape for round history.
type PagedRounds struct {
	Items    []Round
	Page     int
	PageSize int
	Total    int64
}

// CreateRound persists a new round at the moment betting opens. Seed is
// stored but never exposed by round-state queries until the round crashes.
func (s *Store) CreateRound(ctx context.Context, r Round) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rounds (id, round_number, seed, hash, start_time, state)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Number, r.Seed, r.Hash, r.StartTime, r.State)
	if err != nil {
		return fmt.Errorf("ledger: create round: %w", err)
	}
	return nil
}

// FinalizeRound records the crash point, peak multiplier, end time, and
// final state (normally "settled") for a completed round.
func (s *Store) FinalizeRound(ctx context.Context, roundID string, crashPoint, peakMultiplier decimal.Decimal, endTime time.Time, state string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rounds SET crash_point = $1, peak_multiplier = $2, end_time = $3, state = $4
		WHERE id = $5`,
		crashPoint, peakMultiplier, endTime, state, roundID)
	if err != nil {
		return fmt.Errorf("ledger: finalize round: %w", err)
	}
	return nil
}

// MaxRoundNumber returns the highest persisted round number, or 0 when no
// rounds exist yet. The engine seeds its numbering from it at startup so
// a restarted process never collides with rounds it ran before.
func (s *Store) MaxRoundNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(round_number), 0) FROM rounds`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: max round number: %w", err)
	}
	return n, nil
}

// GetRound fetches a round's full record, including its seed.
func (s *Store) GetRound(ctx context.Context, roundID string) (*Round, error) {
	var r Round
	var endTime *time.Time
	var crashPoint *decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT id, round_number, seed, hash, crash_point, peak_multiplier, start_time, end_time, state
		FROM rounds WHERE id = $1`, roundID,
	).Scan(&r.ID, &r.Number, &r.Seed, &r.Hash, &crashPoint, &r.PeakMultiplier, &r.StartTime, &endTime, &r.State)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("ledger: get round: %w", err)
	}
	if crashPoint != nil {
		r.CrashPoint = *crashPoint
	}
	if endTime != nil {
		r.EndTime = *endTime
	}
	return &r, nil
}

// ListRounds returns completed rounds, chronological-descending.
func (s *Store) ListRounds(ctx context.Context, page Page) (*PagedRounds, error) {
	if page.Number < 1 {
		page.Number = 1
	}
	if page.Size < 1 || page.Size > 200 {
		page.Size = 20
	}
	offset := (page.Number - 1) * page.Size

	rows, err := s.pool.Query(ctx, `
		SELECT id, round_number, seed, hash, crash_point, peak_multiplier, start_time, end_time, state
		FROM rounds WHERE state = 'settled'
		ORDER BY start_time DESC LIMIT $1 OFFSET $2`, page.Size, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger: list rounds: %w", err)
	}
	defer rows.Close()

	var items []Round
	for rows.Next() {
		var r Round
		var endTime *time.Time
		var crashPoint *decimal.Decimal
		if err := rows.Scan(&r.ID, &r.Number, &r.Seed, &r.Hash, &crashPoint, &r.PeakMultiplier, &r.StartTime, &endTime, &r.State); err != nil {
			return nil, fmt.Errorf("ledger: scan round: %w", err)
		}
		if crashPoint != nil {
			r.CrashPoint = *crashPoint
		}
		if endTime != nil {
			r.EndTime = *endTime
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: round rows: %w", err)
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM rounds WHERE state = 'settled'`).Scan(&total); err != nil {
		return nil, fmt.Errorf("ledger: round count: %w", err)
	}

	return &PagedRounds{Items: items, Page: page.Number, PageSize: page.Size, Total: total}, nil
}
