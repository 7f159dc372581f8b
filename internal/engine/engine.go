// Package engine drives the round lifecycle state machine: betting
// window, live multiplier tick, crash, settlement, and the cycle back
// to the next round's betting window. It owns the single live Round
// value; the Broadcast Hub only ever reads a snapshot of it.
package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crashcore/internal/config"
	"crashcore/internal/events"
	"crashcore/internal/fairness"
	"crashcore/internal/ledger"
	"crashcore/internal/priceoracle"
)

// Engine is the Round Engine. Construct with New, then Start it once.
type Engine struct {
	store  *ledger.Store
	oracle *priceoracle.Oracle
	sink   Sink
	cfg    config.RoundConfig
	assets map[string]bool

	mu      sync.RWMutex
	current *liveRound
	nonce   int64

	placeCh  chan PlaceWagerRequest
	cashCh   chan CashOutRequest
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New constructs an Engine. Call Start to begin driving rounds.
func New(store *ledger.Store, oracle *priceoracle.Oracle, sink Sink, cfg config.RoundConfig, assets []string) *Engine {
	set := make(map[string]bool, len(assets))
	for _, a := range assets {
		set[a] = true
	}
	return &Engine{
		store:   store,
		oracle:  oracle,
		sink:    sink,
		cfg:     cfg,
		assets:  set,
		placeCh: make(chan PlaceWagerRequest, 256),
		cashCh:  make(chan CashOutRequest, 256),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// SetSink replaces the engine's outbound publication point. Used at
// startup to break the engine/hub construction cycle: construct the
// engine with a nil sink, build the hub around the engine, then call
// SetSink(hub) before Start. Must not be called concurrently with Start.
func (e *Engine) SetSink(sink Sink) {
	e.sink = sink
}

// Start launches the round loop in a new goroutine. Call once. Round
// numbering resumes from the highest persisted round so a restart never
// collides with rounds a previous process ran.
func (e *Engine) Start(ctx context.Context) {
	n, err := e.store.MaxRoundNumber(ctx)
	if err != nil {
		log.Printf("[ENGINE] could not read last round number, starting from 0: %v", err)
	} else {
		e.nonce = n
	}
	go e.loop(ctx)
}

// Stop signals the engine to abort its current round and halt. It
// blocks until the engine has finished settling and exited its loop.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.doneCh)
	for {
		select {
		case <-e.stopCh:
			return
		default:
			e.runRound(ctx)
		}
	}
}

// PlaceWager submits a bet and blocks for the engine's decision.
func (e *Engine) PlaceWager(playerID string, stakeFiat decimal.Decimal, asset string) PlaceWagerResult {
	reply := make(chan PlaceWagerResult, 1)
	select {
	case e.placeCh <- PlaceWagerRequest{PlayerID: playerID, StakeFiat: stakeFiat, Asset: asset, Reply: reply}:
		return <-reply
	case <-time.After(5 * time.Second):
		return PlaceWagerResult{Err: fmt.Errorf("engine: place wager timed out")}
	}
}

// CashOut submits a cash-out request and blocks for the engine's decision.
func (e *Engine) CashOut(playerID string) CashOutResult {
	reply := make(chan CashOutResult, 1)
	select {
	case e.cashCh <- CashOutRequest{PlayerID: playerID, Reply: reply}:
		return <-reply
	case <-time.After(5 * time.Second):
		return CashOutResult{Err: fmt.Errorf("engine: cash out timed out")}
	}
}

// Snapshot returns the current round's public state.
func (e *Engine) Snapshot() events.StateSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return events.StateSnapshot{}
	}
	return events.StateSnapshot{
		RoundID:    e.current.id,
		State:      e.current.state,
		Multiplier: e.current.multiplier,
		IsLive:     e.current.state == "live",
		StartTime:  e.current.startTime,
		WagerCount: len(e.current.openWagers),
		Hash:       e.current.hash,
	}
}

// VerifyRound recomputes a persisted round's hash and crash point from
// seed. It reports true when the recomputed hash equals the stored hash
// and the recomputed crash point is within 0.01 of the caller-supplied
// claim; the stored crash point itself is not compared.
func (e *Engine) VerifyRound(ctx context.Context, roundID string, seed string, claimedCrash decimal.Decimal) (bool, decimal.Decimal, error) {
	r, err := e.store.GetRound(ctx, roundID)
	if err != nil {
		return false, decimal.Zero, err
	}
	recomputed := fairness.CrashPoint(seed, r.Number, e.cfg.MaxCrash)
	expectedHash := fairness.Hash(seed, r.Number)
	ok := expectedHash == r.Hash && fairness.Verify(seed, r.Number, claimedCrash, e.cfg.MaxCrash)
	return ok, recomputed, nil
}

func (e *Engine) runRound(ctx context.Context) {
	e.nonce++
	number := e.nonce

	seed, err := fairness.NewSeed()
	if err != nil {
		log.Printf("[ENGINE] failed to generate seed: %v", err)
		time.Sleep(time.Second)
		return
	}
	hash := fairness.Hash(seed, number)
	crashPoint := fairness.CrashPoint(seed, number, e.cfg.MaxCrash)
	roundID := fmt.Sprintf("R%d", number)
	startTime := time.Now()

	round := &liveRound{
		id:         roundID,
		number:     number,
		seed:       seed,
		hash:       hash,
		crashPoint: crashPoint,
		state:      "betting",
		startTime:  startTime,
		multiplier: decimal.NewFromInt(1),
		peak:       decimal.NewFromInt(1),
		openWagers: make(map[string]wagerInfo),
	}

	e.mu.Lock()
	e.current = round
	e.mu.Unlock()

	if err := e.store.CreateRound(ctx, ledger.Round{
		ID: roundID, Number: number, Seed: seed, Hash: hash, StartTime: startTime, State: "betting",
	}); err != nil {
		log.Printf("[ENGINE] failed to persist round %s, aborting it: %v", roundID, err)
		e.abort(ctx, round)
		e.waitOutPeriod(startTime)
		return
	}

	e.sink.Publish(events.Outbound{
		Kind: events.RoundStarted,
		Data: events.RoundStartedData{RoundID: roundID, Hash: hash, StartTime: startTime},
	})

	bettingTimer := time.NewTimer(e.cfg.BettingWindow)
	defer bettingTimer.Stop()

betting:
	for {
		select {
		case <-bettingTimer.C:
			break betting
		case <-e.stopCh:
			e.abort(ctx, round)
			return
		case req := <-e.placeCh:
			e.handlePlace(ctx, req)
		case req := <-e.cashCh:
			req.Reply <- CashOutResult{Err: ErrRoundNotLive}
		}
	}

	e.mu.Lock()
	round.state = "live"
	round.liveStart = time.Now()
	e.mu.Unlock()

	ticker := time.NewTicker(e.cfg.Tick)
	defer ticker.Stop()

live:
	for {
		select {
		case <-ticker.C:
			if e.tick(ctx, round) {
				break live
			}
		case <-e.stopCh:
			e.abort(ctx, round)
			return
		case req := <-e.placeCh:
			req.Reply <- PlaceWagerResult{Err: ErrRoundNotBetting}
		case req := <-e.cashCh:
			e.handleCashOut(ctx, round, req)
		}
	}

	e.waitOutPeriod(startTime)
}

// waitOutPeriod sleeps out the remainder of ROUND_PERIOD since
// startTime, still servicing (and rejecting) inbound requests so
// callers are never left hanging between rounds.
func (e *Engine) waitOutPeriod(startTime time.Time) {
	remaining := e.cfg.RoundPeriod - time.Since(startTime)
	if remaining <= 0 {
		return
	}
	idle := time.NewTimer(remaining)
	defer idle.Stop()
	for {
		select {
		case <-idle.C:
			return
		case <-e.stopCh:
			return
		case req := <-e.placeCh:
			req.Reply <- PlaceWagerResult{Err: ErrRoundNotBetting}
		case req := <-e.cashCh:
			req.Reply <- CashOutResult{Err: ErrRoundNotLive}
		}
	}
}

func (e *Engine) handlePlace(ctx context.Context, req PlaceWagerRequest) {
	e.mu.Lock()
	cur := e.current
	if cur == nil || cur.state != "betting" {
		e.mu.Unlock()
		req.Reply <- PlaceWagerResult{Err: ErrRoundNotBetting}
		return
	}
	if _, exists := cur.openWagers[req.PlayerID]; exists {
		e.mu.Unlock()
		req.Reply <- PlaceWagerResult{Err: ErrAlreadyWagered}
		return
	}
	roundID := cur.id
	e.mu.Unlock()

	if req.StakeFiat.LessThanOrEqual(decimal.Zero) || req.StakeFiat.LessThan(e.cfg.MinStakeFiat) {
		req.Reply <- PlaceWagerResult{Err: ledger.ErrStakeTooSmall}
		return
	}
	if req.StakeFiat.GreaterThan(e.cfg.MaxStakeFiat) {
		req.Reply <- PlaceWagerResult{Err: ledger.ErrStakeTooLarge}
		return
	}
	if !e.assets[req.Asset] {
		req.Reply <- PlaceWagerResult{Err: ledger.ErrUnsupportedAsset}
		return
	}

	price, err := e.oracle.Price(ctx, req.Asset)
	if err != nil {
		req.Reply <- PlaceWagerResult{Err: err}
		return
	}

	stakeAsset := req.StakeFiat.Div(price)
	wagerID := uuid.NewString()

	w := ledger.Wager{
		ID: wagerID, RoundID: roundID, PlayerID: req.PlayerID, Asset: ledger.Asset(req.Asset),
		StakeFiat: req.StakeFiat, StakeAsset: stakeAsset, PriceAtPlacement: price,
	}
	txn := ledger.Transaction{
		ID: uuid.NewString(), PlayerID: req.PlayerID, RoundID: roundID, WagerID: wagerID,
		Kind: ledger.TxWager, FiatAmount: req.StakeFiat, AssetAmount: stakeAsset,
		Asset: ledger.Asset(req.Asset), PriceAtTime: price,
	}

	if err := e.store.PlaceWager(ctx, w, txn); err != nil {
		req.Reply <- PlaceWagerResult{Err: err}
		return
	}

	e.mu.Lock()
	if e.current != nil && e.current.id == roundID {
		e.current.openWagers[req.PlayerID] = wagerInfo{
			wagerID: wagerID, asset: req.Asset, stakeFiat: req.StakeFiat, stakeAsset: stakeAsset, price: price,
		}
	}
	e.mu.Unlock()

	e.sink.Publish(events.Outbound{
		Kind: events.WagerPlaced,
		Data: events.WagerPlacedData{RoundID: roundID, PlayerID: req.PlayerID, StakeFiat: req.StakeFiat, StakeAsset: stakeAsset, Asset: req.Asset},
	})

	req.Reply <- PlaceWagerResult{WagerID: wagerID}
}

func (e *Engine) handleCashOut(ctx context.Context, round *liveRound, req CashOutRequest) {
	e.mu.Lock()
	if e.current != round || round.state != "live" {
		e.mu.Unlock()
		req.Reply <- CashOutResult{Err: ErrRoundNotLive}
		return
	}
	info, ok := round.openWagers[req.PlayerID]
	if !ok {
		e.mu.Unlock()
		req.Reply <- CashOutResult{Err: ErrNoOpenWager}
		return
	}
	multiplier := round.multiplier
	roundID := round.id
	delete(round.openWagers, req.PlayerID)
	e.mu.Unlock()

	payoutAsset := info.stakeAsset.Mul(multiplier)
	payoutFiat := info.stakeFiat.Mul(multiplier)

	txn := ledger.Transaction{
		ID: uuid.NewString(), PlayerID: req.PlayerID, RoundID: roundID, WagerID: info.wagerID,
		Kind: ledger.TxCashout, FiatAmount: payoutFiat, AssetAmount: payoutAsset,
		Asset: ledger.Asset(info.asset), PriceAtTime: info.price, Multiplier: multiplier, HasMultiplier: true,
	}

	if err := e.store.SettleCashout(ctx, info.wagerID, req.PlayerID, ledger.Asset(info.asset), multiplier, payoutAsset, txn); err != nil {
		log.Printf("[ENGINE] credit failed after cashout accepted for player %s wager %s: %v", req.PlayerID, info.wagerID, err)
		req.Reply <- CashOutResult{Err: err}
		return
	}

	e.sink.Publish(events.Outbound{
		Kind: events.CashoutAccepted,
		Data: events.CashoutAcceptedData{RoundID: roundID, PlayerID: req.PlayerID, Multiplier: multiplier, PayoutFiat: payoutFiat, Asset: info.asset},
	})

	req.Reply <- CashOutResult{Multiplier: multiplier, PayoutFiat: payoutFiat, PayoutAsset: payoutAsset, Asset: info.asset}
}

// tick advances the live multiplier by one TICK period. Returns true if
// the round crashed on this tick.
func (e *Engine) tick(ctx context.Context, round *liveRound) bool {
	e.mu.Lock()
	crashFloat, _ := round.crashPoint.Float64()
	elapsed := time.Since(round.liveStart).Seconds()

	var md decimal.Decimal
	if crashFloat <= 1.0 {
		md = round.crashPoint
	} else {
		targetTime := math.Log(crashFloat) * 2
		growth := (crashFloat - 1) / targetTime
		raw := 1 + elapsed*growth
		md = decimal.NewFromFloat(raw).Round(2)
	}

	if md.GreaterThanOrEqual(round.crashPoint) {
		md = round.crashPoint
	}
	round.multiplier = md
	if md.GreaterThan(round.peak) {
		round.peak = md
	}
	roundID := round.id
	crashed := md.GreaterThanOrEqual(round.crashPoint)
	if crashed {
		round.state = "crashed"
	}
	openWagers := round.openWagers
	seed := round.seed
	crashPoint := round.crashPoint
	peak := round.peak
	e.mu.Unlock()

	if !crashed {
		e.sink.Publish(events.Outbound{
			Kind: events.MultiplierTick,
			Data: events.MultiplierTickData{RoundID: roundID, Multiplier: md, Now: time.Now()},
		})
		return false
	}

	e.sink.Publish(events.Outbound{
		Kind: events.RoundCrashed,
		Data: events.RoundCrashedData{RoundID: roundID, CrashPoint: crashPoint, Seed: seed, Now: time.Now()},
	})

	for playerID := range openWagers {
		if err := e.store.SettleLoss(ctx, playerID); err != nil {
			log.Printf("[ENGINE] failed to record loss for player %s round %s: %v", playerID, roundID, err)
		}
	}

	if err := e.store.FinalizeRound(ctx, roundID, crashPoint, peak, time.Now(), "settled"); err != nil {
		log.Printf("[ENGINE] failed to finalize round %s: %v", roundID, err)
	}

	e.mu.Lock()
	round.state = "settled"
	e.mu.Unlock()

	return true
}

// abort forces an immediate crash at the round's current multiplier,
// reveals the seed, and settles losers. Used on engine shutdown, per the
// cooperative-shutdown contract (the current round is finished or
// aborted rather than left dangling), and when a new round cannot be
// persisted at creation.
func (e *Engine) abort(ctx context.Context, round *liveRound) {
	e.mu.Lock()
	if round.state == "crashed" || round.state == "settled" {
		e.mu.Unlock()
		return
	}
	round.state = "crashed"
	roundID := round.id
	crashAt := round.multiplier
	seed := round.seed
	openWagers := round.openWagers
	peak := round.peak
	e.mu.Unlock()

	e.sink.Publish(events.Outbound{
		Kind: events.RoundCrashed,
		Data: events.RoundCrashedData{RoundID: roundID, CrashPoint: crashAt, Seed: seed, Now: time.Now()},
	})

	for playerID := range openWagers {
		if err := e.store.SettleLoss(ctx, playerID); err != nil {
			log.Printf("[ENGINE] failed to record loss during abort for player %s round %s: %v", playerID, roundID, err)
		}
	}
	if err := e.store.FinalizeRound(ctx, roundID, crashAt, peak, time.Now(), "settled"); err != nil {
		log.Printf("[ENGINE] failed to finalize aborted round %s: %v", roundID, err)
	}

	e.mu.Lock()
	round.state = "settled"
	e.mu.Unlock()
}
