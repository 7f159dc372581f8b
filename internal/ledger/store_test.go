package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"

	"crashcore/internal/config"
	"crashcore/internal/migrate"
)

var testStore *Store

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("crashdb"),
		postgres.WithUsername("crashcore"),
		postgres.WithPassword("crashcore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		// No Docker daemon available in this environment; skip rather
		// than fail the whole suite.
		os.Exit(0)
	}
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	if err != nil {
		os.Exit(0)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		os.Exit(0)
	}
	dsn := fmt.Sprintf("postgres://crashcore:crashcore@%s:%s/crashdb?sslmode=disable", host, port.Port())

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		os.Exit(0)
	}
	if err := migrate.RunMigrations(sqlDB, "../../migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "migrate up: %v\n", err)
		os.Exit(1)
	}
	sqlDB.Close()

	testStore, err = NewStore(ctx, config.StoreConfig{DSN: dsn}, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect store: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	testStore.Close()
	os.Exit(code)
}

func TestCreatePlayer_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	_, err := testStore.CreatePlayer(ctx, "p1", "alice", nil)
	if err != nil {
		t.Fatalf("CreatePlayer: %v", err)
	}
	if _, err := testStore.CreatePlayer(ctx, "p1", "alice again", nil); err != ErrPlayerExists {
		t.Fatalf("expected ErrPlayerExists, got %v", err)
	}
}

func TestDepositWithdraw_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, err := testStore.CreatePlayer(ctx, "p2", "bob", nil); err != nil {
		t.Fatalf("CreatePlayer: %v", err)
	}

	if err := testStore.Deposit(ctx, "p2", "BTC", decimal.NewFromFloat(0.5), decimal.NewFromInt(60000), "txn-dep-1"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	bal, err := testStore.Balance(ctx, "p2")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !bal.Amounts["BTC"].Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("expected BTC balance 0.5, got %s", bal.Amounts["BTC"])
	}

	if err := testStore.Withdraw(ctx, "p2", "BTC", decimal.NewFromFloat(0.2), decimal.NewFromInt(60000), "txn-wd-1"); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	bal, err = testStore.Balance(ctx, "p2")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !bal.Amounts["BTC"].Equal(decimal.NewFromFloat(0.3)) {
		t.Fatalf("expected BTC balance 0.3 after withdrawal, got %s", bal.Amounts["BTC"])
	}

	if err := testStore.Withdraw(ctx, "p2", "BTC", decimal.NewFromFloat(100), decimal.NewFromInt(60000), "txn-wd-2"); err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestSoftDisable_BlocksMutations(t *testing.T) {
	ctx := context.Background()
	if _, err := testStore.CreatePlayer(ctx, "p7", "gina", map[Asset]decimal.Decimal{"BTC": decimal.NewFromFloat(1)}); err != nil {
		t.Fatalf("CreatePlayer: %v", err)
	}

	if err := testStore.SetPlayerActive(ctx, "p7", false); err != nil {
		t.Fatalf("SetPlayerActive: %v", err)
	}
	if err := testStore.Deposit(ctx, "p7", "BTC", decimal.NewFromFloat(0.1), decimal.NewFromInt(60000), "txn-dis-1"); err != ErrPlayerInactive {
		t.Fatalf("expected ErrPlayerInactive on deposit, got %v", err)
	}
	if err := testStore.Withdraw(ctx, "p7", "BTC", decimal.NewFromFloat(0.1), decimal.NewFromInt(60000), "txn-dis-2"); err != ErrPlayerInactive {
		t.Fatalf("expected ErrPlayerInactive on withdraw, got %v", err)
	}

	if err := testStore.SetPlayerActive(ctx, "p7", true); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if err := testStore.Deposit(ctx, "p7", "BTC", decimal.NewFromFloat(0.1), decimal.NewFromInt(60000), "txn-dis-3"); err != nil {
		t.Fatalf("deposit after re-enable: %v", err)
	}

	if err := testStore.SetPlayerActive(ctx, "nobody-here", false); err != ErrPlayerNotFound {
		t.Fatalf("expected ErrPlayerNotFound for unknown player, got %v", err)
	}
}

func TestDeposit_UnknownPlayer(t *testing.T) {
	ctx := context.Background()
	if err := testStore.Deposit(ctx, "ghost-p", "BTC", decimal.NewFromFloat(0.1), decimal.NewFromInt(60000), "txn-ghost"); err != ErrPlayerNotFound {
		t.Fatalf("expected ErrPlayerNotFound, got %v", err)
	}
}

func TestTransfer_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	if _, err := testStore.CreatePlayer(ctx, "p5", "erin-t", map[Asset]decimal.Decimal{"BTC": decimal.NewFromFloat(1)}); err != nil {
		t.Fatalf("CreatePlayer: %v", err)
	}
	if _, err := testStore.CreatePlayer(ctx, "p6", "frank-t", nil); err != nil {
		t.Fatalf("CreatePlayer: %v", err)
	}

	if err := testStore.Transfer(ctx, "p5", "p6", "BTC", decimal.NewFromFloat(0.4)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	src, err := testStore.Balance(ctx, "p5")
	if err != nil {
		t.Fatalf("Balance src: %v", err)
	}
	dst, err := testStore.Balance(ctx, "p6")
	if err != nil {
		t.Fatalf("Balance dst: %v", err)
	}
	if !src.Amounts["BTC"].Equal(decimal.NewFromFloat(0.6)) {
		t.Fatalf("expected src balance 0.6, got %s", src.Amounts["BTC"])
	}
	if !dst.Amounts["BTC"].Equal(decimal.NewFromFloat(0.4)) {
		t.Fatalf("expected dst balance 0.4, got %s", dst.Amounts["BTC"])
	}

	if err := testStore.Transfer(ctx, "p5", "p6", "BTC", decimal.NewFromFloat(100)); err != ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	src, err = testStore.Balance(ctx, "p5")
	if err != nil {
		t.Fatalf("Balance src after failed transfer: %v", err)
	}
	if !src.Amounts["BTC"].Equal(decimal.NewFromFloat(0.6)) {
		t.Fatalf("failed transfer must not move funds, src balance is %s", src.Amounts["BTC"])
	}
}

func TestPlaceWagerAndCashout(t *testing.T) {
	ctx := context.Background()
	if _, err := testStore.CreatePlayer(ctx, "p3", "carol", map[Asset]decimal.Decimal{"ETH": decimal.NewFromFloat(1)}); err != nil {
		t.Fatalf("CreatePlayer: %v", err)
	}
	if err := testStore.CreateRound(ctx, Round{ID: "RT1", Number: 1, Seed: "seed", Hash: "hash", StartTime: time.Now(), State: "betting"}); err != nil {
		t.Fatalf("CreateRound: %v", err)
	}

	w := Wager{
		ID: "w1", RoundID: "RT1", PlayerID: "p3", Asset: "ETH",
		StakeFiat: decimal.NewFromInt(100), StakeAsset: decimal.NewFromFloat(0.05), PriceAtPlacement: decimal.NewFromInt(2000),
	}
	txn := Transaction{ID: "tx-wager", PlayerID: "p3", RoundID: "RT1", WagerID: "w1", Kind: TxWager, FiatAmount: w.StakeFiat, AssetAmount: w.StakeAsset, Asset: "ETH", PriceAtTime: w.PriceAtPlacement}
	if err := testStore.PlaceWager(ctx, w, txn); err != nil {
		t.Fatalf("PlaceWager: %v", err)
	}

	bal, err := testStore.Balance(ctx, "p3")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !bal.Amounts["ETH"].Equal(decimal.NewFromFloat(0.95)) {
		t.Fatalf("expected ETH balance 0.95 after stake debit, got %s", bal.Amounts["ETH"])
	}

	payout := w.StakeAsset.Mul(decimal.NewFromFloat(2))
	cashoutTxn := Transaction{ID: "tx-cashout", PlayerID: "p3", RoundID: "RT1", WagerID: "w1", Kind: TxCashout, FiatAmount: w.StakeFiat.Mul(decimal.NewFromFloat(2)), AssetAmount: payout, Asset: "ETH", PriceAtTime: w.PriceAtPlacement, Multiplier: decimal.NewFromFloat(2), HasMultiplier: true}
	if err := testStore.SettleCashout(ctx, "w1", "p3", "ETH", decimal.NewFromFloat(2), payout, cashoutTxn); err != nil {
		t.Fatalf("SettleCashout: %v", err)
	}
	if err := testStore.SettleCashout(ctx, "w1", "p3", "ETH", decimal.NewFromFloat(2), payout, cashoutTxn); err != ErrWagerAlreadySettled {
		t.Fatalf("expected ErrWagerAlreadySettled on double settle, got %v", err)
	}

	bal, err = testStore.Balance(ctx, "p3")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !bal.Amounts["ETH"].Equal(decimal.NewFromFloat(1)) {
		t.Fatalf("expected ETH balance back to 1 after cashout credit, got %s", bal.Amounts["ETH"])
	}
}

func TestReconcileUncreditedCashouts(t *testing.T) {
	ctx := context.Background()
	if _, err := testStore.CreatePlayer(ctx, "p4", "dave", map[Asset]decimal.Decimal{"BTC": decimal.NewFromFloat(1)}); err != nil {
		t.Fatalf("CreatePlayer: %v", err)
	}
	if err := testStore.CreateRound(ctx, Round{ID: "RT2", Number: 2, Seed: "seed2", Hash: "hash2", StartTime: time.Now(), State: "betting"}); err != nil {
		t.Fatalf("CreateRound: %v", err)
	}
	w := Wager{ID: "w2", RoundID: "RT2", PlayerID: "p4", Asset: "BTC", StakeFiat: decimal.NewFromInt(50), StakeAsset: decimal.NewFromFloat(0.01), PriceAtPlacement: decimal.NewFromInt(50000)}
	txn := Transaction{ID: "tx-wager-2", PlayerID: "p4", RoundID: "RT2", WagerID: "w2", Kind: TxWager, FiatAmount: w.StakeFiat, AssetAmount: w.StakeAsset, Asset: "BTC", PriceAtTime: w.PriceAtPlacement}
	if err := testStore.PlaceWager(ctx, w, txn); err != nil {
		t.Fatalf("PlaceWager: %v", err)
	}

	// Simulate a crash between marking the wager cashed out and logging the
	// transaction, by marking it cashed-out directly without a matching
	// transaction row.
	if _, err := testStore.pool.Exec(ctx, `UPDATE wagers SET cashed_out = true, cashout_multiplier = $1, cashout_asset_amount = $2 WHERE id = $3`, decimal.NewFromFloat(1.5), decimal.NewFromFloat(0.015), "w2"); err != nil {
		t.Fatalf("simulate uncredited cashout: %v", err)
	}

	n, err := testStore.ReconcileUncreditedCashouts(ctx)
	if err != nil {
		t.Fatalf("ReconcileUncreditedCashouts: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reconciled cashout, got %d", n)
	}

	bal, err := testStore.Balance(ctx, "p4")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !bal.Amounts["BTC"].Equal(decimal.NewFromFloat(1.005)) {
		t.Fatalf("expected BTC balance 1.005 after reconciliation, got %s", bal.Amounts["BTC"])
	}

	n, err = testStore.ReconcileUncreditedCashouts(ctx)
	if err != nil {
		t.Fatalf("second ReconcileUncreditedCashouts: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected reconciliation to be idempotent, got %d newly reconciled", n)
	}
}
