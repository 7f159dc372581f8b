// Command server boots the crash round engine, broadcast hub, and HTTP/WS
// facade as a single process: config, then storage, then the core, then
// the transport layer.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	_ "github.com/joho/godotenv/autoload"

	"crashcore/internal/cache"
	"crashcore/internal/config"
	"crashcore/internal/engine"
	"crashcore/internal/facade"
	"crashcore/internal/hub"
	"crashcore/internal/ledger"
	"crashcore/internal/priceoracle"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("starting crashcore server", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisSvc := cache.New(cfg.Cache.Addr)
	if redisSvc != nil {
		defer redisSvc.Close()
	}

	oracle := priceoracle.New(cfg.Oracle.UpstreamURL, cfg.Oracle.CacheTTL, cfg.Oracle.FetchTimeout, cfg.Oracle.FallbackPrices, redisSvc)

	store, err := ledger.NewStore(ctx, cfg.Store, oracle)
	if err != nil {
		logger.Error("ledger store connection failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("ledger store connected")

	reconciled, err := store.ReconcileUncreditedCashouts(ctx)
	if err != nil {
		logger.Error("cashout reconciliation failed", "err", err)
		os.Exit(1)
	}
	if reconciled > 0 {
		logger.Warn("reconciled uncredited cashouts from a prior crash", "count", reconciled)
	}

	// The engine needs a Sink and the hub needs a RoundEngine, so the two
	// can't be constructed in either order alone: build the engine with a
	// nil sink, build the hub around it, then patch the sink in.
	eng := engine.New(store, oracle, nil, cfg.Round, cfg.Oracle.Assets)
	broadcastHub := hub.New(eng, cfg.Hub)
	eng.SetSink(broadcastHub)

	go broadcastHub.Run()
	eng.Start(ctx)
	logger.Info("round engine started", "round_period", cfg.Round.RoundPeriod, "betting_window", cfg.Round.BettingWindow)

	svc := facade.New(eng, store, oracle, broadcastHub, cfg)

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorHandler: facade.ErrorHandler,
	})
	svc.RegisterRoutes(app)

	go func() {
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	eng.Stop()
	broadcastHub.Shutdown()

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	logger.Info("server stopped cleanly")
}
