// Arbengine — a cross-venue cryptocurrency arbitrage bot for Coinbase
// Advanced Trade and Binance.US.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	internal/engine         — orchestrator: wires feeds → traders → risk → dashboard
//	internal/strategy       — detects and acts on cross-venue spreads wide enough to trade
//	internal/feed           — Coinbase and Binance.US websocket market data, each maintaining a Book
//	internal/book           — concurrent per-(venue,pair) order book with a guarded top-N snapshot
//	internal/wallet         — authenticated REST clients for order placement/cancellation
//	internal/risk           — enforces per-pair, global exposure, and daily-loss limits
//	internal/store          — JSON file persistence for positions (survives restarts)
//	internal/api            — read-only HTTP/WebSocket dashboard
//
// How it makes money:
//
//	The bot watches the same instrument pair on two venues at once. When
//	one venue's best bid clears the other venue's best ask by more than a
//	configured minimum edge, it buys on the cheap venue and sells on the
//	expensive one with opposing IOC limit orders, capturing the spread
//	between them.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"arbengine/internal/config"
	"arbengine/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARBENGINE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.Dashboard.Enabled {
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("arbengine started",
		"pairs", cfg.Pairs,
		"min_edge_bps", cfg.Arbitrage.MinEdgeBps,
		"order_size_base", cfg.Arbitrage.OrderSizeBase,
		"max_global_exposure", cfg.Risk.MaxGlobalExposureUSD,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
