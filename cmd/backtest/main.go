// Backtesting Broker — a historical market-data backtesting engine for
// algorithmic trading strategies.
//
// Architecture:
//
//	main.go              — entry point: loads config, runs the engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires calendar → data source → broker → strategy, drives the loop
//	broker/broker.go     — the order state engine: clock advancement, per-bar fill evaluation,
//	                       option expiration cash settlement, trade costs, event dispatch
//	broker/fillrules.go  — per-bar fill determination for the five order types
//	broker/order.go      — bracket/OCO/OTO expansion into primitive orders
//	calendar/            — session tables for NYSE, CME_FX, and 24/7 markets
//	datasource/          — the virtual clock plus look-ahead-safe bar serving
//	cache/store.go       — DuckDB-backed columnar OHLCV bar cache
//	vendor/client.go     — illustrative ThetaData REST client that fills cache gaps
//	dashboard/           — WebSocket progress feed for watching a long run live
//	persist/persist.go   — JSON run-summary persistence (atomic writes)
//
// How a run works:
//
//	The engine advances a virtual clock across trading sessions. Each
//	iteration the strategy submits orders; on the next bar the broker
//	evaluates every pending order against that bar's OHLC under the
//	gap-aware fill rules and publishes fill/cancel events. At the end the
//	run summary (orders, positions, equity curve) is written to disk.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"backtesting-broker/internal/config"
	"backtesting-broker/internal/dashboard"
	"backtesting-broker/internal/engine"
	"backtesting-broker/internal/persist"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BACKTEST_CONFIG"); p != "" {
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

	// Set up logger
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
	defer eng.Close()

	// Cancel the run on SIGINT/SIGTERM; the loop stops at the next tick.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Prepare(ctx); err != nil {
		logger.Error("failed to load bar data", "error", err)
		os.Exit(1)
	}

	// Start dashboard server if enabled
	var dashServer *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashServer = dashboard.NewServer(cfg.Dashboard, eng, logger)
		go func() {
			if err := dashServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	logger.Info("backtest starting",
		"market", cfg.Backtest.Market,
		"start", cfg.Backtest.Start,
		"end", cfg.Backtest.End,
		"timestep", cfg.Backtest.Timestep,
		"initial_cash", cfg.Backtest.InitialCash,
	)

	runErr := eng.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("backtest failed", "error", runErr)
		os.Exit(1)
	}

	// Persist the run summary even on an interrupted run — a partial
	// result is still worth keeping.
	store, err := persist.Open(resultsDir(cfg))
	if err != nil {
		logger.Error("failed to open results dir", "error", err)
	} else {
		summary := eng.Summary()
		if err := store.SaveSummary(summary.StrategyName, summary); err != nil {
			logger.Error("failed to save run summary", "error", err)
		} else {
			logger.Info("run summary saved",
				"final_cash", summary.FinalCash,
				"orders_filled", summary.OrdersFilled,
				"orders_canceled", summary.OrdersCanceled,
			)
		}
	}

	if dashServer != nil {
		if err := dashServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}
}

func resultsDir(cfg *config.Config) string {
	if cfg.ResultsDir != "" {
		return cfg.ResultsDir
	}
	return "results"
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
