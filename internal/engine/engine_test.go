package engine

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backtesting-broker/internal/config"
	"backtesting-broker/internal/dashboard"
	"backtesting-broker/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testConfig(dashboard bool) config.Config {
	return config.Config{
		Backtest: config.BacktestConfig{
			Market:       "24/7",
			Start:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:          time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC),
			Timestep:     "day",
			SleepSeconds: 86400,
			InitialCash:  100000,
		},
		Asset:     config.AssetConfig{Symbol: "SPY", Type: "stock"},
		Dashboard: config.DashboardConfig{Enabled: dashboard, Port: 0},
	}
}

func loadTestBars(e *Engine, days int) {
	start := e.cfg.Backtest.Start
	var bars types.Bars
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		o := 100 + float64(i)
		bars = append(bars, types.Bar{
			Datetime: day,
			Open:     dec(o), High: dec(o + 1), Low: dec(o - 1), Close: dec(o),
			Volume: dec(1000),
		})
	}
	e.ds.LoadBars(e.asset, types.TimestepDay, bars)
}

func TestRunBuyEachIterationToCompletion(t *testing.T) {
	t.Parallel()
	e, err := New(testConfig(false), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	loadTestBars(e, 6)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	summary := e.Summary()
	if summary.OrdersTracked != 5 {
		t.Fatalf("OrdersTracked = %d, want 5 (one per iteration)", summary.OrdersTracked)
	}
	if summary.OrdersFilled != 5 {
		t.Errorf("OrdersFilled = %d, want 5", summary.OrdersFilled)
	}
	if summary.OrdersOpen != 0 || summary.OrdersCanceled != 0 {
		t.Errorf("open=%d canceled=%d, want 0/0", summary.OrdersOpen, summary.OrdersCanceled)
	}

	// Each buy fills at the next day's open: 101+102+103+104+105 = 515.
	wantCash := 100000.0 - 515.0
	if summary.FinalCash != wantCash {
		t.Errorf("FinalCash = %v, want %v", summary.FinalCash, wantCash)
	}

	if len(summary.Positions) != 1 || summary.Positions[0].Quantity != 5 {
		t.Errorf("Positions = %+v, want one SPY position of 5", summary.Positions)
	}
}

func TestRunSnapshotProgressAndCounts(t *testing.T) {
	t.Parallel()
	e, err := New(testConfig(false), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	loadTestBars(e, 6)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := e.RunSnapshot()
	if snap.Progress != 1 {
		t.Errorf("Progress = %v, want 1 after completion", snap.Progress)
	}
	if snap.OrdersFilled != 5 {
		t.Errorf("OrdersFilled = %d, want 5", snap.OrdersFilled)
	}
	if len(snap.EquityCurve) == 0 {
		t.Error("expected a non-empty equity curve")
	}
}

func TestRunForwardsEventsToDashboardChannel(t *testing.T) {
	t.Parallel()
	e, err := New(testConfig(true), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	loadTestBars(e, 6)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	newCount, filledCount, equityCount := 0, 0, 0
	for evt := range e.Events() {
		switch evt.Type {
		case "order":
			oe := evt.Data.(dashboard.OrderEvent)
			switch oe.Event {
			case string(types.NewOrder):
				newCount++
			case string(types.FilledOrder):
				filledCount++
			}
		case "equity":
			equityCount++
		}
	}
	if newCount != 5 {
		t.Errorf("NEW_ORDER events = %d, want 5", newCount)
	}
	if filledCount != 5 {
		t.Errorf("FILLED_ORDER events = %d, want 5", filledCount)
	}
	if equityCount == 0 {
		t.Error("expected equity events on the channel")
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	t.Parallel()
	e, err := New(testConfig(false), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	loadTestBars(e, 6)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); err != context.Canceled {
		t.Fatalf("Run with canceled ctx = %v, want context.Canceled", err)
	}
}

func TestAssetFromConfig(t *testing.T) {
	t.Parallel()

	stock, err := assetFromConfig(config.AssetConfig{Symbol: "SPY", Type: "stock"})
	if err != nil {
		t.Fatalf("stock: %v", err)
	}
	if stock.AssetType != types.AssetTypeStock || stock.Symbol != "SPY" {
		t.Errorf("stock = %+v", stock)
	}

	opt, err := assetFromConfig(config.AssetConfig{
		Symbol: "SPY", Type: "option", Expiration: "2024-06-21", Strike: 470, Right: "CALL",
	})
	if err != nil {
		t.Fatalf("option: %v", err)
	}
	if opt.Right != types.Call || opt.Multiplier != 100 {
		t.Errorf("option = %+v, want CALL with default multiplier 100", opt)
	}
	if opt.Expiration.Format(time.DateOnly) != "2024-06-21" {
		t.Errorf("expiration = %v", opt.Expiration)
	}

	if _, err := assetFromConfig(config.AssetConfig{Symbol: "X", Type: "bond"}); err == nil {
		t.Error("expected an error for an unknown asset type")
	}
}
