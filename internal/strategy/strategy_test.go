package strategy

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backtesting-broker/internal/broker"
	"backtesting-broker/internal/calendar"
	"backtesting-broker/internal/datasource"
	"backtesting-broker/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T) (*broker.BacktestingBroker, *datasource.PandasDataSource, types.Asset, time.Time) {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	cal, err := calendar.New(calendar.Crypto, start, end)
	if err != nil {
		t.Fatalf("calendar.New: %v", err)
	}
	ds := datasource.New(start, end, types.TimestepDay)
	asset := types.NewStockAsset("SPY")

	var bars types.Bars
	for i := 0; i < 15; i++ {
		day := start.AddDate(0, 0, i)
		bars = append(bars, types.Bar{
			Datetime: day,
			Open:     decimal.NewFromInt(100),
			High:     decimal.NewFromInt(101),
			Low:      decimal.NewFromInt(99),
			Close:    decimal.NewFromInt(100),
			Volume:   decimal.NewFromInt(1000),
		})
	}
	ds.LoadBars(asset, types.TimestepDay, bars)

	b := broker.New(testLogger(), cal, ds)
	return b, ds, asset, start
}

func TestBuyEachIterationSubmitsOneMarketBuy(t *testing.T) {
	t.Parallel()
	b, ds, asset, _ := newTestEnv(t)

	fee := types.NewTradingFee(0, 0.0033, true, true)
	s := NewBuyEachIteration("buy-each", b, ds, testLogger(), asset, 100000, []types.TradingFee{fee}, []types.TradingFee{fee}, 5)
	b.RegisterStrategy(s)

	if err := s.OnTradingIteration(); err != nil {
		t.Fatalf("OnTradingIteration: %v", err)
	}

	orders := b.GetTrackedOrders(s.Name())
	if len(orders) != 1 {
		t.Fatalf("expected 1 tracked order, got %d", len(orders))
	}
	o := orders[0]
	if o.Side != types.Buy || o.Quantity != 1 || o.Type != types.Market {
		t.Errorf("unexpected order shape: %+v", o)
	}
	if !o.SubmittedAt.Equal(ds.GetDatetime()) {
		t.Errorf("SubmittedAt = %v, want the simulated time %v", o.SubmittedAt, ds.GetDatetime())
	}
}

func TestBuyEachIterationSubmitsEveryCall(t *testing.T) {
	t.Parallel()
	b, ds, asset, _ := newTestEnv(t)

	fee := types.NewTradingFee(0, 0.0033, true, true)
	s := NewBuyEachIteration("buy-each", b, ds, testLogger(), asset, 100000, []types.TradingFee{fee}, []types.TradingFee{fee}, 5)
	b.RegisterStrategy(s)

	for i := 0; i < 3; i++ {
		if err := s.OnTradingIteration(); err != nil {
			t.Fatalf("OnTradingIteration iteration %d: %v", i, err)
		}
		if _, err := ds.UpdateDatetime(24 * time.Hour); err != nil {
			t.Fatalf("UpdateDatetime: %v", err)
		}
	}

	orders := b.GetTrackedOrders(s.Name())
	if len(orders) != 3 {
		t.Fatalf("expected 3 tracked orders after 3 iterations, got %d", len(orders))
	}
}

func TestBaseSetCashPositionIsOnlyMutator(t *testing.T) {
	t.Parallel()
	b, ds, asset, _ := newTestEnv(t)
	_ = asset

	base := NewBase("base-strategy", b, ds, testLogger(), 500, nil, nil, 0)
	if !base.Cash().Equal(decimal.NewFromInt(500)) {
		t.Fatalf("initial cash = %s, want 500", base.Cash())
	}
	base.SetCashPosition(decimal.NewFromInt(750))
	if !base.GetCash().Equal(decimal.NewFromInt(750)) {
		t.Fatalf("cash after SetCashPosition = %s, want 750", base.GetCash())
	}
}
