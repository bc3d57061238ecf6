package datasource

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backtesting-broker/pkg/types"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func bar(t time.Time, o, h, l, c float64) types.Bar {
	return types.Bar{Datetime: t, Open: dec(o), High: dec(h), Low: dec(l), Close: dec(c), Volume: dec(1000)}
}

func TestGetHistoricalPricesNoLookahead(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	ds := New(start, end, types.TimestepDay)

	asset := types.NewStockAsset("SPY")
	var bars types.Bars
	for i := 0; i < 5; i++ {
		day := start.AddDate(0, 0, i)
		bars = append(bars, bar(day, 100+float64(i), 101+float64(i), 99+float64(i), 100+float64(i)))
	}
	ds.LoadBars(asset, types.TimestepDay, bars)

	if _, err := ds.UpdateDatetime(start.AddDate(0, 0, 2)); err != nil {
		t.Fatalf("UpdateDatetime: %v", err)
	}

	got, err := ds.GetHistoricalPrices(asset, 10, types.TimestepDay, 0, nil)
	if err != nil {
		t.Fatalf("GetHistoricalPrices: %v", err)
	}
	for _, b := range got {
		if b.Datetime.After(start.AddDate(0, 0, 2)) {
			t.Fatalf("look-ahead: got bar at %v after current time %v", b.Datetime, start.AddDate(0, 0, 2))
		}
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3 (days 0,1,2)", len(got))
	}
}

func TestCurrentBarFallsBackToLastRow(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	ds := New(start, end, types.TimestepDay)
	asset := types.NewStockAsset("SPY")

	// Only one bar, dated before "now" by more than the lookback window,
	// so the >= now filter is empty and CurrentBar must fall back.
	ds.LoadBars(asset, types.TimestepDay, types.Bars{bar(start, 100, 101, 99, 100)})

	if _, err := ds.UpdateDatetime(start.AddDate(0, 0, 5)); err != nil {
		t.Fatalf("UpdateDatetime: %v", err)
	}

	got, ok, err := ds.CurrentBar(asset, types.TimestepDay)
	if err != nil {
		t.Fatalf("CurrentBar: %v", err)
	}
	if !ok {
		t.Fatal("expected CurrentBar to fall back to the last available row")
	}
	if !got.Datetime.Equal(start) {
		t.Errorf("got.Datetime = %v, want %v", got.Datetime, start)
	}
}

func TestCurrentBarFiltersToAtOrAfterNow(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	ds := New(start, end, types.TimestepDay)
	asset := types.NewStockAsset("SPY")

	ds.LoadBars(asset, types.TimestepDay, types.Bars{
		bar(start.AddDate(0, 0, 2), 100, 101, 99, 100),
		bar(start.AddDate(0, 0, 3), 101, 102, 100, 101),
	})
	if _, err := ds.UpdateDatetime(start.AddDate(0, 0, 3)); err != nil {
		t.Fatalf("UpdateDatetime: %v", err)
	}

	got, ok, err := ds.CurrentBar(asset, types.TimestepDay)
	if err != nil {
		t.Fatalf("CurrentBar: %v", err)
	}
	if !ok {
		t.Fatal("expected a bar")
	}
	if !got.Datetime.Equal(start.AddDate(0, 0, 3)) {
		t.Errorf("got.Datetime = %v, want day 3 (the bar covering now)", got.Datetime)
	}
}

func TestClockMonotonic(t *testing.T) {
	t.Parallel()
	c := NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	first, _ := c.Update(60)
	second, err := c.Update(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if second.Before(first) {
		t.Errorf("clock moved backward: %v -> %v", first, second)
	}
}
