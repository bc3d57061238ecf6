package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestAssetEqual(t *testing.T) {
	t.Parallel()

	exp := time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)
	call := NewOptionAsset("SPY", exp, decimal.NewFromInt(470), Call, 100)

	tests := []struct {
		name string
		a, b Asset
		want bool
	}{
		{"same stock", NewStockAsset("SPY"), NewStockAsset("SPY"), true},
		{"different symbol", NewStockAsset("SPY"), NewStockAsset("QQQ"), false},
		{"stock vs option", NewStockAsset("SPY"), call, false},
		{"identical options", call, NewOptionAsset("SPY", exp, decimal.NewFromInt(470), Call, 100), true},
		{"different strike", call, NewOptionAsset("SPY", exp, decimal.NewFromInt(480), Call, 100), false},
		{"different right", call, NewOptionAsset("SPY", exp, decimal.NewFromInt(470), Put, 100), false},
		{"different expiration", call, NewOptionAsset("SPY", exp.AddDate(0, 1, 0), decimal.NewFromInt(470), Call, 100), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewOptionAssetDefaultsMultiplier(t *testing.T) {
	t.Parallel()
	a := NewOptionAsset("SPY", time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC), decimal.NewFromInt(470), Put, 0)
	if a.Multiplier != 100 {
		t.Errorf("Multiplier = %d, want 100", a.Multiplier)
	}
}

func TestTradingFeeAppliesTo(t *testing.T) {
	t.Parallel()

	taker := TradingFee{Taker: true}
	maker := TradingFee{Maker: true}

	tests := []struct {
		fee       TradingFee
		orderType OrderType
		want      bool
	}{
		{taker, Market, true},
		{taker, Stop, true},
		{taker, Limit, false},
		{maker, Limit, true},
		{maker, StopLimit, true},
		{maker, Market, false},
		{maker, TrailingStop, false},
		{taker, TrailingStop, false},
	}

	for _, tt := range tests {
		if got := tt.fee.AppliesTo(tt.orderType); got != tt.want {
			t.Errorf("AppliesTo(%s) with taker=%v maker=%v = %v, want %v",
				tt.orderType, tt.fee.Taker, tt.fee.Maker, got, tt.want)
		}
	}
}

func TestTradingFeeCompute(t *testing.T) {
	t.Parallel()
	fee := NewTradingFee(1.5, 0.001, true, false)

	got := fee.Compute(decimal.NewFromInt(100), 10)
	want := decimal.NewFromFloat(2.5) // 1.5 + 100*10*0.001
	if !got.Equal(want) {
		t.Errorf("Compute = %s, want %s", got, want)
	}
}

func TestBarsLastAndAtOrAfter(t *testing.T) {
	t.Parallel()

	var empty Bars
	if _, ok := empty.Last(); ok {
		t.Error("Last on empty Bars should report false")
	}
	if got := empty.AtOrAfter(time.Now()); got != nil {
		t.Errorf("AtOrAfter on empty Bars = %v, want nil", got)
	}

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := Bars{
		{Datetime: t0},
		{Datetime: t0.AddDate(0, 0, 1)},
		{Datetime: t0.AddDate(0, 0, 2)},
	}

	last, ok := bars.Last()
	if !ok || !last.Datetime.Equal(t0.AddDate(0, 0, 2)) {
		t.Errorf("Last = %v, %v", last.Datetime, ok)
	}

	tail := bars.AtOrAfter(t0.AddDate(0, 0, 1))
	if len(tail) != 2 || !tail[0].Datetime.Equal(t0.AddDate(0, 0, 1)) {
		t.Errorf("AtOrAfter = %v bars starting %v", len(tail), tail[0].Datetime)
	}

	if got := bars.AtOrAfter(t0.AddDate(0, 0, 3)); got != nil {
		t.Errorf("AtOrAfter past the end = %v, want nil", got)
	}
}

func TestOrderIsOpen(t *testing.T) {
	t.Parallel()

	for status, want := range map[OrderStatus]bool{
		StatusUnprocessed: true,
		StatusNew:         true,
		StatusFilled:      false,
		StatusCanceled:    false,
	} {
		o := Order{Status: status}
		if got := o.IsOpen(); got != want {
			t.Errorf("IsOpen with status %s = %v, want %v", status, got, want)
		}
	}
}
