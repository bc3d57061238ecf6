package broker

import (
	"fmt"

	"github.com/shopspring/decimal"

	"backtesting-broker/pkg/types"
)

// Evaluate determines the fill price for order against bar, dispatching on
// order.Type. It returns (price, true, nil) on a fill,
// (zero, false, nil) when the order should remain pending, and a non-nil
// error for an order type the evaluator does not recognize or for a
// limit, stop or stop_limit order missing the price its type needs, which
// aborts the simulation.
//
// All rules treat the bar as a single candle with no intra-bar ordering
// inferred, and they deliberately over-fill in gap scenarios to favor
// execution.
func Evaluate(order *types.Order, bar types.Bar) (decimal.Decimal, bool, error) {
	switch order.Type {
	case types.Market:
		return bar.Open, true, nil

	case types.Limit:
		if order.LimitPrice == nil {
			return decimal.Zero, false, fmt.Errorf("broker: limit order %s missing limit_price", order.ID)
		}
		price, ok := fillLimit(bar, order.Side, *order.LimitPrice)
		return price, ok, nil

	case types.Stop:
		if order.StopPrice == nil {
			return decimal.Zero, false, fmt.Errorf("broker: stop order %s missing stop_price", order.ID)
		}
		price, ok := fillStop(bar, order.Side, *order.StopPrice)
		return price, ok, nil

	case types.StopLimit:
		if order.StopPrice == nil || order.LimitPrice == nil {
			return decimal.Zero, false, fmt.Errorf("broker: stop_limit order %s missing stop_price or limit_price", order.ID)
		}
		price, ok := fillStopLimit(order, bar)
		return price, ok, nil

	case types.TrailingStop:
		price, ok := fillTrailingStop(order, bar)
		return price, ok, nil

	default:
		return decimal.Zero, false, fmt.Errorf("broker: unsupported order type %q", order.Type)
	}
}

// fillLimit implements the limit rule: sell fills at the open on a
// favorable gap up, buy fills at the open on a favorable gap down;
// otherwise both fill only if the limit price is reachable within the
// bar's range.
func fillLimit(bar types.Bar, side types.Side, price decimal.Decimal) (decimal.Decimal, bool) {
	switch side {
	case types.Sell:
		if price.LessThanOrEqual(bar.Open) {
			return bar.Open, true
		}
	case types.Buy:
		if price.GreaterThanOrEqual(bar.Open) {
			return bar.Open, true
		}
	}
	if inRange(bar, price) {
		return price, true
	}
	return decimal.Zero, false
}

// fillStop implements the stop rule: sell fills at the open on a favorable
// gap down, buy fills at the open on a favorable gap up; otherwise both
// fill only if the stop price is reachable within the bar's range.
func fillStop(bar types.Bar, side types.Side, price decimal.Decimal) (decimal.Decimal, bool) {
	switch side {
	case types.Sell:
		if price.GreaterThanOrEqual(bar.Open) {
			return bar.Open, true
		}
	case types.Buy:
		if price.LessThanOrEqual(bar.Open) {
			return bar.Open, true
		}
	}
	if inRange(bar, price) {
		return price, true
	}
	return decimal.Zero, false
}

func inRange(bar types.Bar, price decimal.Decimal) bool {
	return bar.Low.LessThanOrEqual(price) && price.LessThanOrEqual(bar.High)
}

// fillStopLimit implements the two-phase stop_limit latch.
// Before triggering, the stop rule is evaluated; on the bar it first
// triggers, the limit rule is re-evaluated within that same bar using the
// stop's trigger price as the effective open. Once triggered on a prior
// bar, subsequent bars use the plain limit rule against the real O/H/L.
func fillStopLimit(order *types.Order, bar types.Bar) (decimal.Decimal, bool) {
	if !order.PriceTriggered {
		triggerPrice, triggered := fillStop(bar, order.Side, *order.StopPrice)
		if !triggered {
			return decimal.Zero, false
		}
		order.PriceTriggered = true

		effective := bar
		effective.Open = triggerPrice
		return fillLimit(effective, order.Side, *order.LimitPrice)
	}
	return fillLimit(bar, order.Side, *order.LimitPrice)
}

// fillTrailingStop implements the trailing_stop rule: the
// stop condition is evaluated against the current trail price first, then
// the trail price is updated for the next bar. On the first bar a trail
// order is evaluated, TrailStopPrice is nil, so there is no fill — it is
// only initialized from that bar's extreme.
func fillTrailingStop(order *types.Order, bar types.Bar) (decimal.Decimal, bool) {
	var price decimal.Decimal
	var filled bool
	if order.TrailStopPrice != nil {
		price, filled = fillStop(bar, order.Side, *order.TrailStopPrice)
	}

	trail := trailDistance(order, bar)
	switch order.Side {
	case types.Sell:
		candidate := bar.High.Sub(trail)
		if order.TrailStopPrice == nil || candidate.GreaterThan(*order.TrailStopPrice) {
			order.TrailStopPrice = &candidate
		}
	case types.Buy:
		candidate := bar.Low.Add(trail)
		if order.TrailStopPrice == nil || candidate.LessThan(*order.TrailStopPrice) {
			order.TrailStopPrice = &candidate
		}
	}

	return price, filled
}

// trailDistance resolves the configured trail to an absolute price
// distance for this bar. TrailAmount is an absolute offset; TrailPercent
// is relative to the bar's favorable extreme (the high for a sell trail,
// the low for a buy trail).
func trailDistance(order *types.Order, bar types.Bar) decimal.Decimal {
	if order.TrailAmount != nil {
		return *order.TrailAmount
	}
	if order.TrailPercent != nil {
		switch order.Side {
		case types.Sell:
			return bar.High.Mul(*order.TrailPercent)
		case types.Buy:
			return bar.Low.Mul(*order.TrailPercent)
		}
	}
	return decimal.Zero
}
