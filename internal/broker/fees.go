package broker

import (
	"github.com/shopspring/decimal"

	"backtesting-broker/pkg/types"
)

// CalculateTradeCost implements the per-trade cost model: for
// each fee line item that applies to orderType (taker fees for
// market/stop, maker fees for limit/stop_limit), add
// flat_fee + price*quantity*percent_fee, and return the sum as a
// fixed-precision decimal.
func CalculateTradeCost(fees []types.TradingFee, orderType types.OrderType, price decimal.Decimal, quantity int) decimal.Decimal {
	total := decimal.Zero
	for _, fee := range fees {
		if fee.AppliesTo(orderType) {
			total = total.Add(fee.Compute(price, quantity))
		}
	}
	return total
}
