package strategy

import (
	"fmt"
	"log/slog"

	"backtesting-broker/internal/broker"
	"backtesting-broker/internal/datasource"
	"backtesting-broker/pkg/types"
)

// BuyEachIteration is the reference strategy: every trading iteration it
// pulls ten historical bars (to establish that historical data access
// works end to end) and submits a one-unit market buy. Useful as a smoke
// test of the whole pipeline and as a template for real strategies.
type BuyEachIteration struct {
	*Base
	Asset types.Asset
}

// NewBuyEachIteration builds the reference strategy for asset, holding b.
// It does not register itself with b.
func NewBuyEachIteration(name string, b *broker.BacktestingBroker, ds datasource.DataSource, logger *slog.Logger, asset types.Asset, initialCash float64, buyFees, sellFees []types.TradingFee, minutesBeforeClosing int) *BuyEachIteration {
	return &BuyEachIteration{
		Base:  NewBase(name, b, ds, logger, initialCash, buyFees, sellFees, minutesBeforeClosing),
		Asset: asset,
	}
}

// OnTradingIteration fetches ten bars of history (unused beyond
// confirming data availability), then creates and submits a one-share
// market buy.
func (s *BuyEachIteration) OnTradingIteration() error {
	if _, err := s.GetHistoricalPrices(s.Asset, 10, s.ds.DefaultTimestep(), 0, nil); err != nil {
		return fmt.Errorf("buy-each-iteration: historical prices: %w", err)
	}
	order, err := s.CreateOrder(s.Asset, 1, types.Buy)
	if err != nil {
		return fmt.Errorf("buy-each-iteration: create order: %w", err)
	}
	s.SubmitOrder(order)
	return nil
}
