package broker

import "backtesting-broker/pkg/types"

// Snapshot is a point-in-time, independently-owned copy of a strategy's
// tracked orders and positions.
type Snapshot struct {
	StrategyName string
	Orders       []types.Order
	Positions    []types.Position
}

// Snapshot builds a deep-enough copy of strategyName's tracked state safe
// to hand to a concurrent reader (e.g. the dashboard) without risk of it
// observing a future mutation.
func (b *BacktestingBroker) Snapshot(strategyName string) Snapshot {
	orders := b.GetTrackedOrders(strategyName)
	positions := b.GetTrackedPositions(strategyName)

	snap := Snapshot{
		StrategyName: strategyName,
		Orders:       make([]types.Order, len(orders)),
		Positions:    make([]types.Position, len(positions)),
	}
	for i, o := range orders {
		snap.Orders[i] = *o
	}
	for i, p := range positions {
		snap.Positions[i] = *p
	}
	return snap
}
