// Package strategy provides a base broker.Strategy implementation plus one
// concrete reference strategy. Every concern the broker calls back into
// (cash bookkeeping, trading fee schedules, minutes-before-closing) lives
// here rather than in internal/broker itself, keeping strategy code out of
// the core and behind the broker.Strategy seam.
package strategy

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"backtesting-broker/internal/broker"
	"backtesting-broker/internal/datasource"
	"backtesting-broker/pkg/types"
)

// Base implements every broker.Strategy method except the trading logic
// itself. Embed it in a concrete strategy and supply an OnTradingIteration
// method.
type Base struct {
	name                 string
	broker               *broker.BacktestingBroker
	ds                   datasource.DataSource
	logger               *slog.Logger
	cash                 decimal.Decimal
	buyFees              []types.TradingFee
	sellFees             []types.TradingFee
	minutesBeforeClosing int
}

// NewBase builds a Base named name that holds b, seeded with
// initialCash and the buy/sell trading fee schedules. ds is the
// same data source b was constructed with — Base reaches it directly for
// GetHistoricalPrices rather than routing through the broker, matching how
// broker.Strategy implementations hold their own data source reference.
// It does not register itself with b.
func NewBase(name string, b *broker.BacktestingBroker, ds datasource.DataSource, logger *slog.Logger, initialCash float64, buyFees, sellFees []types.TradingFee, minutesBeforeClosing int) *Base {
	base := &Base{
		name:                 name,
		broker:               b,
		ds:                   ds,
		logger:               logger.With("strategy", name),
		cash:                 decimal.NewFromFloat(initialCash),
		buyFees:              buyFees,
		sellFees:             sellFees,
		minutesBeforeClosing: minutesBeforeClosing,
	}
	return base
}

func (b *Base) Name() string { return b.name }

func (b *Base) Cash() decimal.Decimal    { return b.cash }
func (b *Base) GetCash() decimal.Decimal { return b.cash }

// SetCashPosition is the only sanctioned mutator of cash.
func (b *Base) SetCashPosition(cash decimal.Decimal) { b.cash = cash }

func (b *Base) BuyTradingFees() []types.TradingFee  { return b.buyFees }
func (b *Base) SellTradingFees() []types.TradingFee { return b.sellFees }

func (b *Base) MinutesBeforeClosing() int { return b.minutesBeforeClosing }

// GetHistoricalPrices delegates to the data source directly, observing the
// same look-ahead boundary the broker itself is bound by.
func (b *Base) GetHistoricalPrices(asset types.Asset, length int, timestep types.Timestep, timeshift time.Duration, quote *types.Asset) (types.Bars, error) {
	return b.ds.GetHistoricalPrices(asset, length, timestep, timeshift, quote)
}

// CreateOrder is a thin forwarding convenience so a concrete strategy can
// write b.CreateOrder(...) instead of importing the broker package itself
// for every order construction. The order is stamped with the data
// source's current simulated time.
func (b *Base) CreateOrder(asset types.Asset, quantity int, side types.Side, opts ...broker.OrderOption) (*types.Order, error) {
	return broker.CreateOrder(b.name, asset, quantity, side, b.ds.GetDatetime(), opts...)
}

// SubmitOrder forwards to the registered broker.
func (b *Base) SubmitOrder(o *types.Order) []*types.Order {
	return b.broker.SubmitOrder(o)
}

// Snapshot returns the broker's point-in-time view of this strategy's
// tracked orders and positions.
func (b *Base) Snapshot() broker.Snapshot {
	return b.broker.Snapshot(b.name)
}

func (b *Base) Logger() *slog.Logger { return b.logger }
