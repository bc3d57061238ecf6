package broker

import (
	"time"

	"github.com/shopspring/decimal"

	"backtesting-broker/pkg/types"
)

// Strategy is the adapter contract the broker calls into. It is
// implemented outside this package — strategy user code and anything
// resembling a live-broker adapter stay behind this seam.
type Strategy interface {
	Name() string

	// Cash returns the strategy's current cash balance without side effects.
	Cash() decimal.Decimal
	// GetCash is the broker-facing accessor, kept distinct from Cash so
	// an implementation may add bookkeeping (e.g. mark-to-market) that
	// Cash() intentionally skips.
	GetCash() decimal.Decimal
	// SetCashPosition is the only sanctioned way to mutate cash.
	SetCashPosition(cash decimal.Decimal)

	GetHistoricalPrices(asset types.Asset, length int, timestep types.Timestep, timeshift time.Duration, quote *types.Asset) (types.Bars, error)

	BuyTradingFees() []types.TradingFee
	SellTradingFees() []types.TradingFee

	MinutesBeforeClosing() int
}

// OrderOption customizes a primitive or composite order at creation time.
// Using functional options here (rather than a single wide constructor)
// mirrors how order construction is generally done in idiomatic Go
// client code and keeps CreateOrder's signature stable as new order
// attributes are added.
type OrderOption func(*types.Order)

func WithType(t types.OrderType) OrderOption {
	return func(o *types.Order) { o.Type = t }
}

func WithOrderClass(c types.OrderClass) OrderOption {
	return func(o *types.Order) { o.OrderClass = c }
}

func WithLimitPrice(p decimal.Decimal) OrderOption {
	return func(o *types.Order) { o.LimitPrice = &p }
}

func WithStopPrice(p decimal.Decimal) OrderOption {
	return func(o *types.Order) { o.StopPrice = &p }
}

func WithStopLossPrice(p decimal.Decimal) OrderOption {
	return func(o *types.Order) { o.StopLossPrice = &p }
}

func WithStopLossLimitPrice(p decimal.Decimal) OrderOption {
	return func(o *types.Order) { o.StopLossLimitPrice = &p }
}

func WithTakeProfitPrice(p decimal.Decimal) OrderOption {
	return func(o *types.Order) { o.TakeProfitPrice = &p }
}

func WithTrailAmount(p decimal.Decimal) OrderOption {
	return func(o *types.Order) { o.TrailAmount = &p }
}

func WithTrailPercent(p decimal.Decimal) OrderOption {
	return func(o *types.Order) { o.TrailPercent = &p }
}

func WithQuote(a types.Asset) OrderOption {
	return func(o *types.Order) { o.Quote = &a }
}

// CreateOrder builds a new unprocessed order for strategyName, ready for
// BacktestingBroker.SubmitOrder. Quantity must be positive. submittedAt
// is the virtual-clock time of creation — never wall time, so identical
// runs stamp identical orders.
func CreateOrder(strategyName string, asset types.Asset, quantity int, side types.Side, submittedAt time.Time, opts ...OrderOption) (*types.Order, error) {
	if quantity <= 0 {
		return nil, errInvalidQuantity(quantity)
	}
	o := &types.Order{
		ID:          newOrderID(),
		Strategy:    strategyName,
		Asset:       asset,
		Quantity:    quantity,
		Side:        side,
		Type:        types.Market,
		Status:      types.StatusUnprocessed,
		SubmittedAt: submittedAt,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}
