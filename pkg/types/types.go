// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the backtesting engine — asset
// identity, order state, positions, bars, and trading fees. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// AssetType identifies the kind of tradable instrument.
type AssetType string

const (
	AssetTypeStock  AssetType = "stock"
	AssetTypeOption AssetType = "option"
	AssetTypeForex  AssetType = "forex"
	AssetTypeCrypto AssetType = "crypto"
)

// Right distinguishes the two kinds of option contracts.
type Right string

const (
	Call Right = "CALL"
	Put  Right = "PUT"
)

// Side represents the direction of an order: buy or sell.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderType enumerates the five fill-evaluation algorithms the broker knows.
type OrderType string

const (
	Market       OrderType = "market"
	Limit        OrderType = "limit"
	Stop         OrderType = "stop"
	StopLimit    OrderType = "stop_limit"
	TrailingStop OrderType = "trailing_stop"
)

// OrderClass describes how an order was submitted relative to its siblings.
// The broker flattens an OCO into its two primitive legs on submit. A
// Bracket or OTO parent is tracked and evaluated as an order itself; its
// exit children are added to the tracked set only when the parent fills.
type OrderClass string

const (
	Simple  OrderClass = ""
	OCO     OrderClass = "oco"
	Bracket OrderClass = "bracket"
	OTO     OrderClass = "oto"
)

// OrderStatus is the lifecycle state of a primitive order. Transitions are
// one-way: unprocessed -> new -> {filled, canceled}. Once filled or
// canceled, no further transition occurs.
type OrderStatus string

const (
	StatusUnprocessed OrderStatus = "unprocessed"
	StatusNew         OrderStatus = "new"
	StatusFilled      OrderStatus = "filled"
	StatusCanceled    OrderStatus = "canceled"
)

// EventKind names the events the broker publishes on its event stream.
type EventKind string

const (
	NewOrder      EventKind = "NEW_ORDER"
	FilledOrder   EventKind = "FILLED_ORDER"
	CanceledOrder EventKind = "CANCELED_ORDER"
	CashSettled   EventKind = "CASH_SETTLED"
)

// ————————————————————————————————————————————————————————————————————————
// Asset
// ————————————————————————————————————————————————————————————————————————

// Asset identifies a tradable instrument. Immutable after construction.
// Two assets are equal iff every field below is equal — see Equal.
type Asset struct {
	Symbol     string
	AssetType  AssetType
	Expiration time.Time       // options only; zero value for non-options
	Strike     decimal.Decimal // options only
	Right      Right           // options only
	Multiplier int             // options only; default 100
}

// NewStockAsset builds a plain equity/ETF asset.
func NewStockAsset(symbol string) Asset {
	return Asset{Symbol: symbol, AssetType: AssetTypeStock}
}

// NewOptionAsset builds an option contract asset. Multiplier defaults to 100
// when zero, matching standard US equity option contracts.
func NewOptionAsset(symbol string, expiration time.Time, strike decimal.Decimal, right Right, multiplier int) Asset {
	if multiplier == 0 {
		multiplier = 100
	}
	return Asset{
		Symbol:     symbol,
		AssetType:  AssetTypeOption,
		Expiration: expiration,
		Strike:     strike,
		Right:      right,
		Multiplier: multiplier,
	}
}

// Equal reports whether two assets share identity. Required for all fields
// per the data model: symbol, type, and (for options) expiration, strike,
// right, and multiplier.
func (a Asset) Equal(b Asset) bool {
	if a.Symbol != b.Symbol || a.AssetType != b.AssetType {
		return false
	}
	if a.AssetType != AssetTypeOption {
		return true
	}
	return a.Expiration.Equal(b.Expiration) && a.Strike.Equal(b.Strike) &&
		a.Right == b.Right && a.Multiplier == b.Multiplier
}

// String renders a human-readable identifier, useful in logs and test names.
func (a Asset) String() string {
	if a.AssetType != AssetTypeOption {
		return fmt.Sprintf("%s(%s)", a.Symbol, a.AssetType)
	}
	return fmt.Sprintf("%s %s %s@%s x%d", a.Symbol, a.Expiration.Format("2006-01-02"), a.Right, a.Strike.String(), a.Multiplier)
}

// ————————————————————————————————————————————————————————————————————————
// Trading fees
// ————————————————————————————————————————————————————————————————————————

// TradingFee describes one line item of the per-trade cost model. Taker
// fees apply to market/stop fills; maker fees apply to limit/stop_limit
// fills. A fee may set both Taker and Maker true if it
// applies regardless of how the order filled.
type TradingFee struct {
	FlatFee    decimal.Decimal
	PercentFee decimal.Decimal
	Taker      bool
	Maker      bool
}

// NewTradingFee is a convenience constructor taking float inputs, mirroring
// how fee schedules are usually expressed in config.
func NewTradingFee(flatFee, percentFee float64, taker, maker bool) TradingFee {
	return TradingFee{
		FlatFee:    decimal.NewFromFloat(flatFee),
		PercentFee: decimal.NewFromFloat(percentFee),
		Taker:      taker,
		Maker:      maker,
	}
}

// AppliesTo reports whether this fee line item is charged for a fill of
// the given order type, per the taker/maker partition. Trailing stops sit
// in neither group and never incur a fee.
func (f TradingFee) AppliesTo(t OrderType) bool {
	switch t {
	case Market, Stop:
		return f.Taker
	case Limit, StopLimit:
		return f.Maker
	default:
		return false
	}
}

// Compute returns flat_fee + price*quantity*percent_fee for one fill.
func (f TradingFee) Compute(price decimal.Decimal, quantity int) decimal.Decimal {
	notional := price.Mul(decimal.NewFromInt(int64(quantity)))
	return f.FlatFee.Add(notional.Mul(f.PercentFee))
}

// ————————————————————————————————————————————————————————————————————————
// Order
// ————————————————————————————————————————————————————————————————————————

// Order is a request to transact Quantity of Asset on Side for Strategy.
// Optional price fields are meaningful depending on Type/OrderClass; see
// the broker package for the order-expansion and fill-evaluation rules.
//
// DependentOrderID is a sibling id, not a direct reference — this breaks
// the cyclic reference an OCO/bracket pair would otherwise form and keeps
// Order safe to copy and serialize. See internal/broker for the lookup map
// that resolves it.
type Order struct {
	ID         string
	Strategy   string
	Asset      Asset
	Quote      *Asset // set for crypto pairs quoted against a non-USD asset
	Side       Side
	Quantity   int
	Type       OrderType
	OrderClass OrderClass

	LimitPrice         *decimal.Decimal
	StopPrice          *decimal.Decimal
	StopLossPrice      *decimal.Decimal
	StopLossLimitPrice *decimal.Decimal
	TakeProfitPrice    *decimal.Decimal
	TrailAmount        *decimal.Decimal // absolute trail distance
	TrailPercent       *decimal.Decimal // percent trail distance, mutually exclusive with TrailAmount

	Status      OrderStatus
	SubmittedAt time.Time

	// PriceTriggered latches true the first bar a stop_limit order's stop
	// condition fires; once true, subsequent bars use the plain limit rule.
	PriceTriggered bool

	// TrailStopPrice is the running trigger level for a trailing_stop order.
	// Nil until the first bar it is evaluated against.
	TrailStopPrice *decimal.Decimal

	TradeCost decimal.Decimal

	DependentOrderID     string
	DependentOrderFilled bool

	FilledPrice    decimal.Decimal
	FilledQuantity int
}

// IsDependent reports whether this order has a linked sibling.
func (o *Order) IsDependent() bool {
	return o.DependentOrderID != ""
}

// IsOpen reports whether the order can still transition to filled/canceled.
func (o *Order) IsOpen() bool {
	return o.Status == StatusUnprocessed || o.Status == StatusNew
}

// ————————————————————————————————————————————————————————————————————————
// Position
// ————————————————————————————————————————————————————————————————————————

// Position is the per-(strategy, asset) aggregate quantity plus the orders
// that built it. Quantity is the signed sum of filled order quantities:
// buys positive, sells negative.
type Position struct {
	StrategyName string
	Asset        Asset
	Quantity     int
	Orders       []*Order
}

// ————————————————————————————————————————————————————————————————————————
// Bars
// ————————————————————————————————————————————————————————————————————————

// Bar is one OHLCV record over a fixed timestep.
type Bar struct {
	Datetime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// Bars is an ordered (ascending datetime) slice of Bar.
type Bars []Bar

// Last returns the most recent bar and true, or the zero value and false
// if Bars is empty.
func (b Bars) Last() (Bar, bool) {
	if len(b) == 0 {
		return Bar{}, false
	}
	return b[len(b)-1], true
}

// AtOrAfter returns the sub-slice of bars whose Datetime is >= t.
func (b Bars) AtOrAfter(t time.Time) Bars {
	for i, bar := range b {
		if !bar.Datetime.Before(t) {
			return b[i:]
		}
	}
	return nil
}

// Timestep names the bar granularity requested from a DataSource.
type Timestep string

const (
	TimestepMinute Timestep = "minute"
	TimestepDay    Timestep = "day"
)
