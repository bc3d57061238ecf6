package dashboard

import (
	"time"

	"backtesting-broker/pkg/types"
)

// ProgressEvent is the wrapper for everything pushed over the progress
// socket while a backtest runs.
type ProgressEvent struct {
	Type          string      `json:"type"`           // "snapshot", "order", "equity"
	SimulatedTime time.Time   `json:"simulated_time"` // virtual clock at dispatch
	Data          interface{} `json:"data"`
}

// OrderEvent mirrors one order-lifecycle transition from the broker's
// event stream: NEW_ORDER, FILLED_ORDER, CANCELED_ORDER, or CASH_SETTLED.
type OrderEvent struct {
	Event          string  `json:"event"`
	OrderID        string  `json:"order_id"`
	Strategy       string  `json:"strategy"`
	Asset          string  `json:"asset"`
	Side           string  `json:"side"`
	OrderType      string  `json:"order_type"`
	Status         string  `json:"status"`
	Quantity       int     `json:"quantity"`
	Price          float64 `json:"price,omitempty"`
	FilledQuantity int     `json:"filled_quantity,omitempty"`
	TradeCost      float64 `json:"trade_cost,omitempty"`
}

// EquityPoint is one sample of the running equity curve.
type EquityPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	Cash           float64   `json:"cash"`
	PortfolioValue float64   `json:"portfolio_value"`
}

// SnapshotEvent wraps a full run snapshot for the wire; sent to each
// client on connect and available to broadcast at any checkpoint.
func SnapshotEvent(snap RunSnapshot) ProgressEvent {
	return ProgressEvent{
		Type:          "snapshot",
		SimulatedTime: snap.SimulatedTime,
		Data:          snap,
	}
}

// NewOrderEvent builds an OrderEvent from an order at the moment kind was
// dispatched for it.
func NewOrderEvent(kind types.EventKind, o *types.Order, price float64, filledQty int) OrderEvent {
	evt := OrderEvent{
		Event:     string(kind),
		OrderID:   o.ID,
		Strategy:  o.Strategy,
		Asset:     o.Asset.String(),
		Side:      string(o.Side),
		OrderType: string(o.Type),
		Status:    string(o.Status),
		Quantity:  o.Quantity,
	}
	if kind == types.FilledOrder || kind == types.CashSettled {
		evt.Price = price
		evt.FilledQuantity = filledQty
		evt.TradeCost, _ = o.TradeCost.Float64()
	}
	return evt
}
