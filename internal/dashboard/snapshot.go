package dashboard

import (
	"time"
)

// RunSnapshotProvider is implemented by the backtest run orchestrator. The
// dashboard only ever observes through this seam — it never reaches into
// the broker or the data source directly.
type RunSnapshotProvider interface {
	RunSnapshot() RunSnapshot
	Events() <-chan ProgressEvent
}

// RunSnapshot is the complete dashboard state for one running backtest.
type RunSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`      // wall-clock time the snapshot was built
	SimulatedTime time.Time `json:"simulated_time"` // virtual clock position
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Progress      float64   `json:"progress"` // fraction of [start, end] elapsed

	StrategyName   string  `json:"strategy_name"`
	Cash           float64 `json:"cash"`
	PortfolioValue float64 `json:"portfolio_value"`

	OrdersTracked  int `json:"orders_tracked"`
	OrdersFilled   int `json:"orders_filled"`
	OrdersCanceled int `json:"orders_canceled"`
	OrdersOpen     int `json:"orders_open"`

	Positions []PositionStatus `json:"positions"`

	// EquityCurve is the tail of the sampled equity series, newest last.
	EquityCurve []EquityPoint `json:"equity_curve"`
}

// PositionStatus is one (strategy, asset) holding in the snapshot.
type PositionStatus struct {
	Asset     string  `json:"asset"`
	Quantity  int     `json:"quantity"`
	LastPrice float64 `json:"last_price"`
	Value     float64 `json:"value"`
}
