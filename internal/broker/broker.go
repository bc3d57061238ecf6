// Package broker implements the backtesting order state engine: clock
// advancement, order acceptance and expansion, per-bar fill evaluation,
// option expiration cash settlement, trade-cost computation, and the
// event stream that publishes order-lifecycle transitions. This is the
// core of the system.
package broker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"backtesting-broker/internal/calendar"
	"backtesting-broker/internal/datasource"
	"backtesting-broker/pkg/types"
)

// BacktestingBroker is the scheduler/state engine of the backtest.
// Scheduling is single-threaded cooperative: the broker,
// strategy callbacks, and event handlers share one logical thread of
// control during a tick. The mutex below exists only to make read-only
// snapshot methods (Snapshot, GetTrackedOrders, GetTrackedPositions) safe
// to call concurrently from the dashboard's broadcast goroutine — it is
// never held across a Strategy callback or an event dispatch.
type BacktestingBroker struct {
	logger *slog.Logger
	cal    *calendar.Calendar
	ds     datasource.DataSource
	stream *Stream

	mu              sync.Mutex
	strategies      map[string]Strategy
	ordersByID      map[string]*types.Order
	orderOrder      []string
	pendingChildren map[string][]*types.Order
	positions       map[string]map[string]*types.Position
}

// New builds a BacktestingBroker bound to cal and ds, wiring the four
// order-lifecycle event handlers.
func New(logger *slog.Logger, cal *calendar.Calendar, ds datasource.DataSource) *BacktestingBroker {
	b := &BacktestingBroker{
		logger:          logger.With("component", "broker"),
		cal:             cal,
		ds:              ds,
		strategies:      make(map[string]Strategy),
		ordersByID:      make(map[string]*types.Order),
		pendingChildren: make(map[string][]*types.Order),
		positions:       make(map[string]map[string]*types.Position),
	}
	b.stream = NewStream(logger)
	b.registerHandlers()
	return b
}

// Stream returns the broker's event stream so callers can register
// additional handlers (the run orchestrator forwards order-lifecycle
// events to the dashboard this way). The broker's own four handlers are
// always registered first, so status transitions and position accounting
// happen before any observer sees the event.
func (b *BacktestingBroker) Stream() *Stream {
	return b.stream
}

// RegisterStrategy associates name with the Strategy implementation the
// broker will call into for cash and historical-price access.
func (b *BacktestingBroker) RegisterStrategy(s Strategy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strategies[s.Name()] = s
}

func (b *BacktestingBroker) registerHandlers() {
	forward := func(evt Event) { b.processTradeEvent(evt) }
	b.stream.AddAction(types.NewOrder, forward)
	b.stream.AddAction(types.FilledOrder, forward)
	b.stream.AddAction(types.CanceledOrder, forward)
	b.stream.AddAction(types.CashSettled, forward)
}

// processTradeEvent is the single handler every event kind forwards to:
// it performs the order's status transition and, on a fill, the position
// accounting.
func (b *BacktestingBroker) processTradeEvent(evt Event) {
	o := evt.Order
	if o == nil {
		return
	}
	switch evt.Kind {
	case types.NewOrder:
		b.mu.Lock()
		o.Status = types.StatusNew
		b.mu.Unlock()

	case types.FilledOrder, types.CashSettled:
		b.mu.Lock()
		o.Status = types.StatusFilled
		o.FilledPrice = evt.Price
		o.FilledQuantity = evt.FilledQuantity
		b.applyFillLocked(o, evt.Price, evt.FilledQuantity)
		b.mu.Unlock()

	case types.CanceledOrder:
		b.mu.Lock()
		if o.Status != types.StatusFilled {
			o.Status = types.StatusCanceled
		}
		b.mu.Unlock()
	}
}

func positionKey(a types.Asset) string {
	if a.AssetType != types.AssetTypeOption {
		return fmt.Sprintf("%s|%s", a.AssetType, a.Symbol)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s", a.AssetType, a.Symbol, a.Expiration.Format("2006-01-02"), a.Strike.String(), a.Right)
}

// applyFillLocked updates the (strategy, asset) position for a fill.
// Positions are retained with quantity 0 rather than deleted once flat, so
// their order history remains available for the duration of the run.
func (b *BacktestingBroker) applyFillLocked(o *types.Order, price decimal.Decimal, qty int) {
	strategyPositions, ok := b.positions[o.Strategy]
	if !ok {
		strategyPositions = make(map[string]*types.Position)
		b.positions[o.Strategy] = strategyPositions
	}
	key := positionKey(o.Asset)
	pos, ok := strategyPositions[key]
	if !ok {
		pos = &types.Position{StrategyName: o.Strategy, Asset: o.Asset}
		strategyPositions[key] = pos
	}
	delta := qty
	if o.Side == types.Sell {
		delta = -qty
	}
	pos.Quantity += delta
	pos.Orders = append(pos.Orders, o)
}

func (b *BacktestingBroker) trackLocked(o *types.Order) {
	b.ordersByID[o.ID] = o
	b.orderOrder = append(b.orderOrder, o.ID)
}

// SubmitOrder accepts an order into the broker: the order is
// expanded (OCO flattens immediately into two tracked primitives; bracket
// and OTO track the parent and defer their children until it fills) and
// NEW_ORDER is published for every order tracked as a result.
func (b *BacktestingBroker) SubmitOrder(o *types.Order) []*types.Order {
	tracked, pending := expandOnSubmit(o)

	b.mu.Lock()
	for _, t := range tracked {
		b.trackLocked(t)
	}
	if len(pending) > 0 {
		b.pendingChildren[o.ID] = pending
	}
	b.mu.Unlock()

	for _, t := range tracked {
		b.stream.Dispatch(Event{Kind: types.NewOrder, Order: t})
	}
	return tracked
}

// SubmitOrders submits each order in turn, in order, and returns every
// order tracked as a result (flattened children included).
func (b *BacktestingBroker) SubmitOrders(orders []*types.Order) []*types.Order {
	var all []*types.Order
	for _, o := range orders {
		all = append(all, b.SubmitOrder(o)...)
	}
	return all
}

// CancelOrder publishes CANCELED_ORDER for o. Canceling an already-filled
// order is a no-op, and canceling twice is equivalent to canceling once.
func (b *BacktestingBroker) CancelOrder(o *types.Order) {
	b.stream.Dispatch(Event{Kind: types.CanceledOrder, Order: o})
}

// GetTrackedOrders returns every order tracked for strategyName, in
// tracked-insertion order.
func (b *BacktestingBroker) GetTrackedOrders(strategyName string) []*types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*types.Order
	for _, id := range b.orderOrder {
		o := b.ordersByID[id]
		if o.Strategy == strategyName {
			out = append(out, o)
		}
	}
	return out
}

// GetTrackedPositions returns every position held for strategyName.
func (b *BacktestingBroker) GetTrackedPositions(strategyName string) []*types.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	strategyPositions, ok := b.positions[strategyName]
	if !ok {
		return nil
	}
	out := make([]*types.Position, 0, len(strategyPositions))
	for _, pos := range strategyPositions {
		out = append(out, pos)
	}
	return out
}

// GetLastPrice returns the close of the most recent bar at or before the
// current virtual time.
func (b *BacktestingBroker) GetLastPrice(asset types.Asset) (decimal.Decimal, error) {
	bars, err := b.ds.GetHistoricalPrices(asset, 1, b.ds.DefaultTimestep(), 0, nil)
	if err != nil {
		return decimal.Zero, err
	}
	last, ok := bars.Last()
	if !ok {
		return decimal.Zero, fmt.Errorf("broker: no price available for %s", asset)
	}
	return last.Close, nil
}

// IsMarketOpen reports whether the configured calendar has a session
// covering the current virtual time.
func (b *BacktestingBroker) IsMarketOpen() bool {
	return b.cal.IsOpen(b.ds.GetDatetime())
}

// GetTimeToOpen returns the duration until the next session open, or zero
// (logged) once no further session can be predicted. Returns zero
// immediately if the market is already open.
func (b *BacktestingBroker) GetTimeToOpen() time.Duration {
	now := b.ds.GetDatetime()
	if b.cal.IsOpen(now) {
		return 0
	}
	open, ok := b.cal.NextOpen(now)
	if !ok {
		b.logger.Warn("cannot predict future", "operation", "get_time_to_open")
		return 0
	}
	if open.Before(now) {
		return 0
	}
	return open.Sub(now)
}

// GetTimeToClose returns the duration until the close of the current or
// next session, or zero (logged) past the last known session.
func (b *BacktestingBroker) GetTimeToClose() time.Duration {
	now := b.ds.GetDatetime()
	s, ok := b.cal.CurrentOrNextSession(now)
	if !ok {
		b.logger.Warn("cannot predict future", "operation", "get_time_to_close")
		return 0
	}
	if s.Close.Before(now) {
		return 0
	}
	return s.Close.Sub(now)
}

// ShouldContinue reports whether the simulation has more time to run.
func (b *BacktestingBroker) ShouldContinue() bool {
	return b.ds.GetDatetime().Before(b.ds.DatetimeEnd())
}

// AwaitMarketToOpen processes pending orders, then advances the clock to
// the next session's open minus offsetMinutes. Skipped when the data
// source serves daily bars.
func (b *BacktestingBroker) AwaitMarketToOpen(strategyName string, offsetMinutes int) error {
	if err := b.ProcessPendingOrders(strategyName); err != nil {
		return err
	}
	if b.ds.DefaultTimestep() == types.TimestepDay {
		return nil
	}
	now := b.ds.GetDatetime()
	if b.cal.IsOpen(now) {
		return nil
	}
	open, ok := b.cal.NextOpen(now)
	if !ok {
		b.logger.Warn("cannot predict future", "operation", "await_market_to_open")
		return nil
	}
	_, err := b.ds.UpdateDatetime(open.Add(-time.Duration(offsetMinutes) * time.Minute))
	return err
}

// AwaitMarketToClose processes pending orders, then advances the clock to
// the current session's close minus offsetMinutes.
func (b *BacktestingBroker) AwaitMarketToClose(strategyName string, offsetMinutes int) error {
	if err := b.ProcessPendingOrders(strategyName); err != nil {
		return err
	}
	if b.ds.DefaultTimestep() == types.TimestepDay {
		return nil
	}
	now := b.ds.GetDatetime()
	s, ok := b.cal.CurrentOrNextSession(now)
	if !ok {
		b.logger.Warn("cannot predict future", "operation", "await_market_to_close")
		return nil
	}
	_, err := b.ds.UpdateDatetime(s.Close.Add(-time.Duration(offsetMinutes) * time.Minute))
	return err
}

// Sleep advances the clock by the given duration — how a strategy loop's
// sleeptime is applied between awaits.
func (b *BacktestingBroker) Sleep(d time.Duration) error {
	_, err := b.ds.UpdateDatetime(d)
	return err
}

// ProcessPendingOrders executes one tick of per-bar evaluation for
// strategyName: expire options, then evaluate every pending
// order against its current bar in tracked-insertion order.
func (b *BacktestingBroker) ProcessPendingOrders(strategyName string) error {
	strategy, ok := b.strategies[strategyName]
	if !ok {
		return fmt.Errorf("broker: no strategy registered as %q", strategyName)
	}

	if err := b.expireOptions(strategy); err != nil {
		return err
	}

	for _, order := range b.pendingOrders(strategyName) {
		if order.DependentOrderFilled || !order.IsOpen() {
			continue
		}
		if err := b.evaluateOrder(strategy, order); err != nil {
			return err
		}
	}
	return nil
}

// pendingOrders collects { o : status in {unprocessed, new} and
// !o.DependentOrderFilled and status != canceled }, in tracked order.
func (b *BacktestingBroker) pendingOrders(strategyName string) []*types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*types.Order
	for _, id := range b.orderOrder {
		o := b.ordersByID[id]
		if o.Strategy != strategyName {
			continue
		}
		if o.DependentOrderFilled {
			continue
		}
		if o.Status == types.StatusUnprocessed || o.Status == types.StatusNew {
			out = append(out, o)
		}
	}
	return out
}

func (b *BacktestingBroker) evaluateOrder(strategy Strategy, order *types.Order) error {
	bar, ok, err := b.ds.CurrentBar(order.Asset, b.ds.DefaultTimestep())
	if err != nil {
		return err
	}
	if !ok {
		b.logger.Warn("no bar available, canceling order", "order_id", order.ID, "asset", order.Asset.String())
		b.CancelOrder(order)
		return nil
	}

	price, filled, err := Evaluate(order, bar)
	if err != nil {
		return err
	}
	if !filled {
		return nil
	}

	b.resolveDependent(order)
	b.releaseChildrenOnFill(order)

	fees := strategy.SellTradingFees()
	if order.Side == types.Buy {
		fees = strategy.BuyTradingFees()
	}
	cost := CalculateTradeCost(fees, order.Type, price, order.Quantity)
	order.TradeCost = cost

	notional := price.Mul(decimal.NewFromInt(int64(order.Quantity)))
	cash := strategy.GetCash()
	if order.Side == types.Buy {
		cash = cash.Sub(notional)
	} else {
		cash = cash.Add(notional)
	}
	cash = cash.Sub(cost)
	strategy.SetCashPosition(cash)

	b.stream.Dispatch(Event{Kind: types.FilledOrder, Order: order, Price: price, FilledQuantity: order.Quantity})
	return nil
}

// resolveDependent marks order's sibling (if any) as filled-away and
// cancels it, preventing a double fill of an OCO pair within the same
// tick.
func (b *BacktestingBroker) resolveDependent(order *types.Order) {
	if !order.IsDependent() {
		return
	}
	b.mu.Lock()
	sibling, ok := b.ordersByID[order.DependentOrderID]
	b.mu.Unlock()
	if !ok {
		return
	}
	sibling.DependentOrderFilled = true
	b.CancelOrder(sibling)
}

// releaseChildrenOnFill appends a bracket/OTO parent's deferred children to
// the tracked set and publishes NEW_ORDER for each, the moment the parent
// fills.
func (b *BacktestingBroker) releaseChildrenOnFill(order *types.Order) {
	b.mu.Lock()
	children, ok := b.pendingChildren[order.ID]
	if ok {
		delete(b.pendingChildren, order.ID)
		for _, c := range children {
			b.trackLocked(c)
		}
	}
	b.mu.Unlock()

	for _, c := range children {
		b.stream.Dispatch(Event{Kind: types.NewOrder, Order: c})
	}
}

// expireOptions cash-settles any expired option position held by
// strategy. A position expiring today is held until
// minutes_before_closing before settling, so a strategy can react during
// the final session if it chooses.
func (b *BacktestingBroker) expireOptions(strategy Strategy) error {
	now := b.ds.GetDatetime()
	for _, pos := range b.GetTrackedPositions(strategy.Name()) {
		if pos.Asset.AssetType != types.AssetTypeOption || pos.Quantity == 0 {
			continue
		}
		if pos.Asset.Expiration.After(now) {
			continue
		}
		if sameDate(pos.Asset.Expiration, now) {
			if b.GetTimeToClose() > time.Duration(strategy.MinutesBeforeClosing())*time.Minute {
				continue
			}
		}
		if err := b.cashSettle(strategy, pos); err != nil {
			return err
		}
	}
	return nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// cashSettle converts an expiring option position into cash: per-contract
// P/L against the underlying's last price, clipped so a long position
// cannot realize a negative settlement and a short position cannot
// realize a positive one, then published as a synthetic offsetting order
// that drives the normal position-update path to zero.
func (b *BacktestingBroker) cashSettle(strategy Strategy, pos *types.Position) error {
	underlying := types.NewStockAsset(pos.Asset.Symbol)
	u, err := b.GetLastPrice(underlying)
	if err != nil {
		return fmt.Errorf("broker: cash settlement for %s: %w", pos.Asset, err)
	}

	var perContract decimal.Decimal
	if pos.Asset.Right == types.Call {
		perContract = u.Sub(pos.Asset.Strike)
	} else {
		perContract = pos.Asset.Strike.Sub(u)
	}

	pnl := perContract.Mul(decimal.NewFromInt(int64(pos.Quantity))).Mul(decimal.NewFromInt(int64(pos.Asset.Multiplier)))
	if pos.Quantity > 0 {
		pnl = decimal.Max(pnl, decimal.Zero)
	} else {
		pnl = decimal.Min(pnl, decimal.Zero)
	}

	strategy.SetCashPosition(strategy.GetCash().Add(pnl))

	qty := pos.Quantity
	side := types.Sell
	if qty < 0 {
		side = types.Buy
		qty = -qty
	}

	price := decimal.Zero
	if qty != 0 {
		price = pnl.Div(decimal.NewFromInt(int64(qty))).Div(decimal.NewFromInt(int64(pos.Asset.Multiplier))).Abs()
	}

	synthetic := &types.Order{
		ID:       newOrderID(),
		Strategy: strategy.Name(),
		Asset:    pos.Asset,
		Side:     side,
		Quantity: qty,
		Type:     types.Market,
		Status:   types.StatusUnprocessed,
	}
	b.mu.Lock()
	b.trackLocked(synthetic)
	b.mu.Unlock()

	b.stream.Dispatch(Event{Kind: types.NewOrder, Order: synthetic})
	b.stream.Dispatch(Event{Kind: types.CashSettled, Order: synthetic, Price: price, FilledQuantity: qty})
	return nil
}
