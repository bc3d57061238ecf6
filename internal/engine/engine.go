// Package engine is the central orchestrator of a backtest run.
//
// It wires together all subsystems:
//
//  1. Calendar builds the session table for the configured market.
//  2. PandasDataSource holds the virtual clock and serves bars, populated
//     from the DuckDB bar cache (and, for dates the cache is missing, the
//     illustrative vendor client).
//  3. BacktestingBroker evaluates pending orders each tick and publishes
//     order-lifecycle events.
//  4. The reference strategy submits orders each trading iteration.
//  5. The dashboard (optional) receives order events and equity snapshots
//     over a buffered channel; a full channel drops events rather than
//     stalling the simulation.
//
// Lifecycle: New() → Prepare() → Run() → Summary()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"backtesting-broker/internal/broker"
	"backtesting-broker/internal/cache"
	"backtesting-broker/internal/calendar"
	"backtesting-broker/internal/config"
	"backtesting-broker/internal/dashboard"
	"backtesting-broker/internal/datasource"
	"backtesting-broker/internal/persist"
	"backtesting-broker/internal/strategy"
	"backtesting-broker/internal/vendor"
	"backtesting-broker/pkg/types"
)

// Engine owns one backtest run end to end.
type Engine struct {
	cfg      config.Config
	cal      *calendar.Calendar
	ds       *datasource.PandasDataSource
	broker   *broker.BacktestingBroker
	strategy *strategy.BuyEachIteration
	store    *cache.Store
	logger   *slog.Logger

	asset    types.Asset
	timestep types.Timestep
	sleep    time.Duration

	// events carries progress events to the dashboard. Nil when the
	// dashboard is disabled. Closed by Run on completion.
	events chan dashboard.ProgressEvent

	mu     sync.Mutex
	equity []dashboard.EquityPoint
}

// New creates and wires all engine components. Data is not loaded yet —
// call Prepare before Run.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	cal, err := calendar.New(calendar.Market(cfg.Backtest.Market), cfg.Backtest.Start, cfg.Backtest.End)
	if err != nil {
		return nil, err
	}

	timestep := types.Timestep(cfg.Backtest.Timestep)
	ds := datasource.New(cfg.Backtest.Start, cfg.Backtest.End, timestep)
	b := broker.New(logger, cal, ds)

	asset, err := assetFromConfig(cfg.Asset)
	if err != nil {
		return nil, err
	}

	strat := strategy.NewBuyEachIteration(
		"buy-each-iteration", b, ds, logger, asset,
		cfg.Backtest.InitialCash,
		feesFromConfig(cfg.Fees.Buy), feesFromConfig(cfg.Fees.Sell),
		cfg.Backtest.MinutesBeforeClosing,
	)
	b.RegisterStrategy(strat)

	sleep := time.Duration(cfg.Backtest.SleepSeconds) * time.Second
	if sleep <= 0 {
		if timestep == types.TimestepDay {
			sleep = 24 * time.Hour
		} else {
			sleep = time.Minute
		}
	}

	e := &Engine{
		cfg:      cfg,
		cal:      cal,
		ds:       ds,
		broker:   b,
		strategy: strat,
		logger:   logger.With("component", "engine"),
		asset:    asset,
		timestep: timestep,
		sleep:    sleep,
	}

	if cfg.Dashboard.Enabled {
		e.events = make(chan dashboard.ProgressEvent, 256)
		e.forwardBrokerEvents()
	}

	return e, nil
}

// forwardBrokerEvents registers observers on the broker's event stream
// that mirror each order transition onto the dashboard channel. The
// broker's own handlers run first, so the order's status has already
// transitioned by the time the dashboard sees it.
func (e *Engine) forwardBrokerEvents() {
	forward := func(evt broker.Event) {
		if evt.Order == nil {
			return
		}
		price, _ := evt.Price.Float64()
		e.publish(dashboard.ProgressEvent{
			Type:          "order",
			SimulatedTime: e.ds.GetDatetime(),
			Data:          dashboard.NewOrderEvent(evt.Kind, evt.Order, price, evt.FilledQuantity),
		})
	}
	s := e.broker.Stream()
	s.AddAction(types.NewOrder, forward)
	s.AddAction(types.FilledOrder, forward)
	s.AddAction(types.CanceledOrder, forward)
	s.AddAction(types.CashSettled, forward)
}

func (e *Engine) publish(evt dashboard.ProgressEvent) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- evt:
	default:
	}
}

// Prepare loads bar data into the data source: cache first, then the
// vendor for any trading dates the cache is missing (when a vendor is
// configured). For an option asset the underlying's bars are loaded too,
// since expiration settlement prices come from the underlying.
func (e *Engine) Prepare(ctx context.Context) error {
	if e.cfg.Cache.DBPath == "" {
		return fmt.Errorf("engine: no backtesting data source configured (cache.db_path is empty)")
	}

	store, err := cache.Open(e.cfg.Cache.DBPath)
	if err != nil {
		return err
	}
	e.store = store

	assets := []types.Asset{e.asset}
	if e.asset.AssetType == types.AssetTypeOption {
		assets = append(assets, types.NewStockAsset(e.asset.Symbol))
	}

	for _, a := range assets {
		if err := e.loadAsset(ctx, store, a); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the cache handle.
func (e *Engine) Close() error {
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

func (e *Engine) loadAsset(ctx context.Context, store *cache.Store, a types.Asset) error {
	if e.cfg.Vendor.BaseURL != "" {
		if err := e.fillCacheFromVendor(ctx, store, a); err != nil {
			return err
		}
	}

	bars, err := store.LoadBars(a, e.timestep, e.cfg.Backtest.Start, e.cfg.Backtest.End)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return fmt.Errorf("engine: no bars available for %s over [%s, %s]", a,
			e.cfg.Backtest.Start.Format(time.DateOnly), e.cfg.Backtest.End.Format(time.DateOnly))
	}
	e.ds.LoadBars(a, e.timestep, bars)
	e.logger.Info("bars loaded", "asset", a.String(), "count", len(bars))
	return nil
}

// fillCacheFromVendor fetches the trading dates the cache is missing,
// fanned out across at most cfg.Vendor.MaxWorkers concurrent requests.
// The rate limiter inside the vendor client paces the actual HTTP calls.
func (e *Engine) fillCacheFromVendor(ctx context.Context, store *cache.Store, a types.Asset) error {
	sessions := e.cal.Sessions()
	opens := make([]time.Time, len(sessions))
	for i, s := range sessions {
		opens[i] = s.Open
	}

	missing, err := store.MissingDates(a, e.timestep, opens)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	e.logger.Info("fetching missing dates from vendor", "asset", a.String(), "dates", len(missing))

	client := vendor.NewClient(e.cfg.Vendor, e.logger)

	workers := e.cfg.Vendor.MaxWorkers
	if workers <= 0 {
		workers = 4
	}
	sem := make(chan struct{}, workers)

	var (
		wg       sync.WaitGroup
		fetchMu  sync.Mutex
		fetchErr error
	)
	for _, day := range missing {
		day := day
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			bars, err := client.GetOHLCV(ctx, a, day, day.Add(24*time.Hour), e.timestep)
			if err == nil && len(bars) > 0 {
				err = store.UpsertBars(a, e.timestep, bars)
			}
			if err != nil {
				fetchMu.Lock()
				if fetchErr == nil {
					fetchErr = err
				}
				fetchMu.Unlock()
			}
		}()
	}
	wg.Wait()
	return fetchErr
}

// Run drives the backtest loop to completion (or ctx cancellation):
// await open, tick, trade, sleep, and hand the final minutes of each
// session to await-close. Orders still pending at datetime_end remain in
// their last status and are reported by Summary.
func (e *Engine) Run(ctx context.Context) error {
	defer func() {
		if e.events != nil {
			close(e.events)
		}
	}()

	name := e.strategy.Name()
	for e.broker.ShouldContinue() {
		select {
		case <-ctx.Done():
			e.logger.Info("backtest interrupted", "simulated_time", e.ds.GetDatetime())
			return ctx.Err()
		default:
		}

		if err := e.broker.AwaitMarketToOpen(name, 0); err != nil {
			return err
		}
		if err := e.strategy.OnTradingIteration(); err != nil {
			e.logger.Warn("trading iteration failed", "error", err)
		}
		e.recordEquity()

		if e.timestep != types.TimestepDay &&
			e.broker.IsMarketOpen() &&
			e.broker.GetTimeToClose() <= time.Duration(e.strategy.MinutesBeforeClosing())*time.Minute {
			if err := e.broker.AwaitMarketToClose(name, 0); err != nil {
				return err
			}
		}

		if err := e.broker.Sleep(e.sleep); err != nil {
			return err
		}
	}

	// Final tick at datetime_end: expire options and give resting orders
	// one last bar.
	if err := e.broker.ProcessPendingOrders(name); err != nil {
		return err
	}
	e.recordEquity()
	e.logger.Info("backtest complete", "final_cash", e.strategy.GetCash().StringFixed(2))
	return nil
}

// recordEquity samples cash plus marked-to-market position value and
// mirrors the sample onto the dashboard channel.
func (e *Engine) recordEquity() {
	cash := e.strategy.GetCash()
	value := cash
	for _, pos := range e.broker.GetTrackedPositions(e.strategy.Name()) {
		if pos.Quantity == 0 {
			continue
		}
		value = value.Add(e.positionValue(pos))
	}

	cashF, _ := cash.Float64()
	valueF, _ := value.Float64()
	point := dashboard.EquityPoint{
		Timestamp:      e.ds.GetDatetime(),
		Cash:           cashF,
		PortfolioValue: valueF,
	}

	e.mu.Lock()
	e.equity = append(e.equity, point)
	e.mu.Unlock()

	e.publish(dashboard.ProgressEvent{Type: "equity", SimulatedTime: point.Timestamp, Data: point})
}

func (e *Engine) positionValue(pos *types.Position) decimal.Decimal {
	last, err := e.broker.GetLastPrice(pos.Asset)
	if err != nil {
		return decimal.Zero
	}
	value := last.Mul(decimal.NewFromInt(int64(pos.Quantity)))
	if pos.Asset.AssetType == types.AssetTypeOption {
		value = value.Mul(decimal.NewFromInt(int64(pos.Asset.Multiplier)))
	}
	return value
}

// Events implements dashboard.RunSnapshotProvider.
func (e *Engine) Events() <-chan dashboard.ProgressEvent {
	return e.events
}

// RunSnapshot implements dashboard.RunSnapshotProvider: a point-in-time
// view of the run for the snapshot endpoint and newly connected clients.
func (e *Engine) RunSnapshot() dashboard.RunSnapshot {
	now := e.ds.GetDatetime()
	start, end := e.ds.DatetimeStart(), e.ds.DatetimeEnd()

	progress := 0.0
	if total := end.Sub(start); total > 0 {
		progress = float64(now.Sub(start)) / float64(total)
		if progress > 1 {
			progress = 1
		}
	}

	snap := e.broker.Snapshot(e.strategy.Name())
	filled, canceled, open := 0, 0, 0
	for _, o := range snap.Orders {
		switch o.Status {
		case types.StatusFilled:
			filled++
		case types.StatusCanceled:
			canceled++
		default:
			open++
		}
	}

	var positions []dashboard.PositionStatus
	for _, p := range snap.Positions {
		if p.Quantity == 0 {
			continue
		}
		last, err := e.broker.GetLastPrice(p.Asset)
		if err != nil {
			last = decimal.Zero
		}
		lastF, _ := last.Float64()
		valueF, _ := e.positionValue(&p).Float64()
		positions = append(positions, dashboard.PositionStatus{
			Asset:     p.Asset.String(),
			Quantity:  p.Quantity,
			LastPrice: lastF,
			Value:     valueF,
		})
	}

	cashF, _ := e.strategy.GetCash().Float64()

	e.mu.Lock()
	curve := make([]dashboard.EquityPoint, len(e.equity))
	copy(curve, e.equity)
	e.mu.Unlock()

	valueF := cashF
	if n := len(curve); n > 0 {
		valueF = curve[n-1].PortfolioValue
	}

	return dashboard.RunSnapshot{
		Timestamp:      time.Now(),
		SimulatedTime:  now,
		Start:          start,
		End:            end,
		Progress:       progress,
		StrategyName:   e.strategy.Name(),
		Cash:           cashF,
		PortfolioValue: valueF,
		OrdersTracked:  len(snap.Orders),
		OrdersFilled:   filled,
		OrdersCanceled: canceled,
		OrdersOpen:     open,
		Positions:      positions,
		EquityCurve:    curve,
	}
}

// Summary builds the persisted result of the completed run.
func (e *Engine) Summary() persist.RunSummary {
	snap := e.broker.Snapshot(e.strategy.Name())

	summary := persist.RunSummary{
		StrategyName: e.strategy.Name(),
		Market:       e.cfg.Backtest.Market,
		Start:        e.ds.DatetimeStart(),
		End:          e.ds.DatetimeEnd(),
		CompletedAt:  time.Now(),
		InitialCash:  e.cfg.Backtest.InitialCash,
	}
	summary.FinalCash, _ = e.strategy.GetCash().Float64()

	for _, o := range snap.Orders {
		rec := persist.OrderRecord{
			ID:       o.ID,
			Asset:    o.Asset.String(),
			Side:     string(o.Side),
			Type:     string(o.Type),
			Status:   string(o.Status),
			Quantity: o.Quantity,
		}
		switch o.Status {
		case types.StatusFilled:
			summary.OrdersFilled++
			rec.FilledPrice, _ = o.FilledPrice.Float64()
			rec.FilledQuantity = o.FilledQuantity
			rec.TradeCost, _ = o.TradeCost.Float64()
		case types.StatusCanceled:
			summary.OrdersCanceled++
		default:
			summary.OrdersOpen++
		}
		summary.Orders = append(summary.Orders, rec)
	}
	summary.OrdersTracked = len(snap.Orders)

	for _, p := range snap.Positions {
		summary.Positions = append(summary.Positions, persist.PositionRecord{
			Asset:    p.Asset.String(),
			Quantity: p.Quantity,
			Fills:    len(p.Orders),
		})
	}

	e.mu.Lock()
	for _, pt := range e.equity {
		summary.EquityCurve = append(summary.EquityCurve, persist.EquityRecord{
			Timestamp:      pt.Timestamp,
			Cash:           pt.Cash,
			PortfolioValue: pt.PortfolioValue,
		})
	}
	e.mu.Unlock()

	return summary
}

func assetFromConfig(cfg config.AssetConfig) (types.Asset, error) {
	switch types.AssetType(cfg.Type) {
	case types.AssetTypeOption:
		expiration, err := time.Parse(time.DateOnly, cfg.Expiration)
		if err != nil {
			return types.Asset{}, fmt.Errorf("engine: parse asset.expiration: %w", err)
		}
		return types.NewOptionAsset(cfg.Symbol, expiration, decimal.NewFromFloat(cfg.Strike), types.Right(cfg.Right), cfg.Multiplier), nil
	case types.AssetTypeStock, types.AssetTypeForex, types.AssetTypeCrypto:
		return types.Asset{Symbol: cfg.Symbol, AssetType: types.AssetType(cfg.Type)}, nil
	default:
		return types.Asset{}, fmt.Errorf("engine: unknown asset type %q", cfg.Type)
	}
}

func feesFromConfig(cfgs []config.TradingFeeConfig) []types.TradingFee {
	fees := make([]types.TradingFee, 0, len(cfgs))
	for _, c := range cfgs {
		fees = append(fees, types.NewTradingFee(c.FlatFee, c.PercentFee, c.Taker, c.Maker))
	}
	return fees
}
