package datasource

import (
	"fmt"
	"sync"
	"time"

	"backtesting-broker/pkg/types"
)

// PandasDataSource is the in-memory backtesting DataSource: bars are
// preloaded (typically via internal/cache) and served strictly without
// look-ahead.
type PandasDataSource struct {
	mu       sync.RWMutex
	clock    *Clock
	timestep types.Timestep
	bars     map[string]types.Bars
}

// New builds a PandasDataSource bounded by [start, end] serving bars at
// the given default timestep.
func New(start, end time.Time, timestep types.Timestep) *PandasDataSource {
	return &PandasDataSource{
		clock:    NewClock(start, end),
		timestep: timestep,
		bars:     make(map[string]types.Bars),
	}
}

// LoadBars installs (or replaces) the bar series for an asset. Bars must be
// supplied in either order; LoadBars sorts them ascending by Datetime.
func (ds *PandasDataSource) LoadBars(asset types.Asset, timestep types.Timestep, bars types.Bars) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	cp := make(types.Bars, len(bars))
	copy(cp, bars)
	sortBars(cp)
	ds.bars[assetKey(asset, timestep)] = cp
}

// GetDatetime returns the current virtual time.
func (ds *PandasDataSource) GetDatetime() time.Time {
	return ds.clock.Now()
}

// UpdateDatetime advances the virtual clock. See Clock.Update.
func (ds *PandasDataSource) UpdateDatetime(newDtOrDelta any) (time.Time, error) {
	return ds.clock.Update(newDtOrDelta)
}

// DatetimeStart returns datetime_start.
func (ds *PandasDataSource) DatetimeStart() time.Time { return ds.clock.Start() }

// DatetimeEnd returns datetime_end.
func (ds *PandasDataSource) DatetimeEnd() time.Time { return ds.clock.End() }

// DefaultTimestep returns the timestep this source was configured with.
func (ds *PandasDataSource) DefaultTimestep() types.Timestep { return ds.timestep }

// GetHistoricalPrices returns the most recent `length` bars ending at or
// before the shifted boundary — the boundary that keeps the broker from
// ever observing a bar from the future. A positive timeshift moves the
// window further into the past; zero ends the window exactly at
// current_datetime. A negative timeshift moves the cutoff past
// current_datetime. CurrentBar does its own lookup and does not call this
// function.
func (ds *PandasDataSource) GetHistoricalPrices(asset types.Asset, length int, timestep types.Timestep, timeshift time.Duration, quote *types.Asset) (types.Bars, error) {
	if length <= 0 {
		return nil, fmt.Errorf("datasource: length must be positive, got %d", length)
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	series, ok := ds.bars[assetKey(asset, timestep)]
	if !ok {
		return nil, fmt.Errorf("datasource: no bars loaded for %s at timestep %s", asset, timestep)
	}

	cutoff := ds.clock.Now().Add(-timeshift)
	end := len(series)
	for end > 0 && series[end-1].Datetime.After(cutoff) {
		end--
	}
	start := end - length
	if start < 0 {
		start = 0
	}
	out := make(types.Bars, end-start)
	copy(out, series[start:end])
	return out, nil
}

// CurrentBar returns the bar covering "now": fetch 2 bars with a -2-step
// timeshift (a window reaching 2 steps past now), keep only rows with
// index >= now, and fall back to the last fetched row if that filter is
// empty. The filter-or-fallback rule is load-bearing for fill
// evaluation; do not collapse it into a single lookup.
func (ds *PandasDataSource) CurrentBar(asset types.Asset, timestep types.Timestep) (types.Bar, bool, error) {
	step := timestepDuration(timestep)
	now := ds.GetDatetime()

	ds.mu.RLock()
	series, ok := ds.bars[assetKey(asset, timestep)]
	ds.mu.RUnlock()
	if !ok {
		return types.Bar{}, false, fmt.Errorf("datasource: no bars loaded for %s at timestep %s", asset, timestep)
	}

	// Two rows ending strictly before now + 2 steps. With a bar at every
	// step this window is exactly [now, now+step].
	cutoff := now.Add(2 * step)
	end := len(series)
	for end > 0 && !series[end-1].Datetime.Before(cutoff) {
		end--
	}
	start := end - 2
	if start < 0 {
		start = 0
	}
	raw := series[start:end]
	if len(raw) == 0 {
		return types.Bar{}, false, nil
	}

	filtered := raw.AtOrAfter(now)
	if len(filtered) > 0 {
		return filtered[0], true, nil
	}
	bar, ok := raw.Last()
	return bar, ok, nil
}
