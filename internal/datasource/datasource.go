// Package datasource holds the virtual clock and serves historical OHLCV
// bars to the broker. The clock is exclusively owned here: only
// UpdateDatetime moves it, and only monotonically forward.
package datasource

import (
	"fmt"
	"sort"
	"time"

	"backtesting-broker/pkg/types"
)

// DataSource is the contract the broker depends on. The broker
// never reaches past this interface into a concrete implementation's
// storage — that boundary is what keeps external vendor clients and cache
// files out of the core.
type DataSource interface {
	GetDatetime() time.Time
	UpdateDatetime(newDtOrDelta any) (time.Time, error)
	GetHistoricalPrices(asset types.Asset, length int, timestep types.Timestep, timeshift time.Duration, quote *types.Asset) (types.Bars, error)
	// CurrentBar returns the bar that covers "now" for per-tick fill
	// evaluation, applying the documented PANDAS bar-lookup quirk:
	// fetch 2 bars with a -2-step timeshift, filter for index >= now,
	// falling back to the last fetched row when the filter yields nothing.
	CurrentBar(asset types.Asset, timestep types.Timestep) (types.Bar, bool, error)
	DatetimeStart() time.Time
	DatetimeEnd() time.Time
	DefaultTimestep() types.Timestep
}

// Clock is the monotonic virtual clock shared by a DataSource implementation.
type Clock struct {
	current time.Time
	start   time.Time
	end     time.Time
}

// NewClock builds a clock positioned at start.
func NewClock(start, end time.Time) *Clock {
	return &Clock{current: start, start: start, end: end}
}

// Now returns the current virtual time.
func (c *Clock) Now() time.Time { return c.current }

// Start returns datetime_start.
func (c *Clock) Start() time.Time { return c.start }

// End returns datetime_end.
func (c *Clock) End() time.Time { return c.end }

// Update advances the clock. newDtOrDelta may be a time.Time (absolute),
// a time.Duration, or a number of seconds (int, int64, or float64). The
// result is never earlier than the current time — advancing "backward"
// clamps to the current instant rather than erroring, so the clock stays
// monotonic unconditionally.
func (c *Clock) Update(newDtOrDelta any) (time.Time, error) {
	var next time.Time
	switch v := newDtOrDelta.(type) {
	case time.Time:
		next = v
	case time.Duration:
		next = c.current.Add(v)
	case int:
		next = c.current.Add(time.Duration(v) * time.Second)
	case int64:
		next = c.current.Add(time.Duration(v) * time.Second)
	case float64:
		next = c.current.Add(time.Duration(v * float64(time.Second)))
	default:
		return c.current, fmt.Errorf("datasource: unsupported delta type %T", newDtOrDelta)
	}
	if next.Before(c.current) {
		next = c.current
	}
	c.current = next
	return c.current, nil
}

// timestepDuration maps a named timestep to its bar interval.
func timestepDuration(ts types.Timestep) time.Duration {
	switch ts {
	case types.TimestepMinute:
		return time.Minute
	case types.TimestepDay:
		return 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// assetKey builds a stable lookup key for an asset across all its
// identifying fields, the same key shape the bar cache uses:
// (asset_type, symbol[, expiration, strike, right], timestep).
func assetKey(a types.Asset, timestep types.Timestep) string {
	if a.AssetType != types.AssetTypeOption {
		return fmt.Sprintf("%s|%s|%s", a.AssetType, a.Symbol, timestep)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s", a.AssetType, a.Symbol,
		a.Expiration.Format("2006-01-02"), a.Strike.String(), a.Right, timestep)
}

func sortBars(bars types.Bars) {
	sort.Slice(bars, func(i, j int) bool { return bars[i].Datetime.Before(bars[j].Datetime) })
}
