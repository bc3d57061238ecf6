// Package cache persists OHLCV bars in an embedded DuckDB file: one
// columnar table with columns datetime, open, high, low, close, volume,
// keyed by (asset_type, symbol[, expiration, strike, right], timestep).
// DuckDB keeps the store columnar and SQL-queryable without running a
// server, which suits an on-disk bar cache far better than flat files.
//
// The core BacktestingBroker never imports this package directly — it
// depends only on the DataSource interface, so the cache stays swappable
// behind that boundary.
package cache

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/shopspring/decimal"

	"backtesting-broker/pkg/types"
)

// Store wraps a DuckDB-backed bar cache at a single file path.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the DuckDB file at path and ensures
// the bars table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.EnsureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying DuckDB connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the bars table if it does not already exist, keyed
// by asset identity, timestep, and datetime. Option-only key columns use
// empty/zero sentinels for other asset types.
func (s *Store) EnsureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			asset_type  VARCHAR NOT NULL,
			symbol      VARCHAR NOT NULL,
			expiration  VARCHAR NOT NULL,
			strike      DOUBLE NOT NULL,
			"right"     VARCHAR NOT NULL,
			timestep    VARCHAR NOT NULL,
			datetime    TIMESTAMP NOT NULL,
			open        DOUBLE NOT NULL,
			high        DOUBLE NOT NULL,
			low         DOUBLE NOT NULL,
			close       DOUBLE NOT NULL,
			volume      DOUBLE NOT NULL,
			PRIMARY KEY (asset_type, symbol, expiration, strike, "right", timestep, datetime)
		)
	`)
	if err != nil {
		return fmt.Errorf("cache: create schema: %w", err)
	}
	return nil
}

// UpsertBars writes bars for asset/timestep, replacing any existing rows at
// the same (asset, timestep, datetime) key.
func (s *Store) UpsertBars(asset types.Asset, timestep types.Timestep, bars types.Bars) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("cache: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars
			(asset_type, symbol, expiration, strike, "right", timestep, datetime, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("cache: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		_, err := stmt.Exec(
			string(asset.AssetType), asset.Symbol, optionDate(asset), optionStrike(asset), string(asset.Right),
			string(timestep), bar.Datetime,
			floatOf(bar.Open), floatOf(bar.High), floatOf(bar.Low), floatOf(bar.Close), floatOf(bar.Volume),
		)
		if err != nil {
			return fmt.Errorf("cache: upsert bar %s: %w", bar.Datetime, err)
		}
	}
	return tx.Commit()
}

// LoadBars returns the bars for asset/timestep in [start, end], ascending
// by datetime.
func (s *Store) LoadBars(asset types.Asset, timestep types.Timestep, start, end time.Time) (types.Bars, error) {
	rows, err := s.db.Query(`
		SELECT datetime, open, high, low, close, volume
		FROM bars
		WHERE asset_type = ? AND symbol = ? AND timestep = ?
		  AND expiration = ? AND strike = ? AND "right" = ?
		  AND datetime >= ? AND datetime <= ?
		ORDER BY datetime ASC
	`, string(asset.AssetType), asset.Symbol, string(timestep),
		optionDate(asset), optionStrike(asset), string(asset.Right), start, end)
	if err != nil {
		return nil, fmt.Errorf("cache: load bars for %s: %w", asset, err)
	}
	defer rows.Close()

	var out types.Bars
	for rows.Next() {
		var dt time.Time
		var o, h, l, c, v float64
		if err := rows.Scan(&dt, &o, &h, &l, &c, &v); err != nil {
			return nil, fmt.Errorf("cache: scan bar: %w", err)
		}
		out = append(out, types.Bar{
			Datetime: dt,
			Open:     decimal.NewFromFloat(o),
			High:     decimal.NewFromFloat(h),
			Low:      decimal.NewFromFloat(l),
			Close:    decimal.NewFromFloat(c),
			Volume:   decimal.NewFromFloat(v),
		})
	}
	return out, rows.Err()
}

// MissingDates identifies trading dates in sessionOpens with no cached
// bars for asset/timestep, so the vendor fetch only pulls what is absent.
func (s *Store) MissingDates(asset types.Asset, timestep types.Timestep, sessionOpens []time.Time) ([]time.Time, error) {
	if len(sessionOpens) == 0 {
		return nil, nil
	}
	start := sessionOpens[0]
	end := sessionOpens[len(sessionOpens)-1].Add(24 * time.Hour)

	have := make(map[string]bool)
	bars, err := s.LoadBars(asset, timestep, start, end)
	if err != nil {
		return nil, err
	}
	for _, b := range bars {
		have[dateKey(b.Datetime)] = true
	}

	var missing []time.Time
	for _, open := range sessionOpens {
		if !have[dateKey(open)] {
			missing = append(missing, open)
		}
	}
	return missing, nil
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func floatOf(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// optionDate and optionStrike store empty/zero sentinels for non-option
// assets: the key columns participate in the primary key and so cannot
// hold NULL.
func optionDate(a types.Asset) string {
	if a.AssetType != types.AssetTypeOption {
		return ""
	}
	return a.Expiration.Format("2006-01-02")
}

func optionStrike(a types.Asset) float64 {
	if a.AssetType != types.AssetTypeOption {
		return 0
	}
	return floatOf(a.Strike)
}
