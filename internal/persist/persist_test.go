package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoadSummary(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	summary := RunSummary{
		StrategyName:   "buy-each-iteration",
		Market:         "NYSE",
		Start:          time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		End:            time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		InitialCash:    100000,
		FinalCash:      98234.50,
		OrdersTracked:  20,
		OrdersFilled:   18,
		OrdersCanceled: 1,
		OrdersOpen:     1,
		Orders: []OrderRecord{
			{ID: "o-1", Asset: "SPY(stock)", Side: "buy", Type: "market", Status: "filled", Quantity: 1, FilledPrice: 470.25, FilledQuantity: 1},
		},
		Positions: []PositionRecord{
			{Asset: "SPY(stock)", Quantity: 18, Fills: 18},
		},
		EquityCurve: []EquityRecord{
			{Timestamp: time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), Cash: 99529.75, PortfolioValue: 100000},
		},
	}

	if err := store.SaveSummary("test-run", summary); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}

	loaded, err := store.LoadSummary("test-run")
	if err != nil {
		t.Fatalf("LoadSummary: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadSummary returned nil for a saved summary")
	}
	if loaded.StrategyName != summary.StrategyName {
		t.Errorf("StrategyName = %q, want %q", loaded.StrategyName, summary.StrategyName)
	}
	if loaded.FinalCash != summary.FinalCash {
		t.Errorf("FinalCash = %v, want %v", loaded.FinalCash, summary.FinalCash)
	}
	if len(loaded.Orders) != 1 || loaded.Orders[0].ID != "o-1" {
		t.Errorf("Orders round-trip mismatch: %+v", loaded.Orders)
	}
	if len(loaded.EquityCurve) != 1 {
		t.Errorf("EquityCurve round-trip mismatch: %+v", loaded.EquityCurve)
	}
}

func TestLoadMissingSummaryReturnsNil(t *testing.T) {
	t.Parallel()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	loaded, err := store.LoadSummary("never-saved")
	if err != nil {
		t.Fatalf("LoadSummary: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for a missing summary, got %+v", loaded)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.SaveSummary("atomic", RunSummary{StrategyName: "s"}); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "run_atomic.json.tmp")); !os.IsNotExist(err) {
		t.Errorf("expected temp file to be renamed away, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run_atomic.json")); err != nil {
		t.Errorf("expected final file present: %v", err)
	}
}
