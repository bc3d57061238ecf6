package broker

import (
	"testing"

	"backtesting-broker/pkg/types"
)

func TestExpandOnSubmitOCOProducesTwoChildrenNoParent(t *testing.T) {
	t.Parallel()
	parent := &types.Order{
		ID:              "parent-1",
		Strategy:        "s1",
		Asset:           types.NewStockAsset("SPY"),
		Side:            types.Sell,
		Quantity:        10,
		OrderClass:      types.OCO,
		StopLossPrice:   ptr(95),
		TakeProfitPrice: ptr(105),
	}

	tracked, pending := expandOnSubmit(parent)
	if pending != nil {
		t.Fatalf("expected no deferred children for OCO, got %d", len(pending))
	}
	if len(tracked) != 2 {
		t.Fatalf("expected 2 tracked children, got %d", len(tracked))
	}

	stopChild, limitChild := tracked[0], tracked[1]
	if stopChild.Type != types.Stop || !stopChild.StopPrice.Equal(*parent.StopLossPrice) {
		t.Errorf("stop child malformed: %+v", stopChild)
	}
	if limitChild.Type != types.Limit || !limitChild.LimitPrice.Equal(*parent.TakeProfitPrice) {
		t.Errorf("limit child malformed: %+v", limitChild)
	}
	if stopChild.DependentOrderID != limitChild.ID || limitChild.DependentOrderID != stopChild.ID {
		t.Error("expected OCO children to be mutually dependent")
	}
	if stopChild.Side != parent.Side || limitChild.Side != parent.Side {
		t.Error("expected OCO children to share the parent's side")
	}
	if stopChild.Quantity != parent.Quantity || limitChild.Quantity != parent.Quantity {
		t.Error("expected OCO children to share the parent's quantity")
	}
}

func TestExpandOnSubmitBracketDefersChildren(t *testing.T) {
	t.Parallel()
	parent := &types.Order{
		ID:              "parent-2",
		Strategy:        "s1",
		Asset:           types.NewStockAsset("SPY"),
		Side:            types.Buy,
		Quantity:        10,
		Type:            types.Market,
		OrderClass:      types.Bracket,
		StopLossPrice:   ptr(95),
		TakeProfitPrice: ptr(105),
	}

	tracked, pending := expandOnSubmit(parent)
	if len(tracked) != 1 || tracked[0] != parent {
		t.Fatalf("expected the bracket parent itself to be the only tracked order")
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 deferred children, got %d", len(pending))
	}
	for _, c := range pending {
		if c.Side != types.Sell {
			t.Errorf("expected bracket children to oppose the parent's buy side, got %s", c.Side)
		}
	}
	if pending[0].DependentOrderID != pending[1].ID || pending[1].DependentOrderID != pending[0].ID {
		t.Error("expected bracket stop/limit children to be mutually dependent")
	}
}

func TestExpandOnSubmitOTOSingleChild(t *testing.T) {
	t.Parallel()
	parent := &types.Order{
		ID:            "parent-3",
		Strategy:      "s1",
		Asset:         types.NewStockAsset("SPY"),
		Side:          types.Buy,
		Quantity:      5,
		Type:          types.Market,
		OrderClass:    types.OTO,
		StopLossPrice: ptr(90),
	}

	tracked, pending := expandOnSubmit(parent)
	if len(tracked) != 1 {
		t.Fatalf("expected 1 tracked order (the parent), got %d", len(tracked))
	}
	if len(pending) != 1 {
		t.Fatalf("expected exactly 1 deferred child, got %d", len(pending))
	}
	if pending[0].Type != types.Stop || pending[0].Side != types.Sell {
		t.Errorf("deferred OTO child malformed: %+v", pending[0])
	}
}

func TestExpandOnSubmitSimpleWithProtectiveStop(t *testing.T) {
	t.Parallel()
	o := &types.Order{
		ID:            "simple-1",
		Strategy:      "s1",
		Asset:         types.NewStockAsset("SPY"),
		Side:          types.Sell,
		Quantity:      3,
		Type:          types.Limit,
		LimitPrice:    ptr(50),
		StopLossPrice: ptr(45),
	}

	tracked, pending := expandOnSubmit(o)
	if pending != nil {
		t.Fatal("expected no deferred children for a simple order")
	}
	if len(tracked) != 2 {
		t.Fatalf("expected order + sibling stop, got %d", len(tracked))
	}
	if tracked[0] != o {
		t.Error("expected the original order to be tracked as-is")
	}
	if tracked[1].DependentOrderID != o.ID || o.DependentOrderID != tracked[1].ID {
		t.Error("expected the original order and its sibling to be mutually dependent")
	}
}

func TestExpandOnSubmitPlainSimpleOrderPassesThrough(t *testing.T) {
	t.Parallel()
	o := &types.Order{ID: "plain-1", Strategy: "s1", Asset: types.NewStockAsset("SPY"), Side: types.Buy, Quantity: 1, Type: types.Market}
	tracked, pending := expandOnSubmit(o)
	if len(tracked) != 1 || tracked[0] != o || pending != nil {
		t.Fatalf("expected a plain simple order to pass through untouched")
	}
}
