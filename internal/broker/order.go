package broker

import (
	"github.com/google/uuid"

	"backtesting-broker/pkg/types"
)

// newOrderID generates a stable identity for a primitive order. IDs are
// the sole linkage between dependent siblings, so cancellation and
// snapshotting never have to walk a cyclic object graph.
func newOrderID() string {
	return uuid.NewString()
}

// expandOnSubmit implements the acceptance-time half of order expansion:
// it returns the set of primitive orders tracked immediately. For a Simple order
// with no attached protective stop this is just the order itself. For an
// OCO parent it is always exactly its two children — the parent itself is
// never tracked. Bracket and OTO parents are tracked as themselves; their
// children are deferred until fill time (releaseChildrenOnFill) and
// returned separately as pendingChildren so the caller can stash them.
func expandOnSubmit(o *types.Order) (tracked []*types.Order, pendingChildren []*types.Order) {
	switch o.OrderClass {
	case types.OCO:
		stopChild, limitChild := ocoChildren(o)
		return []*types.Order{stopChild, limitChild}, nil

	case types.Bracket, types.OTO:
		o.Status = types.StatusUnprocessed
		return []*types.Order{o}, exitChildren(o)

	default:
		if o.StopLossPrice != nil {
			// Simple order carrying a protective stop_loss_price: the
			// original order plus a mutually dependent sibling stop-loss
			// order of the same side.
			sibling := &types.Order{
				ID:        newOrderID(),
				Strategy:  o.Strategy,
				Asset:     o.Asset,
				Quote:     o.Quote,
				Side:      o.Side,
				Quantity:  o.Quantity,
				Type:      types.Stop,
				StopPrice: o.StopLossPrice,
				Status:    types.StatusUnprocessed,
			}
			o.DependentOrderID = sibling.ID
			sibling.DependentOrderID = o.ID
			return []*types.Order{o, sibling}, nil
		}
		return []*types.Order{o}, nil
	}
}

// ocoChildren builds the two primitive children of an OCO order: a stop at
// stop_loss_price and a limit at take_profit_price, mutually dependent,
// sharing quantity/asset/side with the parent per the Order invariants.
func ocoChildren(parent *types.Order) (stopChild, limitChild *types.Order) {
	stopChild = &types.Order{
		ID:        newOrderID(),
		Strategy:  parent.Strategy,
		Asset:     parent.Asset,
		Quote:     parent.Quote,
		Side:      parent.Side,
		Quantity:  parent.Quantity,
		Type:      types.Stop,
		StopPrice: parent.StopLossPrice,
		Status:    types.StatusUnprocessed,
	}
	limitChild = &types.Order{
		ID:         newOrderID(),
		Strategy:   parent.Strategy,
		Asset:      parent.Asset,
		Quote:      parent.Quote,
		Side:       parent.Side,
		Quantity:   parent.Quantity,
		Type:       types.Limit,
		LimitPrice: parent.TakeProfitPrice,
		Status:     types.StatusUnprocessed,
	}
	stopChild.DependentOrderID = limitChild.ID
	limitChild.DependentOrderID = stopChild.ID
	return stopChild, limitChild
}

// oppositeSide returns the exit side for a protective child of a bracket
// or OTO order: an entry on the buy side exits on the sell side and vice
// versa.
func oppositeSide(s types.Side) types.Side {
	if s == types.Buy {
		return types.Sell
	}
	return types.Buy
}

// exitChildren builds the deferred protective children of a bracket or OTO
// order, to be appended to the tracked set only once the parent fills.
// For either class a stop-loss child is built only when StopLossPrice is
// set and a take-profit child only when TakeProfitPrice is set; when both
// exist they are made dependent on each other.
func exitChildren(parent *types.Order) []*types.Order {
	var children []*types.Order
	side := oppositeSide(parent.Side)

	if parent.StopLossPrice != nil {
		stopChild := &types.Order{
			ID:        newOrderID(),
			Strategy:  parent.Strategy,
			Asset:     parent.Asset,
			Quote:     parent.Quote,
			Side:      side,
			Quantity:  parent.Quantity,
			StopPrice: parent.StopLossPrice,
			Status:    types.StatusUnprocessed,
		}
		if parent.StopLossLimitPrice != nil {
			stopChild.Type = types.StopLimit
			stopChild.LimitPrice = parent.StopLossLimitPrice
		} else {
			stopChild.Type = types.Stop
		}
		children = append(children, stopChild)
	}

	if parent.TakeProfitPrice != nil {
		limitChild := &types.Order{
			ID:         newOrderID(),
			Strategy:   parent.Strategy,
			Asset:      parent.Asset,
			Quote:      parent.Quote,
			Side:       side,
			Quantity:   parent.Quantity,
			Type:       types.Limit,
			LimitPrice: parent.TakeProfitPrice,
			Status:     types.StatusUnprocessed,
		}
		children = append(children, limitChild)
	}

	if len(children) == 2 {
		children[0].DependentOrderID = children[1].ID
		children[1].DependentOrderID = children[0].ID
	}

	return children
}
