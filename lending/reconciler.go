/*
reconciler.go - Inventory quantity bookkeeping

PURPOSE:
  The Reconciler is the only code that writes quantity_available. Every
  transition that changes how many units are out goes through it, so
  quantity_available keeps matching the outstanding requests.

POLICY:
  Reserve (approve):   stock is re-checked at approval time; then
                       available -= quantity
  Release (return):    available += quantity, clamped at quantity_total
  Resize  (admin edit): new_available = new_total - borrowed, refused
                       when new_total < borrowed

  Every write is conditional on the quantity_available that was read, so two
  approvals racing on the same item cannot both spend the same units.

AUDIT:
  Audit recomputes what quantity_available should be from the requests
  currently holding stock. Reconcile writes the expected value back for
  every item that drifted.

SEE ALSO:
  - service.go: Calls Reserve/Release inside the transition's transaction
*/
package lending

import (
	"context"
	"fmt"
	"time"
)

// Adjustment describes one quantity_available write.
type Adjustment struct {
	ItemID  ItemID
	Before  int
	After   int
	Clamped bool // the raw result fell outside [0, total]
}

// Drift is an item whose recorded availability disagrees with its requests.
type Drift struct {
	ItemID   ItemID
	Name     string
	Total    int
	Recorded int
	Expected int
}

type Reconciler struct {
	Now func() time.Time
}

func NewReconciler() *Reconciler {
	return &Reconciler{Now: time.Now}
}

// clamp keeps an availability inside [0, total] and reports whether it had to.
func clamp(available, total int) (int, bool) {
	switch {
	case available < 0:
		return 0, true
	case available > total:
		return total, true
	}
	return available, false
}

// Reserve takes quantity units of itemID out of stock.
func (rc *Reconciler) Reserve(ctx context.Context, s ItemStore, itemID ItemID, quantity int) (Adjustment, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return Adjustment{}, err
	}
	if item.QuantityAvailable < quantity {
		return Adjustment{}, invalid(CodeInsufficientStock, "quantity",
			"only %d of %s available, %d requested", item.QuantityAvailable, item.Name, quantity)
	}
	return rc.write(ctx, s, *item, item.QuantityAvailable-quantity)
}

// Release puts quantity units of itemID back into stock.
func (rc *Reconciler) Release(ctx context.Context, s ItemStore, itemID ItemID, quantity int) (Adjustment, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return Adjustment{}, err
	}
	return rc.write(ctx, s, *item, item.QuantityAvailable+quantity)
}

func (rc *Reconciler) write(ctx context.Context, s ItemStore, item InventoryItem, raw int) (Adjustment, error) {
	after, clamped := clamp(raw, item.QuantityTotal)
	adj := Adjustment{ItemID: item.ID, Before: item.QuantityAvailable, After: after, Clamped: clamped}

	item.QuantityAvailable = after
	item.UpdatedAt = rc.Now().UTC()
	if err := s.UpdateItem(ctx, item, adj.Before); err != nil {
		return Adjustment{}, fmt.Errorf("failed to update stock for item %s: %w", item.ID, err)
	}
	return adj, nil
}

// Resize changes item's total capacity in place, keeping the borrowed count.
func (rc *Reconciler) Resize(item *InventoryItem, newTotal int) error {
	if newTotal < 0 {
		return invalid(CodeInvalidQuantity, "quantity_total", "total quantity cannot be negative")
	}
	borrowed := item.Borrowed()
	if newTotal < borrowed {
		return invalid(CodeBelowBorrowed, "quantity_total",
			"%d units of %s are out; total cannot drop to %d", borrowed, item.Name, newTotal)
	}
	item.QuantityTotal = newTotal
	item.QuantityAvailable = newTotal - borrowed
	return nil
}

// Audit compares every item's recorded availability with the requests
// that currently hold stock against it.
func (rc *Reconciler) Audit(ctx context.Context, s Store) ([]Drift, error) {
	items, err := s.ListItems(ctx, ItemFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	holding, err := s.ListRequests(ctx, RequestFilter{Statuses: []Status{StatusApproved, StatusBorrowed}})
	if err != nil {
		return nil, fmt.Errorf("failed to list outstanding requests: %w", err)
	}

	out := make(map[ItemID]int)
	for _, r := range holding {
		out[r.ItemID] += r.QuantityRequested
	}

	var drifts []Drift
	for _, item := range items {
		expected, _ := clamp(item.QuantityTotal-out[item.ID], item.QuantityTotal)
		if expected != item.QuantityAvailable {
			drifts = append(drifts, Drift{
				ItemID:   item.ID,
				Name:     item.Name,
				Total:    item.QuantityTotal,
				Recorded: item.QuantityAvailable,
				Expected: expected,
			})
		}
	}
	return drifts, nil
}

// Reconcile runs Audit and writes the expected availability back.
// It returns the drifts it repaired.
func (rc *Reconciler) Reconcile(ctx context.Context, s TxStore) ([]Drift, error) {
	var repaired []Drift
	err := s.WithTx(ctx, func(tx Store) error {
		drifts, err := rc.Audit(ctx, tx)
		if err != nil {
			return err
		}
		for _, d := range drifts {
			item, err := tx.GetItem(ctx, d.ItemID)
			if err != nil {
				return err
			}
			item.QuantityAvailable = d.Expected
			item.UpdatedAt = rc.Now().UTC()
			if err := tx.UpdateItem(ctx, *item, d.Recorded); err != nil {
				return fmt.Errorf("failed to repair item %s: %w", d.ItemID, err)
			}
		}
		repaired = drifts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repaired, nil
}
