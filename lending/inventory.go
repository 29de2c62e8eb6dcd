package lending

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// INVENTORY ADMIN
// =============================================================================

// NewItem is what staff submit to put something on the shelf.
type NewItem struct {
	Name          string
	Category      string
	Description   string
	QuantityTotal int
	Location      string
}

// ItemPatch changes the fields that are set. QuantityTotal goes through
// Reconciler.Resize so units already out stay accounted for.
type ItemPatch struct {
	Name          *string
	Category      *string
	Description   *string
	Location      *string
	QuantityTotal *int
}

// CreateItem adds an item with all units available.
func (s *Service) CreateItem(ctx context.Context, caller Identity, in NewItem) (*InventoryItem, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid(CodeNameRequired, "name", "item name is required")
	}
	if in.QuantityTotal < 0 {
		return nil, invalid(CodeInvalidQuantity, "quantity_total", "total quantity cannot be negative")
	}

	now := s.now()
	item := InventoryItem{
		ID:                ItemID(uuid.NewString()),
		Name:              name,
		Category:          strings.TrimSpace(in.Category),
		Description:       strings.TrimSpace(in.Description),
		QuantityTotal:     in.QuantityTotal,
		QuantityAvailable: in.QuantityTotal,
		Location:          strings.TrimSpace(in.Location),
		CreatedBy:         caller.UserID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.Store.InsertItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return &item, nil
}

// UpdateItem applies patch to an item. The write is conditional on the
// availability read, so a concurrent approval makes it fail with
// ErrConcurrentModification instead of overwriting stock.
func (s *Service) UpdateItem(ctx context.Context, caller Identity, id ItemID, patch ItemPatch) (*InventoryItem, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}

	var out InventoryItem
	err := s.Store.WithTx(ctx, func(tx Store) error {
		item, err := tx.GetItem(ctx, id)
		if err != nil {
			return err
		}
		prevAvailable := item.QuantityAvailable

		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return invalid(CodeNameRequired, "name", "item name is required")
			}
			item.Name = name
		}
		if patch.Category != nil {
			item.Category = strings.TrimSpace(*patch.Category)
		}
		if patch.Description != nil {
			item.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.Location != nil {
			item.Location = strings.TrimSpace(*patch.Location)
		}
		if patch.QuantityTotal != nil {
			if err := s.Reconciler.Resize(item, *patch.QuantityTotal); err != nil {
				return err
			}
		}
		item.UpdatedAt = s.now()

		if err := tx.UpdateItem(ctx, *item, prevAvailable); err != nil {
			return fmt.Errorf("failed to update item %s: %w", id, err)
		}
		out = *item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteItem removes an item nobody has ever requested.
func (s *Service) DeleteItem(ctx context.Context, caller Identity, id ItemID) error {
	if err := requireStaff(caller); err != nil {
		return err
	}
	if _, err := s.Store.GetItem(ctx, id); err != nil {
		return err
	}

	n, err := s.Store.CountRequests(ctx, RequestFilter{ItemID: id})
	if err != nil {
		return fmt.Errorf("failed to count requests for item %s: %w", id, err)
	}
	if n > 0 {
		return itemInUse(id, n)
	}

	if err := s.Store.DeleteItem(ctx, id); err != nil {
		if errors.Is(err, ErrReferenced) {
			return itemInUse(id, n)
		}
		return fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return nil
}

func itemInUse(id ItemID, n int) error {
	if n > 0 {
		return invalid(CodeItemInUse, "id", "item %s has %d borrow request(s) and cannot be deleted", id, n)
	}
	return invalid(CodeItemInUse, "id", "item %s is referenced by borrow records and cannot be deleted", id)
}

// GetItem returns one item. Any signed-in user may browse.
func (s *Service) GetItem(ctx context.Context, caller Identity, id ItemID) (*InventoryItem, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	return s.Store.GetItem(ctx, id)
}

// ListItems lists items matching filter.
func (s *Service) ListItems(ctx context.Context, caller Identity, filter ItemFilter) ([]InventoryItem, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	filter.Search = strings.TrimSpace(filter.Search)
	return s.Store.ListItems(ctx, filter)
}
