package shopping

import (
	"context"
	"errors"
	"strings"
	"time"

	"family-shopping/backend/internal/apperr"
	"family-shopping/backend/internal/codec"
	"family-shopping/backend/internal/database"
	"family-shopping/backend/internal/models"
)

var (
	errListNotFound = apperr.NotFound("shopping list not found")
	errItemNotFound = apperr.NotFound("item not found")
)

// AddItem appends a new item to the family's current list with an atomic array union, so
// concurrent adders never overwrite each other. The first add of a family creates the list.
func (s *Service) AddItem(ctx context.Context, familyID string, in ItemInput) (models.ShoppingItem, error) {
	started := time.Now()
	item, err := s.addItem(ctx, familyID, in)
	return item, s.observe(OpAddItem, familyID, started, err)
}

func (s *Service) addItem(ctx context.Context, familyID string, in ItemInput) (models.ShoppingItem, error) {
	if err := requireFamily(familyID); err != nil {
		return models.ShoppingItem{}, err
	}
	in = in.normalized()
	if err := in.check(); err != nil {
		return models.ShoppingItem{}, err
	}

	item := models.ShoppingItem{
		ID:        s.newID(),
		Name:      in.Name,
		Quantity:  in.Quantity,
		Unit:      in.Unit,
		Price:     in.Price,
		ImageURL:  in.ImageURL,
		CreatedAt: s.now(),
	}
	encoded := codec.EncodeItem(item)

	err := s.store.ArrayUnion(ctx, database.CurrentLists, familyID, codec.FieldItems, encoded)
	if errors.Is(err, database.ErrNotFound) {
		err = s.store.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
			_, err := tx.Get(database.CurrentLists, familyID)
			if errors.Is(err, database.ErrNotFound) {
				l := models.NewEmptyList(familyID)
				l.CreatedAt = item.CreatedAt
				l.Items = []models.ShoppingItem{item}
				return tx.Set(database.CurrentLists, familyID, codec.EncodeList(l))
			}
			if err != nil {
				return err
			}
			// Another member created the list since the union failed.
			return tx.ArrayUnion(database.CurrentLists, familyID, codec.FieldItems, encoded)
		})
	}
	if err != nil {
		return models.ShoppingItem{}, apperr.Wrap(err, "failed to add item")
	}
	return item, nil
}

// UpdateItem replaces the editable fields of an item. Its id, check state and creation time
// are kept.
func (s *Service) UpdateItem(ctx context.Context, familyID, itemID string, in ItemInput) (models.ShoppingItem, error) {
	started := time.Now()
	item, err := s.updateItem(ctx, familyID, itemID, in)
	return item, s.observe(OpUpdateItem, familyID, started, err)
}

func (s *Service) updateItem(ctx context.Context, familyID, itemID string, in ItemInput) (models.ShoppingItem, error) {
	if err := requireFamily(familyID); err != nil {
		return models.ShoppingItem{}, err
	}
	in = in.normalized()
	if err := in.check(); err != nil {
		return models.ShoppingItem{}, err
	}

	var updated models.ShoppingItem
	err := s.rewriteItem(ctx, familyID, itemID, func(item models.ShoppingItem) models.ShoppingItem {
		item.Name = in.Name
		item.Quantity = in.Quantity
		item.Unit = in.Unit
		item.Price = in.Price
		item.ImageURL = in.ImageURL
		updated = item
		return item
	})
	if err != nil {
		return models.ShoppingItem{}, apperr.Wrap(err, "failed to update item")
	}
	return updated, nil
}

// ToggleItemChecked flips the checked state of an item.
func (s *Service) ToggleItemChecked(ctx context.Context, familyID, itemID string) (models.ShoppingItem, error) {
	started := time.Now()
	item, err := s.toggleItemChecked(ctx, familyID, itemID)
	return item, s.observe(OpToggleItem, familyID, started, err)
}

func (s *Service) toggleItemChecked(ctx context.Context, familyID, itemID string) (models.ShoppingItem, error) {
	if err := requireFamily(familyID); err != nil {
		return models.ShoppingItem{}, err
	}
	var toggled models.ShoppingItem
	err := s.rewriteItem(ctx, familyID, itemID, func(item models.ShoppingItem) models.ShoppingItem {
		item.IsChecked = !item.IsChecked
		toggled = item
		return item
	})
	if err != nil {
		return models.ShoppingItem{}, apperr.Wrap(err, "failed to toggle item")
	}
	return toggled, nil
}

// rewriteItem applies change to one item inside a transaction and writes the whole items
// array back. change must depend only on the item it is given; it runs again on conflict.
func (s *Service) rewriteItem(ctx context.Context, familyID, itemID string, change func(models.ShoppingItem) models.ShoppingItem) error {
	return s.store.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		doc, err := tx.Get(database.CurrentLists, familyID)
		if errors.Is(err, database.ErrNotFound) {
			return errListNotFound
		}
		if err != nil {
			return err
		}
		items := codec.DecodeItems(doc.Fields[codec.FieldItems])
		idx := models.ShoppingList{Items: items}.FindItem(itemID)
		if idx < 0 {
			return errItemNotFound
		}
		items[idx] = change(items[idx])
		return tx.Update(database.CurrentLists, familyID, map[string]any{
			codec.FieldItems: codec.EncodeItems(items),
		})
	})
}

// DeleteItem removes an item by array-removing its exact stored value. Deleting an item that is
// already gone succeeds.
func (s *Service) DeleteItem(ctx context.Context, familyID, itemID string) error {
	started := time.Now()
	err := s.deleteItem(ctx, familyID, itemID)
	return s.observe(OpDeleteItem, familyID, started, err)
}

func (s *Service) deleteItem(ctx context.Context, familyID, itemID string) error {
	if err := requireFamily(familyID); err != nil {
		return err
	}
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		doc, err := tx.Get(database.CurrentLists, familyID)
		if errors.Is(err, database.ErrNotFound) {
			return errListNotFound
		}
		if err != nil {
			return err
		}
		raw, ok := codec.FindRawItem(doc.Fields[codec.FieldItems], itemID)
		if !ok {
			return nil
		}
		return tx.ArrayRemove(database.CurrentLists, familyID, codec.FieldItems, raw)
	})
	return apperr.Wrap(err, "failed to delete item")
}

// UpdateListName renames the current list; a blank name clears it. Concurrent renames resolve
// last-write-wins.
func (s *Service) UpdateListName(ctx context.Context, familyID string, name *string) error {
	started := time.Now()
	err := s.updateListName(ctx, familyID, name)
	return s.observe(OpUpdateListName, familyID, started, err)
}

func (s *Service) updateListName(ctx context.Context, familyID string, name *string) error {
	if err := requireFamily(familyID); err != nil {
		return err
	}
	var value any
	if name != nil {
		if trimmed := strings.TrimSpace(*name); trimmed != "" {
			if err := validate.Struct(listName{Name: trimmed}); err != nil {
				return validationError(err)
			}
			value = trimmed
		}
	}
	err := s.store.Update(ctx, database.CurrentLists, familyID, map[string]any{codec.FieldName: value})
	if errors.Is(err, database.ErrNotFound) {
		return errListNotFound
	}
	return apperr.Wrap(err, "failed to rename list")
}
