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

	"github.com/shopspring/decimal"
)

// FinishOptions are the optional overrides of a finish. A nil TotalValue archives the sum of
// the item subtotals.
type FinishOptions struct {
	Name       *string
	TotalValue *decimal.Decimal
}

// FinishShopping archives the current list into history and resets the current slot to an
// empty list. Both writes happen in one transaction, so a retried finish finds the list empty
// and cannot archive twice.
func (s *Service) FinishShopping(ctx context.Context, familyID string, opts FinishOptions) (models.ShoppingList, error) {
	started := time.Now()
	record, err := s.finishShopping(ctx, familyID, opts)
	return record, s.observe(OpFinishShopping, familyID, started, err)
}

func (s *Service) finishShopping(ctx context.Context, familyID string, opts FinishOptions) (models.ShoppingList, error) {
	if err := requireFamily(familyID); err != nil {
		return models.ShoppingList{}, err
	}
	if opts.TotalValue != nil && opts.TotalValue.IsNegative() {
		return models.ShoppingList{}, apperr.Validation("total value must not be negative")
	}
	var name *string
	if opts.Name != nil {
		if trimmed := strings.TrimSpace(*opts.Name); trimmed != "" {
			name = &trimmed
		}
	}

	now := s.now()
	var record models.ShoppingList
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx database.Tx) error {
		doc, err := tx.Get(database.CurrentLists, familyID)
		if errors.Is(err, database.ErrNotFound) {
			return errListNotFound
		}
		if err != nil {
			return err
		}
		current := codec.DecodeList(doc.ID, doc.Fields)
		if len(current.Items) == 0 {
			return apperr.Validation("list is empty")
		}

		record = current
		record.FamilyID = familyID
		record.Status = models.StatusCompleted
		record.CompletedAt = &now
		if name != nil {
			record.Name = name
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		if opts.TotalValue != nil {
			record.TotalValue = *opts.TotalValue
		} else {
			record.TotalValue = current.CalculateTotal()
		}

		id, err := tx.Add(database.History, codec.EncodeList(record))
		if err != nil {
			return err
		}
		record.ID = id

		empty := models.NewEmptyList(familyID)
		empty.CreatedAt = now
		return tx.Set(database.CurrentLists, familyID, codec.EncodeList(empty))
	})
	if err != nil {
		return models.ShoppingList{}, apperr.Wrap(err, "failed to finish shopping")
	}
	return record, nil
}

// CloneHistoryList replaces the current list with the items of a history record, unchecked and
// with fresh creation times. Whatever was on the current list is overwritten.
func (s *Service) CloneHistoryList(ctx context.Context, familyID, historyID string) (models.ShoppingList, error) {
	started := time.Now()
	l, err := s.cloneHistoryList(ctx, familyID, historyID)
	return l, s.observe(OpCloneHistory, familyID, started, err)
}

func (s *Service) cloneHistoryList(ctx context.Context, familyID, historyID string) (models.ShoppingList, error) {
	if err := requireFamily(familyID); err != nil {
		return models.ShoppingList{}, err
	}
	doc, err := s.store.Get(ctx, database.History, historyID)
	if errors.Is(err, database.ErrNotFound) {
		return models.ShoppingList{}, apperr.NotFound("history list not found")
	}
	if err != nil {
		return models.ShoppingList{}, apperr.Wrap(err, "failed to load history list")
	}
	record := codec.DecodeList(doc.ID, doc.Fields)
	if record.FamilyID != familyID {
		return models.ShoppingList{}, apperr.NotFound("history list not found")
	}

	now := s.now()
	l := models.NewEmptyList(familyID)
	l.CreatedAt = now
	for _, item := range record.Items {
		item.IsChecked = false
		item.CreatedAt = now
		l.Items = append(l.Items, item)
	}
	l.TotalValue = l.CalculateTotal()

	if err := s.store.Set(ctx, database.CurrentLists, familyID, codec.EncodeList(l)); err != nil {
		return models.ShoppingList{}, apperr.Wrap(err, "failed to clone history list")
	}
	return l, nil
}

// GetHistory returns the family's completed lists, most recent first.
func (s *Service) GetHistory(ctx context.Context, familyID string) ([]models.ShoppingList, error) {
	if err := requireFamily(familyID); err != nil {
		return nil, err
	}
	docs, err := s.store.Find(ctx, database.Query{
		Collection: database.History,
		Where:      []database.Filter{{Field: codec.FieldFamilyID, Value: familyID}},
		OrderBy:    codec.FieldCompletedAt,
		Descending: true,
	})
	if err != nil {
		return nil, apperr.Wrap(err, "failed to load history")
	}
	lists := make([]models.ShoppingList, 0, len(docs))
	for _, doc := range docs {
		lists = append(lists, codec.DecodeList(doc.ID, doc.Fields))
	}
	return lists, nil
}
