// Package shopping implements the mutations on a family's current list and its archive into
// history.
package shopping

import (
	"context"
	"errors"
	"time"

	"family-shopping/backend/internal/apperr"
	"family-shopping/backend/internal/codec"
	"family-shopping/backend/internal/database"
	"family-shopping/backend/internal/logger"
	"family-shopping/backend/internal/metrics"
	"family-shopping/backend/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Operation names used in logs and metrics.
const (
	OpAddItem        = "add_item"
	OpUpdateItem     = "update_item"
	OpDeleteItem     = "delete_item"
	OpToggleItem     = "toggle_item"
	OpUpdateListName = "update_list_name"
	OpFinishShopping = "finish_shopping"
	OpCloneHistory   = "clone_history"
)

type Service struct {
	store   database.Store
	log     *logrus.Entry
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

func NewService(store database.Store, log logrus.FieldLogger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		log:     logger.Component(log, "shopping"),
		metrics: m,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
		newID: uuid.NewString,
	}
}

// GetCurrentList reads the family's current list. A family that never added anything gets an
// empty list.
func (s *Service) GetCurrentList(ctx context.Context, familyID string) (models.ShoppingList, error) {
	if err := requireFamily(familyID); err != nil {
		return models.ShoppingList{}, err
	}
	doc, err := s.store.Get(ctx, database.CurrentLists, familyID)
	if errors.Is(err, database.ErrNotFound) {
		return models.NewEmptyList(familyID), nil
	}
	if err != nil {
		return models.ShoppingList{}, apperr.Wrap(err, "failed to load shopping list")
	}
	return CurrentFromDocument(familyID, doc), nil
}

// CurrentFromDocument decodes the current-list document of a family. The total of the current
// slot is always recomputed from its items.
func CurrentFromDocument(familyID string, doc *database.Document) models.ShoppingList {
	if doc == nil || !doc.Exists {
		return models.NewEmptyList(familyID)
	}
	l := codec.DecodeList(doc.ID, doc.Fields)
	if l.FamilyID == "" {
		l.FamilyID = familyID
	}
	l.TotalValue = l.CalculateTotal()
	return l
}

func requireFamily(familyID string) error {
	if familyID == "" {
		return apperr.Unauthenticated("user does not belong to a family")
	}
	return nil
}

// observe records the outcome of op and returns err unchanged.
func (s *Service) observe(op, familyID string, started time.Time, err error) error {
	if err == nil {
		s.metrics.ObserveMutation(op, "ok", started)
		return nil
	}
	kind := apperr.KindOf(err)
	s.metrics.ObserveMutation(op, string(kind), started)

	entry := s.log.WithFields(logrus.Fields{
		"family_id": familyID,
		"op":        op,
		"kind":      kind,
	})
	switch kind {
	case apperr.KindStoreUnavailable, apperr.KindUnknown:
		if cause := errors.Unwrap(err); cause != nil {
			entry = entry.WithField("cause", cause.Error())
		}
		entry.WithError(err).Error("shopping mutation failed")
	default:
		entry.Debug(err.Error())
	}
	return err
}
