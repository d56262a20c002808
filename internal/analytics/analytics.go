// Package analytics summarizes a family's spending from its shopping history.
package analytics

import (
	"context"
	"time"

	"family-shopping/backend/internal/models"

	"github.com/shopspring/decimal"
)

// Period is one completed shopping trip.
type Period struct {
	HistoryID   string          `json:"history_id"`
	Name        *string         `json:"name"`
	CompletedAt *time.Time      `json:"completed_at"`
	TotalValue  decimal.Decimal `json:"total_value"`
	ItemCount   int             `json:"item_count"`
}

type Summary struct {
	TotalSpent         decimal.Decimal `json:"total_spent"`
	AveragePerShopping decimal.Decimal `json:"average_per_shopping"`
	Periods            []Period        `json:"periods"`
}

// Summarize totals the archived values of history, keeping its order. The average is rounded
// to cents and is zero without history.
func Summarize(history []models.ShoppingList) Summary {
	s := Summary{
		TotalSpent:         decimal.Zero,
		AveragePerShopping: decimal.Zero,
		Periods:            make([]Period, 0, len(history)),
	}
	for _, l := range history {
		s.TotalSpent = s.TotalSpent.Add(l.TotalValue)
		s.Periods = append(s.Periods, Period{
			HistoryID:   l.ID,
			Name:        l.Name,
			CompletedAt: l.CompletedAt,
			TotalValue:  l.TotalValue,
			ItemCount:   len(l.Items),
		})
	}
	if len(history) > 0 {
		s.AveragePerShopping = s.TotalSpent.Div(decimal.NewFromInt(int64(len(history)))).Round(2)
	}
	return s
}

// HistorySource lists a family's completed lists, most recent first.
type HistorySource interface {
	GetHistory(ctx context.Context, familyID string) ([]models.ShoppingList, error)
}

type Service struct {
	history HistorySource
}

func NewService(history HistorySource) *Service {
	return &Service{history: history}
}

func (s *Service) Summary(ctx context.Context, familyID string) (Summary, error) {
	history, err := s.history.GetHistory(ctx, familyID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(history), nil
}
