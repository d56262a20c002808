package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type MeasureUnit string

const (
	UnitUnits     MeasureUnit = "UN"
	UnitKilograms MeasureUnit = "KG"
	UnitGrams     MeasureUnit = "G"
	UnitLiters    MeasureUnit = "L"
)

// Units lists every supported measure unit in display order.
func Units() []MeasureUnit {
	return []MeasureUnit{UnitUnits, UnitKilograms, UnitGrams, UnitLiters}
}

func (u MeasureUnit) Valid() bool {
	return slices.Contains(Units(), u)
}

type ListStatus string

const (
	StatusActive    ListStatus = "ACTIVE"
	StatusCompleted ListStatus = "COMPLETED"
)

type Family struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	MemberIDs  []string `json:"member_ids"`
	InviteCode string   `json:"invite_code"`
	OwnerID    string   `json:"owner_id"`
}

func (f *Family) HasMember(userID string) bool {
	for _, id := range f.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type User struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	Name         string  `json:"name"`
	FamilyID     *string `json:"family_id,omitempty"`
	PasswordHash string  `json:"-"`
	GoogleID     string  `json:"-"`
}

type ShoppingItem struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Quantity  decimal.Decimal     `json:"quantity"`
	Unit      MeasureUnit         `json:"unit"`
	Price     decimal.NullDecimal `json:"price"`
	ImageURL  *string             `json:"image_url,omitempty"`
	IsChecked bool                `json:"is_checked"`
	CreatedAt time.Time           `json:"created_at"`
}

// Subtotal is quantity * price, or zero when the item has no price.
func (i ShoppingItem) Subtotal() decimal.Decimal {
	if !i.Price.Valid {
		return decimal.Zero
	}
	return i.Quantity.Mul(i.Price.Decimal)
}

type ShoppingList struct {
	ID          string          `json:"id"`
	FamilyID    string          `json:"family_id"`
	Name        *string         `json:"name"`
	Items       []ShoppingItem  `json:"items"`
	Status      ListStatus      `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

// NewEmptyList is the value of a family's current slot when nothing has been added yet.
func NewEmptyList(familyID string) ShoppingList {
	return ShoppingList{
		ID:       familyID,
		FamilyID: familyID,
		Items:    []ShoppingItem{},
		Status:   StatusActive,
	}
}

// CalculateTotal sums the item subtotals; an empty list totals zero.
func (l ShoppingList) CalculateTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range l.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// FindItem returns the index of the item with the given id, or -1.
func (l ShoppingList) FindItem(itemID string) int {
	for i, item := range l.Items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}
