package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestShoppingItemSubtotal(t *testing.T) {
	tests := []struct {
		name     string
		quantity string
		price    decimal.NullDecimal
		want     string
	}{
		{"no price", "3", decimal.NullDecimal{}, "0"},
		{"zero quantity", "0", price("9.99"), "0"},
		{"zero price", "4", price("0"), "0"},
		{"fractional", "2", price("3.5"), "7"},
		{"weight", "0.75", price("12.40"), "9.3"},
		{"large values", "100000", price("99999.99"), "9999999000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := ShoppingItem{Quantity: decimal.RequireFromString(tt.quantity), Price: tt.price}
			if got := item.Subtotal(); !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Subtotal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestShoppingListCalculateTotal(t *testing.T) {
	empty := NewEmptyList("f1")
	if !empty.CalculateTotal().IsZero() {
		t.Errorf("expected empty list total 0, got %s", empty.CalculateTotal())
	}

	list := ShoppingList{Items: []ShoppingItem{
		{ID: "a", Quantity: decimal.NewFromInt(2), Price: price("3.5")},
		{ID: "b", Quantity: decimal.NewFromInt(1)},
		{ID: "c", Quantity: decimal.RequireFromString("0.5"), Price: price("10"), IsChecked: true},
	}}
	if got := list.CalculateTotal(); !got.Equal(decimal.NewFromInt(12)) {
		t.Errorf("expected total 12, got %s", got)
	}
	if idx := list.FindItem("c"); idx != 2 {
		t.Errorf("expected FindItem(c) = 2, got %d", idx)
	}
	if idx := list.FindItem("missing"); idx != -1 {
		t.Errorf("expected FindItem(missing) = -1, got %d", idx)
	}
}

func TestMeasureUnitValid(t *testing.T) {
	for _, u := range Units() {
		if !u.Valid() {
			t.Errorf("expected %s to be valid", u)
		}
	}
	if MeasureUnit("LB").Valid() {
		t.Error("expected LB to be invalid")
	}
}

func TestFamilyStruct(t *testing.T) {
	family := Family{
		ID:         "fam-1",
		Name:       "Test Family",
		MemberIDs:  []string{"u1", "u2"},
		InviteCode: "ABC123",
		OwnerID:    "u1",
	}

	data, err := json.Marshal(family)
	if err != nil {
		t.Fatalf("Failed to marshal Family: %v", err)
	}

	var decoded Family
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal Family: %v", err)
	}
	if decoded.InviteCode != family.InviteCode {
		t.Errorf("Expected InviteCode %v, got %v", family.InviteCode, decoded.InviteCode)
	}
	if !decoded.HasMember(decoded.OwnerID) {
		t.Errorf("Expected owner %v to be a member", decoded.OwnerID)
	}
}

func TestUserPasswordHashNotSerialized(t *testing.T) {
	user := User{ID: "u1", Email: "a@b.c", Name: "A", PasswordHash: "secret-hash"}
	data, err := json.Marshal(user)
	if err != nil {
		t.Fatalf("Failed to marshal User: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Failed to unmarshal User: %v", err)
	}
	if _, ok := raw["PasswordHash"]; ok {
		t.Error("password hash leaked into JSON")
	}
	if _, ok := raw["family_id"]; ok {
		t.Error("expected family_id to be omitted when nil")
	}
}
