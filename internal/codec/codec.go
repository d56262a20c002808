// Package codec maps the domain aggregates to and from store documents.
//
// Decoding is total: a missing or mistyped field takes its default instead of failing,
// because the store does not enforce a schema.
package codec

import (
	"family-shopping/backend/internal/models"

	"github.com/shopspring/decimal"
)

type itemField struct {
	name   string
	encode func(models.ShoppingItem) any
	decode func(*models.ShoppingItem, any)
}

var itemFields = []itemField{
	{
		name:   FieldID,
		encode: func(i models.ShoppingItem) any { return i.ID },
		decode: func(i *models.ShoppingItem, v any) {
			if s, ok := asString(v); ok && s != "" {
				i.ID = s
			}
		},
	},
	{
		name:   FieldName,
		encode: func(i models.ShoppingItem) any { return i.Name },
		decode: func(i *models.ShoppingItem, v any) {
			if s, ok := asString(v); ok {
				i.Name = s
			}
		},
	},
	{
		name:   FieldQuantity,
		encode: func(i models.ShoppingItem) any { return decimalValue(i.Quantity) },
		decode: func(i *models.ShoppingItem, v any) {
			if d, ok := asDecimal(v); ok {
				i.Quantity = d
			}
		},
	},
	{
		name:   FieldUnit,
		encode: func(i models.ShoppingItem) any { return string(i.Unit) },
		decode: func(i *models.ShoppingItem, v any) {
			if s, ok := asString(v); ok && models.MeasureUnit(s).Valid() {
				i.Unit = models.MeasureUnit(s)
			}
		},
	},
	{
		name: FieldPrice,
		encode: func(i models.ShoppingItem) any {
			if !i.Price.Valid {
				return nil
			}
			return decimalValue(i.Price.Decimal)
		},
		decode: func(i *models.ShoppingItem, v any) {
			if d, ok := asDecimal(v); ok {
				i.Price = decimal.NullDecimal{Decimal: d, Valid: true}
			}
		},
	},
	{
		name: FieldImageURL,
		encode: func(i models.ShoppingItem) any {
			if i.ImageURL == nil {
				return nil
			}
			return *i.ImageURL
		},
		decode: func(i *models.ShoppingItem, v any) {
			if s, ok := asString(v); ok {
				i.ImageURL = &s
			}
		},
	},
	{
		name:   FieldIsChecked,
		encode: func(i models.ShoppingItem) any { return i.IsChecked },
		decode: func(i *models.ShoppingItem, v any) {
			if b, ok := asBool(v); ok {
				i.IsChecked = b
			}
		},
	},
	{
		name:   FieldCreatedAt,
		encode: func(i models.ShoppingItem) any { return i.CreatedAt },
		decode: func(i *models.ShoppingItem, v any) {
			if t, ok := asTime(v); ok {
				i.CreatedAt = t
			}
		},
	},
}

func defaultItem() models.ShoppingItem {
	return models.ShoppingItem{
		Quantity: decimal.NewFromInt(1),
		Unit:     models.UnitUnits,
	}
}

func EncodeItem(item models.ShoppingItem) map[string]any {
	fields := make(map[string]any, len(itemFields))
	for _, f := range itemFields {
		fields[f.name] = f.encode(item)
	}
	return fields
}

// DecodeItem decodes one element of a list's items array. fallbackID is used when the element
// carries no id of its own.
func DecodeItem(fallbackID string, fields map[string]any) models.ShoppingItem {
	item := defaultItem()
	item.ID = fallbackID
	for _, f := range itemFields {
		if v, ok := fields[f.name]; ok && v != nil {
			f.decode(&item, v)
		}
	}
	return item
}

func EncodeItems(items []models.ShoppingItem) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = EncodeItem(item)
	}
	return out
}

// DecodeItems skips elements that are not documents. Items without an id are identified by
// their position in the stored array.
func DecodeItems(v any) []models.ShoppingItem {
	items := []models.ShoppingItem{}
	switch arr := v.(type) {
	case []any:
		for i, e := range arr {
			if m, ok := e.(map[string]any); ok {
				items = append(items, DecodeItem(indexID(i), m))
			}
		}
	case []map[string]any:
		for i, m := range arr {
			items = append(items, DecodeItem(indexID(i), m))
		}
	}
	return items
}

// FindRawItem returns the stored element of an items array whose id is itemID, exactly as
// stored, so it can be handed back to an array-remove.
func FindRawItem(v any, itemID string) (any, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	for i, e := range arr {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		id, _ := asString(m[FieldID])
		if id == "" {
			id = indexID(i)
		}
		if id == itemID {
			return e, true
		}
	}
	return nil, false
}

// EncodeList produces the stored form of a list. The document id is not part of the fields.
func EncodeList(l models.ShoppingList) map[string]any {
	var name any
	if l.Name != nil {
		name = *l.Name
	}
	var completedAt any
	if l.CompletedAt != nil {
		completedAt = *l.CompletedAt
	}
	items := l.Items
	if items == nil {
		items = []models.ShoppingItem{}
	}
	return map[string]any{
		FieldFamilyID:    l.FamilyID,
		FieldName:        name,
		FieldItems:       EncodeItems(items),
		FieldStatus:      string(l.Status),
		FieldCreatedAt:   l.CreatedAt,
		FieldCompletedAt: completedAt,
		FieldTotalValue:  decimalValue(l.TotalValue),
	}
}

func DecodeList(id string, fields map[string]any) models.ShoppingList {
	l := models.ShoppingList{
		ID:     id,
		Items:  DecodeItems(fields[FieldItems]),
		Status: models.StatusActive,
	}
	if s, ok := asString(fields[FieldFamilyID]); ok {
		l.FamilyID = s
	}
	if s, ok := asString(fields[FieldName]); ok {
		l.Name = &s
	}
	if s, ok := asString(fields[FieldStatus]); ok && (s == string(models.StatusActive) || s == string(models.StatusCompleted)) {
		l.Status = models.ListStatus(s)
	}
	if t, ok := asTime(fields[FieldCreatedAt]); ok {
		l.CreatedAt = t
	}
	if t, ok := asTime(fields[FieldCompletedAt]); ok {
		l.CompletedAt = &t
	} else if l.Status == models.StatusCompleted {
		// Completed records written without a completion time fall back to their creation time.
		created := l.CreatedAt
		l.CompletedAt = &created
	}
	if d, ok := asDecimal(fields[FieldTotalValue]); ok {
		l.TotalValue = d
	}
	return l
}

func EncodeFamily(f models.Family) map[string]any {
	members := make([]any, len(f.MemberIDs))
	for i, id := range f.MemberIDs {
		members[i] = id
	}
	return map[string]any{
		FieldName:       f.Name,
		FieldMemberIDs:  members,
		FieldInviteCode: f.InviteCode,
		FieldOwnerID:    f.OwnerID,
	}
}

func DecodeFamily(id string, fields map[string]any) models.Family {
	f := models.Family{ID: id, MemberIDs: []string{}}
	f.Name, _ = asString(fields[FieldName])
	if members, ok := asStrings(fields[FieldMemberIDs]); ok {
		f.MemberIDs = members
	}
	f.InviteCode, _ = asString(fields[FieldInviteCode])
	f.OwnerID, _ = asString(fields[FieldOwnerID])
	return f
}

func EncodeUser(u models.User) map[string]any {
	var familyID any
	if u.FamilyID != nil {
		familyID = *u.FamilyID
	}
	return map[string]any{
		FieldEmail:        u.Email,
		FieldName:         u.Name,
		FieldFamilyID:     familyID,
		FieldPasswordHash: u.PasswordHash,
		FieldGoogleID:     u.GoogleID,
	}
}

func DecodeUser(id string, fields map[string]any) models.User {
	u := models.User{ID: id}
	u.Email, _ = asString(fields[FieldEmail])
	u.Name, _ = asString(fields[FieldName])
	if s, ok := asString(fields[FieldFamilyID]); ok && s != "" {
		u.FamilyID = &s
	}
	u.PasswordHash, _ = asString(fields[FieldPasswordHash])
	u.GoogleID, _ = asString(fields[FieldGoogleID])
	return u
}
