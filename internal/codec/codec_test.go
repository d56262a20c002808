package codec

import (
	"testing"
	"time"

	"family-shopping/backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func assertItemEqual(t *testing.T, want, got models.ShoppingItem) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Name, got.Name)
	assert.True(t, want.Quantity.Equal(got.Quantity), "quantity %s != %s", want.Quantity, got.Quantity)
	assert.Equal(t, want.Unit, got.Unit)
	assert.Equal(t, want.Price.Valid, got.Price.Valid)
	if want.Price.Valid {
		assert.True(t, want.Price.Decimal.Equal(got.Price.Decimal), "price %s != %s", want.Price.Decimal, got.Price.Decimal)
	}
	assert.Equal(t, want.ImageURL, got.ImageURL)
	assert.Equal(t, want.IsChecked, got.IsChecked)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
}

func TestItemRoundTrip(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	img := "https://img.example/milk.png"
	items := []models.ShoppingItem{
		{ID: "a", Name: "Milk", Quantity: decimal.NewFromInt(2), Unit: models.UnitUnits,
			Price: decimal.NewNullDecimal(decimal.RequireFromString("3.5")), CreatedAt: created},
		{ID: "b", Name: "Rice", Quantity: decimal.RequireFromString("0.75"), Unit: models.UnitKilograms,
			ImageURL: &img, IsChecked: true, CreatedAt: created},
		{ID: "c", Name: "", Quantity: decimal.RequireFromString("250"), Unit: models.UnitGrams,
			Price: decimal.NewNullDecimal(decimal.Zero)},
		{ID: "d", Name: "Juice", Quantity: decimal.NewFromInt(1), Unit: models.UnitLiters,
			Price: decimal.NewNullDecimal(decimal.RequireFromString("12.4")), IsChecked: true},
	}
	for _, item := range items {
		t.Run(item.ID, func(t *testing.T) {
			assertItemEqual(t, item, DecodeItem("fallback", EncodeItem(item)))
		})
	}
}

func TestDecodeItemDefaults(t *testing.T) {
	item := DecodeItem("3", map[string]any{})
	assert.Equal(t, "3", item.ID)
	assert.Equal(t, "", item.Name)
	assert.True(t, item.Quantity.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, models.UnitUnits, item.Unit)
	assert.False(t, item.Price.Valid)
	assert.Nil(t, item.ImageURL)
	assert.False(t, item.IsChecked)
	assert.True(t, item.CreatedAt.IsZero())
}

func TestDecodeItemMistypedFields(t *testing.T) {
	item := DecodeItem("0", map[string]any{
		"name":      42,
		"quantity":  "lots",
		"unit":      "BARREL",
		"price":     true,
		"imageUrl":  7,
		"isChecked": "yes",
		"createdAt": "yesterday",
	})
	assert.Equal(t, "", item.Name)
	assert.True(t, item.Quantity.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, models.UnitUnits, item.Unit)
	assert.False(t, item.Price.Valid)
	assert.Nil(t, item.ImageURL)
	assert.False(t, item.IsChecked)
	assert.True(t, item.CreatedAt.IsZero())
}

func TestDecodeNumberRepresentations(t *testing.T) {
	d128, err := primitive.ParseDecimal128("4.25")
	require.NoError(t, err)
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"float64", 2.5, "2.5"},
		{"int", 3, "3"},
		{"int32", int32(4), "4"},
		{"int64", int64(5), "5"},
		{"decimal128", d128, "4.25"},
		{"string", " 6.10 ", "6.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := DecodeItem("0", map[string]any{"quantity": tt.in})
			assert.True(t, item.Quantity.Equal(decimal.RequireFromString(tt.want)), "got %s", item.Quantity)
		})
	}
}

func TestDecodeTimestampRepresentations(t *testing.T) {
	want := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	tests := []struct {
		name string
		in   any
	}{
		{"time", want.In(time.FixedZone("X", 3600))},
		{"pointer", &want},
		{"mongo datetime", primitive.NewDateTimeFromTime(want)},
		{"mongo timestamp", primitive.Timestamp{T: uint32(want.Unix())}},
		{"rfc3339", want.Format(time.RFC3339)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := DecodeItem("0", map[string]any{"createdAt": tt.in})
			assert.True(t, want.Equal(item.CreatedAt), "got %s", item.CreatedAt)
			assert.Equal(t, time.UTC, item.CreatedAt.Location())
		})
	}
}

func TestListRoundTrip(t *testing.T) {
	created := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	completed := created.Add(2 * time.Hour)
	name := "Weekend"
	l := models.ShoppingList{
		ID:       "h1",
		FamilyID: "f1",
		Name:     &name,
		Items: []models.ShoppingItem{
			{ID: "a", Name: "Milk", Quantity: decimal.NewFromInt(2), Unit: models.UnitUnits,
				Price: decimal.NewNullDecimal(decimal.RequireFromString("3.5")), CreatedAt: created},
		},
		Status:      models.StatusCompleted,
		CreatedAt:   created,
		CompletedAt: &completed,
		TotalValue:  decimal.RequireFromString("7"),
	}

	got := DecodeList("h1", EncodeList(l))
	assert.Equal(t, "h1", got.ID)
	assert.Equal(t, "f1", got.FamilyID)
	require.NotNil(t, got.Name)
	assert.Equal(t, name, *got.Name)
	require.Len(t, got.Items, 1)
	assertItemEqual(t, l.Items[0], got.Items[0])
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.True(t, created.Equal(got.CreatedAt))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, completed.Equal(*got.CompletedAt))
	assert.True(t, got.TotalValue.Equal(decimal.NewFromInt(7)))
}

func TestEncodeListUsesStoredNames(t *testing.T) {
	fields := EncodeList(models.NewEmptyList("f1"))
	assert.Equal(t, "f1", fields["familyId"])
	assert.Nil(t, fields["name"])
	assert.Equal(t, []any{}, fields["items"])
	assert.Equal(t, "ACTIVE", fields["status"])
	assert.Nil(t, fields["completedAt"])
	assert.Equal(t, 0.0, fields["totalValue"])
}

func TestDecodeListDefaults(t *testing.T) {
	l := DecodeList("f1", map[string]any{})
	assert.Equal(t, "f1", l.ID)
	assert.Equal(t, "", l.FamilyID)
	assert.Nil(t, l.Name)
	assert.NotNil(t, l.Items)
	assert.Empty(t, l.Items)
	assert.Equal(t, models.StatusActive, l.Status)
	assert.Nil(t, l.CompletedAt)
	assert.True(t, l.TotalValue.IsZero())

	l = DecodeList("f1", map[string]any{"status": "ARCHIVED"})
	assert.Equal(t, models.StatusActive, l.Status)
}

func TestDecodeListCompletedWithoutCompletionTime(t *testing.T) {
	created := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	l := DecodeList("h1", map[string]any{
		"status":    "COMPLETED",
		"createdAt": created,
	})
	require.NotNil(t, l.CompletedAt)
	assert.True(t, created.Equal(*l.CompletedAt))
}

func TestDecodeItemsUsesPositionWhenIDMissing(t *testing.T) {
	raw := []any{
		map[string]any{"name": "first"},
		"garbage",
		map[string]any{"name": "third"},
		map[string]any{"id": "x", "name": "fourth"},
	}
	items := DecodeItems(raw)
	require.Len(t, items, 3)
	assert.Equal(t, "0", items[0].ID)
	assert.Equal(t, "2", items[1].ID)
	assert.Equal(t, "x", items[2].ID)

	found, ok := FindRawItem(raw, "2")
	require.True(t, ok)
	assert.Equal(t, raw[2], found)
	found, ok = FindRawItem(raw, "x")
	require.True(t, ok)
	assert.Equal(t, raw[3], found)
	_, ok = FindRawItem(raw, "missing")
	assert.False(t, ok)
	_, ok = FindRawItem(nil, "x")
	assert.False(t, ok)
}

func TestFamilyCodec(t *testing.T) {
	f := models.Family{ID: "fam", Name: "Silva", MemberIDs: []string{"u1", "u2"}, InviteCode: "AB12CD", OwnerID: "u1"}
	got := DecodeFamily("fam", EncodeFamily(f))
	assert.Equal(t, f, got)

	got = DecodeFamily("fam", map[string]any{"memberIds": []any{"u1", 5, "u3"}})
	assert.Equal(t, []string{"u1", "u3"}, got.MemberIDs)

	got = DecodeFamily("fam", map[string]any{})
	assert.NotNil(t, got.MemberIDs)
}

func TestUserCodec(t *testing.T) {
	fam := "fam"
	u := models.User{ID: "u1", Email: "ana@example.com", Name: "Ana", FamilyID: &fam, PasswordHash: "hash"}
	got := DecodeUser("u1", EncodeUser(u))
	assert.Equal(t, u, got)

	got = DecodeUser("u2", map[string]any{"email": "b@example.com", "familyId": ""})
	assert.Nil(t, got.FamilyID)
}
