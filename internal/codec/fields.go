package codec

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Stored field names. They match the documents written by the mobile clients.
const (
	FieldID          = "id"
	FieldName        = "name"
	FieldQuantity    = "quantity"
	FieldUnit        = "unit"
	FieldPrice       = "price"
	FieldImageURL    = "imageUrl"
	FieldIsChecked   = "isChecked"
	FieldCreatedAt   = "createdAt"
	FieldFamilyID    = "familyId"
	FieldItems       = "items"
	FieldStatus      = "status"
	FieldCompletedAt = "completedAt"
	FieldTotalValue  = "totalValue"

	FieldMemberIDs    = "memberIds"
	FieldInviteCode   = "inviteCode"
	FieldOwnerID      = "ownerId"
	FieldEmail        = "email"
	FieldPasswordHash = "passwordHash"
	FieldGoogleID     = "googleId"
)

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// asDecimal accepts every numeric representation the backends hand back.
func asDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case primitive.Decimal128:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	}
	return decimal.Zero, false
}

// asTime accepts store-native timestamps as well as already materialized instants.
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case primitive.DateTime:
		return t.Time().UTC(), true
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC(), true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed.UTC(), err == nil
	}
	return time.Time{}, false
}

func asStrings(v any) ([]string, bool) {
	switch arr := v.(type) {
	case []string:
		return append([]string{}, arr...), true
	case []any:
		out := make([]string, 0, len(arr))
		for _, e := range arr {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

func decimalValue(d decimal.Decimal) any {
	return d.InexactFloat64()
}

func indexID(i int) string {
	return strconv.Itoa(i)
}
