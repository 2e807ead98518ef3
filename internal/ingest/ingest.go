// Package ingest converts loosely typed documents, as stored by the order
// tracking dashboard, into canonical domain records and back. Article alias
// fields and legacy status labels are resolved here and nowhere else.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cutledger/pkg/domain"
)

// Article alias fields in priority order.
var articleFields = []string{"article", "fabricCode", "Fabric Article", "Fabric Code"}

// Canonical document field names written by Encode*.
const (
	FieldRollNumber      = "rollNumber"
	FieldArticle         = "article"
	FieldTotalMeters     = "totalMeters"
	FieldReservedMeters  = "reservedMeters"
	FieldAvailableMeters = "availableMeters"
	FieldOrderCode       = "orderId"
	FieldStatus          = "status"
	FieldAssignedRolls   = "assignedRolls"
	FieldActualConsumed  = "actualConsumedMeters"
	FieldRecutsCount     = "recutsCount"
	FieldCutDate         = "cutDate"
	FieldVersion         = "version"
	FieldCreatedAt       = "createdAt"
	FieldUpdatedAt       = "updatedAt"
	FieldMeters          = "meters"
	FieldReason          = "reason"
	FieldTimestamp       = "timestamp"
	FieldReserved        = "reserved"
)

// ArticleOf resolves the article key of a document.
func ArticleOf(data map[string]any) domain.ArticleKey {
	candidates := make([]string, 0, len(articleFields))
	for _, field := range articleFields {
		if s, ok := data[field].(string); ok {
			candidates = append(candidates, s)
		}
	}
	return domain.NormalizeArticle(candidates...)
}

// DecodeRoll builds a roll from a document.
func DecodeRoll(id string, data map[string]any) (domain.FabricRoll, error) {
	roll := domain.FabricRoll{
		Base:       decodeBase(id, data),
		RollNumber: stringField(data, FieldRollNumber, LegacyRollNumber),
		Article:    ArticleOf(data),
	}
	var err error
	if roll.TotalMeters, err = metersField(data, FieldTotalMeters); err != nil {
		return domain.FabricRoll{}, fmt.Errorf("decode roll %s: %w", id, err)
	}
	if roll.ReservedMeters, err = metersField(data, FieldReservedMeters); err != nil {
		return domain.FabricRoll{}, fmt.Errorf("decode roll %s: %w", id, err)
	}
	if _, ok := data[FieldAvailableMeters]; ok {
		if roll.AvailableMeters, err = metersField(data, FieldAvailableMeters); err != nil {
			return domain.FabricRoll{}, fmt.Errorf("decode roll %s: %w", id, err)
		}
	} else {
		roll.AvailableMeters = domain.RoundMeters(roll.Free())
	}
	if roll.RollNumber == "" {
		return domain.FabricRoll{}, fmt.Errorf("decode roll %s: missing roll number", id)
	}
	return roll, nil
}

// DecodeOrder builds an order from a document.
func DecodeOrder(id string, data map[string]any) (domain.Order, error) {
	order := domain.Order{
		Base:    decodeBase(id, data),
		Code:    stringField(data, FieldOrderCode, LegacyOrderCode),
		Article: ArticleOf(data),
	}
	if order.Code == "" {
		order.Code = id
	}
	status, err := domain.ParseStatus(stringField(data, FieldStatus, LegacyStatus))
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", id, err)
	}
	order.Status = status
	if order.ActualConsumedMeters, err = metersField(data, FieldActualConsumed); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", id, err)
	}
	count, err := metersField(data, FieldRecutsCount)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", id, err)
	}
	order.RecutsCount = int(count.IntPart())
	if cut, ok := timeField(data, FieldCutDate); ok {
		order.CutDate = &cut
	}
	raw, ok := data[FieldAssignedRolls]
	if !ok {
		raw = data[LegacyAssignedRolls]
	}
	if order.AssignedRolls, err = decodeAssigned(raw); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", id, err)
	}
	return order, nil
}

// DecodeRecut builds a recut history entry from a document.
func DecodeRecut(id, orderID string, data map[string]any) (domain.RecutEntry, error) {
	meters, err := metersField(data, FieldMeters)
	if err != nil {
		return domain.RecutEntry{}, fmt.Errorf("decode recut %s: %w", id, err)
	}
	entry := domain.RecutEntry{
		ID:      id,
		OrderID: orderID,
		Meters:  meters,
		Reason:  stringField(data, FieldReason),
	}
	entry.Timestamp, _ = timeField(data, FieldTimestamp)
	return entry, nil
}

// EncodeRoll renders a roll as a document. Meters are written as float64 so
// that document stores keep them numeric.
func EncodeRoll(r domain.FabricRoll) map[string]any {
	return map[string]any{
		FieldRollNumber:      r.RollNumber,
		FieldArticle:         string(r.Article),
		FieldTotalMeters:     r.TotalMeters.InexactFloat64(),
		FieldReservedMeters:  r.ReservedMeters.InexactFloat64(),
		FieldAvailableMeters: r.AvailableMeters.InexactFloat64(),
		FieldVersion:         r.Version,
		FieldCreatedAt:       r.CreatedAt,
		FieldUpdatedAt:       r.UpdatedAt,
	}
}

// EncodeOrder renders an order as a document.
func EncodeOrder(o domain.Order) map[string]any {
	assigned := make([]any, 0, len(o.AssignedRolls))
	for _, a := range o.AssignedRolls {
		assigned = append(assigned, map[string]any{
			FieldRollNumber: a.RollNumber,
			FieldReserved:   a.Reserved.InexactFloat64(),
		})
	}
	doc := map[string]any{
		FieldOrderCode:      o.Code,
		FieldArticle:        string(o.Article),
		FieldStatus:         o.Status.String(),
		FieldAssignedRolls:  assigned,
		FieldActualConsumed: o.ActualConsumedMeters.InexactFloat64(),
		FieldRecutsCount:    o.RecutsCount,
		FieldVersion:        o.Version,
		FieldCreatedAt:      o.CreatedAt,
		FieldUpdatedAt:      o.UpdatedAt,
	}
	if o.CutDate != nil {
		doc[FieldCutDate] = *o.CutDate
	}
	return doc
}

// EncodeRecut renders a recut entry as a document.
func EncodeRecut(e domain.RecutEntry) map[string]any {
	return map[string]any{
		FieldMeters:    e.Meters.InexactFloat64(),
		FieldReason:    e.Reason,
		FieldTimestamp: e.Timestamp,
	}
}

func decodeBase(id string, data map[string]any) domain.Base {
	base := domain.Base{ID: id}
	if v, err := metersField(data, FieldVersion); err == nil {
		base.Version = v.IntPart()
	}
	base.CreatedAt, _ = timeField(data, FieldCreatedAt)
	base.UpdatedAt, _ = timeField(data, FieldUpdatedAt)
	return base
}

func decodeAssigned(raw any) ([]domain.AssignedRoll, error) {
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return nil, nil
	}
	out := make([]domain.AssignedRoll, 0, len(items))
	for i, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("assigned roll #%d: unexpected %T", i+1, item)
		}
		number := stringField(entry, FieldRollNumber)
		if number == "" {
			continue
		}
		reserved, err := metersField(entry, FieldReserved)
		if err != nil {
			return nil, fmt.Errorf("assigned roll %s: %w", number, err)
		}
		out = append(out, domain.AssignedRoll{RollNumber: number, Reserved: reserved})
	}
	return out, nil
}

func stringField(data map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := data[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case int, int64, float64:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// metersField reads a numeric field; absent, null and empty values are zero.
func metersField(data map[string]any, key string) (decimal.Decimal, error) {
	switch v := data[key].(type) {
	case nil:
		return decimal.Zero, nil
	case float64:
		return domain.RoundMeters(decimal.NewFromFloat(v)), nil
	case float32:
		return domain.RoundMeters(decimal.NewFromFloat32(v)), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case decimal.Decimal:
		return v, nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
		if s == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %s: %q is not a number", key, v)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("field %s: unexpected %T", key, v)
	}
}

func timeField(data map[string]any, key string) (time.Time, bool) {
	switch v := data[key].(type) {
	case time.Time:
		return v.UTC(), !v.IsZero()
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case int64:
		return time.UnixMilli(v).UTC(), true
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	}
	return time.Time{}, false
}

// ParseMeters parses an operator-entered quantity, accepting a decimal comma.
func ParseMeters(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, ",", "."))
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty quantity")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q is not a number", raw)
	}
	return d, nil
}
