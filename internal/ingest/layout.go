package ingest

import (
	"fmt"
	"strings"

	"cutledger/pkg/domain"
)

// Legacy document keys written by the dashboard.
const (
	LegacyStatus        = "Status"
	LegacyAssignedRolls = "Assigned Rolls"
	LegacyRollNumber    = "Roll Number"
	LegacyOrderCode     = "Order ID"
)

// Layout records how an existing document stores the fields the ledger
// rewrites, so that updates land on the keys the dashboard reads. The zero
// Layout describes a new document in canonical form.
type Layout struct {
	existing     bool
	statusKeys   []string
	legacyStatus bool
	assignedKeys []string
}

// Existing reports whether the layout was read from a stored document.
func (l Layout) Existing() bool { return l.existing }

// RollLayout captures the layout of a stored roll document.
func RollLayout(_ map[string]any) Layout {
	return Layout{existing: true}
}

// OrderLayout captures the layout of a stored order document. Every status
// and reservation key present is kept in step; a status stored as a
// display label is written back as one.
func OrderLayout(data map[string]any) Layout {
	l := Layout{
		existing:     true,
		statusKeys:   presentKeys(data, FieldStatus, LegacyStatus),
		assignedKeys: presentKeys(data, FieldAssignedRolls, LegacyAssignedRolls),
	}
	if raw := stringField(data, FieldStatus, LegacyStatus); raw != "" {
		if status, err := domain.ParseStatus(raw); err == nil && raw != status.String() {
			l.legacyStatus = true
		}
	}
	return l
}

func presentKeys(data map[string]any, keys ...string) []string {
	var out []string
	for _, k := range keys {
		if _, ok := data[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// StatusLabel renders s the way the dashboard displays it, e.g.
// "In Cutting" or "QC-Recontrol 2".
func StatusLabel(s domain.OrderStatus) string {
	switch s.Stage {
	case domain.StageQC:
		return "QC"
	case domain.StageQCRecontrol:
		return fmt.Sprintf("QC-Recontrol %d", s.Attempt)
	case domain.StagePacking:
		return "packing"
	}
	words := strings.Split(string(s.Stage), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// EncodeRollAs renders a roll for the given layout. Identity fields of an
// existing document are left as stored.
func EncodeRollAs(r domain.FabricRoll, l Layout) map[string]any {
	doc := EncodeRoll(r)
	if l.existing {
		delete(doc, FieldRollNumber)
		delete(doc, FieldArticle)
	}
	return doc
}

// EncodeOrderAs renders an order for the given layout. Identity fields of
// an existing document are left as stored; status and reservations are
// written to every key the document keeps them under.
func EncodeOrderAs(o domain.Order, l Layout) map[string]any {
	doc := EncodeOrder(o)
	if !l.existing {
		return doc
	}
	delete(doc, FieldOrderCode)
	delete(doc, FieldArticle)

	status, assigned := doc[FieldStatus], doc[FieldAssignedRolls]
	if l.legacyStatus {
		status = StatusLabel(o.Status)
	}
	if len(l.statusKeys) > 0 {
		delete(doc, FieldStatus)
		for _, k := range l.statusKeys {
			doc[k] = status
		}
	}
	if len(l.assignedKeys) > 0 {
		delete(doc, FieldAssignedRolls)
		for _, k := range l.assignedKeys {
			doc[k] = assigned
		}
	}
	return doc
}
