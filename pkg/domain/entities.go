// Package domain defines the persistent records, value types, and rule
// evaluation primitives used by cutledger.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence collections.
const (
	// EntityRoll identifies a physical fabric roll.
	EntityRoll EntityType = "fabric_roll"
	// EntityOrder identifies a production order.
	EntityOrder EntityType = "order"
	// EntityRecut identifies an append-only recut history entry.
	EntityRecut EntityType = "recut"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all mutable records. Version is owned by
// the store and increases by one on every committed write.
type Base struct {
	ID        string    `json:"id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FabricRoll is one physical roll of an article.
type FabricRoll struct {
	Base
	RollNumber      string          `json:"roll_number"`
	Article         ArticleKey      `json:"article"`
	TotalMeters     decimal.Decimal `json:"total_meters"`
	ReservedMeters  decimal.Decimal `json:"reserved_meters"`
	AvailableMeters decimal.Decimal `json:"available_meters"`
}

// Free returns the unreserved meters computed from total and reserved,
// ignoring the stored AvailableMeters.
func (r FabricRoll) Free() decimal.Decimal {
	return ClampZero(r.TotalMeters.Sub(r.ReservedMeters))
}

// AssignedRoll is one reservation entry of an order.
type AssignedRoll struct {
	RollNumber string          `json:"roll_number"`
	Reserved   decimal.Decimal `json:"reserved"`
}

// Order is a production order consuming fabric of a single article.
type Order struct {
	Base
	Code                 string          `json:"code"`
	Article              ArticleKey      `json:"article"`
	Status               OrderStatus     `json:"status"`
	AssignedRolls        []AssignedRoll  `json:"assigned_rolls"`
	ActualConsumedMeters decimal.Decimal `json:"actual_consumed_meters"`
	RecutsCount          int             `json:"recuts_count"`
	CutDate              *time.Time      `json:"cut_date,omitempty"`
}

// AlreadyCut reports whether the initial cut has been confirmed.
func (o Order) AlreadyCut() bool {
	return Positive(o.ActualConsumedMeters)
}

// ReservedOn sums the order's reservation entries for rollNumber.
func (o Order) ReservedOn(rollNumber string) decimal.Decimal {
	total := decimal.Zero
	for _, a := range o.AssignedRolls {
		if a.RollNumber == rollNumber {
			total = total.Add(a.Reserved)
		}
	}
	return total
}

// TotalReserved sums every reservation entry of the order.
func (o Order) TotalReserved() decimal.Decimal {
	total := decimal.Zero
	for _, a := range o.AssignedRolls {
		total = total.Add(a.Reserved)
	}
	return total
}

// OwnReservations groups the order's reservations by roll number.
func (o Order) OwnReservations() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(o.AssignedRolls))
	for _, a := range o.AssignedRolls {
		out[a.RollNumber] = out[a.RollNumber].Add(a.Reserved)
	}
	return out
}

// RecutEntry is an immutable record of additional meters cut for an order.
type RecutEntry struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Meters    decimal.Decimal `json:"meters"`
	Reason    string          `json:"reason"`
	Timestamp time.Time       `json:"timestamp"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate the mutations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	// ActionAppend indicates an append-only history entry was written.
	ActionAppend Action = "append"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityWarn {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
