package core

import (
	"context"
	"fmt"
	"sort"

	"cutledger/internal/fabric"
	"cutledger/pkg/domain"
)

// Rule names of the built-in policy set.
const (
	RuleRollStockBounds         = "roll_stock_bounds"
	RuleRollOvercommit          = "roll_overcommit"
	RuleReservationConservation = "reservation_conservation"
	RuleOrderConsumption        = "order_consumption"
	RuleCutEncroachment         = "cut_encroachment"
)

// NewDefaultRulesEngine builds a rules engine with the built-in ledger
// policies.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewRollStockBoundsRule())
	engine.Register(NewRollOvercommitRule())
	engine.Register(NewReservationConservationRule())
	engine.Register(NewOrderConsumptionRule())
	return engine
}

// changedRolls returns the current state of every roll written in changes.
func changedRolls(view domain.RuleView, changes []domain.Change) []domain.FabricRoll {
	seen := make(map[string]bool)
	var out []domain.FabricRoll
	for _, c := range changes {
		r, ok := c.After.(domain.FabricRoll)
		if !ok || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		if current, ok := view.FindRoll(r.ID); ok {
			out = append(out, current)
		}
	}
	return out
}

// NewRollStockBoundsRule blocks commits that leave a written roll with
// negative total, reserved or available meters.
func NewRollStockBoundsRule() domain.Rule { return rollStockBoundsRule{} }

type rollStockBoundsRule struct{}

func (rollStockBoundsRule) Name() string { return RuleRollStockBounds }

func (rollStockBoundsRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, r := range changedRolls(view, changes) {
		if !r.TotalMeters.Add(domain.Epsilon).IsNegative() &&
			!r.ReservedMeters.Add(domain.Epsilon).IsNegative() &&
			!r.AvailableMeters.Add(domain.Epsilon).IsNegative() {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     RuleRollStockBounds,
			Severity: domain.SeverityBlock,
			Message: fmt.Sprintf("roll %s (%s) out of bounds: total %s, reserved %s, available %s",
				r.RollNumber, r.Article, r.TotalMeters, r.ReservedMeters, r.AvailableMeters),
			Entity:   domain.EntityRoll,
			EntityID: r.ID,
		})
	}
	return res, nil
}

// NewRollOvercommitRule warns when a written roll carries more reservations
// than physical meters.
func NewRollOvercommitRule() domain.Rule { return rollOvercommitRule{} }

type rollOvercommitRule struct{}

func (rollOvercommitRule) Name() string { return RuleRollOvercommit }

func (rollOvercommitRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, r := range changedRolls(view, changes) {
		if r.ReservedMeters.GreaterThan(r.TotalMeters.Add(domain.Epsilon)) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     RuleRollOvercommit,
				Severity: domain.SeverityWarn,
				Message: fmt.Sprintf("roll %s (%s) has %s reserved against %s on hand",
					r.RollNumber, r.Article, r.ReservedMeters, r.TotalMeters),
				Entity:   domain.EntityRoll,
				EntityID: r.ID,
			})
		}
	}
	return res, nil
}

// NewReservationConservationRule warns when a written roll's reserved meters
// differ from the sum of reservations orders hold on it.
func NewReservationConservationRule() domain.Rule { return reservationConservationRule{} }

type reservationConservationRule struct{}

func (reservationConservationRule) Name() string { return RuleReservationConservation }

func (reservationConservationRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	rolls := changedRolls(view, changes)
	if len(rolls) == 0 {
		return res, nil
	}
	orders := view.ListOrders()
	snapshots := make(map[domain.ArticleKey]fabric.ReservationSnapshot)
	for _, r := range rolls {
		snap, ok := snapshots[r.Article]
		if !ok {
			snap = fabric.SnapshotReservations(r.Article, orders, "")
			snapshots[r.Article] = snap
		}
		expected := snap.Of(r.RollNumber)
		if domain.NearlyEqual(expected, r.ReservedMeters) {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     RuleReservationConservation,
			Severity: domain.SeverityWarn,
			Message: fmt.Sprintf("roll %s (%s) records %s reserved but orders hold %s",
				r.RollNumber, r.Article, r.ReservedMeters, expected),
			Entity:   domain.EntityRoll,
			EntityID: r.ID,
		})
	}
	return res, nil
}

// NewOrderConsumptionRule blocks order writes that reduce consumption or
// recut counts, set negative reservations, or carry an unknown status.
func NewOrderConsumptionRule() domain.Rule { return orderConsumptionRule{} }

type orderConsumptionRule struct{}

func (orderConsumptionRule) Name() string { return RuleOrderConsumption }

func (orderConsumptionRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	before := make(map[string]domain.Order)
	var ids []string
	for _, c := range changes {
		o, ok := c.After.(domain.Order)
		if !ok {
			continue
		}
		if _, seen := before[o.ID]; !seen {
			prev, _ := c.Before.(domain.Order)
			before[o.ID] = prev
			ids = append(ids, o.ID)
		}
	}
	sort.Strings(ids)

	var res domain.Result
	for _, id := range ids {
		o, ok := view.FindOrder(id)
		if !ok {
			continue
		}
		prev := before[id]
		var problems []string
		if !o.Status.Valid() {
			problems = append(problems, fmt.Sprintf("unknown status %q", o.Status))
		}
		if o.ActualConsumedMeters.IsNegative() {
			problems = append(problems, "negative consumption")
		}
		if prev.ActualConsumedMeters.Sub(o.ActualConsumedMeters).GreaterThan(domain.Epsilon) {
			problems = append(problems, fmt.Sprintf("consumption decreased from %s to %s", prev.ActualConsumedMeters, o.ActualConsumedMeters))
		}
		if o.RecutsCount < prev.RecutsCount || o.RecutsCount < 0 {
			problems = append(problems, fmt.Sprintf("recut count decreased from %d to %d", prev.RecutsCount, o.RecutsCount))
		}
		for _, a := range o.AssignedRolls {
			if a.Reserved.IsNegative() {
				problems = append(problems, fmt.Sprintf("negative reservation on roll %s", a.RollNumber))
			}
		}
		for _, p := range problems {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     RuleOrderConsumption,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("order %s: %s", o.Code, p),
				Entity:   domain.EntityOrder,
				EntityID: o.ID,
			})
		}
	}
	return res, nil
}
