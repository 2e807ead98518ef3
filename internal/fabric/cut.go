package fabric

import (
	"github.com/shopspring/decimal"

	"cutledger/pkg/domain"
)

// PlanKind distinguishes initial cuts from recuts.
type PlanKind string

// Plan kinds.
const (
	PlanCutKind   PlanKind = "cut"
	PlanRecutKind PlanKind = "recut"
)

// PlanLine is one roll debit of a plan.
type PlanLine struct {
	RollID        string          `json:"roll_id"`
	RollNumber    string          `json:"roll_number"`
	TotalBefore   decimal.Decimal `json:"total_before"`
	FromReserved  decimal.Decimal `json:"from_reserved"`
	FromAvailable decimal.Decimal `json:"from_available"`
	// Encroached is the part of the debit that eats into meters other
	// orders hold reserved on the roll. Initial cuts only check physical
	// stock, so this is reported rather than prevented.
	Encroached decimal.Decimal `json:"encroached,omitempty"`
}

// Taken returns the meters the line debits.
func (l PlanLine) Taken() decimal.Decimal {
	return l.FromReserved.Add(l.FromAvailable)
}

// Plan is the ordered set of roll debits that satisfies one demand.
type Plan struct {
	Kind    PlanKind          `json:"kind"`
	Article domain.ArticleKey `json:"article"`
	Demand  decimal.Decimal   `json:"demand"`
	Lines   []PlanLine        `json:"lines"`
}

// Total sums every line.
func (p Plan) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.Lines {
		total = total.Add(l.Taken())
	}
	return total
}

// Encroached sums the meters taken from other orders' reservations.
func (p Plan) Encroached() decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.Lines {
		total = total.Add(l.Encroached)
	}
	return total
}

// CheckInitialCut validates that order may receive its first cut of
// reported meters.
func CheckInitialCut(order domain.Order, reported decimal.Decimal) error {
	if order.Article == "" {
		return invalid(ReasonMissingArticle,
			"Order %s has no fabric article.", "Porudžbina %s nema artikal materijala.", order.Code)
	}
	if order.AlreadyCut() {
		return invalid(ReasonAlreadyCut,
			"Order %s is already cut; record a recut instead.", "Porudžbina %s je već iskrojena; unesite dokrojavanje.", order.Code)
	}
	if order.Status != domain.StatusInCutting {
		return invalid(ReasonWrongStage,
			"Order %s is not in cutting (status %s).", "Porudžbina %s nije u krojenju (status %s).", order.Code, order.Status)
	}
	if len(order.AssignedRolls) == 0 {
		return invalid(ReasonReservationsNotLoaded,
			"Fabric assignment for order %s is not loaded yet.", "Dodela materijala za porudžbinu %s još nije učitana.", order.Code)
	}
	if !domain.Positive(reported) {
		return invalid(ReasonInvalidMeters,
			"Reported meters must be greater than zero (got %s).", "Prijavljena metraža mora biti veća od nule (uneto %s).", reported.String())
	}
	return nil
}

// PlanCut walks the ledger in roll-number order and debits each roll first
// from the order's own reservation on it, then from the roll's remaining
// physical stock, until toCut is covered. others holds the reservations of
// every other order and only feeds PlanLine.Encroached.
func PlanCut(ledger Ledger, own ReservationSnapshot, others ReservationSnapshot, toCut decimal.Decimal) (Plan, error) {
	if ledger.Empty() {
		return Plan{}, invalid(ReasonNoRolls,
			"No rolls found for article %s.", "Nema rolni za artikal %s.", ledger.Article)
	}
	plan := Plan{Kind: PlanCutKind, Article: ledger.Article, Demand: toCut}
	remaining := toCut
	for _, roll := range ledger.Rolls {
		if !domain.Positive(remaining) {
			break
		}
		total := domain.ClampZero(roll.TotalMeters)
		fromReserved := domain.ClampZero(decimal.Min(own.Of(roll.RollNumber), remaining, total))
		fromAvailable := decimal.Zero
		if fromReserved.LessThan(remaining) {
			fromAvailable = domain.ClampZero(decimal.Min(remaining.Sub(fromReserved), total.Sub(fromReserved)))
		}
		taken := fromReserved.Add(fromAvailable)
		if taken.IsZero() {
			continue
		}
		unclaimed := domain.ClampZero(total.Sub(others.Of(roll.RollNumber)))
		plan.Lines = append(plan.Lines, PlanLine{
			RollID:        roll.ID,
			RollNumber:    roll.RollNumber,
			TotalBefore:   roll.TotalMeters,
			FromReserved:  fromReserved,
			FromAvailable: fromAvailable,
			Encroached:    domain.ClampZero(taken.Sub(unclaimed)),
		})
		remaining = remaining.Sub(taken)
	}
	if domain.Positive(remaining) {
		return Plan{}, &InsufficientPhysicalStockError{
			Article:   ledger.Article,
			Requested: toCut,
			Shortfall: remaining,
		}
	}
	return plan, nil
}
