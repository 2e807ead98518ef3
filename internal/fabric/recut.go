package fabric

import (
	"strings"

	"github.com/shopspring/decimal"

	"cutledger/pkg/domain"
)

// RecutRequest is one additional consumption entry submitted by an operator.
type RecutRequest struct {
	Meters decimal.Decimal `json:"meters"`
	Reason string          `json:"reason"`
}

// ValidateRecuts checks every entry. An empty batch is accepted only when
// allowEmpty is set.
func ValidateRecuts(recuts []RecutRequest, allowEmpty bool) error {
	if len(recuts) == 0 && !allowEmpty {
		return invalid(ReasonNoRecuts, "No recut entries were submitted.", "Nije uneto nijedno dokrojavanje.")
	}
	for i, r := range recuts {
		if !domain.Positive(r.Meters) {
			return invalid(ReasonInvalidRecut,
				"Recut #%d must be greater than zero (got %s).", "Dokrojavanje #%d mora biti veće od nule (uneto %s).", i+1, r.Meters.String())
		}
		if strings.TrimSpace(r.Reason) == "" {
			return invalid(ReasonInvalidRecut,
				"Recut #%d needs a reason.", "Dokrojavanje #%d mora imati razlog.", i+1)
		}
	}
	return nil
}

// SumRecuts adds the meters of every entry.
func SumRecuts(recuts []RecutRequest) decimal.Decimal {
	total := decimal.Zero
	for _, r := range recuts {
		total = total.Add(r.Meters)
	}
	return total
}

// CheckRecut validates that order may record additional consumption.
func CheckRecut(order domain.Order) error {
	if order.Article == "" {
		return invalid(ReasonMissingArticle,
			"Order %s has no fabric article.", "Porudžbina %s nema artikal materijala.", order.Code)
	}
	if !order.AlreadyCut() {
		return invalid(ReasonNotCut,
			"Order %s has not been cut yet; confirm the initial cut first.", "Porudžbina %s još nije iskrojena; prvo potvrdite krojenje.", order.Code)
	}
	if !order.Status.PostCut() {
		return invalid(ReasonWrongStage,
			"Order %s no longer accepts recuts (status %s).", "Porudžbina %s više ne prima dokrojavanja (status %s).", order.Code, order.Status)
	}
	return nil
}

// RecutCandidates orders the ledger's rolls for a recut: rolls the order has
// reservation entries on first, then the rest, each group by roll number.
func RecutCandidates(ledger Ledger, order domain.Order) []domain.FabricRoll {
	assigned := make(map[string]struct{}, len(order.AssignedRolls))
	for _, a := range order.AssignedRolls {
		assigned[a.RollNumber] = struct{}{}
	}
	var first, rest []domain.FabricRoll
	for _, r := range ledger.Rolls {
		if _, ok := assigned[r.RollNumber]; ok {
			first = append(first, r)
		} else {
			rest = append(rest, r)
		}
	}
	sortRolls(first)
	sortRolls(rest)
	return append(first, rest...)
}

// PlanRecut draws demand only from unreserved meters, walking the recut
// candidates in order.
func PlanRecut(ledger Ledger, order domain.Order, demand decimal.Decimal) (Plan, error) {
	if ledger.Empty() {
		return Plan{}, invalid(ReasonNoRolls,
			"No rolls found for article %s.", "Nema rolni za artikal %s.", ledger.Article)
	}
	candidates := RecutCandidates(ledger, order)
	available := decimal.Zero
	for _, r := range candidates {
		available = available.Add(r.Free())
	}
	if demand.GreaterThan(available.Add(domain.Epsilon)) {
		return Plan{}, &InsufficientFreeStockError{
			Article:   ledger.Article,
			Requested: demand,
			Available: available,
		}
	}
	plan := Plan{Kind: PlanRecutKind, Article: ledger.Article, Demand: demand}
	remaining := demand
	for _, roll := range candidates {
		if !domain.Positive(remaining) {
			break
		}
		take := decimal.Min(roll.Free(), remaining)
		if !take.IsPositive() {
			continue
		}
		plan.Lines = append(plan.Lines, PlanLine{
			RollID:        roll.ID,
			RollNumber:    roll.RollNumber,
			TotalBefore:   roll.TotalMeters,
			FromAvailable: take,
		})
		remaining = remaining.Sub(take)
	}
	return plan, nil
}
