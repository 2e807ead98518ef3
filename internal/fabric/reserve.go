package fabric

import (
	"fmt"

	"github.com/shopspring/decimal"

	"cutledger/pkg/domain"
)

// RollRequest asks to reserve meters on one roll for an order.
type RollRequest struct {
	RollNumber string          `json:"roll_number"`
	Meters     decimal.Decimal `json:"meters"`
}

// CheckReservable validates that order can still take reservations.
func CheckReservable(order domain.Order) error {
	if order.Article == "" {
		return invalid(ReasonMissingArticle,
			"Order %s has no fabric article.", "Porudžbina %s nema artikal materijala.", order.Code)
	}
	if order.AlreadyCut() {
		return invalid(ReasonAlreadyCut,
			"Order %s is already cut; reservations are closed.", "Porudžbina %s je već iskrojena; rezervacije su zatvorene.", order.Code)
	}
	switch order.Status.Stage {
	case domain.StagePending, domain.StageInProduction, domain.StageInCutting:
		return nil
	}
	return invalid(ReasonWrongStage,
		"Order %s cannot reserve fabric in status %s.", "Porudžbina %s ne može da rezerviše materijal u statusu %s.", order.Code, order.Status)
}

// PlanReservation checks every request against the free meters of its roll,
// counting reservations of all orders plus earlier requests of the same
// batch, and returns the order's merged reservation entries.
func PlanReservation(ledger Ledger, orders []domain.Order, order domain.Order, requests []RollRequest) ([]domain.AssignedRoll, error) {
	if len(requests) == 0 {
		return nil, invalid(ReasonInvalidMeters, "No rolls were requested.", "Nije izabrana nijedna rolna.")
	}
	reserved := SnapshotReservations(ledger.Article, orders, "")
	batch := make(map[string]decimal.Decimal, len(requests))
	merged := append([]domain.AssignedRoll(nil), order.AssignedRolls...)
	for _, req := range requests {
		if !domain.Positive(req.Meters) {
			return nil, invalid(ReasonInvalidMeters,
				"Reservation on roll %s must be greater than zero.", "Rezervacija na rolni %s mora biti veća od nule.", req.RollNumber)
		}
		roll, ok := ledger.Find(req.RollNumber)
		if !ok {
			return nil, invalid(ReasonUnknownRoll,
				"Roll %s does not belong to article %s.", "Rolna %s ne pripada artiklu %s.", req.RollNumber, ledger.Article)
		}
		free := domain.ClampZero(roll.TotalMeters.Sub(reserved.Of(roll.RollNumber)).Sub(batch[roll.RollNumber]))
		if req.Meters.GreaterThan(free.Add(domain.Epsilon)) {
			return nil, &InsufficientFreeStockError{
				Article:   ledger.Article,
				Requested: req.Meters,
				Available: free,
			}
		}
		batch[roll.RollNumber] = batch[roll.RollNumber].Add(req.Meters)
		merged = mergeReservation(merged, roll.RollNumber, req.Meters)
	}
	return merged, nil
}

func mergeReservation(entries []domain.AssignedRoll, rollNumber string, meters decimal.Decimal) []domain.AssignedRoll {
	for i := range entries {
		if entries[i].RollNumber == rollNumber {
			entries[i].Reserved = domain.RoundMeters(entries[i].Reserved.Add(meters))
			return entries
		}
	}
	return append(entries, domain.AssignedRoll{RollNumber: rollNumber, Reserved: domain.RoundMeters(meters)})
}

// ApplyReservation stores the order's reservation entries and re-derives the
// article's rolls.
func ApplyReservation(tx domain.Transaction, order domain.Order, assigned []domain.AssignedRoll) (domain.Order, []domain.FabricRoll, error) {
	updated, err := tx.UpdateOrder(order.ID, func(o *domain.Order) error {
		o.AssignedRolls = assigned
		return nil
	})
	if err != nil {
		return domain.Order{}, nil, fmt.Errorf("update order %s: %w", order.ID, err)
	}
	rolls, err := Rederive(tx, order.Article)
	if err != nil {
		return domain.Order{}, nil, err
	}
	return updated, rolls, nil
}

// ReleasedReservations returns entries with every reservation zeroed.
func ReleasedReservations(entries []domain.AssignedRoll) []domain.AssignedRoll {
	out := make([]domain.AssignedRoll, len(entries))
	for i, e := range entries {
		out[i] = domain.AssignedRoll{RollNumber: e.RollNumber, Reserved: decimal.Zero}
	}
	return out
}
