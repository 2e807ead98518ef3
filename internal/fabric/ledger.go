// Package fabric implements roll allocation for order cuts and recuts: the
// per-article roll ledger, the reservation snapshot, the cut and recut
// allocators, and the transactional apply that commits a plan.
package fabric

import (
	"sort"

	"github.com/shopspring/decimal"

	"cutledger/pkg/domain"
)

// Ledger is the current view of every roll of one article, ordered
// ascending by roll number.
type Ledger struct {
	Article domain.ArticleKey
	Rolls   []domain.FabricRoll
}

// BuildLedger selects the rolls of article and sorts them by roll number.
func BuildLedger(article domain.ArticleKey, rolls []domain.FabricRoll) Ledger {
	ledger := Ledger{Article: article}
	for _, r := range rolls {
		if article.Matches(r.Article) {
			ledger.Rolls = append(ledger.Rolls, r)
		}
	}
	sortRolls(ledger.Rolls)
	return ledger
}

func sortRolls(rolls []domain.FabricRoll) {
	sort.SliceStable(rolls, func(i, j int) bool {
		if rolls[i].RollNumber == rolls[j].RollNumber {
			return rolls[i].ID < rolls[j].ID
		}
		return rolls[i].RollNumber < rolls[j].RollNumber
	})
}

// Empty reports whether the article has no rolls.
func (l Ledger) Empty() bool { return len(l.Rolls) == 0 }

// Find returns the roll carrying rollNumber.
func (l Ledger) Find(rollNumber string) (domain.FabricRoll, bool) {
	for _, r := range l.Rolls {
		if r.RollNumber == rollNumber {
			return r, true
		}
	}
	return domain.FabricRoll{}, false
}

// TotalMeters sums the physical meters of every roll.
func (l Ledger) TotalMeters() decimal.Decimal {
	total := decimal.Zero
	for _, r := range l.Rolls {
		total = total.Add(r.TotalMeters)
	}
	return total
}

// FreeMeters sums max(0, total-reserved) over every roll.
func (l Ledger) FreeMeters() decimal.Decimal {
	total := decimal.Zero
	for _, r := range l.Rolls {
		total = total.Add(r.Free())
	}
	return total
}

// ReservationSnapshot maps a roll number to the meters reserved on it.
type ReservationSnapshot map[string]decimal.Decimal

// SnapshotReservations sums the reservations held on each roll of article by
// every order except excludeOrderID.
func SnapshotReservations(article domain.ArticleKey, orders []domain.Order, excludeOrderID string) ReservationSnapshot {
	snapshot := make(ReservationSnapshot)
	for _, o := range orders {
		if o.ID == excludeOrderID || !article.Matches(o.Article) {
			continue
		}
		for _, a := range o.AssignedRolls {
			if a.Reserved.IsZero() {
				continue
			}
			snapshot[a.RollNumber] = snapshot[a.RollNumber].Add(a.Reserved)
		}
	}
	return snapshot
}

// Of returns the meters reserved on rollNumber.
func (s ReservationSnapshot) Of(rollNumber string) decimal.Decimal {
	return s[rollNumber]
}

// Derive returns roll with reserved and available recomputed from reserved.
func Derive(roll domain.FabricRoll, reserved decimal.Decimal) domain.FabricRoll {
	roll.ReservedMeters = domain.RoundMeters(reserved)
	roll.AvailableMeters = domain.RoundMeters(domain.ClampZero(roll.TotalMeters.Sub(roll.ReservedMeters)))
	return roll
}

// NeedsDerive reports whether the stored derived fields of roll drift from
// the values implied by reserved.
func NeedsDerive(roll domain.FabricRoll, reserved decimal.Decimal) bool {
	derived := Derive(roll, reserved)
	return !domain.NearlyEqual(derived.ReservedMeters, roll.ReservedMeters) ||
		!domain.NearlyEqual(derived.AvailableMeters, roll.AvailableMeters)
}

// OwnReservations returns order's own reservations by roll number.
func OwnReservations(order domain.Order) ReservationSnapshot {
	return ReservationSnapshot(order.OwnReservations())
}
