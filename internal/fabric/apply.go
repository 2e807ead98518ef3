package fabric

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cutledger/pkg/domain"
)

// CutApplied summarises a committed initial cut.
type CutApplied struct {
	Order  domain.Order
	Rolls  []domain.FabricRoll
	Recuts []domain.RecutEntry
}

// ApplyCut writes an initial-cut plan through tx: the order moves to
// in_stitching with its reservations consumed, every plan roll is debited,
// and reserved/available of every roll of the article are re-derived from
// the updated order population. Recuts submitted alongside the cut are
// recorded in history; their meters are part of reported.
func ApplyCut(tx domain.Transaction, order domain.Order, plan Plan, reported decimal.Decimal, recuts []RecutRequest, now time.Time) (CutApplied, error) {
	var applied CutApplied
	updated, err := tx.UpdateOrder(order.ID, func(o *domain.Order) error {
		o.Status = domain.StatusInStitching
		o.ActualConsumedMeters = domain.RoundMeters(reported)
		if o.CutDate == nil {
			cutAt := now
			o.CutDate = &cutAt
		}
		o.RecutsCount += len(recuts)
		for i := range o.AssignedRolls {
			o.AssignedRolls[i].Reserved = decimal.Zero
		}
		return nil
	})
	if err != nil {
		return CutApplied{}, fmt.Errorf("update order %s: %w", order.ID, err)
	}
	applied.Order = updated

	for _, line := range plan.Lines {
		if _, err := debit(tx, line); err != nil {
			return CutApplied{}, err
		}
	}

	rolls, err := rederive(tx, plan.Article, true)
	if err != nil {
		return CutApplied{}, err
	}
	applied.Rolls = rolls

	entries, err := appendRecuts(tx, order.ID, recuts, now)
	if err != nil {
		return CutApplied{}, err
	}
	applied.Recuts = entries
	return applied, nil
}

// ApplyRecut writes a recut plan through tx. Only rolls whose total moves by
// more than epsilon are written and reserved meters are left untouched. The
// order status does not change.
func ApplyRecut(tx domain.Transaction, order domain.Order, plan Plan, recuts []RecutRequest, now time.Time) (CutApplied, error) {
	var applied CutApplied
	for _, line := range plan.Lines {
		if !domain.Positive(line.Taken()) {
			continue
		}
		roll, err := debit(tx, line)
		if err != nil {
			return CutApplied{}, err
		}
		applied.Rolls = append(applied.Rolls, roll)
	}

	sum := SumRecuts(recuts)
	updated, err := tx.UpdateOrder(order.ID, func(o *domain.Order) error {
		o.ActualConsumedMeters = domain.RoundMeters(o.ActualConsumedMeters.Add(sum))
		o.RecutsCount += len(recuts)
		return nil
	})
	if err != nil {
		return CutApplied{}, fmt.Errorf("update order %s: %w", order.ID, err)
	}
	applied.Order = updated

	entries, err := appendRecuts(tx, order.ID, recuts, now)
	if err != nil {
		return CutApplied{}, err
	}
	applied.Recuts = entries
	return applied, nil
}

// Rederive recomputes reserved/available for every roll of article from the
// order population visible to tx and writes the rolls that drifted. It is
// idempotent: a second call on the result writes nothing.
func Rederive(tx domain.Transaction, article domain.ArticleKey) ([]domain.FabricRoll, error) {
	return rederive(tx, article, false)
}

func rederive(tx domain.Transaction, article domain.ArticleKey, writeAll bool) ([]domain.FabricRoll, error) {
	view := tx.Snapshot()
	reservations := SnapshotReservations(article, view.ListOrders(), "")
	ledger := BuildLedger(article, view.ListRolls())
	var written []domain.FabricRoll
	for _, roll := range ledger.Rolls {
		reserved := reservations.Of(roll.RollNumber)
		if !writeAll && !NeedsDerive(roll, reserved) {
			continue
		}
		updated, err := tx.UpdateRoll(roll.ID, func(r *domain.FabricRoll) error {
			*r = Derive(*r, reserved)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("derive roll %s: %w", roll.RollNumber, err)
		}
		written = append(written, updated)
	}
	return written, nil
}

func debit(tx domain.Transaction, line PlanLine) (domain.FabricRoll, error) {
	roll, err := tx.UpdateRoll(line.RollID, func(r *domain.FabricRoll) error {
		r.TotalMeters = domain.RoundMeters(domain.ClampZero(r.TotalMeters.Sub(line.Taken())))
		r.AvailableMeters = domain.RoundMeters(domain.ClampZero(r.TotalMeters.Sub(r.ReservedMeters)))
		return nil
	})
	if err != nil {
		return domain.FabricRoll{}, fmt.Errorf("debit roll %s: %w", line.RollNumber, err)
	}
	return roll, nil
}

func appendRecuts(tx domain.Transaction, orderID string, recuts []RecutRequest, now time.Time) ([]domain.RecutEntry, error) {
	entries := make([]domain.RecutEntry, 0, len(recuts))
	for i, r := range recuts {
		// Entries of one batch keep their submission order.
		entry, err := tx.AppendRecut(domain.RecutEntry{
			OrderID:   orderID,
			Meters:    domain.RoundMeters(r.Meters),
			Reason:    r.Reason,
			Timestamp: now.Add(time.Duration(i) * time.Microsecond),
		})
		if err != nil {
			return nil, fmt.Errorf("append recut for order %s: %w", orderID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
