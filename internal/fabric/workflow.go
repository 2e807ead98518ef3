package fabric

import "cutledger/pkg/domain"

// CheckTransition validates a manual status change. Leaving in_cutting
// happens only through the initial cut.
func CheckTransition(order domain.Order, next domain.OrderStatus) error {
	if order.Status.Stage == domain.StageInCutting && next == domain.StatusInStitching {
		return invalid(ReasonInvalidTransition,
			"Order %s leaves cutting only by confirming the cut.", "Porudžbina %s izlazi iz krojenja samo potvrdom krojenja.", order.Code)
	}
	if !order.Status.CanTransition(next) {
		return invalid(ReasonInvalidTransition,
			"Order %s cannot move from %s to %s.", "Porudžbina %s ne može preći iz %s u %s.", order.Code, order.Status, next)
	}
	return nil
}

// QCOutcome returns the status following a QC verdict on order.
func QCOutcome(order domain.Order, approved bool) (domain.OrderStatus, error) {
	next, err := order.Status.AfterQC(approved)
	if err != nil {
		return domain.OrderStatus{}, invalid(ReasonInvalidTransition,
			"Order %s is not awaiting QC (status %s).", "Porudžbina %s ne čeka kontrolu kvaliteta (status %s).", order.Code, order.Status)
	}
	return next, nil
}
