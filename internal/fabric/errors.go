package fabric

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"cutledger/pkg/domain"
)

// Sentinels matched by every business error of the engine.
var (
	ErrValidation        = errors.New("fabric: validation failed")
	ErrInsufficientStock = errors.New("fabric: insufficient stock")
)

// Reason classifies a ValidationError.
type Reason string

// Validation reasons.
const (
	ReasonReservationsNotLoaded Reason = "reservations_not_loaded"
	ReasonNoRolls               Reason = "no_rolls"
	ReasonAlreadyCut            Reason = "already_cut"
	ReasonNotCut                Reason = "not_cut"
	ReasonWrongStage            Reason = "wrong_stage"
	ReasonInvalidMeters         Reason = "invalid_meters"
	ReasonInvalidRecut          Reason = "invalid_recut"
	ReasonNoRecuts              Reason = "no_recuts"
	ReasonUnknownRoll           Reason = "unknown_roll"
	ReasonDuplicateRoll         Reason = "duplicate_roll"
	ReasonMissingArticle        Reason = "missing_article"
	ReasonMissingRollNumber     Reason = "missing_roll_number"
	ReasonInvalidTransition     Reason = "invalid_transition"
)

// ValidationError rejects an operation before any plan is computed.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(reason Reason, english, serbian string, args ...any) error {
	return &ValidationError{
		Reason:  reason,
		Message: fmt.Sprintf(english+" / "+serbian, append(args, args...)...),
	}
}

// InsufficientPhysicalStockError reports that the article's rolls cannot
// physically cover an initial cut.
type InsufficientPhysicalStockError struct {
	Article   domain.ArticleKey
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientPhysicalStockError) Error() string {
	return fmt.Sprintf(
		"Not enough physical fabric on article %s: requested %s, short %s. / Nema dovoljno fizičke metraže na artiklu %s: zahtevano %s, nedostaje %s.",
		e.Article, e.Requested.StringFixed(2), e.Shortfall.StringFixed(2),
		e.Article, e.Requested.StringFixed(2), e.Shortfall.StringFixed(2),
	)
}

// Is matches ErrInsufficientStock.
func (e *InsufficientPhysicalStockError) Is(target error) bool { return target == ErrInsufficientStock }

// InsufficientFreeStockError reports that unreserved meters cannot cover a
// recut or a new reservation.
type InsufficientFreeStockError struct {
	Article   domain.ArticleKey
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFreeStockError) Error() string {
	return fmt.Sprintf(
		"Not enough free fabric on article %s: available %s, requested %s. / Nema dovoljno slobodne metraže na artiklu %s: dostupno %s, traženo %s.",
		e.Article, e.Available.StringFixed(2), e.Requested.StringFixed(2),
		e.Article, e.Available.StringFixed(2), e.Requested.StringFixed(2),
	)
}

// Is matches ErrInsufficientStock.
func (e *InsufficientFreeStockError) Is(target error) bool { return target == ErrInsufficientStock }
