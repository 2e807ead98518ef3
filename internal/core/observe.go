package core

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"cutledger/internal/audit"
	"cutledger/internal/fabric"
	"cutledger/pkg/domain"
)

// IsBusinessError reports whether err is a rejection the caller can fix by
// changing input, as opposed to an infrastructure failure.
func IsBusinessError(err error) bool {
	var violation domain.RuleViolationError
	return errors.Is(err, fabric.ErrValidation) ||
		errors.Is(err, fabric.ErrInsufficientStock) ||
		domain.IsNotFound(err) ||
		errors.As(err, &violation)
}

func (s *Service) finish(ctx context.Context, op, subject string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if err == nil {
		return
	}
	fields := []zap.Field{zap.String("operation", op), zap.String("subject", subject), zap.Error(err)}
	switch {
	case errors.Is(err, domain.ErrConflict), !IsBusinessError(err):
		s.logger.Error("operation failed", fields...)
	default:
		s.logger.Warn("operation rejected", fields...)
	}
}

func (s *Service) logPlan(order domain.Order, plan fabric.Plan) {
	if !s.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	for _, line := range plan.Lines {
		s.logger.Debug("allocation plan",
			zap.String("order", order.Code),
			zap.String("kind", string(plan.Kind)),
			zap.String("roll", line.RollNumber),
			zap.String("total_before", line.TotalBefore.String()),
			zap.String("from_reserved", line.FromReserved.String()),
			zap.String("from_available", line.FromAvailable.String()),
		)
	}
}

func (s *Service) logWarnings(op string, res domain.Result) {
	for _, v := range res.Warnings() {
		s.logger.Warn("rule warning",
			zap.String("operation", op),
			zap.String("rule", v.Rule),
			zap.String("entity_id", v.EntityID),
			zap.String("message", v.Message),
		)
	}
}

// committed logs, meters and archives a committed cut or recut. Archive
// failures are logged only; the commit stands.
func (s *Service) committed(ctx context.Context, out CutOutcome, at time.Time) {
	rolls := make([]string, 0, len(out.Plan.Lines))
	for _, l := range out.Plan.Lines {
		rolls = append(rolls, l.RollNumber)
	}
	s.logger.Info("allocation committed",
		zap.String("kind", string(out.Plan.Kind)),
		zap.String("order", out.OrderCode),
		zap.String("order_id", out.OrderID),
		zap.String("article", string(out.Article)),
		zap.String("meters", out.Plan.Total().String()),
		zap.String("new_actual_total", out.NewActualTotal.String()),
		zap.Strings("rolls", rolls),
	)
	s.logWarnings(string(out.Plan.Kind), out.Result)

	if cr, ok := s.metrics.(ConsumptionRecorder); ok {
		cr.ObserveConsumption(string(out.Article), string(out.Plan.Kind), out.Plan.Total().InexactFloat64())
	}

	if s.archive == nil {
		return
	}
	warnings := make([]string, 0, len(out.Result.Violations))
	for _, v := range out.Result.Warnings() {
		warnings = append(warnings, v.Rule+": "+v.Message)
	}
	key, err := s.archive.Record(ctx, audit.AllocationRecord{
		OrderID:        out.OrderID,
		OrderCode:      out.OrderCode,
		Article:        out.Article,
		Kind:           out.Plan.Kind,
		Demand:         out.Plan.Demand,
		Lines:          out.Plan.Lines,
		NewActualTotal: out.NewActualTotal,
		Recuts:         out.Recuts,
		Warnings:       warnings,
		CommittedAt:    at,
	})
	if err != nil {
		s.logger.Error("archive allocation", zap.String("order_id", out.OrderID), zap.Error(err))
		return
	}
	s.logger.Debug("allocation archived", zap.String("key", key))
}
