// Package core exposes the fabric ledger operations to the workflow: the
// initial cut and recut confirmations, reservations, roll intake, order
// status changes and ledger reconciliation. Every mutating operation runs
// as one optimistic store transaction.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cutledger/internal/audit"
	"cutledger/internal/fabric"
	"cutledger/internal/infra/persistence/memory"
	"cutledger/internal/ingest"
	"cutledger/pkg/domain"
)

// Operation names reported to metrics and logs.
const (
	OpConfirmInitialCut   = "confirm_initial_cut"
	OpConfirmRecut        = "confirm_recut"
	OpReserveRolls        = "reserve_rolls"
	OpReleaseReservations = "release_reservations"
	OpReceiveRoll         = "receive_roll"
	OpCreateOrder         = "create_order"
	OpAdvanceStatus       = "advance_status"
	OpRecordQCOutcome     = "record_qc_outcome"
	OpReconcile           = "reconcile"
	OpImport              = "import"
)

// Service runs ledger operations against a persistent store.
type Service struct {
	store   domain.PersistentStore
	logger  *zap.Logger
	clock   Clock
	metrics MetricsRecorder
	archive *audit.Archive
}

// NewService constructs a service backed by store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		store:   store,
		logger:  o.logger,
		clock:   o.clock,
		metrics: o.metrics,
		archive: o.archive,
	}
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine selects NewDefaultRulesEngine.
func NewInMemoryService(engine *domain.RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// CutOutcome reports a committed cut or recut.
type CutOutcome struct {
	OrderID        string              `json:"order_id"`
	OrderCode      string              `json:"order_code"`
	Article        domain.ArticleKey   `json:"article"`
	NewActualTotal decimal.Decimal     `json:"new_actual_total"`
	Plan           fabric.Plan         `json:"plan"`
	Recuts         []domain.RecutEntry `json:"recuts,omitempty"`
	Result         domain.Result       `json:"-"`
}

// ConfirmInitialCut records the first actual consumption of an order:
// reported meters are allocated over the article's rolls, the order moves to
// in_stitching with its reservations consumed, and the article's ledger is
// re-derived, all in one transaction. Recuts submitted with the
// confirmation are recorded in the order history.
func (s *Service) ConfirmInitialCut(ctx context.Context, orderID string, reported decimal.Decimal, recuts []fabric.RecutRequest) (out CutOutcome, err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpConfirmInitialCut, orderID, start, err) }()

	if err := fabric.ValidateRecuts(recuts, true); err != nil {
		return CutOutcome{}, err
	}
	now := s.clock.Now()
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		order, err := findOrder(tx, orderID)
		if err != nil {
			return err
		}
		if err := fabric.CheckInitialCut(order, reported); err != nil {
			return err
		}
		view := tx.Snapshot()
		ledger := fabric.BuildLedger(order.Article, view.ListRolls())
		others := fabric.SnapshotReservations(order.Article, view.ListOrders(), order.ID)
		plan, err := fabric.PlanCut(ledger, fabric.OwnReservations(order), others, reported)
		if err != nil {
			return err
		}
		s.logPlan(order, plan)
		applied, err := fabric.ApplyCut(tx, order, plan, reported, recuts, now)
		if err != nil {
			return err
		}
		out = outcome(applied, plan)
		return nil
	})
	if err != nil {
		return CutOutcome{}, err
	}
	out.Result = res
	if encroached := out.Plan.Encroached(); domain.Positive(encroached) {
		out.Result.Violations = append(out.Result.Violations, domain.Violation{
			Rule:     RuleCutEncroachment,
			Severity: domain.SeverityWarn,
			Message:  "initial cut took " + encroached.StringFixed(2) + " m reserved by other orders",
			Entity:   domain.EntityOrder,
			EntityID: out.OrderID,
		})
	}
	s.committed(ctx, out, now)
	return out, nil
}

// ConfirmRecut records additional consumption of an order that is already
// cut. Meters are drawn only from unreserved stock and the order status is
// left unchanged.
func (s *Service) ConfirmRecut(ctx context.Context, orderID string, recuts []fabric.RecutRequest) (out CutOutcome, err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpConfirmRecut, orderID, start, err) }()

	if err := fabric.ValidateRecuts(recuts, false); err != nil {
		return CutOutcome{}, err
	}
	now := s.clock.Now()
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		order, err := findOrder(tx, orderID)
		if err != nil {
			return err
		}
		if err := fabric.CheckRecut(order); err != nil {
			return err
		}
		ledger := fabric.BuildLedger(order.Article, tx.Snapshot().ListRolls())
		plan, err := fabric.PlanRecut(ledger, order, fabric.SumRecuts(recuts))
		if err != nil {
			return err
		}
		s.logPlan(order, plan)
		applied, err := fabric.ApplyRecut(tx, order, plan, recuts, now)
		if err != nil {
			return err
		}
		out = outcome(applied, plan)
		return nil
	})
	if err != nil {
		return CutOutcome{}, err
	}
	out.Result = res
	s.committed(ctx, out, now)
	return out, nil
}

func outcome(applied fabric.CutApplied, plan fabric.Plan) CutOutcome {
	return CutOutcome{
		OrderID:        applied.Order.ID,
		OrderCode:      applied.Order.Code,
		Article:        applied.Order.Article,
		NewActualTotal: applied.Order.ActualConsumedMeters,
		Plan:           plan,
		Recuts:         applied.Recuts,
	}
}

// ReserveRolls adds reservations for an order that has not been cut yet and
// re-derives the article's rolls.
func (s *Service) ReserveRolls(ctx context.Context, orderID string, requests []fabric.RollRequest) (order domain.Order, res domain.Result, err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpReserveRolls, orderID, start, err) }()

	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		current, err := findOrder(tx, orderID)
		if err != nil {
			return err
		}
		if err := fabric.CheckReservable(current); err != nil {
			return err
		}
		view := tx.Snapshot()
		ledger := fabric.BuildLedger(current.Article, view.ListRolls())
		assigned, err := fabric.PlanReservation(ledger, view.ListOrders(), current, requests)
		if err != nil {
			return err
		}
		order, _, err = fabric.ApplyReservation(tx, current, assigned)
		return err
	})
	s.logWarnings(OpReserveRolls, res)
	return order, res, err
}

// ReleaseReservations zeroes every reservation of an order and re-derives
// the article's rolls.
func (s *Service) ReleaseReservations(ctx context.Context, orderID string) (order domain.Order, res domain.Result, err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpReleaseReservations, orderID, start, err) }()

	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		current, err := findOrder(tx, orderID)
		if err != nil {
			return err
		}
		order, _, err = fabric.ApplyReservation(tx, current, fabric.ReleasedReservations(current.AssignedRolls))
		return err
	})
	s.logWarnings(OpReleaseReservations, res)
	return order, res, err
}

// ReceiveRoll adds a new physical roll to its article's pool.
func (s *Service) ReceiveRoll(ctx context.Context, roll domain.FabricRoll) (created domain.FabricRoll, res domain.Result, err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpReceiveRoll, roll.RollNumber, start, err) }()

	roll.Article = domain.NormalizeArticle(string(roll.Article))
	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		ledger := fabric.BuildLedger(roll.Article, tx.Snapshot().ListRolls())
		prepared, err := fabric.PrepareIntake(ledger, roll)
		if err != nil {
			return err
		}
		created, err = tx.CreateRoll(prepared)
		return err
	})
	s.logWarnings(OpReceiveRoll, res)
	return created, res, err
}

// CreateOrder registers an order. Reservations it carries are reflected on
// the article's rolls in the same transaction.
func (s *Service) CreateOrder(ctx context.Context, order domain.Order) (created domain.Order, res domain.Result, err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpCreateOrder, order.Code, start, err) }()

	order.Article = domain.NormalizeArticle(string(order.Article))
	if order.Status == (domain.OrderStatus{}) {
		order.Status = domain.StatusPending
	}
	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		created, err = tx.CreateOrder(order)
		if err != nil {
			return err
		}
		if len(created.AssignedRolls) > 0 && created.Article != "" {
			_, err = fabric.Rederive(tx, created.Article)
		}
		return err
	})
	s.logWarnings(OpCreateOrder, res)
	return created, res, err
}

// AdvanceStatus moves an order one step along the production workflow.
func (s *Service) AdvanceStatus(ctx context.Context, orderID string, next domain.OrderStatus) (order domain.Order, res domain.Result, err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpAdvanceStatus, orderID, start, err) }()

	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		current, err := findOrder(tx, orderID)
		if err != nil {
			return err
		}
		if err := fabric.CheckTransition(current, next); err != nil {
			return err
		}
		order, err = tx.UpdateOrder(orderID, func(o *domain.Order) error {
			o.Status = next
			return nil
		})
		return err
	})
	return order, res, err
}

// RecordQCOutcome applies a QC verdict: approval moves the order to
// packing, rejection opens the next recontrol attempt.
func (s *Service) RecordQCOutcome(ctx context.Context, orderID string, approved bool) (order domain.Order, res domain.Result, err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpRecordQCOutcome, orderID, start, err) }()

	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		current, err := findOrder(tx, orderID)
		if err != nil {
			return err
		}
		next, err := fabric.QCOutcome(current, approved)
		if err != nil {
			return err
		}
		order, err = tx.UpdateOrder(orderID, func(o *domain.Order) error {
			o.Status = next
			return nil
		})
		return err
	})
	return order, res, err
}

// Reconcile re-derives reserved and available meters of every roll of
// article from the order population and returns the rolls it rewrote.
func (s *Service) Reconcile(ctx context.Context, article domain.ArticleKey) (rolls []domain.FabricRoll, res domain.Result, err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpReconcile, string(article), start, err) }()

	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		rolls, err = fabric.Rederive(tx, article)
		return err
	})
	if err == nil && len(rolls) > 0 {
		s.logger.Info("ledger reconciled", zap.String("article", string(article)), zap.Int("rolls_rewritten", len(rolls)))
	}
	return rolls, res, err
}

// ReconcileAll reconciles every article present in the roll pool and
// returns the number of rolls rewritten per article.
func (s *Service) ReconcileAll(ctx context.Context) (map[domain.ArticleKey]int, error) {
	articles, err := s.Articles(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.ArticleKey]int, len(articles))
	var errs []error
	for _, article := range articles {
		rolls, _, err := s.Reconcile(ctx, article)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[article] = len(rolls)
	}
	return out, errors.Join(errs...)
}

// Import writes a decoded export as-is in one transaction, keeping record
// IDs and stored meters. Drift between stored and derived fields is left
// for Reconcile and surfaces as rule warnings.
func (s *Service) Import(ctx context.Context, seed ingest.Seed) (res domain.Result, err error) {
	start := time.Now()
	defer func() { s.finish(ctx, OpImport, "seed", start, err) }()

	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, r := range seed.Rolls {
			if _, err := tx.CreateRoll(r); err != nil {
				return fmt.Errorf("import roll %s: %w", r.RollNumber, err)
			}
		}
		for _, o := range seed.Orders {
			if _, err := tx.CreateOrder(o); err != nil {
				return fmt.Errorf("import order %s: %w", o.Code, err)
			}
		}
		return nil
	})
	if err == nil {
		s.logger.Info("seed imported", zap.Int("rolls", len(seed.Rolls)), zap.Int("orders", len(seed.Orders)))
	}
	s.logWarnings(OpImport, res)
	return res, err
}

// Articles lists the articles present in the roll pool.
func (s *Service) Articles(ctx context.Context) ([]domain.ArticleKey, error) {
	var articles []domain.ArticleKey
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		seen := make(map[domain.ArticleKey]bool)
		for _, r := range v.ListRolls() {
			if r.Article != "" && !seen[r.Article] {
				seen[r.Article] = true
				articles = append(articles, r.Article)
			}
		}
		return nil
	})
	sort.Slice(articles, func(i, j int) bool { return articles[i] < articles[j] })
	return articles, err
}

// Ledger returns the article's rolls ordered by roll number.
func (s *Service) Ledger(ctx context.Context, article domain.ArticleKey) (fabric.Ledger, error) {
	var ledger fabric.Ledger
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		ledger = fabric.BuildLedger(domain.NormalizeArticle(string(article)), v.ListRolls())
		return nil
	})
	return ledger, err
}

// Order returns one order.
func (s *Service) Order(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		o, ok := v.FindOrder(orderID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityOrder, ID: orderID}
		}
		order = o
		return nil
	})
	return order, err
}

// Orders lists orders, optionally narrowed to one article, by code.
func (s *Service) Orders(ctx context.Context, article domain.ArticleKey) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, o := range v.ListOrders() {
			if article == "" || article.Matches(o.Article) {
				orders = append(orders, o)
			}
		}
		return nil
	})
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].Code != orders[j].Code {
			return orders[i].Code < orders[j].Code
		}
		return orders[i].ID < orders[j].ID
	})
	return orders, err
}

// Recuts returns an order's recut history.
func (s *Service) Recuts(ctx context.Context, orderID string) ([]domain.RecutEntry, error) {
	if _, err := s.Order(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.Recuts(ctx, orderID)
}

// Allocations lists archived allocation records. Without an archive the
// list is empty.
func (s *Service) Allocations(ctx context.Context, article domain.ArticleKey, orderID string) ([]audit.AllocationRecord, error) {
	if s.archive == nil {
		return nil, nil
	}
	return s.archive.List(ctx, article, orderID)
}

func findOrder(tx domain.Transaction, orderID string) (domain.Order, error) {
	order, ok := tx.FindOrder(orderID)
	if !ok {
		return domain.Order{}, domain.ErrNotFound{Entity: domain.EntityOrder, ID: orderID}
	}
	return order, nil
}
