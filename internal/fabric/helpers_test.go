package fabric_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cutledger/internal/fabric"
	"cutledger/internal/infra/persistence/memory"
	"cutledger/pkg/domain"
)

func m(v string) decimal.Decimal { return decimal.RequireFromString(v) }

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	store  *memory.Store
	rolls  map[string]string
	orders map[string]string
}

func newFixture(t *testing.T, rolls []domain.FabricRoll, orders []domain.Order) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		store:  memory.NewStore(nil, memory.WithMaxAttempts(100), memory.WithClock(func() time.Time { return fixedNow })),
		rolls:  make(map[string]string),
		orders: make(map[string]string),
	}
	_, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for _, r := range rolls {
			if r.Article == "" {
				r.Article = "denim"
			}
			created, err := tx.CreateRoll(r)
			if err != nil {
				return err
			}
			f.rolls[r.RollNumber] = created.ID
		}
		for _, o := range orders {
			if o.Article == "" {
				o.Article = "denim"
			}
			created, err := tx.CreateOrder(o)
			if err != nil {
				return err
			}
			f.orders[o.Code] = created.ID
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return f
}

func roll(number, total, reserved string) domain.FabricRoll {
	r := domain.FabricRoll{RollNumber: number, TotalMeters: m(total), ReservedMeters: m(reserved)}
	r.AvailableMeters = r.Free()
	return r
}

func pendingCut(code string, reservations ...domain.AssignedRoll) domain.Order {
	return domain.Order{Code: code, Status: domain.StatusInCutting, AssignedRolls: reservations}
}

func reserved(number, meters string) domain.AssignedRoll {
	return domain.AssignedRoll{RollNumber: number, Reserved: m(meters)}
}

func (f *fixture) cut(code string, reported string, recuts ...fabric.RecutRequest) (fabric.Plan, error) {
	var plan fabric.Plan
	_, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		view := tx.Snapshot()
		order, ok := view.FindOrder(f.orders[code])
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityOrder, ID: code}
		}
		if err := fabric.CheckInitialCut(order, m(reported)); err != nil {
			return err
		}
		orders := view.ListOrders()
		ledger := fabric.BuildLedger(order.Article, view.ListRolls())
		own := fabric.OwnReservations(order)
		others := fabric.SnapshotReservations(order.Article, orders, order.ID)
		var err error
		plan, err = fabric.PlanCut(ledger, own, others, m(reported))
		if err != nil {
			return err
		}
		_, err = fabric.ApplyCut(tx, order, plan, m(reported), recuts, fixedNow)
		return err
	})
	return plan, err
}

func (f *fixture) recut(code string, recuts ...fabric.RecutRequest) (fabric.Plan, error) {
	var plan fabric.Plan
	_, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		view := tx.Snapshot()
		order, ok := view.FindOrder(f.orders[code])
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityOrder, ID: code}
		}
		if err := fabric.ValidateRecuts(recuts, false); err != nil {
			return err
		}
		if err := fabric.CheckRecut(order); err != nil {
			return err
		}
		ledger := fabric.BuildLedger(order.Article, view.ListRolls())
		var err error
		plan, err = fabric.PlanRecut(ledger, order, fabric.SumRecuts(recuts))
		if err != nil {
			return err
		}
		_, err = fabric.ApplyRecut(tx, order, plan, recuts, fixedNow)
		return err
	})
	return plan, err
}

func (f *fixture) roll(number string) domain.FabricRoll {
	f.t.Helper()
	r, ok := f.store.ExportState().Rolls[f.rolls[number]]
	if !ok {
		f.t.Fatalf("roll %s missing", number)
	}
	return r
}

func (f *fixture) order(code string) domain.Order {
	f.t.Helper()
	o, ok := f.store.ExportState().Orders[f.orders[code]]
	if !ok {
		f.t.Fatalf("order %s missing", code)
	}
	return o
}

func requireMeters(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(m(want)) {
		t.Fatalf("%s: expected %s, got %s", label, want, got)
	}
}
