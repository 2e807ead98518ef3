package core_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cutledger/internal/audit"
	"cutledger/internal/blob"
	"cutledger/internal/core"
	"cutledger/internal/fabric"
	"cutledger/internal/infra/persistence/memory"
	"cutledger/internal/ingest"
	"cutledger/pkg/domain"
)

var fixedNow = time.Date(2026, 4, 14, 7, 30, 0, 0, time.UTC)

func m(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newService(t *testing.T, opts ...core.ServiceOption) *core.Service {
	t.Helper()
	store := memory.NewStore(core.NewDefaultRulesEngine(), memory.WithMaxAttempts(50), memory.WithClock(func() time.Time { return fixedNow }))
	opts = append([]core.ServiceOption{core.WithClock(core.ClockFunc(func() time.Time { return fixedNow }))}, opts...)
	return core.NewService(store, opts...)
}

func receive(t *testing.T, svc *core.Service, number, total string) domain.FabricRoll {
	t.Helper()
	roll, _, err := svc.ReceiveRoll(context.Background(), domain.FabricRoll{RollNumber: number, Article: " Denim ", TotalMeters: m(total)})
	if err != nil {
		t.Fatalf("receive roll %s: %v", number, err)
	}
	return roll
}

func createOrder(t *testing.T, svc *core.Service, code string, status domain.OrderStatus, reservations ...domain.AssignedRoll) domain.Order {
	t.Helper()
	order, _, err := svc.CreateOrder(context.Background(), domain.Order{Code: code, Article: "denim", Status: status, AssignedRolls: reservations})
	if err != nil {
		t.Fatalf("create order %s: %v", code, err)
	}
	return order
}

func reservation(number, meters string) domain.AssignedRoll {
	return domain.AssignedRoll{RollNumber: number, Reserved: m(meters)}
}

func rollByNumber(t *testing.T, svc *core.Service, number string) domain.FabricRoll {
	t.Helper()
	ledger, err := svc.Ledger(context.Background(), "denim")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	roll, ok := ledger.Find(number)
	if !ok {
		t.Fatalf("roll %s missing", number)
	}
	return roll
}

func assertMeters(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(m(want)) {
		t.Fatalf("%s: expected %s, got %s", label, want, got)
	}
}

func TestConfirmInitialCutConsumesOwnReservationFirst(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	receive(t, svc, "R1", "50")
	receive(t, svc, "R2", "40")
	order := createOrder(t, svc, "PO-1", domain.StatusInCutting, reservation("R1", "30"))
	createOrder(t, svc, "PO-2", domain.StatusInProduction, reservation("R2", "20"))

	assertMeters(t, "R1 reserved after order", rollByNumber(t, svc, "R1").ReservedMeters, "30")
	assertMeters(t, "R1 available after order", rollByNumber(t, svc, "R1").AvailableMeters, "20")

	out, err := svc.ConfirmInitialCut(ctx, order.ID, m("35"), []fabric.RecutRequest{{Meters: m("2"), Reason: "stain"}})
	if err != nil {
		t.Fatalf("confirm cut: %v", err)
	}
	if out.Article != "denim" || out.OrderCode != "PO-1" {
		t.Fatalf("unexpected outcome header %+v", out)
	}
	assertMeters(t, "new actual total", out.NewActualTotal, "35")
	if len(out.Plan.Lines) != 1 {
		t.Fatalf("expected one plan line, got %+v", out.Plan.Lines)
	}
	line := out.Plan.Lines[0]
	assertMeters(t, "from reserved", line.FromReserved, "30")
	assertMeters(t, "from available", line.FromAvailable, "5")
	if len(out.Recuts) != 1 {
		t.Fatalf("expected recut entry in outcome")
	}

	r1 := rollByNumber(t, svc, "R1")
	assertMeters(t, "R1 total", r1.TotalMeters, "15")
	assertMeters(t, "R1 reserved", r1.ReservedMeters, "0")
	assertMeters(t, "R1 available", r1.AvailableMeters, "15")
	r2 := rollByNumber(t, svc, "R2")
	assertMeters(t, "R2 reserved", r2.ReservedMeters, "20")
	assertMeters(t, "R2 available", r2.AvailableMeters, "20")

	stored, err := svc.Order(ctx, order.ID)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if stored.Status != domain.StatusInStitching || stored.RecutsCount != 1 || stored.CutDate == nil {
		t.Fatalf("unexpected order after cut %+v", stored)
	}
	if !stored.TotalReserved().IsZero() {
		t.Fatalf("expected reservations consumed, got %s", stored.TotalReserved())
	}
	history, err := svc.Recuts(ctx, order.ID)
	if err != nil || len(history) != 1 || history[0].Reason != "stain" {
		t.Fatalf("unexpected recut history %+v (%v)", history, err)
	}
}

func TestConfirmInitialCutRejections(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	receive(t, svc, "R1", "10")
	cutting := createOrder(t, svc, "PO-1", domain.StatusInCutting, reservation("R1", "5"))
	unloaded := createOrder(t, svc, "PO-2", domain.StatusInCutting)
	early := createOrder(t, svc, "PO-3", domain.StatusInProduction, reservation("R1", "2"))

	cases := []struct {
		name    string
		orderID string
		meters  string
		recuts  []fabric.RecutRequest
		target  error
	}{
		{name: "zero meters", orderID: cutting.ID, meters: "0", target: fabric.ErrValidation},
		{name: "reservations not loaded", orderID: unloaded.ID, meters: "1", target: fabric.ErrValidation},
		{name: "wrong stage", orderID: early.ID, meters: "1", target: fabric.ErrValidation},
		{name: "bad recut", orderID: cutting.ID, meters: "1", recuts: []fabric.RecutRequest{{Meters: m("1")}}, target: fabric.ErrValidation},
		{name: "physical shortfall", orderID: cutting.ID, meters: "10.5", target: fabric.ErrInsufficientStock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ConfirmInitialCut(ctx, tc.orderID, m(tc.meters), tc.recuts)
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
			if !core.IsBusinessError(err) {
				t.Fatalf("expected business error classification for %v", err)
			}
		})
	}

	if _, err := svc.ConfirmInitialCut(ctx, "missing", m("1"), nil); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	// Nothing was written by the rejected attempts.
	assertMeters(t, "R1 total", rollByNumber(t, svc, "R1").TotalMeters, "10")

	if _, err := svc.ConfirmInitialCut(ctx, cutting.ID, m("4"), nil); err != nil {
		t.Fatalf("confirm cut: %v", err)
	}
	var verr *fabric.ValidationError
	if _, err := svc.ConfirmInitialCut(ctx, cutting.ID, m("4"), nil); !errors.As(err, &verr) || verr.Reason != fabric.ReasonAlreadyCut {
		t.Fatalf("expected already cut, got %v", err)
	}
}

func TestConfirmInitialCutFlagsEncroachment(t *testing.T) {
	svc := newService(t)
	receive(t, svc, "R1", "10")
	first := createOrder(t, svc, "PO-1", domain.StatusInCutting, reservation("R1", "5"))
	createOrder(t, svc, "PO-2", domain.StatusInCutting, reservation("R1", "5"))

	out, err := svc.ConfirmInitialCut(context.Background(), first.ID, m("8"), nil)
	if err != nil {
		t.Fatalf("confirm cut: %v", err)
	}
	assertMeters(t, "encroached", out.Plan.Encroached(), "3")
	var found bool
	for _, v := range out.Result.Warnings() {
		if v.Rule == core.RuleCutEncroachment && v.EntityID == first.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected encroachment warning, got %+v", out.Result.Violations)
	}
	r1 := rollByNumber(t, svc, "R1")
	assertMeters(t, "R1 total", r1.TotalMeters, "2")
	assertMeters(t, "R1 reserved", r1.ReservedMeters, "5")
	assertMeters(t, "R1 available", r1.AvailableMeters, "0")
}

func TestConfirmRecut(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	receive(t, svc, "R1", "50")
	receive(t, svc, "R2", "40")
	order := createOrder(t, svc, "PO-1", domain.StatusInCutting, reservation("R1", "30"))
	createOrder(t, svc, "PO-2", domain.StatusInProduction, reservation("R2", "20"))

	if _, err := svc.ConfirmRecut(ctx, order.ID, []fabric.RecutRequest{{Meters: m("1"), Reason: "torn"}}); !errors.Is(err, fabric.ErrValidation) {
		t.Fatalf("expected recut before cut to be rejected, got %v", err)
	}
	if _, err := svc.ConfirmInitialCut(ctx, order.ID, m("35"), nil); err != nil {
		t.Fatalf("confirm cut: %v", err)
	}
	if _, err := svc.ConfirmRecut(ctx, order.ID, nil); !errors.Is(err, fabric.ErrValidation) {
		t.Fatalf("expected empty recut to be rejected, got %v", err)
	}

	out, err := svc.ConfirmRecut(ctx, order.ID, []fabric.RecutRequest{
		{Meters: m("6"), Reason: "torn"},
		{Meters: m("4"), Reason: "misprint"},
	})
	if err != nil {
		t.Fatalf("confirm recut: %v", err)
	}
	assertMeters(t, "new actual total", out.NewActualTotal, "45")
	if out.Plan.Kind != fabric.PlanRecutKind || len(out.Plan.Lines) != 1 || out.Plan.Lines[0].RollNumber != "R1" {
		t.Fatalf("unexpected recut plan %+v", out.Plan)
	}
	assertMeters(t, "R1 total", rollByNumber(t, svc, "R1").TotalMeters, "5")

	// Free stock is 5 on R1 plus 20 on R2; PO-2's reservation is off limits.
	_, err = svc.ConfirmRecut(ctx, order.ID, []fabric.RecutRequest{{Meters: m("30"), Reason: "remake"}})
	var short *fabric.InsufficientFreeStockError
	if !errors.As(err, &short) {
		t.Fatalf("expected insufficient free stock, got %v", err)
	}
	assertMeters(t, "available", short.Available, "25")

	stored, _ := svc.Order(ctx, order.ID)
	if stored.RecutsCount != 2 || stored.Status != domain.StatusInStitching {
		t.Fatalf("unexpected order after recut %+v", stored)
	}
	history, _ := svc.Recuts(ctx, order.ID)
	if len(history) != 2 {
		t.Fatalf("expected two recut entries, got %d", len(history))
	}
}

func TestReserveAndReleaseRolls(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	receive(t, svc, "R1", "10")
	receive(t, svc, "R2", "10")
	other := createOrder(t, svc, "PO-1", domain.StatusPending, reservation("R1", "6"))
	order := createOrder(t, svc, "PO-2", domain.StatusPending)

	_, _, err := svc.ReserveRolls(ctx, order.ID, []fabric.RollRequest{{RollNumber: "R1", Meters: m("5")}})
	if !errors.Is(err, fabric.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	updated, _, err := svc.ReserveRolls(ctx, order.ID, []fabric.RollRequest{
		{RollNumber: "R1", Meters: m("4")},
		{RollNumber: "R2", Meters: m("3")},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	assertMeters(t, "order reserved", updated.TotalReserved(), "7")
	assertMeters(t, "R1 available", rollByNumber(t, svc, "R1").AvailableMeters, "0")
	assertMeters(t, "R2 reserved", rollByNumber(t, svc, "R2").ReservedMeters, "3")

	if _, _, err := svc.ReleaseReservations(ctx, other.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	assertMeters(t, "R1 reserved after release", rollByNumber(t, svc, "R1").ReservedMeters, "4")
	assertMeters(t, "R1 available after release", rollByNumber(t, svc, "R1").AvailableMeters, "6")
}

func TestReceiveRollRejectsDuplicates(t *testing.T) {
	svc := newService(t)
	roll := receive(t, svc, "R1", "12.5")
	if roll.Article != "denim" {
		t.Fatalf("expected normalised article, got %q", roll.Article)
	}
	assertMeters(t, "available", roll.AvailableMeters, "12.5")
	_, _, err := svc.ReceiveRoll(context.Background(), domain.FabricRoll{RollNumber: " R1 ", Article: "DENIM", TotalMeters: m("3")})
	var verr *fabric.ValidationError
	if !errors.As(err, &verr) || verr.Reason != fabric.ReasonDuplicateRoll {
		t.Fatalf("expected duplicate roll, got %v", err)
	}
}

func TestWorkflowTransitions(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	receive(t, svc, "R1", "10")
	order := createOrder(t, svc, "PO-1", domain.StatusPending, reservation("R1", "4"))

	for _, next := range []domain.OrderStatus{domain.StatusInProduction, domain.StatusInCutting} {
		if _, _, err := svc.AdvanceStatus(ctx, order.ID, next); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
	}
	if _, _, err := svc.AdvanceStatus(ctx, order.ID, domain.StatusInStitching); !errors.Is(err, fabric.ErrValidation) {
		t.Fatalf("expected cut-only transition to be rejected, got %v", err)
	}
	if _, err := svc.ConfirmInitialCut(ctx, order.ID, m("4"), nil); err != nil {
		t.Fatalf("confirm cut: %v", err)
	}
	if _, _, err := svc.RecordQCOutcome(ctx, order.ID, true); !errors.Is(err, fabric.ErrValidation) {
		t.Fatalf("expected qc verdict outside qc to be rejected, got %v", err)
	}
	if _, _, err := svc.AdvanceStatus(ctx, order.ID, domain.StatusQC); err != nil {
		t.Fatalf("advance to qc: %v", err)
	}
	rejected, _, err := svc.RecordQCOutcome(ctx, order.ID, false)
	if err != nil || rejected.Status != domain.QCRecontrol(1) {
		t.Fatalf("expected recontrol 1, got %+v (%v)", rejected.Status, err)
	}
	rejected, _, err = svc.RecordQCOutcome(ctx, order.ID, false)
	if err != nil || rejected.Status != domain.QCRecontrol(2) {
		t.Fatalf("expected recontrol 2, got %+v (%v)", rejected.Status, err)
	}
	// Recuts are still accepted during recontrol.
	if _, err := svc.ConfirmRecut(ctx, order.ID, []fabric.RecutRequest{{Meters: m("1"), Reason: "qc"}}); err != nil {
		t.Fatalf("recut in recontrol: %v", err)
	}
	approved, _, err := svc.RecordQCOutcome(ctx, order.ID, true)
	if err != nil || approved.Status != domain.StatusPacking {
		t.Fatalf("expected packing, got %+v (%v)", approved.Status, err)
	}
}

func TestReconcileRepairsDriftedRolls(t *testing.T) {
	store := memory.NewStore(nil)
	svc := core.NewService(store)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateRoll(domain.FabricRoll{RollNumber: "R1", Article: "denim", TotalMeters: m("10"), ReservedMeters: m("9"), AvailableMeters: m("1")}); err != nil {
			return err
		}
		if _, err := tx.CreateRoll(domain.FabricRoll{RollNumber: "S1", Article: "silk", TotalMeters: m("5"), AvailableMeters: m("5")}); err != nil {
			return err
		}
		_, err := tx.CreateOrder(domain.Order{Code: "PO-1", Article: "denim", Status: domain.StatusPending, AssignedRolls: []domain.AssignedRoll{reservation("R1", "4")}})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	articles, err := svc.Articles(ctx)
	if err != nil || len(articles) != 2 || articles[0] != "denim" || articles[1] != "silk" {
		t.Fatalf("unexpected articles %v (%v)", articles, err)
	}
	counts, err := svc.ReconcileAll(ctx)
	if err != nil {
		t.Fatalf("reconcile all: %v", err)
	}
	if counts["denim"] != 1 || counts["silk"] != 0 {
		t.Fatalf("unexpected reconcile counts %v", counts)
	}
	r1 := rollByNumber(t, svc, "R1")
	assertMeters(t, "R1 reserved", r1.ReservedMeters, "4")
	assertMeters(t, "R1 available", r1.AvailableMeters, "6")

	rolls, _, err := svc.Reconcile(ctx, "denim")
	if err != nil || len(rolls) != 0 {
		t.Fatalf("expected idempotent reconcile, got %d rolls (%v)", len(rolls), err)
	}
}

func TestArchiveRecordsCommittedAllocations(t *testing.T) {
	archive := audit.NewArchive(blob.NewMemory())
	svc := newService(t, core.WithArchive(archive))
	ctx := context.Background()
	receive(t, svc, "R1", "20")
	order := createOrder(t, svc, "PO-1", domain.StatusInCutting, reservation("R1", "5"))

	if _, err := svc.ConfirmInitialCut(ctx, order.ID, m("6"), nil); err != nil {
		t.Fatalf("confirm cut: %v", err)
	}
	if _, err := svc.ConfirmRecut(ctx, order.ID, []fabric.RecutRequest{{Meters: m("2"), Reason: "torn"}}); err != nil {
		t.Fatalf("confirm recut: %v", err)
	}
	records, err := svc.Allocations(ctx, "denim", order.ID)
	if err != nil {
		t.Fatalf("allocations: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected two archived allocations, got %d", len(records))
	}
	kinds := map[fabric.PlanKind]bool{}
	for _, rec := range records {
		kinds[rec.Kind] = true
		if rec.OrderCode != "PO-1" || !rec.CommittedAt.Equal(fixedNow) {
			t.Fatalf("unexpected record %+v", rec)
		}
	}
	if !kinds[fabric.PlanCutKind] || !kinds[fabric.PlanRecutKind] {
		t.Fatalf("expected cut and recut records, got %v", kinds)
	}

	plain := newService(t)
	if recs, err := plain.Allocations(ctx, "denim", order.ID); err != nil || recs != nil {
		t.Fatalf("expected no archive without option, got %v (%v)", recs, err)
	}
}

func TestConcurrentInitialCutsKeepLedgerConsistent(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	receive(t, svc, "R1", "100")
	const orders = 8
	ids := make([]string, orders)
	for i := range ids {
		ids[i] = createOrder(t, svc, fmt.Sprintf("PO-%d", i), domain.StatusInCutting, reservation("R1", "5")).ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, orders)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := svc.ConfirmInitialCut(ctx, id, m("5"), nil); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent cut: %v", err)
	}

	r1 := rollByNumber(t, svc, "R1")
	assertMeters(t, "R1 total", r1.TotalMeters, "60")
	assertMeters(t, "R1 reserved", r1.ReservedMeters, "0")
	assertMeters(t, "R1 available", r1.AvailableMeters, "60")
	all, err := svc.Orders(ctx, "denim")
	if err != nil || len(all) != orders {
		t.Fatalf("orders: %d (%v)", len(all), err)
	}
	for _, o := range all {
		if o.Status != domain.StatusInStitching {
			t.Fatalf("order %s not advanced: %s", o.Code, o.Status)
		}
	}
}

func TestImportLegacySeedThenCut(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	seed, err := ingest.ReadSeed(strings.NewReader(`{
		"fabricRolls": {
			"a": {"rollNumber": "R1", "fabricCode": "Denim", "totalMeters": 10.5, "reservedMeters": 2, "availableMeters": 8.5},
			"b": {"rollNumber": "R2", "Fabric Article": "denim", "totalMeters": 8}
		},
		"orders": {
			"o1": {"orderId": "PO-1", "Fabric Code": "DENIM", "Status": "In Cutting",
			       "Assigned Rolls": [{"rollNumber": "R1", "reserved": 2}]}
		}
	}`))
	if err != nil {
		t.Fatalf("read seed: %v", err)
	}
	if _, err := svc.Import(ctx, seed); err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, err := svc.Import(ctx, seed); err == nil {
		t.Fatalf("expected duplicate import to fail")
	}

	out, err := svc.ConfirmInitialCut(ctx, "o1", m("12"), nil)
	if err != nil {
		t.Fatalf("confirm cut: %v", err)
	}
	if len(out.Plan.Lines) != 2 {
		t.Fatalf("expected cut to span both rolls, got %+v", out.Plan.Lines)
	}
	assertMeters(t, "R1 total", rollByNumber(t, svc, "R1").TotalMeters, "0")
	r2 := rollByNumber(t, svc, "R2")
	assertMeters(t, "R2 total", r2.TotalMeters, "6.5")
	assertMeters(t, "R2 available", r2.AvailableMeters, "6.5")
}
