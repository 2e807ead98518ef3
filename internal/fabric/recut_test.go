package fabric_test

import (
	"errors"
	"strings"
	"testing"

	"cutledger/internal/fabric"
	"cutledger/pkg/domain"
)

func cutOrder(code, actual string, reservations ...domain.AssignedRoll) domain.Order {
	return domain.Order{
		Code:                 code,
		Status:               domain.StatusInStitching,
		ActualConsumedMeters: m(actual),
		AssignedRolls:        reservations,
	}
}

func TestRecutRespectsOtherReservations(t *testing.T) {
	f := newFixture(t,
		[]domain.FabricRoll{roll("R1", "10", "4")},
		[]domain.Order{
			pendingCut("PO-OTHER", reserved("R1", "4")),
			cutOrder("PO-D", "12"),
		},
	)
	plan, err := f.recut("PO-D", fabric.RecutRequest{Meters: m("5"), Reason: "damaged panel"})
	if err != nil {
		t.Fatalf("recut: %v", err)
	}
	requireMeters(t, "plan total", plan.Total(), "5")
	r1 := f.roll("R1")
	requireMeters(t, "R1 total", r1.TotalMeters, "5")
	requireMeters(t, "R1 reserved", r1.ReservedMeters, "4")
	requireMeters(t, "R1 available", r1.AvailableMeters, "1")

	order := f.order("PO-D")
	requireMeters(t, "actual", order.ActualConsumedMeters, "17")
	if order.RecutsCount != 1 {
		t.Fatalf("expected recut count 1, got %d", order.RecutsCount)
	}
	if order.Status != domain.StatusInStitching {
		t.Fatalf("recut must not change status, got %v", order.Status)
	}
	history := f.store.ExportState().Recuts[order.ID]
	if len(history) != 1 || history[0].Reason != "damaged panel" || !history[0].Meters.Equal(m("5")) {
		t.Fatalf("unexpected recut history %+v", history)
	}
}

func TestRecutShortageReportsTotals(t *testing.T) {
	f := newFixture(t,
		[]domain.FabricRoll{roll("R1", "10", "8")},
		[]domain.Order{
			pendingCut("PO-OTHER", reserved("R1", "8")),
			cutOrder("PO-E", "3"),
		},
	)
	before := f.roll("R1")
	_, err := f.recut("PO-E", fabric.RecutRequest{Meters: m("3"), Reason: "shrinkage"})
	var shortage *fabric.InsufficientFreeStockError
	if !errors.As(err, &shortage) {
		t.Fatalf("expected free stock shortage, got %v", err)
	}
	if !strings.Contains(err.Error(), "available 2.00, requested 3.00") {
		t.Fatalf("expected totals in message, got %q", err.Error())
	}
	after := f.roll("R1")
	if after.Version != before.Version || !after.TotalMeters.Equal(before.TotalMeters) {
		t.Fatalf("roll must stay unchanged")
	}
	if f.order("PO-E").RecutsCount != 0 {
		t.Fatalf("order must stay unchanged")
	}
}

func TestRecutPrefersAssignedRolls(t *testing.T) {
	f := newFixture(t,
		[]domain.FabricRoll{roll("R1", "5", "0"), roll("R2", "5", "0"), roll("R3", "5", "0")},
		[]domain.Order{cutOrder("PO-K", "4", reserved("R3", "0"))},
	)
	plan, err := f.recut("PO-K", fabric.RecutRequest{Meters: m("7"), Reason: "extra layer"})
	if err != nil {
		t.Fatalf("recut: %v", err)
	}
	if len(plan.Lines) != 2 || plan.Lines[0].RollNumber != "R3" || plan.Lines[1].RollNumber != "R1" {
		t.Fatalf("expected R3 then R1, got %+v", plan.Lines)
	}
	requireMeters(t, "R3", f.roll("R3").TotalMeters, "0")
	requireMeters(t, "R1", f.roll("R1").TotalMeters, "3")
	if v := f.roll("R2").Version; v != 1 {
		t.Fatalf("untouched roll must not be written, version %d", v)
	}
}

func TestRecutAccumulatesMultipleEntries(t *testing.T) {
	f := newFixture(t,
		[]domain.FabricRoll{roll("R1", "10", "0")},
		[]domain.Order{cutOrder("PO-L", "2")},
	)
	_, err := f.recut("PO-L",
		fabric.RecutRequest{Meters: m("0.333333"), Reason: "a"},
		fabric.RecutRequest{Meters: m("0.666667"), Reason: "b"},
	)
	if err != nil {
		t.Fatalf("recut: %v", err)
	}
	order := f.order("PO-L")
	requireMeters(t, "actual", order.ActualConsumedMeters, "3")
	if order.RecutsCount != 2 {
		t.Fatalf("expected two recuts, got %d", order.RecutsCount)
	}
	requireMeters(t, "R1", f.roll("R1").TotalMeters, "9")
	history := f.store.ExportState().Recuts[order.ID]
	if len(history) != 2 || history[0].Reason != "a" || !history[0].Timestamp.Before(history[1].Timestamp) {
		t.Fatalf("expected ordered history, got %+v", history)
	}
}

func TestRecutPreconditions(t *testing.T) {
	f := newFixture(t,
		[]domain.FabricRoll{roll("R1", "10", "0")},
		[]domain.Order{pendingCut("PO-M", reserved("R1", "1"))},
	)
	var verr *fabric.ValidationError
	if _, err := f.recut("PO-M", fabric.RecutRequest{Meters: m("1"), Reason: "x"}); !errors.As(err, &verr) || verr.Reason != fabric.ReasonNotCut {
		t.Fatalf("expected not-cut validation, got %v", err)
	}
	if _, err := f.recut("PO-M"); !errors.As(err, &verr) || verr.Reason != fabric.ReasonNoRecuts {
		t.Fatalf("expected no-recuts validation, got %v", err)
	}
	delivered := cutOrder("PO-N", "3")
	if err := fabric.CheckRecut(delivered); !errors.As(err, &verr) || verr.Reason != fabric.ReasonMissingArticle {
		t.Fatalf("expected article validation, got %v", err)
	}
	delivered.Article = "denim"
	if err := fabric.CheckRecut(delivered); err != nil {
		t.Fatalf("expected stitching order to accept recuts, got %v", err)
	}
	delivered.Status = domain.StatusDelivered
	if err := fabric.CheckRecut(delivered); !errors.As(err, &verr) || verr.Reason != fabric.ReasonWrongStage {
		t.Fatalf("expected stage validation, got %v", err)
	}
}

func TestValidateRecuts(t *testing.T) {
	if err := fabric.ValidateRecuts(nil, true); err != nil {
		t.Fatalf("empty batch allowed: %v", err)
	}
	bad := [][]fabric.RecutRequest{
		{{Meters: m("0"), Reason: "x"}},
		{{Meters: m("-1"), Reason: "x"}},
		{{Meters: m("0.0000005"), Reason: "x"}},
		{{Meters: m("1"), Reason: "  "}},
	}
	for _, batch := range bad {
		if err := fabric.ValidateRecuts(batch, true); !errors.Is(err, fabric.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", batch, err)
		}
	}
}

func TestRecutCandidatesOrdering(t *testing.T) {
	ledger := fabric.BuildLedger("denim", []domain.FabricRoll{
		{RollNumber: "B", Article: "denim"},
		{RollNumber: "D", Article: "denim"},
		{RollNumber: "A", Article: "denim"},
		{RollNumber: "C", Article: "denim"},
		{RollNumber: "Z", Article: "linen"},
	})
	order := domain.Order{AssignedRolls: []domain.AssignedRoll{{RollNumber: "D"}, {RollNumber: "B"}}}
	var got []string
	for _, r := range fabric.RecutCandidates(ledger, order) {
		got = append(got, r.RollNumber)
	}
	if strings.Join(got, ",") != "B,D,A,C" {
		t.Fatalf("unexpected candidate order %v", got)
	}
}
