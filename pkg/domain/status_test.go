package domain

import (
	"encoding/json"
	"testing"
)

func TestParseStatusLegacyLabels(t *testing.T) {
	cases := map[string]OrderStatus{
		"Pending":         StatusPending,
		"In Production":   StatusInProduction,
		"In Cutting":      StatusInCutting,
		"In Stitching":    StatusInStitching,
		"QC":              StatusQC,
		"QC-Recontrol 1":  QCRecontrol(1),
		"qc-recontrol 3":  QCRecontrol(3),
		"qc_recontrol_12": QCRecontrol(12),
		"packing":         StatusPacking,
		"Delivered":       StatusDelivered,
		"":                StatusPending,
	}
	for raw, want := range cases {
		got, err := ParseStatus(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %v got %v", raw, want, got)
		}
	}
}

func TestParseStatusRejectsUnknown(t *testing.T) {
	for _, raw := range []string{"shipped", "qc-recontrol x", "qc_recontrol_0"} {
		if _, err := ParseStatus(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	if !StatusInCutting.CanTransition(StatusInStitching) {
		t.Fatalf("in_cutting should advance to in_stitching")
	}
	if StatusPending.CanTransition(StatusInCutting) {
		t.Fatalf("pending must not skip production")
	}
	if !QCRecontrol(2).CanTransition(QCRecontrol(3)) {
		t.Fatalf("recontrol attempts should chain")
	}
	if QCRecontrol(2).CanTransition(QCRecontrol(4)) {
		t.Fatalf("recontrol attempts must not skip")
	}
	if len(StatusDelivered.Next()) != 0 {
		t.Fatalf("delivered is terminal")
	}
}

func TestAfterQC(t *testing.T) {
	next, err := StatusQC.AfterQC(false)
	if err != nil || next != QCRecontrol(1) {
		t.Fatalf("expected recontrol 1, got %v err %v", next, err)
	}
	next, err = QCRecontrol(1).AfterQC(false)
	if err != nil || next != QCRecontrol(2) {
		t.Fatalf("expected recontrol 2, got %v err %v", next, err)
	}
	next, err = QCRecontrol(2).AfterQC(true)
	if err != nil || next != StatusPacking {
		t.Fatalf("expected packing, got %v err %v", next, err)
	}
	if _, err := StatusInStitching.AfterQC(true); err == nil {
		t.Fatalf("expected error outside qc")
	}
}

func TestStatusJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(QCRecontrol(2))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"qc_recontrol_2"` {
		t.Fatalf("unexpected encoding %s", data)
	}
	var decoded OrderStatus
	if err := json.Unmarshal([]byte(`"QC-Recontrol 2"`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != QCRecontrol(2) {
		t.Fatalf("unexpected status %v", decoded)
	}
}

func TestPostCutStages(t *testing.T) {
	for _, s := range []OrderStatus{StatusInStitching, StatusQC, QCRecontrol(1), StatusPacking} {
		if !s.PostCut() {
			t.Fatalf("%v should accept recuts", s)
		}
	}
	for _, s := range []OrderStatus{StatusPending, StatusInProduction, StatusDelivered} {
		if s.PostCut() {
			t.Fatalf("%v should not accept recuts", s)
		}
	}
}
