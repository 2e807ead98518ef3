package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Stage enumerates the production stages of an order.
type Stage string

// Production stages in workflow order.
const (
	StagePending      Stage = "pending"
	StageInProduction Stage = "in_production"
	StageInCutting    Stage = "in_cutting"
	StageInStitching  Stage = "in_stitching"
	StageQC           Stage = "qc"
	StageQCRecontrol  Stage = "qc_recontrol"
	StagePacking      Stage = "packing"
	StageDelivered    Stage = "delivered"
)

// OrderStatus is the explicit production state of an order. Attempt is only
// meaningful for StageQCRecontrol and counts recontrol rounds from 1.
type OrderStatus struct {
	Stage   Stage
	Attempt int
}

// Status constructors for the fixed stages.
var (
	StatusPending      = OrderStatus{Stage: StagePending}
	StatusInProduction = OrderStatus{Stage: StageInProduction}
	StatusInCutting    = OrderStatus{Stage: StageInCutting}
	StatusInStitching  = OrderStatus{Stage: StageInStitching}
	StatusQC           = OrderStatus{Stage: StageQC}
	StatusPacking      = OrderStatus{Stage: StagePacking}
	StatusDelivered    = OrderStatus{Stage: StageDelivered}
)

// QCRecontrol returns the recontrol state for the given attempt.
func QCRecontrol(attempt int) OrderStatus {
	return OrderStatus{Stage: StageQCRecontrol, Attempt: attempt}
}

// Valid reports whether s names a known stage with a coherent attempt counter.
func (s OrderStatus) Valid() bool {
	switch s.Stage {
	case StagePending, StageInProduction, StageInCutting, StageInStitching,
		StageQC, StagePacking, StageDelivered:
		return s.Attempt == 0
	case StageQCRecontrol:
		return s.Attempt >= 1
	default:
		return false
	}
}

// InQC reports whether the order awaits a QC verdict.
func (s OrderStatus) InQC() bool {
	return s.Stage == StageQC || s.Stage == StageQCRecontrol
}

// PostCut reports whether the order sits in a stage where additional
// consumption may still be recorded.
func (s OrderStatus) PostCut() bool {
	switch s.Stage {
	case StageInCutting, StageInStitching, StageQC, StageQCRecontrol, StagePacking:
		return true
	}
	return false
}

// Next lists the statuses reachable from s.
func (s OrderStatus) Next() []OrderStatus {
	switch s.Stage {
	case StagePending:
		return []OrderStatus{StatusInProduction}
	case StageInProduction:
		return []OrderStatus{StatusInCutting}
	case StageInCutting:
		return []OrderStatus{StatusInStitching}
	case StageInStitching:
		return []OrderStatus{StatusQC}
	case StageQC:
		return []OrderStatus{QCRecontrol(1), StatusPacking}
	case StageQCRecontrol:
		return []OrderStatus{QCRecontrol(s.Attempt + 1), StatusPacking}
	case StagePacking:
		return []OrderStatus{StatusDelivered}
	}
	return nil
}

// CanTransition reports whether next is reachable from s in one step.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, candidate := range s.Next() {
		if candidate == next {
			return true
		}
	}
	return false
}

// AfterQC returns the status that follows a QC verdict.
func (s OrderStatus) AfterQC(approved bool) (OrderStatus, error) {
	if !s.InQC() {
		return OrderStatus{}, fmt.Errorf("order status %s does not await qc", s)
	}
	if approved {
		return StatusPacking, nil
	}
	return QCRecontrol(s.Attempt + 1), nil
}

// String renders the canonical label, e.g. "qc_recontrol_2".
func (s OrderStatus) String() string {
	if s.Stage == StageQCRecontrol {
		return string(s.Stage) + "_" + strconv.Itoa(s.Attempt)
	}
	return string(s.Stage)
}

// ParseStatus accepts canonical labels as well as the legacy display labels
// ("In Cutting", "QC-Recontrol 2", "packing").
func ParseStatus(raw string) (OrderStatus, error) {
	label := strings.ToLower(strings.TrimSpace(raw))
	label = strings.NewReplacer("-", "_", " ", "_").Replace(label)
	if label == "" {
		return StatusPending, nil
	}
	if rest, ok := strings.CutPrefix(label, string(StageQCRecontrol)); ok {
		rest = strings.TrimLeft(rest, "_")
		if rest == "" {
			return QCRecontrol(1), nil
		}
		attempt, err := strconv.Atoi(rest)
		if err != nil || attempt < 1 {
			return OrderStatus{}, fmt.Errorf("parse order status %q: invalid recontrol attempt", raw)
		}
		return QCRecontrol(attempt), nil
	}
	status := OrderStatus{Stage: Stage(label)}
	if !status.Valid() {
		return OrderStatus{}, fmt.Errorf("parse order status %q: unknown stage", raw)
	}
	return status, nil
}

// MarshalJSON encodes the canonical label.
func (s OrderStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes canonical or legacy labels.
func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
