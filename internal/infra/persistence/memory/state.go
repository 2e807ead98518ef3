package memory

import (
	"sort"

	"cutledger/pkg/domain"
)

// Collection names a group of records sharing one revision counter.
type Collection string

// Collections tracked by the stores.
const (
	CollectionRolls  Collection = "rolls"
	CollectionOrders Collection = "orders"
	CollectionRecuts Collection = "recuts"
)

// Collections lists every collection in a stable order.
func Collections() []Collection {
	return []Collection{CollectionRolls, CollectionOrders, CollectionRecuts}
}

// Snapshot captures a point-in-time clone of the store state. Recuts is
// keyed by order ID and may be left empty by stores that never read history
// inside a transaction.
type Snapshot struct {
	Rolls     map[string]domain.FabricRoll   `json:"rolls"`
	Orders    map[string]domain.Order        `json:"orders"`
	Recuts    map[string][]domain.RecutEntry `json:"recuts"`
	Revisions map[Collection]int64           `json:"revisions"`
}

// NewSnapshot returns an empty snapshot with every map allocated.
func NewSnapshot() Snapshot {
	return Snapshot{
		Rolls:     make(map[string]domain.FabricRoll),
		Orders:    make(map[string]domain.Order),
		Recuts:    make(map[string][]domain.RecutEntry),
		Revisions: make(map[Collection]int64),
	}
}

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := NewSnapshot()
	for k, v := range s.Rolls {
		out.Rolls[k] = v
	}
	for k, v := range s.Orders {
		out.Orders[k] = CloneOrder(v)
	}
	for k, v := range s.Recuts {
		out.Recuts[k] = append([]domain.RecutEntry(nil), v...)
	}
	for k, v := range s.Revisions {
		out.Revisions[k] = v
	}
	return out
}

// CloneOrder copies the order's slice and pointer fields.
func CloneOrder(o domain.Order) domain.Order {
	if o.AssignedRolls != nil {
		o.AssignedRolls = append([]domain.AssignedRoll(nil), o.AssignedRolls...)
	}
	if o.CutDate != nil {
		cut := *o.CutDate
		o.CutDate = &cut
	}
	return o
}

// SortRecuts orders history entries by timestamp, then ID.
func SortRecuts(entries []domain.RecutEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}

type snapshotView struct {
	state *Snapshot
}

// NewView exposes a read-only view over s that records nothing.
func NewView(s *Snapshot) domain.TransactionView {
	return snapshotView{state: s}
}

func (v snapshotView) ListRolls() []domain.FabricRoll {
	out := make([]domain.FabricRoll, 0, len(v.state.Rolls))
	for _, r := range v.state.Rolls {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v snapshotView) ListOrders() []domain.Order {
	out := make([]domain.Order, 0, len(v.state.Orders))
	for _, o := range v.state.Orders {
		out = append(out, CloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v snapshotView) FindRoll(id string) (domain.FabricRoll, bool) {
	r, ok := v.state.Rolls[id]
	return r, ok
}

func (v snapshotView) FindOrder(id string) (domain.Order, bool) {
	o, ok := v.state.Orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return CloneOrder(o), true
}
