package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cutledger/pkg/domain"
)

// ReadSet lists what an attempt observed: record versions by ID (zero when
// the record was absent) and collection revisions for list reads.
type ReadSet struct {
	Rolls       map[string]int64
	Orders      map[string]int64
	Collections map[Collection]int64
}

// RollWrite is a pending roll write. Create is set when the attempt added
// the roll; otherwise PrevVersion is the version the attempt started from,
// which is zero for documents written without a version field.
type RollWrite struct {
	Roll        domain.FabricRoll
	PrevVersion int64
	Create      bool
}

// OrderWrite is a pending order write, see RollWrite.
type OrderWrite struct {
	Order       domain.Order
	PrevVersion int64
	Create      bool
}

// WriteSet holds the final state of every record written by an attempt,
// in first-write order.
type WriteSet struct {
	Rolls  []RollWrite
	Orders []OrderWrite
	Recuts []domain.RecutEntry
}

// Empty reports whether the attempt wrote nothing.
func (w WriteSet) Empty() bool {
	return len(w.Rolls) == 0 && len(w.Orders) == 0 && len(w.Recuts) == 0
}

// Touched lists the collections the write set modifies.
func (w WriteSet) Touched() []Collection {
	var out []Collection
	if len(w.Rolls) > 0 {
		out = append(out, CollectionRolls)
	}
	if len(w.Orders) > 0 {
		out = append(out, CollectionOrders)
	}
	if len(w.Recuts) > 0 {
		out = append(out, CollectionRecuts)
	}
	return out
}

// Draft is the private working copy of one transaction attempt. It
// implements domain.Transaction and records the read and write sets the
// owning store validates at commit.
type Draft struct {
	base    Snapshot
	state   Snapshot
	now     time.Time
	changes []domain.Change
	reads   ReadSet

	rollOrder  []string
	orderOrder []string
	rollPrev   map[string]int64
	orderPrev  map[string]int64
	created    map[string]bool
	recuts     []domain.RecutEntry
}

var _ domain.Transaction = (*Draft)(nil)

// NewDraft starts an attempt on top of base. base is not modified.
func NewDraft(base Snapshot, now time.Time) *Draft {
	return &Draft{
		base:  base,
		state: base.Clone(),
		now:   now,
		reads: ReadSet{
			Rolls:       make(map[string]int64),
			Orders:      make(map[string]int64),
			Collections: make(map[Collection]int64),
		},
		rollPrev:  make(map[string]int64),
		orderPrev: make(map[string]int64),
		created:   make(map[string]bool),
	}
}

// Now returns the attempt's clock reading.
func (d *Draft) Now() time.Time { return d.now }

// Changes returns the mutations recorded so far.
func (d *Draft) Changes() []domain.Change { return d.changes }

// ReadSet returns what the attempt observed.
func (d *Draft) ReadSet() ReadSet { return d.reads }

// WriteSet returns the final state of every written record.
func (d *Draft) WriteSet() WriteSet {
	var ws WriteSet
	for _, id := range d.rollOrder {
		ws.Rolls = append(ws.Rolls, RollWrite{Roll: d.state.Rolls[id], PrevVersion: d.rollPrev[id], Create: d.created[createdKey(domain.EntityRoll, id)]})
	}
	for _, id := range d.orderOrder {
		ws.Orders = append(ws.Orders, OrderWrite{Order: CloneOrder(d.state.Orders[id]), PrevVersion: d.orderPrev[id], Create: d.created[createdKey(domain.EntityOrder, id)]})
	}
	ws.Recuts = append(ws.Recuts, d.recuts...)
	return ws
}

// State exposes the draft's working state without recording reads.
func (d *Draft) State() domain.TransactionView {
	return NewView(&d.state)
}

// Evaluate runs engine against the draft. A blocking result is returned
// together with a domain.RuleViolationError.
func (d *Draft) Evaluate(ctx context.Context, engine *domain.RulesEngine) (domain.Result, error) {
	if engine == nil {
		return domain.Result{}, nil
	}
	res, err := engine.Evaluate(ctx, d.State(), d.changes)
	if err != nil {
		return domain.Result{}, err
	}
	if res.HasBlocking() {
		return res, domain.RuleViolationError{Result: res}
	}
	return res, nil
}

func (d *Draft) readRoll(id string) {
	if _, seen := d.reads.Rolls[id]; seen {
		return
	}
	d.reads.Rolls[id] = d.base.Rolls[id].Version
}

func (d *Draft) readOrder(id string) {
	if _, seen := d.reads.Orders[id]; seen {
		return
	}
	d.reads.Orders[id] = d.base.Orders[id].Version
}

func (d *Draft) readCollection(c Collection) {
	if _, seen := d.reads.Collections[c]; seen {
		return
	}
	d.reads.Collections[c] = d.base.Revisions[c]
}

// Snapshot returns a view over the working state; reads through it join the
// read set.
func (d *Draft) Snapshot() domain.TransactionView {
	return draftView{draft: d}
}

// FindRoll looks up a roll in the working state.
func (d *Draft) FindRoll(id string) (domain.FabricRoll, bool) {
	d.readRoll(id)
	r, ok := d.state.Rolls[id]
	return r, ok
}

// FindOrder looks up an order in the working state.
func (d *Draft) FindOrder(id string) (domain.Order, bool) {
	d.readOrder(id)
	o, ok := d.state.Orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return CloneOrder(o), true
}

// CreateRoll stores a new roll.
func (d *Draft) CreateRoll(r domain.FabricRoll) (domain.FabricRoll, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	d.readRoll(r.ID)
	if _, exists := d.state.Rolls[r.ID]; exists {
		return domain.FabricRoll{}, fmt.Errorf("fabric roll %q already exists", r.ID)
	}
	r.Version = 1
	r.CreatedAt = d.now
	r.UpdatedAt = d.now
	d.state.Rolls[r.ID] = r
	d.rollPrev[r.ID] = 0
	d.created[createdKey(domain.EntityRoll, r.ID)] = true
	d.rollOrder = append(d.rollOrder, r.ID)
	d.changes = append(d.changes, domain.Change{Entity: domain.EntityRoll, Action: domain.ActionCreate, After: r})
	return r, nil
}

// UpdateRoll mutates a roll using the provided mutator function.
func (d *Draft) UpdateRoll(id string, mutator func(*domain.FabricRoll) error) (domain.FabricRoll, error) {
	d.readRoll(id)
	current, ok := d.state.Rolls[id]
	if !ok {
		return domain.FabricRoll{}, domain.ErrNotFound{Entity: domain.EntityRoll, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return domain.FabricRoll{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = d.now
	if _, written := d.rollPrev[id]; !written {
		d.rollPrev[id] = before.Version
		d.rollOrder = append(d.rollOrder, id)
		current.Version = before.Version + 1
	} else {
		current.Version = before.Version
	}
	d.state.Rolls[id] = current
	d.changes = append(d.changes, domain.Change{Entity: domain.EntityRoll, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateOrder stores a new order.
func (d *Draft) CreateOrder(o domain.Order) (domain.Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	d.readOrder(o.ID)
	if _, exists := d.state.Orders[o.ID]; exists {
		return domain.Order{}, fmt.Errorf("order %q already exists", o.ID)
	}
	o = CloneOrder(o)
	o.Version = 1
	o.CreatedAt = d.now
	o.UpdatedAt = d.now
	d.state.Orders[o.ID] = o
	d.orderPrev[o.ID] = 0
	d.created[createdKey(domain.EntityOrder, o.ID)] = true
	d.orderOrder = append(d.orderOrder, o.ID)
	d.changes = append(d.changes, domain.Change{Entity: domain.EntityOrder, Action: domain.ActionCreate, After: CloneOrder(o)})
	return CloneOrder(o), nil
}

// UpdateOrder mutates an order using the provided mutator function.
func (d *Draft) UpdateOrder(id string, mutator func(*domain.Order) error) (domain.Order, error) {
	d.readOrder(id)
	stored, ok := d.state.Orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound{Entity: domain.EntityOrder, ID: id}
	}
	before := CloneOrder(stored)
	current := CloneOrder(stored)
	if err := mutator(&current); err != nil {
		return domain.Order{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = d.now
	if _, written := d.orderPrev[id]; !written {
		d.orderPrev[id] = before.Version
		d.orderOrder = append(d.orderOrder, id)
		current.Version = before.Version + 1
	} else {
		current.Version = before.Version
	}
	d.state.Orders[id] = CloneOrder(current)
	d.changes = append(d.changes, domain.Change{Entity: domain.EntityOrder, Action: domain.ActionUpdate, Before: before, After: CloneOrder(current)})
	return current, nil
}

// AppendRecut adds a history entry for an existing order.
func (d *Draft) AppendRecut(e domain.RecutEntry) (domain.RecutEntry, error) {
	d.readOrder(e.OrderID)
	if _, ok := d.state.Orders[e.OrderID]; !ok {
		return domain.RecutEntry{}, domain.ErrNotFound{Entity: domain.EntityOrder, ID: e.OrderID}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = d.now
	}
	d.state.Recuts[e.OrderID] = append(d.state.Recuts[e.OrderID], e)
	d.recuts = append(d.recuts, e)
	d.changes = append(d.changes, domain.Change{Entity: domain.EntityRecut, Action: domain.ActionAppend, After: e})
	return e, nil
}

func createdKey(entity domain.EntityType, id string) string {
	return string(entity) + "/" + id
}

type draftView struct {
	draft *Draft
}

func (v draftView) ListRolls() []domain.FabricRoll {
	v.draft.readCollection(CollectionRolls)
	return NewView(&v.draft.state).ListRolls()
}

func (v draftView) ListOrders() []domain.Order {
	v.draft.readCollection(CollectionOrders)
	return NewView(&v.draft.state).ListOrders()
}

func (v draftView) FindRoll(id string) (domain.FabricRoll, bool) {
	return v.draft.FindRoll(id)
}

func (v draftView) FindOrder(id string) (domain.Order, bool) {
	return v.draft.FindOrder(id)
}
