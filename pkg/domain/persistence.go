package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Reads made through Snapshot or the
// Find helpers join the attempt's read set and are validated at commit.
type Transaction interface {
	Snapshot() TransactionView
	CreateRoll(FabricRoll) (FabricRoll, error)
	UpdateRoll(id string, mutator func(*FabricRoll) error) (FabricRoll, error)
	CreateOrder(Order) (Order, error)
	UpdateOrder(id string, mutator func(*Order) error) (Order, error)
	AppendRecut(RecutEntry) (RecutEntry, error)
	FindRoll(id string) (FabricRoll, bool)
	FindOrder(id string) (Order, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// planners.
type TransactionView interface {
	ListRolls() []FabricRoll
	ListOrders() []Order
	FindRoll(id string) (FabricRoll, bool)
	FindOrder(id string) (Order, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Recuts(ctx context.Context, orderID string) ([]RecutEntry, error)
}
