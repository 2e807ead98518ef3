// Package firestore implements the transactional store on Cloud Firestore,
// reading and writing the documents of the order tracking dashboard. Rolls
// live in the fabricRolls collection, orders in orders, and each order's
// recut history in its recuts subcollection.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gfs "cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"cutledger/internal/infra/persistence/memory"
	"cutledger/internal/ingest"
	"cutledger/pkg/domain"
)

// Collection names used by the dashboard.
const (
	RollsCollection  = "fabricRolls"
	OrdersCollection = "orders"
	RecutsCollection = "recuts"
)

var _ domain.PersistentStore = (*Store)(nil)

// Store is a Firestore-backed domain.PersistentStore. Conflict detection is
// delegated to Firestore transactions, which retry aborted attempts.
type Store struct {
	client      *gfs.Client
	engine      *domain.RulesEngine
	nowFn       func() time.Time
	maxAttempts int
}

// Option customises a Store.
type Option func(*Store)

// WithMaxAttempts sets the transaction attempt budget.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// New dials Firestore for projectID. credentialsFile may be empty to use
// application default credentials.
func New(ctx context.Context, projectID, credentialsFile string, engine *domain.RulesEngine, opts ...Option) (*Store, error) {
	if projectID == "" {
		return nil, errors.New("firestore: project id required")
	}
	var clientOpts []option.ClientOption
	if credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gfs.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: new client: %w", err)
	}
	return NewWithClient(client, engine, opts...), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *gfs.Client, engine *domain.RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		client:      client,
		engine:      engine,
		nowFn:       func() time.Time { return time.Now().UTC() },
		maxAttempts: memory.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client exposes the underlying Firestore client.
func (s *Store) Client() *gfs.Client { return s.client }

// Close releases the client.
func (s *Store) Close() error { return s.client.Close() }

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

// RunInTransaction loads rolls and orders inside a Firestore transaction,
// runs fn against a draft of them and writes the draft's write set back.
// Firestore aborts the attempt when any document read changed; after the
// attempt budget the call fails with domain.ErrConflict.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	var result domain.Result
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gfs.Transaction) error {
		result = domain.Result{}
		base, layouts, err := s.load(tx)
		if err != nil {
			return err
		}
		draft := memory.NewDraft(base, s.nowFn())
		if err := fn(draft); err != nil {
			return err
		}
		res, err := draft.Evaluate(ctx, s.engine)
		if err != nil {
			return err
		}
		result = res
		return s.write(tx, draft.WriteSet(), layouts)
	}, gfs.MaxAttempts(s.maxAttempts))
	if err != nil {
		if status.Code(err) == codes.Aborted {
			return domain.Result{}, domain.ErrConflict
		}
		var violation domain.RuleViolationError
		if errors.As(err, &violation) {
			return violation.Result, err
		}
		return domain.Result{}, err
	}
	return result, nil
}

// View runs fn against a read-only transaction snapshot.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	return s.client.RunTransaction(ctx, func(_ context.Context, tx *gfs.Transaction) error {
		snapshot, _, err := s.load(tx)
		if err != nil {
			return err
		}
		return fn(memory.NewView(&snapshot))
	}, gfs.ReadOnly)
}

// Recuts returns the order's recut history ordered by timestamp.
func (s *Store) Recuts(ctx context.Context, orderID string) ([]domain.RecutEntry, error) {
	docs, err := s.client.Collection(OrdersCollection).Doc(orderID).Collection(RecutsCollection).
		OrderBy(ingest.FieldTimestamp, gfs.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore: list recuts of %s: %w", orderID, err)
	}
	out := make([]domain.RecutEntry, 0, len(docs))
	for _, doc := range docs {
		e, err := ingest.DecodeRecut(doc.Ref.ID, orderID, doc.Data())
		if err != nil {
			return nil, fmt.Errorf("firestore: recut %s: %w", doc.Ref.ID, err)
		}
		out = append(out, e)
	}
	memory.SortRecuts(out)
	return out, nil
}

// layouts remembers how each loaded document stores its fields.
type layouts struct {
	rolls  map[string]ingest.Layout
	orders map[string]ingest.Layout
}

func (s *Store) load(tx *gfs.Transaction) (memory.Snapshot, layouts, error) {
	snapshot := memory.NewSnapshot()
	seen := layouts{rolls: make(map[string]ingest.Layout), orders: make(map[string]ingest.Layout)}
	rolls, err := tx.Documents(s.client.Collection(RollsCollection)).GetAll()
	if err != nil {
		return snapshot, seen, fmt.Errorf("firestore: list rolls: %w", err)
	}
	for _, doc := range rolls {
		data := doc.Data()
		r, err := ingest.DecodeRoll(doc.Ref.ID, data)
		if err != nil {
			return snapshot, seen, fmt.Errorf("firestore: roll %s: %w", doc.Ref.ID, err)
		}
		snapshot.Rolls[r.ID] = r
		seen.rolls[r.ID] = ingest.RollLayout(data)
	}
	orders, err := tx.Documents(s.client.Collection(OrdersCollection)).GetAll()
	if err != nil {
		return snapshot, seen, fmt.Errorf("firestore: list orders: %w", err)
	}
	for _, doc := range orders {
		data := doc.Data()
		o, err := ingest.DecodeOrder(doc.Ref.ID, data)
		if err != nil {
			return snapshot, seen, fmt.Errorf("firestore: order %s: %w", doc.Ref.ID, err)
		}
		snapshot.Orders[o.ID] = o
		seen.orders[o.ID] = ingest.OrderLayout(data)
	}
	return snapshot, seen, nil
}

// write stages the write set. Documents added by the attempt are created;
// loaded ones are merged in the layout they were read with, so fields and
// keys the dashboard owns survive.
func (s *Store) write(tx *gfs.Transaction, ws memory.WriteSet, seen layouts) error {
	for _, w := range ws.Rolls {
		ref := s.client.Collection(RollsCollection).Doc(w.Roll.ID)
		if err := put(tx, ref, w.Create, ingest.EncodeRollAs(w.Roll, seen.rolls[w.Roll.ID])); err != nil {
			return fmt.Errorf("firestore: write roll %s: %w", w.Roll.ID, err)
		}
	}
	for _, w := range ws.Orders {
		ref := s.client.Collection(OrdersCollection).Doc(w.Order.ID)
		if err := put(tx, ref, w.Create, ingest.EncodeOrderAs(w.Order, seen.orders[w.Order.ID])); err != nil {
			return fmt.Errorf("firestore: write order %s: %w", w.Order.ID, err)
		}
	}
	for _, e := range ws.Recuts {
		ref := s.client.Collection(OrdersCollection).Doc(e.OrderID).Collection(RecutsCollection).Doc(e.ID)
		if err := tx.Create(ref, ingest.EncodeRecut(e)); err != nil {
			return fmt.Errorf("firestore: append recut %s: %w", e.ID, err)
		}
	}
	return nil
}

func put(tx *gfs.Transaction, ref *gfs.DocumentRef, create bool, doc map[string]any) error {
	if create {
		return tx.Create(ref, doc)
	}
	return tx.Set(ref, doc, gfs.MergeAll)
}
