// Package memory provides an in-memory implementation of the transactional
// store used for tests and ephemeral environments. Its Draft type is shared
// by the durable stores as their per-attempt working copy.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"cutledger/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

// DefaultMaxAttempts bounds optimistic retries when no option overrides it.
const DefaultMaxAttempts = 5

// errStale marks a failed commit validation; it never escapes the store.
var errStale = errors.New("stale read set")

// Store provides an in-memory transactional store with optimistic
// concurrency: attempts run unlocked on a draft and are validated against
// record versions and collection revisions under the write lock.
type Store struct {
	mu          sync.RWMutex
	state       Snapshot
	engine      *domain.RulesEngine
	nowFn       func() time.Time
	maxAttempts int

	// beforeCommit runs between an attempt's fn and its validation.
	beforeCommit func()
}

// Option customises a Store.
type Option func(*Store)

// WithMaxAttempts sets the optimistic retry budget.
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

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *domain.RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:       NewSnapshot(),
		engine:      engine,
		nowFn:       func() time.Time { return time.Now().UTC() },
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := snapshot.Clone()
	for _, c := range Collections() {
		// In-flight drafts must not validate against replaced state.
		next.Revisions[c] = s.state.Revisions[c] + 1
	}
	s.state = next
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *domain.RulesEngine {
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	return s.nowFn
}

// RunInTransaction runs fn against a fresh draft, evaluates the rules and
// commits if nothing the draft read has changed meanwhile. Stale attempts are
// retried from a new snapshot up to the retry budget, after which
// domain.ErrConflict is returned. Errors from fn abort without retry.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Result{}, err
		}
		s.mu.RLock()
		base := s.state.Clone()
		s.mu.RUnlock()

		draft := NewDraft(base, s.nowFn())
		if err := fn(draft); err != nil {
			return domain.Result{}, err
		}
		result, err := draft.Evaluate(ctx, s.engine)
		if err != nil {
			return result, err
		}
		if s.beforeCommit != nil {
			s.beforeCommit()
		}
		err = s.commit(draft)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, errStale) {
			return domain.Result{}, err
		}
		if attempt >= s.maxAttempts {
			return domain.Result{}, domain.ErrConflict
		}
	}
}

func (s *Store) commit(draft *Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reads := draft.ReadSet()
	for id, version := range reads.Rolls {
		if s.state.Rolls[id].Version != version {
			return errStale
		}
	}
	for id, version := range reads.Orders {
		if s.state.Orders[id].Version != version {
			return errStale
		}
	}
	for c, revision := range reads.Collections {
		if s.state.Revisions[c] != revision {
			return errStale
		}
	}

	writes := draft.WriteSet()
	for _, w := range writes.Rolls {
		current, exists := s.state.Rolls[w.Roll.ID]
		if exists == w.Create || current.Version != w.PrevVersion {
			return errStale
		}
	}
	for _, w := range writes.Orders {
		current, exists := s.state.Orders[w.Order.ID]
		if exists == w.Create || current.Version != w.PrevVersion {
			return errStale
		}
	}

	for _, w := range writes.Rolls {
		s.state.Rolls[w.Roll.ID] = w.Roll
	}
	for _, w := range writes.Orders {
		s.state.Orders[w.Order.ID] = CloneOrder(w.Order)
	}
	for _, e := range writes.Recuts {
		s.state.Recuts[e.OrderID] = append(s.state.Recuts[e.OrderID], e)
	}
	for _, c := range writes.Touched() {
		s.state.Revisions[c]++
	}
	return nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.Clone()
	s.mu.RUnlock()
	return fn(NewView(&snapshot))
}

// Recuts returns the order's recut history ordered by timestamp.
func (s *Store) Recuts(_ context.Context, orderID string) ([]domain.RecutEntry, error) {
	s.mu.RLock()
	entries := append([]domain.RecutEntry(nil), s.state.Recuts[orderID]...)
	s.mu.RUnlock()
	SortRecuts(entries)
	return entries, nil
}
