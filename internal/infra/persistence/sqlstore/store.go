// Package sqlstore implements the transactional store on database/sql. Rows
// carry a version column; commits compare-and-swap every record and
// collection revision the attempt read, and stale attempts are retried from
// a fresh load.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"cutledger/internal/infra/persistence/memory"
	"cutledger/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

var errStale = errors.New("stale read set")

// Store is a SQL-backed domain.PersistentStore.
type Store struct {
	db          *sql.DB
	dialect     Dialect
	engine      *domain.RulesEngine
	nowFn       func() time.Time
	maxAttempts int
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

// New prepares the schema on db and returns a store using dialect.
func New(ctx context.Context, db *sql.DB, dialect Dialect, engine *domain.RulesEngine, opts ...Option) (*Store, error) {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		db:          db,
		dialect:     dialect,
		engine:      engine,
		nowFn:       func() time.Time { return time.Now().UTC() },
		maxAttempts: memory.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying sql.DB.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *domain.RulesEngine { return s.engine }

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", s.dialect.Name, err)
		}
	}
	for _, c := range memory.Collections() {
		if _, err := s.exec(ctx, s.db, `INSERT INTO revisions (collection, revision) VALUES (?, 0) ON CONFLICT (collection) DO NOTHING`, string(c)); err != nil {
			return fmt.Errorf("%s seed revisions: %w", s.dialect.Name, err)
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) exec(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	return db.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

// RunInTransaction runs fn against a draft of freshly loaded state and
// commits it with per-row version checks. Stale attempts are retried up to
// the retry budget, then domain.ErrConflict is returned. Errors from fn abort
// without retry.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	for attempt := 1; ; attempt++ {
		base, err := s.load(ctx)
		if err != nil {
			return domain.Result{}, err
		}
		draft := memory.NewDraft(base, s.nowFn())
		if err := fn(draft); err != nil {
			return domain.Result{}, err
		}
		result, err := draft.Evaluate(ctx, s.engine)
		if err != nil {
			return result, err
		}
		if draft.WriteSet().Empty() {
			return result, nil
		}
		err = s.commit(ctx, draft)
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

// View executes fn against a freshly loaded snapshot.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	snapshot, err := s.load(ctx)
	if err != nil {
		return err
	}
	return fn(memory.NewView(&snapshot))
}

// Recuts returns the order's recut history ordered by timestamp.
func (s *Store) Recuts(ctx context.Context, orderID string) ([]domain.RecutEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`SELECT payload FROM recuts WHERE order_id = ? ORDER BY recorded_at, id`), orderID)
	if err != nil {
		return nil, fmt.Errorf("select recuts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.RecutEntry
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan recut: %w", err)
		}
		var e domain.RecutEntry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode recut: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recuts: %w", err)
	}
	memory.SortRecuts(out)
	return out, nil
}

// load reads revisions before rows so a commit landing in between shows up
// as a revision mismatch at validation.
func (s *Store) load(ctx context.Context) (memory.Snapshot, error) {
	snapshot := memory.NewSnapshot()
	rows, err := s.db.QueryContext(ctx, `SELECT collection, revision FROM revisions`)
	if err != nil {
		return snapshot, fmt.Errorf("select revisions: %w", err)
	}
	for rows.Next() {
		var c string
		var rev int64
		if err := rows.Scan(&c, &rev); err != nil {
			_ = rows.Close()
			return snapshot, fmt.Errorf("scan revision: %w", err)
		}
		snapshot.Revisions[memory.Collection(c)] = rev
	}
	if err := rows.Close(); err != nil {
		return snapshot, fmt.Errorf("close revisions: %w", err)
	}

	err = s.loadTable(ctx, "rolls", func(id string, version int64, payload []byte) error {
		var r domain.FabricRoll
		if err := json.Unmarshal(payload, &r); err != nil {
			return err
		}
		r.ID, r.Version = id, version
		snapshot.Rolls[id] = r
		return nil
	})
	if err != nil {
		return snapshot, err
	}
	err = s.loadTable(ctx, "orders", func(id string, version int64, payload []byte) error {
		var o domain.Order
		if err := json.Unmarshal(payload, &o); err != nil {
			return err
		}
		o.ID, o.Version = id, version
		snapshot.Orders[id] = o
		return nil
	})
	return snapshot, err
}

func (s *Store) loadTable(ctx context.Context, table string, fn func(id string, version int64, payload []byte) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, version, payload FROM `+table)
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			id      string
			version int64
			payload []byte
		)
		if err := rows.Scan(&id, &version, &payload); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		if err := fn(id, version, payload); err != nil {
			return fmt.Errorf("decode %s %s: %w", table, id, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	return nil
}

type recordOp struct {
	id          string
	readVersion int64
	write       bool
	create      bool
	prevVersion int64
	version     int64
	payload     any
}

func (s *Store) commit(ctx context.Context, draft *memory.Draft) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	reads := draft.ReadSet()
	writes := draft.WriteSet()
	touched := make(map[memory.Collection]bool)
	for _, c := range writes.Touched() {
		touched[c] = true
	}
	for _, c := range memory.Collections() {
		bump := 0
		if touched[c] {
			bump = 1
		}
		observed, read := reads.Collections[c]
		switch {
		case read:
			if err = s.expectOne(ctx, tx, `UPDATE revisions SET revision = revision + ? WHERE collection = ? AND revision = ?`, bump, string(c), observed); err != nil {
				return err
			}
		case touched[c]:
			if _, err = s.exec(ctx, tx, `UPDATE revisions SET revision = revision + 1 WHERE collection = ?`, string(c)); err != nil {
				return fmt.Errorf("bump revision %s: %w", c, err)
			}
		}
	}

	rollOps := make(map[string]*recordOp)
	for id, v := range reads.Rolls {
		rollOps[id] = &recordOp{id: id, readVersion: v}
	}
	for _, w := range writes.Rolls {
		op := rollOps[w.Roll.ID]
		if op == nil {
			op = &recordOp{id: w.Roll.ID}
			rollOps[w.Roll.ID] = op
		}
		op.write, op.create, op.prevVersion, op.version, op.payload = true, w.Create, w.PrevVersion, w.Roll.Version, w.Roll
	}
	if err = s.applyOps(ctx, tx, "rolls", rollOps); err != nil {
		return err
	}

	orderOps := make(map[string]*recordOp)
	for id, v := range reads.Orders {
		orderOps[id] = &recordOp{id: id, readVersion: v}
	}
	for _, w := range writes.Orders {
		op := orderOps[w.Order.ID]
		if op == nil {
			op = &recordOp{id: w.Order.ID}
			orderOps[w.Order.ID] = op
		}
		op.write, op.create, op.prevVersion, op.version, op.payload = true, w.Create, w.PrevVersion, w.Order.Version, w.Order
	}
	if err = s.applyOps(ctx, tx, "orders", orderOps); err != nil {
		return err
	}

	for _, e := range writes.Recuts {
		payload, mErr := json.Marshal(e)
		if mErr != nil {
			return fmt.Errorf("encode recut: %w", mErr)
		}
		if _, err = s.exec(ctx, tx, `INSERT INTO recuts (id, order_id, recorded_at, payload) VALUES (?, ?, ?, ?)`,
			e.ID, e.OrderID, e.Timestamp.UnixNano(), string(payload)); err != nil {
			return fmt.Errorf("insert recut: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// applyOps validates reads and applies writes in ID order so concurrent
// commits lock rows in the same sequence.
func (s *Store) applyOps(ctx context.Context, tx *sql.Tx, table string, ops map[string]*recordOp) error {
	ids := make([]string, 0, len(ops))
	for id := range ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		op := ops[id]
		if !op.write {
			if op.readVersion == 0 {
				if err := s.expectAbsent(ctx, tx, table, id); err != nil {
					return err
				}
				continue
			}
			if err := s.expectOne(ctx, tx, `UPDATE `+table+` SET version = version WHERE id = ? AND version = ?`, id, op.readVersion); err != nil {
				return err
			}
			continue
		}
		payload, err := json.Marshal(op.payload)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", table, id, err)
		}
		if op.create {
			err = s.expectOne(ctx, tx, `INSERT INTO `+table+` (id, version, payload) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
				id, op.version, string(payload))
		} else {
			err = s.expectOne(ctx, tx, `UPDATE `+table+` SET version = ?, payload = ? WHERE id = ? AND version = ?`,
				op.version, string(payload), id, op.prevVersion)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) expectOne(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	res, err := s.exec(ctx, tx, query, args...)
	if err != nil {
		return fmt.Errorf("exec %q: %w", query, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return errStale
	}
	return nil
}

func (s *Store) expectAbsent(ctx context.Context, tx *sql.Tx, table, id string) error {
	var n int
	if err := tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT COUNT(*) FROM `+table+` WHERE id = ?`), id).Scan(&n); err != nil {
		return fmt.Errorf("count %s: %w", table, err)
	}
	if n != 0 {
		return errStale
	}
	return nil
}
