// Package sqlite provides the SQLite-backed transactional store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"cutledger/internal/infra/persistence/sqlstore"
	"cutledger/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "cutledger.db"

// Store persists rolls, orders and recut history in a SQLite file.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (or creates) the database file at path.
func NewStore(path string, engine *domain.RulesEngine, opts ...sqlstore.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	inner, err := sqlstore.New(context.Background(), db, sqlstore.SQLite, engine, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }
