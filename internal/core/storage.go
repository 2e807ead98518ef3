package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cutledger/internal/infra/persistence/firestore"
	"cutledger/internal/infra/persistence/memory"
	"cutledger/internal/infra/persistence/postgres"
	"cutledger/internal/infra/persistence/sqlite"
	"cutledger/internal/infra/persistence/sqlstore"
	"cutledger/pkg/domain"
)

// StorageDriver names a persistence backend.
type StorageDriver string

// Supported storage drivers.
const (
	StorageMemory    StorageDriver = "memory"
	StorageSQLite    StorageDriver = "sqlite"
	StoragePostgres  StorageDriver = "postgres"
	StorageFirestore StorageDriver = "firestore"
)

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver                   StorageDriver
	SQLitePath               string
	PostgresDSN              string
	FirestoreProjectID       string
	FirestoreCredentialsFile string
	// MaxAttempts bounds optimistic retries; zero keeps the backend default.
	MaxAttempts int
	Now         func() time.Time
}

// OpenPersistentStore opens the configured backend. The returned close func
// is always non-nil.
func OpenPersistentStore(ctx context.Context, cfg StorageConfig, engine *domain.RulesEngine) (domain.PersistentStore, func() error, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	noClose := func() error { return nil }
	driver := StorageDriver(strings.ToLower(strings.TrimSpace(string(cfg.Driver))))
	switch driver {
	case "", StorageMemory:
		var opts []memory.Option
		if cfg.MaxAttempts > 0 {
			opts = append(opts, memory.WithMaxAttempts(cfg.MaxAttempts))
		}
		if cfg.Now != nil {
			opts = append(opts, memory.WithClock(cfg.Now))
		}
		return memory.NewStore(engine, opts...), noClose, nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine, sqlOptions(cfg)...)
		if err != nil {
			return nil, noClose, err
		}
		return store, store.Close, nil
	case StoragePostgres:
		store, err := postgres.NewStore(cfg.PostgresDSN, engine, sqlOptions(cfg)...)
		if err != nil {
			return nil, noClose, err
		}
		return store, store.Close, nil
	case StorageFirestore:
		var opts []firestore.Option
		if cfg.MaxAttempts > 0 {
			opts = append(opts, firestore.WithMaxAttempts(cfg.MaxAttempts))
		}
		if cfg.Now != nil {
			opts = append(opts, firestore.WithClock(cfg.Now))
		}
		store, err := firestore.New(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentialsFile, engine, opts...)
		if err != nil {
			return nil, noClose, err
		}
		return store, store.Close, nil
	default:
		return nil, noClose, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func sqlOptions(cfg StorageConfig) []sqlstore.Option {
	var opts []sqlstore.Option
	if cfg.MaxAttempts > 0 {
		opts = append(opts, sqlstore.WithMaxAttempts(cfg.MaxAttempts))
	}
	if cfg.Now != nil {
		opts = append(opts, sqlstore.WithClock(cfg.Now))
	}
	return opts
}
