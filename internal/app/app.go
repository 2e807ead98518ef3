// Package app assembles the ledger service from configuration.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"cutledger/internal/audit"
	"cutledger/internal/blob"
	"cutledger/internal/config"
	"cutledger/internal/core"
)

// App holds the wired service and the resources it owns.
type App struct {
	Service  *core.Service
	Registry *prometheus.Registry
	Blob     blob.Store

	closeStore func() error
}

// Build opens storage and the archive blob store and constructs the service.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	recorder, err := core.NewPrometheusRecorder(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	store, closeStore, err := core.OpenPersistentStore(ctx, StorageConfig(cfg.Storage), core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	logger.Info("storage opened", zap.String("driver", cfg.Storage.Driver))

	opts := []core.ServiceOption{
		core.WithLogger(logger),
		core.WithMetricsRecorder(recorder),
	}
	a := &App{Registry: reg, closeStore: closeStore}
	if cfg.Blob.Enabled {
		bs, err := blob.Open(ctx, BlobConfig(cfg.Blob))
		if err != nil {
			_ = closeStore()
			return nil, fmt.Errorf("open blob store: %w", err)
		}
		a.Blob = bs
		opts = append(opts, core.WithArchive(audit.NewArchive(bs)))
		logger.Info("allocation archive enabled", zap.String("driver", string(bs.Driver())))
	}
	a.Service = core.NewService(store, opts...)
	return a, nil
}

// Close releases storage.
func (a *App) Close() error {
	if a == nil || a.closeStore == nil {
		return nil
	}
	return a.closeStore()
}

// StorageConfig converts the storage section into the core driver config.
func StorageConfig(cfg config.StorageConfig) core.StorageConfig {
	return core.StorageConfig{
		Driver:                   core.StorageDriver(cfg.Driver),
		SQLitePath:               cfg.SQLitePath,
		PostgresDSN:              cfg.PostgresDSN,
		FirestoreProjectID:       cfg.FirestoreProjectID,
		FirestoreCredentialsFile: cfg.FirestoreCredentialsFile,
		MaxAttempts:              cfg.MaxAttempts,
	}
}

// BlobConfig converts the blob section into the blob backend config.
func BlobConfig(cfg config.BlobConfig) blob.Config {
	return blob.Config{
		Driver: blob.Driver(strings.ToLower(strings.TrimSpace(cfg.Driver))),
		FSRoot: cfg.FSRoot,
		S3: blob.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		},
	}
}
