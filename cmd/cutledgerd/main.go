// Command cutledgerd serves the fabric ledger over HTTP and runs scheduled
// reconciliation.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cutledger/internal/adapters/httpapi"
	"cutledger/internal/app"
	"cutledger/internal/config"
	"cutledger/internal/logger"
	"cutledger/internal/reconcile"
)

func main() {
	cfgPath := os.Getenv("CUTLEDGER_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("CUTLEDGER_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("build failed", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close storage failed", zap.Error(err))
		}
	}()

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	(&httpapi.Handler{Service: a.Service, Logger: log, Gatherer: a.Registry}).Register(engine)

	if cfg.Reconcile.Enabled {
		runner := reconcile.New(log, ctx, a.Service)
		if _, err := runner.Schedule(cfg.Reconcile.Schedule); err != nil {
			log.Warn("cron register reconcile failed", zap.String("schedule", cfg.Reconcile.Schedule), zap.Error(err))
		} else {
			runner.Start()
			defer runner.Stop()
		}
	}

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}
	go func() {
		log.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", zap.Error(err))
	}
	log.Info("shutdown complete")
}
