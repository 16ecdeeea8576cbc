package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/driftlane/outreach-gateway/internal/config"
	"github.com/driftlane/outreach-gateway/internal/core"
	httpapi "github.com/driftlane/outreach-gateway/internal/http"
	"github.com/driftlane/outreach-gateway/internal/logging"
	"github.com/driftlane/outreach-gateway/internal/metrics"
	"github.com/driftlane/outreach-gateway/internal/pacer"
	"github.com/driftlane/outreach-gateway/internal/provider"
	"github.com/driftlane/outreach-gateway/internal/store"
	"github.com/driftlane/outreach-gateway/internal/worker"
)

func main() {
	log := logging.New(os.Getenv("ENV") == "dev")
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(env("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---- DB ----
	pool, err := pgxpool.New(rootCtx, cfg.Store.PostgresURL)
	if err != nil {
		log.Fatal("db pool", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(rootCtx); err != nil {
		log.Fatal("db ping", zap.Error(err))
	}
	if err := store.ApplyMigrations(rootCtx, pool); err != nil {
		log.Fatal("migrations", zap.Error(err))
	}
	st := store.New(pool)

	poolStats := metrics.NewPGXPoolStats(pool)
	stop := make(chan struct{})
	defer close(stop)
	go poolStats.Start(15*time.Second, stop)

	// ---- Usage store (counters/cursor may live in Redis) ----
	var usage core.UsageStore = st
	if cfg.Store.Driver == "redis" {
		rs, err := store.NewRedisStoreFromURL(cfg.Store.RedisURL)
		if err != nil {
			log.Fatal("redis", zap.Error(err))
		}
		defer func() { _ = rs.Close() }()
		usage = rs
	}

	// ---- Rotation core ----
	reg, err := core.NewRegistry(cfg.CoreAccounts())
	if err != nil {
		log.Fatal("accounts", zap.Error(err))
	}
	strategy, _ := core.ParseStrategy(cfg.Rotation.Strategy)
	gates := pacer.New(cfg.Intervals())
	disp := core.NewDispatcher(reg, usage, gates, buildProviders(cfg), core.DispatcherOptions{
		Strategy:        strategy,
		DailyTotalLimit: cfg.Rotation.DailyTotalLimit,
	}, log)

	// ---- Worker ----
	go func() {
		err := worker.RunWorker(rootCtx, st, disp, workerOptions(), log.Named("worker"))
		if err != nil && rootCtx.Err() == nil {
			log.Error("worker exited", zap.Error(err))
		}
	}()

	// ---- HTTP server ----
	srv := httpapi.NewServer(st, disp, reg, usage)
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server", zap.Error(err))
		}
	}()

	// ---- Graceful shutdown ----
	<-rootCtx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}

func buildProviders(cfg *config.Config) *provider.Registry {
	provs := provider.NewRegistry()
	provs.Register("dummy", provider.NewDummy())
	if cfg.Providers.SMTP.Host != "" {
		provs.Register("smtp", provider.NewSMTP(cfg.Providers.SMTP.Host, cfg.Providers.SMTP.Port, cfg.Credential))
	}
	if cfg.Providers.API.Endpoint != "" {
		provs.Register("api", provider.NewAPISender(cfg.Providers.API.Endpoint, cfg.Credential))
	}
	return provs
}
