package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/driftlane/outreach-gateway/internal/config"
	"github.com/driftlane/outreach-gateway/internal/core"
	"github.com/driftlane/outreach-gateway/internal/logging"
	"github.com/driftlane/outreach-gateway/internal/pacer"
	"github.com/driftlane/outreach-gateway/internal/provider"
	"github.com/driftlane/outreach-gateway/internal/store"
	wpkg "github.com/driftlane/outreach-gateway/internal/worker"
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	log := logging.New(os.Getenv("ENV") == "dev")
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(env("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Error("config", zap.Error(err))
		exitCode = 1
		return
	}

	opts := wpkg.Options{
		BatchSize:    atoiEnv("WORKER_BATCH", 100),
		Concurrency:  atoiEnv("WORKER_CONCURRENCY", 16),
		PollInterval: durEnv("WORKER_POLL_MS", 200*time.Millisecond),
		IdleSleep:    durEnv("WORKER_IDLE_MS", 300*time.Millisecond),
		DBBackoffMin: durEnv("WORKER_DB_BACKOFF_MIN_MS", 200*time.Millisecond),
		DBBackoffMax: durEnv("WORKER_DB_BACKOFF_MAX_MS", 5*time.Second),
		SendTimeout:  durEnv("WORKER_SEND_TIMEOUT_MS", 5*time.Second),
		MaxAttempts:  atoiEnv("WORKER_MAX_ATTEMPTS", 5),
		RetryDelay:   durEnv("WORKER_RETRY_DELAY_MS", 30*time.Second),
	}

	// ---- Context / signals ----
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---- DB ----
	pool, err := pgxpool.New(rootCtx, cfg.Store.PostgresURL)
	if err != nil {
		log.Error("db pool", zap.Error(err))
		exitCode = 1
		return
	}
	defer pool.Close()

	if err := pool.Ping(rootCtx); err != nil {
		log.Error("db ping", zap.Error(err))
		exitCode = 1
		return
	}
	st := store.New(pool)

	// ---- Usage store ----
	var usage core.UsageStore = st
	if cfg.Store.Driver == "redis" {
		rs, err := store.NewRedisStoreFromURL(cfg.Store.RedisURL)
		if err != nil {
			log.Error("redis", zap.Error(err))
			exitCode = 1
			return
		}
		defer func() { _ = rs.Close() }()
		usage = rs
	}

	// ---- Rotation core ----
	reg, err := core.NewRegistry(cfg.CoreAccounts())
	if err != nil {
		log.Error("accounts", zap.Error(err))
		exitCode = 1
		return
	}
	strategy, _ := core.ParseStrategy(cfg.Rotation.Strategy)

	provs := provider.NewRegistry()
	provs.Register("dummy", provider.NewDummy())
	if cfg.Providers.SMTP.Host != "" {
		provs.Register("smtp", provider.NewSMTP(cfg.Providers.SMTP.Host, cfg.Providers.SMTP.Port, cfg.Credential))
	}
	if cfg.Providers.API.Endpoint != "" {
		provs.Register("api", provider.NewAPISender(cfg.Providers.API.Endpoint, cfg.Credential))
	}

	disp := core.NewDispatcher(reg, usage, pacer.New(cfg.Intervals()), provs, core.DispatcherOptions{
		Strategy:        strategy,
		DailyTotalLimit: cfg.Rotation.DailyTotalLimit,
	}, log)

	// ---- Healthz ----
	go serveHealthz()

	// ---- Worker ----
	if err := wpkg.RunWorker(rootCtx, st, disp, opts, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker exited", zap.Error(err))
		exitCode = 1
		return
	}
}

func serveHealthz() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	addr := env("HEALTH_ADDR", "0.0.0.0:9090")
	_ = http.ListenAndServe(addr, mux)
}

func atoiEnv(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
func durEnv(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}
