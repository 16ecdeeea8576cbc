package main

import (
	"os"
	"strconv"
	"time"

	"github.com/driftlane/outreach-gateway/internal/worker"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
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

func workerOptions() worker.Options {
	return worker.Options{
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
}
