package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftlane/outreach-gateway/internal/core"
	"github.com/driftlane/outreach-gateway/internal/metrics"
	"github.com/driftlane/outreach-gateway/internal/store"
)

type Options struct {
	BatchSize    int           // how many to claim per poll
	Concurrency  int           // number of sender goroutines
	PollInterval time.Duration // how often to poll when work is found
	IdleSleep    time.Duration // sleep when queue empty
	DBBackoffMin time.Duration
	DBBackoffMax time.Duration
	SendTimeout  time.Duration // per-dispatch timeout
	MaxAttempts  int           // attempts before a message fails permanently
	RetryDelay   time.Duration // base delay before a failed send is retried
}

// RunWorker drains the outbox: claim batches, run each message through the
// rotation dispatcher, and record the outcome. Retry policy lives here, not
// in the dispatcher.
func RunWorker(ctx context.Context, st *store.Store, disp *core.Dispatcher, opt Options, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	// Fixed-size worker pool.
	jobs := make(chan string, opt.BatchSize*2)
	var wg sync.WaitGroup
	wg.Add(opt.Concurrency)
	for i := 0; i < opt.Concurrency; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-jobs:
					sendOne(ctx, st, disp, id, opt, log)
				}
			}
		}()
	}

	// Poll loop: claim batches and dispatch.
	dbBackoff := opt.DBBackoffMin
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		default:
		}

		ids, err := st.ClaimQueued(ctx, opt.BatchSize)
		if err != nil {
			// Backoff on DB errors (exponential + jitter)
			metrics.ClaimTotal.WithLabelValues("error").Inc()
			sleep := jitter(dbBackoff, 0.20)
			log.Warn("claim error", zap.Error(err), zap.Duration("backoff", sleep))
			time.Sleep(sleep)
			dbBackoff = minDur(opt.DBBackoffMax, time.Duration(float64(dbBackoff)*1.6))
			continue
		}
		dbBackoff = opt.DBBackoffMin // reset on success

		if len(ids) == 0 {
			metrics.ClaimTotal.WithLabelValues("empty").Inc()
			time.Sleep(opt.IdleSleep)
			continue
		}
		metrics.ClaimTotal.WithLabelValues("ok").Inc()
		metrics.ClaimBatchSize.Observe(float64(len(ids)))

		for _, id := range ids {
			select {
			case <-ctx.Done():
				close(jobs)
				wg.Wait()
				return ctx.Err()
			case jobs <- id:
			}
		}

		// short cadence while there is flow
		time.Sleep(opt.PollInterval)
	}
}

func sendOne(ctx context.Context, st *store.Store, disp *core.Dispatcher, id string, opt Options, log *zap.Logger) {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	req, attempts, err := st.LoadForSend(ctx, id)
	if err != nil {
		_ = st.MarkFailedPermanent(ctx, id, "load_failed") // unable to load -> fail hard
		metrics.PermFailTotal.Inc()
		return
	}

	cctx, cancel := context.WithTimeout(ctx, opt.SendTimeout)
	defer cancel()

	res, err := disp.Dispatch(cctx, req)
	switch {
	case err == nil:
		_ = st.MarkSent(ctx, id, res.AccountUsed, res.MessageID)

	case res.Success:
		// Message left but recording usage failed; don't resend it.
		log.Error("sent but usage not recorded", zap.String("id", id), zap.Error(err))
		_ = st.MarkSent(ctx, id, res.AccountUsed, res.MessageID)

	case errors.Is(err, core.ErrNoEligibleAccount):
		// Capacity exhausted for today; park the message and move on.
		_ = st.MarkFailedRetry(ctx, id, "no_eligible_account", 10*time.Minute)
		metrics.RetryTotal.Inc()

	case errors.Is(err, core.ErrPersistence):
		_ = st.MarkFailedRetry(ctx, id, "usage_store_unavailable", time.Minute)
		metrics.RetryTotal.Inc()

	case errors.Is(err, core.ErrAccountNotFound):
		_ = st.MarkFailedPermanent(ctx, id, "account_not_found")
		metrics.PermFailTotal.Inc()

	default:
		if attempts >= opt.MaxAttempts {
			log.Warn("message failed permanently",
				zap.String("id", id), zap.Int("attempts", attempts), zap.Error(err))
			_ = st.MarkFailedPermanent(ctx, id, "provider_send_failed")
			metrics.PermFailTotal.Inc()
			return
		}
		_ = st.MarkFailedRetry(ctx, id, "provider_send_failed", time.Duration(attempts)*opt.RetryDelay)
		metrics.RetryTotal.Inc()
	}
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := int64(float64(d) * frac)
	if delta <= 0 {
		return d
	}
	// random in [-delta, +delta]
	n := rand.Int63n(2*delta+1) - delta
	return d + time.Duration(n)
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
