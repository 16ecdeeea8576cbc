package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/driftlane/outreach-gateway/internal/metrics"
)

// UsageStore is the persistence collaborator. Increment must be atomic with
// respect to concurrent writers sharing the same store.
type UsageStore interface {
	Count(ctx context.Context, accountID, day string) (int, error)
	TotalCount(ctx context.Context, day string) (int, error)
	Increment(ctx context.Context, accountID, day string) (int, error)
	CursorGet(ctx context.Context, name string) (int, error)
	CursorSet(ctx context.Context, name string, pos int) error
}

// Pacer gates calls sharing a target key to a minimum spacing. Acquire blocks
// until the target's interval has elapsed; it only fails on context
// cancellation.
type Pacer interface {
	Acquire(ctx context.Context, target string) error
}

// Sender is the external send collaborator. One implementation per provider;
// the dispatcher is agnostic to which.
type Sender interface {
	Send(ctx context.Context, acct Account, req SendRequest) (providerMsgID string, err error)
}

const roundRobinCursor = "round_robin"

// Dispatcher picks an account per request, paces the provider call, delegates
// the send, and records the outcome. It never retries and never fails over on
// its own; both are caller decisions.
type Dispatcher struct {
	reg         *Registry
	store       UsageStore
	pacer       Pacer
	sender      Sender
	clock       Clock
	strategy    Strategy
	globalLimit int // 0 = unlimited
	log         *zap.Logger
}

type DispatcherOptions struct {
	Strategy        Strategy
	DailyTotalLimit int
	Clock           Clock // nil = system clock
}

func NewDispatcher(reg *Registry, store UsageStore, pacer Pacer, sender Sender, opt DispatcherOptions, log *zap.Logger) *Dispatcher {
	clk := opt.Clock
	if clk == nil {
		clk = SystemClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		reg:         reg,
		store:       store,
		pacer:       pacer,
		sender:      sender,
		clock:       clk,
		strategy:    opt.Strategy,
		globalLimit: opt.DailyTotalLimit,
		log:         log,
	}
}

func (d *Dispatcher) Strategy() Strategy { return d.strategy }

// usageSnapshot reads today's counters for every enabled account. A store
// error fails closed.
func (d *Dispatcher) usageSnapshot(ctx context.Context, day string) (UsageSnapshot, error) {
	usage := make(UsageSnapshot)
	for _, a := range d.reg.ListEnabled() {
		n, err := d.store.Count(ctx, a.ID, day)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		usage[a.ID] = n
	}
	return usage, nil
}

// SelectAccount applies the configured strategy against a fresh usage
// snapshot. The snapshot is taken before the send, so caps are advisory-soft:
// concurrent dispatches may each pass eligibility before either increment
// lands, overshooting a cap by at most the number of concurrent racers.
func (d *Dispatcher) SelectAccount(ctx context.Context, req SendRequest) (Account, error) {
	day := d.clock.Today()

	if d.globalLimit > 0 {
		total, err := d.store.TotalCount(ctx, day)
		if err != nil {
			return Account{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if total >= d.globalLimit {
			return Account{}, fmt.Errorf("%w: daily total limit reached", ErrNoEligibleAccount)
		}
	}

	usage, err := d.usageSnapshot(ctx, day)
	if err != nil {
		return Account{}, err
	}
	eligible := d.reg.EligibleForToday(usage)

	if req.PreferredAccountID != "" {
		acct, err := d.reg.Get(req.PreferredAccountID)
		if err != nil {
			return Account{}, err
		}
		for _, e := range eligible {
			if e.ID == acct.ID {
				return acct, nil
			}
		}
		// Preferred account is disabled or capped; fall through to rotation.
	}

	if len(eligible) == 0 {
		return Account{}, ErrNoEligibleAccount
	}

	switch d.strategy {
	case StrategyPriority:
		return pickPriority(eligible, usage), nil
	case StrategyLeastUsed:
		return pickLeastUsed(eligible, usage), nil
	case StrategyRandom:
		return pickRandom(eligible), nil
	case StrategyRoundRobin:
		cursor, err := d.store.CursorGet(ctx, roundRobinCursor)
		if err != nil {
			return Account{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		acct, next, ok := pickRoundRobin(d.reg.ListEnabled(), eligible, cursor)
		if !ok {
			return Account{}, ErrNoEligibleAccount
		}
		if err := d.store.CursorSet(ctx, roundRobinCursor, next); err != nil {
			return Account{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return acct, nil
	default:
		return Account{}, fmt.Errorf("unknown rotation strategy %q", d.strategy)
	}
}

// Dispatch runs one request through select -> pace -> send -> record.
func (d *Dispatcher) Dispatch(ctx context.Context, req SendRequest) (SendResult, error) {
	acct, err := d.SelectAccount(ctx, req)
	if err != nil {
		metrics.DispatchTotal.WithLabelValues(dispatchResult(err)).Inc()
		return SendResult{Success: false, Error: err.Error(), Timestamp: d.clock.Now()}, err
	}
	metrics.SelectedTotal.WithLabelValues(string(d.strategy), acct.ID).Inc()

	waitStart := time.Now()
	if err := d.pacer.Acquire(ctx, req.TargetKey); err != nil {
		// Context canceled mid-wait; no state was touched.
		metrics.DispatchTotal.WithLabelValues("canceled").Inc()
		return SendResult{Success: false, AccountUsed: acct.ID, Error: err.Error(), Timestamp: d.clock.Now()}, err
	}
	metrics.PacerWaitSeconds.WithLabelValues(req.TargetKey).Observe(time.Since(waitStart).Seconds())

	sendStart := time.Now()
	msgID, sendErr := d.sender.Send(ctx, acct, req)
	metrics.ProviderSendDuration.Observe(time.Since(sendStart).Seconds())

	now := d.clock.Now()
	if sendErr != nil {
		// Failed sends never consume quota.
		metrics.ProviderSendTotal.WithLabelValues("failed").Inc()
		metrics.DispatchTotal.WithLabelValues("provider_error").Inc()
		d.log.Warn("provider send failed",
			zap.String("account", acct.ID),
			zap.String("target", req.TargetKey),
			zap.Error(sendErr))
		res := SendResult{Success: false, AccountUsed: acct.ID, Error: sendErr.Error(), Timestamp: now}
		return res, fmt.Errorf("%w: %v", ErrProviderSend, sendErr)
	}

	metrics.ProviderSendTotal.WithLabelValues("sent").Inc()
	if _, err := d.store.Increment(ctx, acct.ID, d.clock.Today()); err != nil {
		// The message left, but usage could not be recorded. Surface it so
		// the operator knows the caps are running blind.
		metrics.DispatchTotal.WithLabelValues("record_error").Inc()
		d.log.Error("usage increment failed after send",
			zap.String("account", acct.ID), zap.Error(err))
		res := SendResult{Success: true, AccountUsed: acct.ID, MessageID: msgID, Timestamp: now}
		return res, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	metrics.DispatchTotal.WithLabelValues("sent").Inc()
	return SendResult{Success: true, AccountUsed: acct.ID, MessageID: msgID, Timestamp: now}, nil
}

func dispatchResult(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, ErrNoEligibleAccount):
		return "no_eligible"
	case errors.Is(err, ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	}
	return "error"
}
