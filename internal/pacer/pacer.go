// Package pacer guarantees a minimum spacing between calls that share a
// target key, independent of which account sends through the target.
package pacer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer keeps one token-bucket limiter per target. Burst is pinned to 1 so
// Wait returns at most once per interval: the measured gap between two
// returns for the same target is >= the configured interval, regardless of
// what the caller does in between. rate.Limiter runs on the monotonic clock,
// so wall-clock adjustments cannot shrink the gap.
type Pacer struct {
	mu        sync.Mutex
	intervals map[string]time.Duration
	limiters  map[string]*rate.Limiter
}

// New builds a pacer from a target -> minimum interval map. Targets absent
// from the map are not limited; integrating a new external API means adding
// an explicit interval for it.
func New(intervals map[string]time.Duration) *Pacer {
	iv := make(map[string]time.Duration, len(intervals))
	for k, v := range intervals {
		iv[k] = v
	}
	return &Pacer{intervals: iv, limiters: make(map[string]*rate.Limiter)}
}

// Acquire blocks until the target's interval has elapsed since the previous
// acquisition. It never fails except on context cancellation, and an
// abandoned wait leaves no state behind: the token is only consumed when
// Wait returns nil.
func (p *Pacer) Acquire(ctx context.Context, target string) error {
	return p.limiter(target).Wait(ctx)
}

func (p *Pacer) limiter(target string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	lim, ok := p.limiters[target]
	if !ok {
		iv := p.intervals[target]
		if iv <= 0 {
			lim = rate.NewLimiter(rate.Inf, 1)
		} else {
			lim = rate.NewLimiter(rate.Every(iv), 1)
		}
		p.limiters[target] = lim
	}
	return lim
}
