package store_test

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftlane/outreach-gateway/internal/store"
)

const day = "2026-03-14"

func TestIncrementAndCount(t *testing.T) {
	s := store.StartTestPostgres(t)
	ctx := context.Background()

	n, err := s.Count(ctx, "a@example.com", day)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	n, err = s.Increment(ctx, "a@example.com", day)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.Count(ctx, "a@example.com", day)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Aggregate counter moves with the account counter.
	total, err := s.TotalCount(ctx, day)
	require.NoError(t, err)
	require.Equal(t, 1, total)

	// Counters are day-scoped: a new day starts at zero.
	n, err = s.Count(ctx, "a@example.com", "2026-03-15")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestConcurrentIncrements_NoLostUpdates(t *testing.T) {
	s := store.StartTestPostgres(t)
	ctx := context.Background()

	const racers = 50
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, "shared@example.com", day)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := s.Count(ctx, "shared@example.com", day)
	require.NoError(t, err)
	require.Equal(t, racers, n)

	total, err := s.TotalCount(ctx, day)
	require.NoError(t, err)
	require.Equal(t, racers, total)
}

func TestCursorRoundTrip(t *testing.T) {
	s := store.StartTestPostgres(t)
	ctx := context.Background()

	pos, err := s.CursorGet(ctx, "round_robin")
	require.NoError(t, err)
	require.Equal(t, -1, pos, "missing cursor reads as -1")

	require.NoError(t, s.CursorSet(ctx, "round_robin", 2))
	pos, err = s.CursorGet(ctx, "round_robin")
	require.NoError(t, err)
	require.Equal(t, 2, pos)

	require.NoError(t, s.CursorSet(ctx, "round_robin", 0))
	pos, err = s.CursorGet(ctx, "round_robin")
	require.NoError(t, err)
	require.Equal(t, 0, pos)
}

func TestEnqueue_IdempotentSingleRow(t *testing.T) {
	s := store.StartTestPostgres(t)
	ctx := context.Background()

	key := "same-key"
	ids := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _, err := s.Enqueue(ctx, store.EnqueueRequest{
				Recipient: "lead@corp.com", Subject: "hi", Body: "hello",
				TargetKey: "smtp", IdempotencyKey: &key,
			})
			if err == nil {
				mu.Lock()
				ids[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, ids, 1, "all successful enqueues must return the same id")

	var queued int
	require.NoError(t, s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_messages`).Scan(&queued))
	require.Equal(t, 1, queued)
}

func TestClaimSendAndMark(t *testing.T) {
	s := store.StartTestPostgres(t)
	ctx := context.Background()

	id, already, err := s.Enqueue(ctx, store.EnqueueRequest{
		Recipient: "lead@corp.com", Subject: "intro", Body: "hello there", TargetKey: "smtp",
	})
	require.NoError(t, err)
	require.False(t, already)

	ids, err := s.ClaimQueued(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{id}, ids)

	req, attempts, err := s.LoadForSend(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "lead@corp.com", req.Recipient)
	require.Equal(t, "smtp", req.TargetKey)
	require.Equal(t, 1, attempts)

	require.NoError(t, s.MarkSent(ctx, id, "a@example.com", "prov-1"))

	m, err := s.GetMessage(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "sent", m.Status)
	require.NotNil(t, m.AccountUsed)
	require.Equal(t, "a@example.com", *m.AccountUsed)
}

func TestMarkFailedRetry_RequeuesAfterDelay(t *testing.T) {
	s := store.StartTestPostgres(t)
	ctx := context.Background()

	id, _, err := s.Enqueue(ctx, store.EnqueueRequest{Recipient: "x@y.z", Subject: "s", Body: "b"})
	require.NoError(t, err)
	_, err = s.ClaimQueued(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, s.MarkFailedRetry(ctx, id, "provider_send_failed", time.Hour))

	// Not claimable until send_after passes.
	ids, err := s.ClaimQueued(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, ids)

	m, err := s.GetMessage(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "queued", m.Status)
}

func TestConcurrentClaim_SkipLocked_NoDuplicates(t *testing.T) {
	s := store.StartTestPostgres(t)
	ctx := context.Background()

	const total = 100
	for i := 0; i < total; i++ {
		key := strconv.Itoa(i)
		_, _, err := s.Enqueue(ctx, store.EnqueueRequest{
			Recipient: "lead@corp.com", Subject: "s", Body: "b", IdempotencyKey: &key,
		})
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	var claimed int64

	deadline, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if atomic.LoadInt64(&claimed) >= int64(total) {
					return
				}
				select {
				case <-deadline.Done():
					return
				default:
				}

				ids, err := s.ClaimQueued(ctx, 10)
				require.NoError(t, err)
				if len(ids) == 0 {
					time.Sleep(5 * time.Millisecond)
					continue
				}

				mu.Lock()
				for _, id := range ids {
					if seen[id] {
						mu.Unlock()
						t.Errorf("duplicate claim: %s", id)
						return
					}
					seen[id] = true
				}
				mu.Unlock()
				atomic.AddInt64(&claimed, int64(len(ids)))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(total), atomic.LoadInt64(&claimed))
	require.Len(t, seen, total)
}
