package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftlane/outreach-gateway/internal/core"
)

// RedisStore implements core.UsageStore on Redis for deployments that keep
// counters out of Postgres. Increments run as a Lua script so the account
// counter and the aggregate counter move together atomically. Keys are
// bucketed by day and expire after 25 hours past the day boundary would be
// enough; 48h keeps yesterday readable for reports.
type RedisStore struct {
	rdb *redis.Client

	incrScript *redis.Script
}

const usageTTLSeconds = 172800 // 48h

const incrLua = `
local acctKey = KEYS[1]
local totalKey = KEYS[2]
local ttl = tonumber(ARGV[1])

local n = redis.call("INCR", acctKey)
if n == 1 then
    redis.call("EXPIRE", acctKey, ttl)
end

local t = redis.call("INCR", totalKey)
if t == 1 then
    redis.call("EXPIRE", totalKey, ttl)
end

return n
`

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		rdb:        client,
		incrScript: redis.NewScript(incrLua),
	}
}

// NewRedisStoreFromURL connects and pings before returning.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisStore(client), nil
}

func usageKey(accountID, day string) string {
	return fmt.Sprintf("usage:%s:%s", day, accountID)
}

func (r *RedisStore) Count(ctx context.Context, accountID, day string) (int, error) {
	n, err := r.rdb.Get(ctx, usageKey(accountID, day)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (r *RedisStore) TotalCount(ctx context.Context, day string) (int, error) {
	return r.Count(ctx, core.GlobalAccountID, day)
}

func (r *RedisStore) Increment(ctx context.Context, accountID, day string) (int, error) {
	res, err := r.incrScript.Run(ctx, r.rdb,
		[]string{usageKey(accountID, day), usageKey(core.GlobalAccountID, day)},
		usageTTLSeconds,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("usage increment: %w", err)
	}
	return int(res), nil
}

func (r *RedisStore) CursorGet(ctx context.Context, name string) (int, error) {
	v, err := r.rdb.Get(ctx, "cursor:"+name).Result()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

func (r *RedisStore) CursorSet(ctx context.Context, name string, pos int) error {
	return r.rdb.Set(ctx, "cursor:"+name, pos, 0).Err()
}

func (r *RedisStore) Close() error { return r.rdb.Close() }
