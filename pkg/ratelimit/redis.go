package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "tablerest:ratelimit:"

// incrWindow increments a counter and starts its window on the first hit,
// in one atomic step on the server.
var incrWindow = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

// Redis keeps counters in a shared server so replicas enforce one budget.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting to Redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func NewRedisWithClient(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	vals, err := incrWindow.Run(ctx, r.client, []string{redisKeyPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("redis rate limit: unexpected reply %v", vals)
	}

	count := int(vals[0])
	reset := time.Duration(vals[1]) * time.Millisecond
	if reset < 0 {
		reset = window
	}
	return Result{
		Allowed:    count <= limit,
		Limit:      limit,
		Remaining:  max(0, limit-count),
		ResetAfter: reset,
	}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
