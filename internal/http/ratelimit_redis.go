package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/ivan-cavero/Ignis/pkg/logger"
)

const redisLimiterPrefix = "ignis:ratelimit:"

// slidingWindow trims the key's sorted set to the window, admits the request
// when there is room and returns {allowed, count, oldest score}.
var slidingWindow = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < tonumber(ARGV[3]) then
	redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[5])
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local first = tonumber(ARGV[1])
if oldest[2] then
	first = tonumber(oldest[2])
end
return {allowed, count, first}
`)

// RedisRateLimiter shares the sliding window between dispatcher replicas.
type RedisRateLimiter struct {
	client  redis.UniversalClient
	limit   int
	window  time.Duration
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewRedisRateLimiter connects to addr and fails when Redis does not answer.
func NewRedisRateLimiter(addr, password string, db, limit int, window time.Duration, log *slog.Logger) (*RedisRateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping rate limit store %s: %w", addr, err)
	}
	return newRedisRateLimiter(client, limit, window, log), nil
}

func newRedisRateLimiter(client redis.UniversalClient, limit int, window time.Duration, log *slog.Logger) *RedisRateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if log == nil {
		log = logger.Discard()
	}
	return &RedisRateLimiter{
		client:  client,
		limit:   limit,
		window:  window,
		timeout: 250 * time.Millisecond,
		logger:  log,
		now:     time.Now,
	}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (Quota, error) {
	if rl.limit <= 0 {
		return Quota{Allowed: true}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	now := rl.now().UnixMilli()
	windowMs := rl.window.Milliseconds()
	raw, err := slidingWindow.Run(ctx, rl.client, []string{redisLimiterPrefix + key},
		strconv.FormatInt(now, 10),
		strconv.FormatInt(now-windowMs, 10),
		strconv.Itoa(rl.limit),
		uuid.NewString(),
		strconv.FormatInt(windowMs, 10),
	).Int64Slice()
	if err != nil {
		rl.logger.Error("redis rate limiter error", "key", key, "error", err)
		return Quota{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(raw) != 3 {
		return Quota{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, raw)
	}
	quota := Quota{
		Allowed: raw[0] == 1,
		Limit:   rl.limit,
		Reset:   time.UnixMilli(raw[2]).Add(rl.window),
	}
	if quota.Allowed {
		quota.Remaining = rl.limit - int(raw[1])
	}
	return quota, nil
}

func (rl *RedisRateLimiter) Close() {
	_ = rl.client.Close()
}
