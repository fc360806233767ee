package cache

import (
	"context"
	"sync"
	"time"

	"reel-tracker/domain/repository"
	"reel-tracker/infrastructure/logger"

	"github.com/redis/go-redis/v9"
)

// MemoryBackoffGate is a process-local upstream cooldown.
type MemoryBackoffGate struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

var _ repository.IBackoffGate = (*MemoryBackoffGate)(nil)

func NewMemoryBackoffGate() *MemoryBackoffGate {
	return &MemoryBackoffGate{now: time.Now}
}

// Trip closes the gate for d. A shorter trip never shortens an existing cooldown.
func (g *MemoryBackoffGate) Trip(_ context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if until := g.now().Add(d); until.After(g.until) {
		g.until = until
	}
	return nil
}

func (g *MemoryBackoffGate) Remaining(_ context.Context) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if left := g.until.Sub(g.now()); left > 0 {
		return left
	}
	return 0
}

const backoffKey = "reel-tracker:upstream:backoff"

// KEYS[1]: cooldown key
// ARGV[1]: cooldown in milliseconds
// Only extends the TTL, so concurrent trips keep the longest cooldown.
var tripScript = redis.NewScript(`
local current = redis.call('PTTL', KEYS[1])
local wanted = tonumber(ARGV[1])
if current < wanted then
  redis.call('SET', KEYS[1], '1', 'PX', wanted)
  return wanted
end
return current
`)

// RedisBackoffGate shares the upstream cooldown across instances.
type RedisBackoffGate struct {
	client *redis.Client
	key    string
}

var _ repository.IBackoffGate = (*RedisBackoffGate)(nil)

func NewRedisBackoffGate(client *redis.Client) *RedisBackoffGate {
	return &RedisBackoffGate{client: client, key: backoffKey}
}

func (g *RedisBackoffGate) Trip(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return tripScript.Run(ctx, g.client, []string{g.key}, d.Milliseconds()).Err()
}

// Remaining fails open: when Redis is unreachable the gate reports no cooldown.
func (g *RedisBackoffGate) Remaining(ctx context.Context) time.Duration {
	ttl, err := g.client.PTTL(ctx, g.key).Result()
	if err != nil {
		logger.GetLogger().WithField("error", err.Error()).Warn("Reading upstream backoff from Redis failed")
		return 0
	}
	if ttl < 0 {
		return 0
	}
	return ttl
}
