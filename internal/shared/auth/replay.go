package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard remembers redeemed token ids until they expire.
type ReplayGuard interface {
	// Consume records id and reports whether it was not seen before.
	Consume(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

// RedisReplayGuard shares redeemed ids between server instances.
type RedisReplayGuard struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisReplayGuard(rdb *redis.Client) *RedisReplayGuard {
	return &RedisReplayGuard{rdb: rdb, prefix: "ws-token:"}
}

func (g *RedisReplayGuard) Consume(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	return g.rdb.SetNX(ctx, g.prefix+id, 1, ttl).Result()
}

// MemoryReplayGuard is the single instance fallback when Redis is not configured.
type MemoryReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{seen: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryReplayGuard) Consume(_ context.Context, id string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, exp := range g.seen {
		if now.After(exp) {
			delete(g.seen, k)
		}
	}
	if _, ok := g.seen[id]; ok {
		return false, nil
	}
	g.seen[id] = now.Add(ttl)
	return true, nil
}
