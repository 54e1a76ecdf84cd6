package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	xrate "golang.org/x/time/rate"
)

// Config is the shared budget: Limit requests per Window for each scope and client.
type Config struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// Limiter admits or rejects one request for scope and client.
type Limiter interface {
	Allow(ctx context.Context, scope, client string) error
}

// RedisLimiter enforces Config with shared redis counters.
type RedisLimiter struct {
	redis  redis.UniversalClient
	config Config
}

// NewRedis returns a limiter backed by client.
func NewRedis(client redis.UniversalClient, cfg Config) *RedisLimiter {
	return &RedisLimiter{redis: client, config: cfg}
}

// Allow increments the window counter and rejects once it exceeds Limit.
func (l *RedisLimiter) Allow(ctx context.Context, scope, client string) error {
	key := throttleKey(scope, client)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	if count > int64(l.config.Limit) {
		return ErrRateLimited
	}
	return nil
}

// LocalLimiter enforces Config with token buckets held in memory. Buckets idle
// for a whole window are full again, so Allow drops them every pruneEvery.
type LocalLimiter struct {
	config Config
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

type bucket struct {
	limiter *xrate.Limiter
	seen    time.Time
}

// NewLocal returns an in-process limiter refilling Limit tokens per Window.
func NewLocal(cfg Config) *LocalLimiter {
	return &LocalLimiter{
		config:  cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow takes one token from the client's bucket.
func (l *LocalLimiter) Allow(_ context.Context, scope, client string) error {
	now := l.now()
	key := throttleKey(scope, client)

	l.mu.Lock()
	if now.Sub(l.lastPrune) >= l.pruneEvery() {
		l.pruneLocked(now.Add(-l.config.Window))
		l.lastPrune = now
	}
	b, ok := l.buckets[key]
	if !ok {
		every := l.config.Window / time.Duration(max(l.config.Limit, 1))
		b = &bucket{limiter: xrate.NewLimiter(xrate.Every(every), l.config.Limit)}
		l.buckets[key] = b
	}
	b.seen = now
	allowed := b.limiter.AllowN(now, 1)
	l.mu.Unlock()

	if !allowed {
		return ErrRateLimited
	}
	return nil
}

// Prune drops buckets untouched for longer than idle and returns how many
// were removed.
func (l *LocalLimiter) Prune(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(cutoff)
}

func (l *LocalLimiter) pruneEvery() time.Duration {
	return max(10*l.config.Window, 5*time.Minute)
}

func (l *LocalLimiter) pruneLocked(cutoff time.Time) int {
	removed := 0
	for key, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Nop admits everything.
type Nop struct{}

// Allow always returns nil.
func (Nop) Allow(context.Context, string, string) error { return nil }

func throttleKey(scope, client string) string {
	return "thr:" + scope + ":" + client
}
