package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLimitExceeded = errors.New("rate limit exceeded")

// Config bounds one client. Zero disables a dimension.
type Config struct {
	RequestsPerMinute    int
	ParallelRequests     int
	UploadBytesPerMinute int64
}

// Enabled reports whether any dimension is bounded.
func (c Config) Enabled() bool {
	return c.RequestsPerMinute > 0 || c.ParallelRequests > 0 || c.UploadBytesPerMinute > 0
}

// RateLimiter keeps fixed-window counters and parallel-request semaphores in Redis
// so several daemons behind one balancer share the same budget.
type RateLimiter struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client, cfg Config) *RateLimiter {
	return &RateLimiter{client: client, cfg: cfg, now: time.Now}
}

// Allow admits one request for key. A nil error must be paired with Release.
func (l *RateLimiter) Allow(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if l.cfg.RequestsPerMinute > 0 {
		if err := l.countCheck(ctx, fmt.Sprintf("rpm:%s", key), time.Minute, l.cfg.RequestsPerMinute); err != nil {
			return err
		}
	}
	if l.cfg.ParallelRequests > 0 {
		if err := l.semaphoreAcquire(ctx, fmt.Sprintf("sem:%s", key), l.cfg.ParallelRequests); err != nil {
			return err
		}
	}
	return nil
}

// Release frees the parallel slot taken by Allow.
func (l *RateLimiter) Release(ctx context.Context, key string) {
	if l == nil || l.client == nil {
		return
	}
	if l.cfg.ParallelRequests > 0 {
		l.client.Decr(ctx, fmt.Sprintf("sem:%s", key))
	}
}

// UploadAllowance charges size bytes against the per-minute upload budget. A
// rejected charge is rolled back.
func (l *RateLimiter) UploadAllowance(ctx context.Context, key string, size int64) error {
	if l == nil || l.client == nil || l.cfg.UploadBytesPerMinute <= 0 || size <= 0 {
		return nil
	}
	redisKey := l.windowKey(fmt.Sprintf("upload:%s", key), time.Minute)

	used, err := l.client.IncrBy(ctx, redisKey, size).Result()
	if err != nil {
		return err
	}
	if used == size {
		l.client.Expire(ctx, redisKey, time.Minute)
	}
	if used > l.cfg.UploadBytesPerMinute {
		l.client.DecrBy(ctx, redisKey, size)
		return ErrLimitExceeded
	}
	return nil
}

func (l *RateLimiter) windowKey(key string, window time.Duration) string {
	return fmt.Sprintf("%s:%d", key, l.now().UTC().Unix()/int64(window.Seconds()))
}

func (l *RateLimiter) countCheck(ctx context.Context, key string, ttl time.Duration, limit int) error {
	redisKey := l.windowKey(key, ttl)

	cnt, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return err
	}
	if cnt == 1 {
		l.client.Expire(ctx, redisKey, ttl)
	}
	if int(cnt) > limit {
		return ErrLimitExceeded
	}
	return nil
}

// Semaphores expire so a crashed daemon cannot pin a client's slots forever.
func (l *RateLimiter) semaphoreAcquire(ctx context.Context, key string, max int) error {
	ttl := 30 * time.Minute
	cnt, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if cnt == 1 {
		l.client.Expire(ctx, key, ttl)
	}
	if int(cnt) > max {
		l.client.Decr(ctx, key)
		return ErrLimitExceeded
	}
	return nil
}
