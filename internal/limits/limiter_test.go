package limits

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) *RateLimiter {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	limiter := NewRateLimiter(client, cfg)
	fixed := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	limiter.now = func() time.Time { return fixed }
	return limiter
}

func TestRateLimiterAllowEnforcesParallel(t *testing.T) {
	limiter := newTestLimiter(t, Config{ParallelRequests: 1})
	ctx := context.Background()

	if err := limiter.Allow(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if err := limiter.Allow(ctx, "10.0.0.1"); err != ErrLimitExceeded {
		t.Fatalf("expected parallel limit error, got %v", err)
	}
	if err := limiter.Allow(ctx, "10.0.0.2"); err != nil {
		t.Fatalf("other client should pass: %v", err)
	}
	limiter.Release(ctx, "10.0.0.1")
	if err := limiter.Allow(ctx, "10.0.0.1"); err != nil {
		t.Fatalf("request after release should pass: %v", err)
	}
}

func TestRateLimiterAllowEnforcesRPM(t *testing.T) {
	limiter := newTestLimiter(t, Config{RequestsPerMinute: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.Allow(ctx, "client"); err != nil {
			t.Fatalf("request %d should pass: %v", i+1, err)
		}
	}
	if err := limiter.Allow(ctx, "client"); err != ErrLimitExceeded {
		t.Fatalf("expected rpm limit error, got %v", err)
	}

	limiter.now = func() time.Time { return time.Date(2026, 3, 1, 12, 1, 30, 0, time.UTC) }
	if err := limiter.Allow(ctx, "client"); err != nil {
		t.Fatalf("next window should pass: %v", err)
	}
}

func TestUploadAllowanceRollsBackOnFailure(t *testing.T) {
	limiter := newTestLimiter(t, Config{UploadBytesPerMinute: 10})
	ctx := context.Background()

	if err := limiter.UploadAllowance(ctx, "client", 6); err != nil {
		t.Fatalf("first upload should pass: %v", err)
	}
	if err := limiter.UploadAllowance(ctx, "client", 6); err != ErrLimitExceeded {
		t.Fatalf("expected upload limit error, got %v", err)
	}

	used, err := limiter.client.Get(ctx, limiter.windowKey("upload:client", time.Minute)).Int64()
	if err != nil {
		t.Fatalf("get redis value: %v", err)
	}
	if used != 6 {
		t.Fatalf("expected usage to stay at 6 after rollback, got %d", used)
	}
	if err := limiter.UploadAllowance(ctx, "client", 4); err != nil {
		t.Fatalf("upload within remaining budget should pass: %v", err)
	}
}

func TestNilLimiterAdmitsEverything(t *testing.T) {
	var limiter *RateLimiter
	ctx := context.Background()
	if err := limiter.Allow(ctx, "x"); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
	if err := limiter.UploadAllowance(ctx, "x", 1<<30); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
	limiter.Release(ctx, "x")
}

func TestConfigEnabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Fatal("zero config should be disabled")
	}
	if !(Config{UploadBytesPerMinute: 1}).Enabled() {
		t.Fatal("upload budget should enable limits")
	}
}
