package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter connects to a local Redis and clears leftover test keys.
// Tests using it require a running Redis on localhost:6379.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	cleanup := func() {
		iter := client.Scan(ctx, 0, "rl:test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewLimiter(client)
}

func TestAllowUnderLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test_under:", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "user1", rule)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if !allowed {
			t.Fatalf("call %d: expected allowed", i)
		}
	}
}

func TestBlockOverLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test_over:", Limit: 2, Window: time.Minute}

	limiter.Allow(ctx, "user1", rule)
	limiter.Allow(ctx, "user1", rule)

	allowed, err := limiter.Allow(ctx, "user1", rule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("expected third call blocked")
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test_indep:", Limit: 1, Window: time.Minute}

	if allowed, _ := limiter.Allow(ctx, "user1", rule); !allowed {
		t.Fatal("user1 first call should be allowed")
	}
	if allowed, _ := limiter.Allow(ctx, "user1", rule); allowed {
		t.Fatal("user1 second call should be blocked")
	}
	if allowed, _ := limiter.Allow(ctx, "user2", rule); !allowed {
		t.Fatal("user2 must not be affected by user1's counter")
	}
}

func TestWindowExpiryResets(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: fmt.Sprintf("rl:test_expiry_%d:", time.Now().UnixNano()), Limit: 1, Window: time.Second}

	if allowed, _ := limiter.Allow(ctx, "user1", rule); !allowed {
		t.Fatal("first call should be allowed")
	}
	if allowed, _ := limiter.Allow(ctx, "user1", rule); allowed {
		t.Fatal("second call inside the window should be blocked")
	}

	time.Sleep(1100 * time.Millisecond)

	if allowed, _ := limiter.Allow(ctx, "user1", rule); !allowed {
		t.Fatal("expected a fresh window after expiry")
	}
}
