package session

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestStore connects to a local Redis and cleans test tokens. Tests that
// call it require a running Redis on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	cleanup := func() {
		iter := client.Scan(ctx, 0, TokenPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewStoreWithClient(client)
}

func TestPutAndResolve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Put(ctx, "test_tok1", Identity{UserID: 7, Username: "alice"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	identity, err := store.Resolve(ctx, "test_tok1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if identity.UserID != 7 || identity.Username != "alice" {
		t.Errorf("unexpected identity: %+v", identity)
	}
}

func TestResolveUnknownToken(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Resolve(context.Background(), "test_never_issued")
	if !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Put(ctx, "test_tok2", Identity{UserID: 8, Username: "bob"})
	if err := store.Revoke(ctx, "test_tok2"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := store.Resolve(ctx, "test_tok2"); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken after revoke, got %v", err)
	}
}
