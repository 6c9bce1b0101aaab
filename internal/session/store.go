// Package session resolves opaque bearer tokens to user identities. Token
// issuing and validation belong to the external auth service; this store
// only looks up identities the auth service has placed in Redis.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// TokenPrefix is the Redis key prefix for bearer-token hashes.
	TokenPrefix = "token:"

	// TokenTTL is refreshed on every successful resolution so active users
	// stay logged in.
	TokenTTL = 1 * time.Hour
)

// ErrUnknownToken is returned when a token has no identity in Redis,
// typically because it expired or was revoked.
var ErrUnknownToken = errors.New("session: unknown token")

// Identity is the resolved owner of a bearer token.
type Identity struct {
	UserID   int64  `redis:"user_id"`
	Username string `redis:"username"`
}

// Store resolves bearer tokens against Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a session store connected to Redis at the given address.
func NewStore(redisAddr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

// NewStoreWithClient wraps an existing Redis client, for callers that share
// one client across stores.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Resolve returns the identity behind a bearer token and refreshes its TTL.
func (s *Store) Resolve(ctx context.Context, token string) (*Identity, error) {
	key := TokenPrefix + token

	var identity Identity
	if err := s.client.HGetAll(ctx, key).Scan(&identity); err != nil {
		return nil, fmt.Errorf("session: resolve token: %w", err)
	}
	if identity.UserID == 0 {
		return nil, ErrUnknownToken
	}

	if err := s.client.Expire(ctx, key, TokenTTL).Err(); err != nil {
		return nil, fmt.Errorf("session: refresh token ttl: %w", err)
	}
	return &identity, nil
}

// Put stores an identity under a token with the standard TTL. Used by the
// auth service and by tests.
func (s *Store) Put(ctx context.Context, token string, identity Identity) error {
	key := TokenPrefix + token

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":  identity.UserID,
		"username": identity.Username,
	})
	pipe.Expire(ctx, key, TokenTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Revoke removes a token immediately.
func (s *Store) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, TokenPrefix+token).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
