package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// GroupPrefix is the Redis key prefix for per-group online sets.
	GroupPrefix = "presence:group:"

	// MemberTTL bounds how long an online set survives without activity, so
	// a crashed gateway cannot leave users online forever.
	MemberTTL = 2 * time.Hour
)

// Registry tracks which users are online in each group. Each group maps to a
// Redis set of user ids; the gateway calls Join/Leave as websocket
// connections come and go and broadcasts the resulting count.
type Registry struct {
	client *redis.Client
}

// NewRegistry creates a registry using the provided Redis client.
func NewRegistry(client *redis.Client) *Registry {
	return &Registry{client: client}
}

// Join marks a user online in a group and returns the new online count.
func (r *Registry) Join(ctx context.Context, groupID, userID int64) (int, error) {
	key := GroupPrefix + strconv.FormatInt(groupID, 10)

	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, key, userID)
	pipe.Expire(ctx, key, MemberTTL)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("presence: join group %d: %w", groupID, err)
	}
	return int(card.Val()), nil
}

// Leave marks a user offline in a group and returns the new online count.
// Leaving a group the user was never in is a harmless no-op.
func (r *Registry) Leave(ctx context.Context, groupID, userID int64) (int, error) {
	key := GroupPrefix + strconv.FormatInt(groupID, 10)

	pipe := r.client.Pipeline()
	pipe.SRem(ctx, key, userID)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("presence: leave group %d: %w", groupID, err)
	}
	return int(card.Val()), nil
}

// OnlineCount returns the current online count for a group.
func (r *Registry) OnlineCount(ctx context.Context, groupID int64) (int, error) {
	key := GroupPrefix + strconv.FormatInt(groupID, 10)
	n, err := r.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("presence: count group %d: %w", groupID, err)
	}
	return int(n), nil
}
