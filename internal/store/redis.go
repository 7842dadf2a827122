package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisSeenCounts keeps seen counts in Redis, which is shared between the
// API replicas and cheap to hit on every poll.
type RedisSeenCounts struct {
	client *redis.Client
}

func NewRedisSeenCounts(client *redis.Client) *RedisSeenCounts {
	return &RedisSeenCounts{client: client}
}

func seenKey(userID, requestID string) string {
	return fmt.Sprintf("seen:%s:%s", userID, requestID)
}

func (r *RedisSeenCounts) Get(ctx context.Context, userID, requestID string) (int, error) {
	val, err := r.client.Get(ctx, seenKey(userID, requestID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func (r *RedisSeenCounts) Set(ctx context.Context, userID, requestID string, count int) error {
	return r.client.Set(ctx, seenKey(userID, requestID), count, 0).Err()
}

func (r *RedisSeenCounts) GetMany(ctx context.Context, userID string, requestIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(requestIDs))
	if len(requestIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(requestIDs))
	for i, id := range requestIDs {
		keys[i] = seenKey(userID, id)
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			// Unreadable counts reset to zero
			continue
		}
		out[requestIDs[i]] = n
	}
	return out, nil
}
