package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores the token under one key of a redis database.
type Redis struct {
	rdb redis.UniversalClient
	key string
	ttl time.Duration
}

// NewRedis creates a store writing to key. A ttl of zero keeps the key
// until it is overwritten.
func NewRedis(rdb redis.UniversalClient, key string, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, key: key, ttl: ttl}
}

// Load returns the stored token, or "" when the key does not exist.
func (r *Redis) Load(ctx context.Context) (string, error) {
	token, err := r.rdb.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("tokenstore: get %s: %w", r.key, err)
	}
	return token, nil
}

// Save writes token, or deletes the key when token is empty.
func (r *Redis) Save(ctx context.Context, token string) error {
	var err error
	if token == "" {
		err = r.rdb.Del(ctx, r.key).Err()
	} else {
		err = r.rdb.Set(ctx, r.key, token, r.ttl).Err()
	}
	if err != nil {
		return fmt.Errorf("tokenstore: save %s: %w", r.key, err)
	}
	return nil
}
