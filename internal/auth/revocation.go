package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fileshare/internal/apperr"
)

// RevocationCache tracks live refresh tokens: a token with no entry is
// revoked or expired. Only refresh-token liveness goes through the
// cache; access tokens are stateless.
type RevocationCache interface {
	Put(ctx context.Context, token, userID string, ttl time.Duration) error
	Exists(ctx context.Context, token string) (bool, error)
	Del(ctx context.Context, token string) error
}

const cacheCallTimeout = 2 * time.Second

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Put(ctx context.Context, token, userID string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
	defer cancel()

	if err := c.client.Set(ctx, token, userID, ttl).Err(); err != nil {
		return cacheError("set refresh token", err)
	}
	return nil
}

func (c *RedisCache) Exists(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
	defer cancel()

	count, err := c.client.Exists(ctx, token).Result()
	if err != nil {
		return false, cacheError("check refresh token", err)
	}
	return count > 0, nil
}

func (c *RedisCache) Del(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, cacheCallTimeout)
	defer cancel()

	if err := c.client.Del(ctx, token).Err(); err != nil {
		return cacheError("delete refresh token", err)
	}
	return nil
}

func cacheError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindTransient, op+" timed out", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
