package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "studentrisk:label:"

var ErrCacheConnection = errors.New("failed to connect to redis")

// Redis shares cached labels between server instances.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedis(ctx context.Context, addr string, ttl time.Duration, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, ttl: ttl, logger: logger}, nil
}

// Get treats every redis failure as a miss.
func (c *Redis) Get(ctx context.Context, key string) (string, bool) {
	label, err := c.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("label cache get failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return label, true
}

func (c *Redis) Set(ctx context.Context, key string, label string) {
	if err := c.client.Set(ctx, keyPrefix+key, label, c.ttl).Err(); err != nil {
		c.logger.Warn("label cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Redis) Close() error {
	return c.client.Close()
}
