package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClientOptions configures the Redis connection shared by the
// cross-request cache and the execution history store.
type RedisClientOptions struct {
	RedisURL    string
	PingTimeout time.Duration
	Logger      Logger
}

// NewRedisClient parses the URL, connects and pings the server.
func NewRedisClient(opts RedisClientOptions) (*redis.Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}

	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		logger.Error("Failed to parse Redis URL", map[string]interface{}{
			"operation": "redis_connect",
			"error":     err.Error(),
		})
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrInvalidConfiguration)
	}

	client := redis.NewClient(redisOpt)

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.Error("Failed to connect to Redis", map[string]interface{}{
			"operation": "redis_connect",
			"error":     err.Error(),
			"db":        redisOpt.DB,
		})
		return nil, fmt.Errorf("failed to connect to Redis DB %d: %w", redisOpt.DB, ErrConnectionFailed)
	}

	logger.Info("Redis client connected", map[string]interface{}{
		"operation": "redis_connect",
		"db":        redisOpt.DB,
	})
	return client, nil
}
