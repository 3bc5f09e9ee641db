package storage

import (
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "freework"

// Option is a functional option for configuring a store driver.
type Option func(*storeConfig)

type storeConfig struct {
	filePath    string
	redisClient *redis.Client
	redisTTL    time.Duration
	keyPrefix   string
}

// WithFilePath sets the JSON file path for the file driver.
func WithFilePath(path string) Option {
	return func(c *storeConfig) { c.filePath = path }
}

// WithRedisClient sets the Redis client for the redis driver.
func WithRedisClient(client *redis.Client) Option {
	return func(c *storeConfig) { c.redisClient = client }
}

// WithRedisTTL sets an expiry on stored credentials (0 means no expiry).
func WithRedisTTL(ttl time.Duration) Option {
	return func(c *storeConfig) { c.redisTTL = ttl }
}

// WithKeyPrefix overrides the redis key prefix (default "freework").
func WithKeyPrefix(prefix string) Option {
	return func(c *storeConfig) { c.keyPrefix = prefix }
}
