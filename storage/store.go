// Package storage persists the client's credentials: the access/refresh
// token pair and the serialized current user. It is the single durable
// surface the session manager writes; no other writer may exist.
//
// Drivers: "memory" (tests, ephemeral shells), "file" (origin-scoped durable
// storage for desktop/CLI shells), "redis" (shared out-of-process storage).
package storage

import (
	"context"

	"freework/authapi"
)

// DriverType selects the backing driver.
type DriverType string

const (
	DriverMemory DriverType = "memory"
	DriverFile   DriverType = "file"
	DriverRedis  DriverType = "redis"
)

// Store is the credential storage contract.
//
// Absent values are returned as zero values with a nil error; only transport
// or encoding failures are errors. Clear removes the token pair and the user
// record together: a half-cleared store would let a stale refresh token
// outlive its session.
type Store interface {
	// SetTokens persists the access/refresh pair together.
	SetTokens(ctx context.Context, accessToken, refreshToken string) error

	// AccessToken returns the stored access token, or "" when absent.
	AccessToken(ctx context.Context) (string, error)

	// RefreshToken returns the stored refresh token, or "" when absent.
	RefreshToken(ctx context.Context) (string, error)

	// SetUser persists the current user record.
	SetUser(ctx context.Context, user *authapi.User) error

	// User returns the stored user record, or nil when absent.
	User(ctx context.Context) (*authapi.User, error)

	// Clear removes tokens and user record atomically.
	Clear(ctx context.Context) error

	// Close releases driver resources.
	Close() error
}

// NewStore creates a Store for the given driver type.
// The file driver requires WithFilePath; the redis driver requires
// WithRedisClient.
func NewStore(driver DriverType, opts ...Option) (Store, error) {
	cfg := &storeConfig{keyPrefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(cfg)
	}

	switch driver {
	case DriverMemory:
		return &memoryStore{}, nil

	case DriverFile:
		if cfg.filePath == "" {
			return nil, ErrInvalidConfig
		}
		return &fileStore{path: cfg.filePath}, nil

	case DriverRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return &redisStore{
			client: cfg.redisClient,
			prefix: cfg.keyPrefix,
			ttl:    cfg.redisTTL,
		}, nil

	default:
		return nil, ErrInvalidDriver
	}
}
