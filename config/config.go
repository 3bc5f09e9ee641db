// Package config loads and validates client configuration from env and an
// optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"freework/realtime"
	"freework/session"
	"freework/storage"
)

// Config holds client configuration loaded from the environment.
type Config struct {
	// APIURL is the REST API base URL (e.g. http://localhost:8080/api).
	APIURL string `mapstructure:"FREEWORK_API_URL"`
	// WSURL is the realtime WebSocket endpoint (e.g. ws://localhost:8080/ws).
	WSURL string `mapstructure:"FREEWORK_WS_URL"`

	// StorageDriver selects the credential store: memory, file, or redis.
	StorageDriver string `mapstructure:"FREEWORK_STORAGE_DRIVER"`
	// StorageFilePath is the credential file location for the file driver.
	StorageFilePath string `mapstructure:"FREEWORK_STORAGE_FILE_PATH"`
	// RedisAddr is the redis host:port for the redis driver.
	RedisAddr string `mapstructure:"FREEWORK_REDIS_ADDR"`
	// RedisPassword is the redis AUTH password, if any.
	RedisPassword string `mapstructure:"FREEWORK_REDIS_PASSWORD"`
	// RedisDB is the redis logical database index.
	RedisDB int `mapstructure:"FREEWORK_REDIS_DB"`
	// RedisKeyPrefix namespaces the credential keys.
	RedisKeyPrefix string `mapstructure:"FREEWORK_REDIS_KEY_PREFIX"`

	// RefreshLead is how long before access-token expiry a refresh runs (e.g. "60s").
	RefreshLead string `mapstructure:"FREEWORK_REFRESH_LEAD"`
	// RefreshRetryInterval is the wait after a transient refresh failure (e.g. "30s").
	RefreshRetryInterval string `mapstructure:"FREEWORK_REFRESH_RETRY_INTERVAL"`
	// OpTimeout bounds one background auth call (e.g. "15s").
	OpTimeout string `mapstructure:"FREEWORK_OP_TIMEOUT"`

	// ReconnectInterval is the fixed wait between reconnect attempts (e.g. "3s").
	ReconnectInterval string `mapstructure:"FREEWORK_RECONNECT_INTERVAL"`
	// MaxReconnectAttempts bounds automatic reconnection before giving up.
	MaxReconnectAttempts int `mapstructure:"FREEWORK_MAX_RECONNECT_ATTEMPTS"`
	// DialTimeout bounds one WebSocket dial (e.g. "10s").
	DialTimeout string `mapstructure:"FREEWORK_DIAL_TIMEOUT"`
	// StreamBuffer is the per-subscriber event buffer size.
	StreamBuffer int `mapstructure:"FREEWORK_STREAM_BUFFER"`

	// LogLevel is the slog level: debug, info, warn, or error.
	LogLevel string `mapstructure:"FREEWORK_LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"FREEWORK_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Missing .env is ignored; env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("FREEWORK_API_URL", "http://localhost:8080/api")
	v.SetDefault("FREEWORK_WS_URL", "ws://localhost:8080/ws")
	v.SetDefault("FREEWORK_STORAGE_DRIVER", string(storage.DriverMemory))
	v.SetDefault("FREEWORK_STORAGE_FILE_PATH", "")
	v.SetDefault("FREEWORK_REDIS_ADDR", "")
	v.SetDefault("FREEWORK_REDIS_PASSWORD", "")
	v.SetDefault("FREEWORK_REDIS_DB", 0)
	v.SetDefault("FREEWORK_REDIS_KEY_PREFIX", "freework")
	v.SetDefault("FREEWORK_REFRESH_LEAD", "60s")
	v.SetDefault("FREEWORK_REFRESH_RETRY_INTERVAL", "30s")
	v.SetDefault("FREEWORK_OP_TIMEOUT", "15s")
	v.SetDefault("FREEWORK_RECONNECT_INTERVAL", "3s")
	v.SetDefault("FREEWORK_MAX_RECONNECT_ATTEMPTS", 5)
	v.SetDefault("FREEWORK_DIAL_TIMEOUT", "10s")
	v.SetDefault("FREEWORK_STREAM_BUFFER", 64)
	v.SetDefault("FREEWORK_LOG_LEVEL", "info")
	v.SetDefault("FREEWORK_ENV", "development")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.APIURL == "" {
		return nil, errors.New("config: FREEWORK_API_URL must be set")
	}
	if cfg.WSURL == "" {
		return nil, errors.New("config: FREEWORK_WS_URL must be set")
	}
	switch storage.DriverType(cfg.StorageDriver) {
	case storage.DriverMemory, storage.DriverRedis:
	case storage.DriverFile:
		if cfg.StorageFilePath == "" {
			return nil, errors.New("config: FREEWORK_STORAGE_FILE_PATH must be set for the file driver")
		}
	default:
		return nil, errors.New("config: FREEWORK_STORAGE_DRIVER must be memory, file, or redis")
	}
	if cfg.StorageDriver == string(storage.DriverRedis) && cfg.RedisAddr == "" {
		return nil, errors.New("config: FREEWORK_REDIS_ADDR must be set for the redis driver")
	}
	if cfg.MaxReconnectAttempts < 0 {
		return nil, errors.New("config: FREEWORK_MAX_RECONNECT_ATTEMPTS must not be negative")
	}

	return &cfg, nil
}

// Session builds the session-manager configuration.
func (c *Config) Session() session.Config {
	return session.Config{
		RefreshLead:   duration(c.RefreshLead, 60*time.Second),
		RetryInterval: duration(c.RefreshRetryInterval, 30*time.Second),
		OpTimeout:     duration(c.OpTimeout, 15*time.Second),
	}
}

// Realtime builds the realtime-channel configuration.
func (c *Config) Realtime() realtime.Config {
	cfg := realtime.DefaultConfig()
	cfg.URL = c.WSURL
	cfg.ReconnectInterval = duration(c.ReconnectInterval, cfg.ReconnectInterval)
	cfg.MaxReconnectAttempts = c.MaxReconnectAttempts
	cfg.DialTimeout = duration(c.DialTimeout, cfg.DialTimeout)
	if c.StreamBuffer > 0 {
		cfg.StreamBuffer = c.StreamBuffer
	}
	return cfg
}

// StorageOptions builds the credential-store driver options.
func (c *Config) StorageOptions() (storage.DriverType, []storage.Option) {
	driver := storage.DriverType(c.StorageDriver)
	var opts []storage.Option
	switch driver {
	case storage.DriverFile:
		opts = append(opts, storage.WithFilePath(c.StorageFilePath))
	case storage.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		opts = append(opts, storage.WithRedisClient(client), storage.WithKeyPrefix(c.RedisKeyPrefix))
	}
	return driver, opts
}

// duration parses s, falling back when unset or invalid.
func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
