package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"freework/authapi"
)

// redisStore implements Store over Redis. All three keys share a prefix;
// Clear deletes them in one DEL so no partial session survives a logout.
type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (s *redisStore) accessKey() string  { return s.prefix + ":access_token" }
func (s *redisStore) refreshKey() string { return s.prefix + ":refresh_token" }
func (s *redisStore) userKey() string    { return s.prefix + ":user" }

func (s *redisStore) SetTokens(ctx context.Context, accessToken, refreshToken string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.accessKey(), accessToken, s.ttl)
		pipe.Set(ctx, s.refreshKey(), refreshToken, s.ttl)
		return nil
	})
	return err
}

func (s *redisStore) AccessToken(ctx context.Context) (string, error) {
	return s.get(ctx, s.accessKey())
}

func (s *redisStore) RefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, s.refreshKey())
}

func (s *redisStore) get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *redisStore) SetUser(ctx context.Context, user *authapi.User) error {
	val, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.userKey(), val, s.ttl).Err()
}

func (s *redisStore) User(ctx context.Context) (*authapi.User, error) {
	val, err := s.client.Get(ctx, s.userKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var user authapi.User
	if err := json.Unmarshal([]byte(val), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *redisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.accessKey(), s.refreshKey(), s.userKey()).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
