package storage

import (
	"context"
	"sync"

	"freework/authapi"
)

// memoryStore implements Store with in-process state. Used by tests and
// shells that do not want credentials to survive a restart.
type memoryStore struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	user         *authapi.User
}

func (s *memoryStore) SetTokens(_ context.Context, accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = accessToken
	s.refreshToken = refreshToken
	return nil
}

func (s *memoryStore) AccessToken(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken, nil
}

func (s *memoryStore) RefreshToken(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken, nil
}

func (s *memoryStore) SetUser(_ context.Context, user *authapi.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = cloneUser(user)
	return nil
}

func (s *memoryStore) User(_ context.Context) (*authapi.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneUser(s.user), nil
}

func (s *memoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.refreshToken = ""
	s.user = nil
	return nil
}

func (s *memoryStore) Close() error { return nil }

func cloneUser(u *authapi.User) *authapi.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
