package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"freework/authapi"
)

// fileStore implements Store over a single JSON file. Writes go through a
// temp file + rename so a crash never leaves a half-written credential file,
// and Clear is one atomic replacement of the whole record.
type fileStore struct {
	mu   sync.Mutex
	path string
}

type fileRecord struct {
	AccessToken  string        `json:"access_token,omitempty"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	User         *authapi.User `json:"user,omitempty"`
}

func (s *fileStore) load() (fileRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileRecord{}, nil
	}
	if err != nil {
		return fileRecord{}, err
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fileRecord{}, err
	}
	return rec, nil
}

func (s *fileStore) save(rec fileRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) SetTokens(_ context.Context, accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return err
	}
	rec.AccessToken = accessToken
	rec.RefreshToken = refreshToken
	return s.save(rec)
}

func (s *fileStore) AccessToken(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

func (s *fileStore) RefreshToken(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return "", err
	}
	return rec.RefreshToken, nil
}

func (s *fileStore) SetUser(_ context.Context, user *authapi.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return err
	}
	rec.User = user
	return s.save(rec)
}

func (s *fileStore) User(_ context.Context) (*authapi.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return nil, err
	}
	return rec.User, nil
}

func (s *fileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *fileStore) Close() error { return nil }
