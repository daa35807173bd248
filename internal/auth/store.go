package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

// User is the GitHub identity behind a credential.
type User struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatarUrl"`
	Name      string `json:"name,omitempty"`
}

// Credential is the persisted token and identity of the signed-in user.
type Credential struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Store persists a single credential per installation as a JSON file.
// Writes replace the file atomically.
type Store struct {
	path string

	mu     sync.RWMutex
	cached *Credential
}

// NewStore returns a store for the installation identified by key (for
// example the repository slug) under dir.
func NewStore(dir, key string) *Store {
	name := strings.NewReplacer("/", "__", "\\", "__", ":", "_").Replace(key)
	if name == "" {
		name = "default"
	}
	return &Store{path: filepath.Join(dir, name+".json")}
}

// Path is the file backing the store.
func (s *Store) Path() string { return s.path }

// Load returns the stored credential, or nil when none exists. Only a found
// credential is cached; while signed out the file is read again on every
// call, so a login made by another process is picked up.
func (s *Store) Load() (*Credential, error) {
	s.mu.RLock()
	if c := s.cached; c != nil {
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential: %w", err)
	}

	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", s.path, err)
	}
	if c.Token == "" {
		return nil, nil
	}
	s.cached = &c
	return &c, nil
}

// Save overwrites the stored credential.
func (s *Store) Save(c Credential) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	// atomic.WriteFile does not set permissions on new files.
	if err := os.Chmod(s.path, 0o600); err != nil {
		return fmt.Errorf("chmod credential: %w", err)
	}

	s.cached = &c
	return nil
}

// Clear removes the stored credential. Clearing an empty store is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credential: %w", err)
	}
	s.cached = nil
	return nil
}

// Current implements github.Credentials.
func (s *Store) Current() (token, login string, ok bool) {
	c, err := s.Load()
	if err != nil || c == nil {
		return "", "", false
	}
	return c.Token, c.User.Login, true
}

// User returns the signed-in identity without the token.
func (s *Store) User() (*User, bool) {
	c, err := s.Load()
	if err != nil || c == nil {
		return nil, false
	}
	u := c.User
	return &u, true
}
