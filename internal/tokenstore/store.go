// Package tokenstore persists the bearer token issued at login.
package tokenstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"
)

// DefaultTokenType is used when the server does not report one.
const DefaultTokenType = "bearer"

// Token is a persisted credential.
type Token struct {
	AccessToken string    `yaml:"access_token"`
	TokenType   string    `yaml:"token_type"`
	ExpiresAt   time.Time `yaml:"expires_at,omitempty"`
}

// Store keeps the current token in memory and, when backed by a path, in a
// YAML file readable only by the owner. All methods are safe for concurrent use.
type Store struct {
	path string

	mu    sync.RWMutex
	token *Token
}

// New opens a file-backed store. A missing file yields an empty store; a
// corrupt file is treated as logged out and removed on the next Set or Clear.
func New(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var t Token
	if err := yaml.Unmarshal(data, &t); err != nil || t.AccessToken == "" {
		return s, nil
	}
	s.token = &t
	return s, nil
}

// NewMemory creates a store that is never written to disk.
func NewMemory() *Store {
	return &Store{}
}

// Token returns the access token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return ""
	}
	return s.token.AccessToken
}

// Get returns the stored token and whether one is present.
func (s *Store) Get() (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return Token{}, false
	}
	return *s.token, true
}

// Set stores a token. If ExpiresAt is zero it is read from the JWT "exp"
// claim when available.
func (s *Store) Set(t Token) error {
	if t.AccessToken == "" {
		return errors.New("empty access token")
	}
	if t.TokenType == "" {
		t.TokenType = DefaultTokenType
	}
	if t.ExpiresAt.IsZero() {
		if exp, ok := ExpiryFromJWT(t.AccessToken); ok {
			t.ExpiresAt = exp
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		data, err := yaml.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal token: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
		if err := os.WriteFile(s.path, data, 0o600); err != nil {
			return fmt.Errorf("write token file: %w", err)
		}
	}
	s.token = &t
	return nil
}

// Clear removes the token from memory and disk.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = nil
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// Expired reports whether the stored token has a known expiry at or before
// now. Tokens without an expiry never expire client-side.
func (s *Store) Expired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil || s.token.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.token.ExpiresAt)
}

// ExpiryFromJWT reads the "exp" claim without verifying the signature. The
// server remains the authority; this only lets the client warn early.
func ExpiryFromJWT(raw string) (time.Time, bool) {
	tok, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
