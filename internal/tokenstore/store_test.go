package tokenstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "buyer@example.com",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sqlchat", "token.yaml")

	s, err := New(path)
	require.NoError(t, err)
	assert.Empty(t, s.Token())

	require.NoError(t, s.Set(Token{AccessToken: "abc"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := New(path)
	require.NoError(t, err)
	tok, ok := reopened.Get()
	require.True(t, ok)
	assert.Equal(t, "abc", tok.AccessToken)
	assert.Equal(t, DefaultTokenType, tok.TokenType)
}

func TestStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.yaml")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(Token{AccessToken: "abc", TokenType: "bearer"}))

	require.NoError(t, s.Clear())
	assert.Empty(t, s.Token())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// clearing twice is fine
	require.NoError(t, s.Clear())
}

func TestStoreCorruptFileIsLoggedOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.yaml")
	require.NoError(t, os.WriteFile(path, []byte("::: not yaml"), 0o600))

	s, err := New(path)
	require.NoError(t, err)
	_, ok := s.Get()
	assert.False(t, ok)
}

func TestStoreRejectsEmptyToken(t *testing.T) {
	s := NewMemory()
	assert.Error(t, s.Set(Token{}))
}

func TestExpiryFromJWT(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)

	got, ok := ExpiryFromJWT(signedToken(t, exp))
	require.True(t, ok)
	assert.True(t, got.Equal(exp))

	_, ok = ExpiryFromJWT("opaque-token")
	assert.False(t, ok)
}

func TestStoreExpired(t *testing.T) {
	s := NewMemory()
	now := time.Now()

	assert.False(t, s.Expired(now), "no token never expires")

	require.NoError(t, s.Set(Token{AccessToken: signedToken(t, now.Add(-time.Minute))}))
	assert.True(t, s.Expired(now))

	require.NoError(t, s.Set(Token{AccessToken: signedToken(t, now.Add(time.Hour))}))
	assert.False(t, s.Expired(now))

	require.NoError(t, s.Set(Token{AccessToken: "opaque"}))
	assert.False(t, s.Expired(now), "opaque tokens have no client-side expiry")
}
