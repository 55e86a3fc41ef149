package tokenstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(NewVault(t.TempDir()), nil)
}

func TestStore_SetGetClear(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	if _, ok := s.Get(); ok {
		t.Fatalf("empty store returned an access token")
	}

	require.NoError(t, s.Set("acc-1", "ref-1"))
	got, ok := s.Get()
	require.True(t, ok)
	require.Equal(t, "acc-1", got)
	require.Equal(t, "ref-1", s.RefreshToken())

	// access-only update keeps the refresh credential
	require.NoError(t, s.Set("acc-2", ""))
	got, _ = s.Get()
	require.Equal(t, "acc-2", got)
	require.Equal(t, "ref-1", s.RefreshToken())

	require.NoError(t, s.Clear())
	if _, ok := s.Get(); ok || s.RefreshToken() != "" {
		t.Fatalf("Clear left credentials behind")
	}
}

func TestStore_RefreshSurvivesRestart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s1 := New(NewVault(dir), nil)
	require.NoError(t, s1.Set("acc", "ref-persisted"))

	// new store over the same dir: access forgotten, refresh retained
	s2 := New(NewVault(dir), nil)
	if _, ok := s2.Get(); ok {
		t.Fatalf("access token survived restart")
	}
	require.Equal(t, "ref-persisted", s2.RefreshToken())
}

func TestStore_CorruptVaultFailsSafe(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s1 := New(NewVault(dir), nil)
	require.NoError(t, s1.Set("acc", "ref"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "refresh.bin"), []byte("garbage"), 0o600))

	s2 := New(NewVault(dir), nil)
	require.Equal(t, "", s2.RefreshToken())
	// corrupted blob was wiped
	if _, err := os.Stat(filepath.Join(dir, "refresh.bin")); !os.IsNotExist(err) {
		t.Fatalf("corrupted vault not cleared: %v", err)
	}
}

func TestIsExpired_Margin(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	// well past the 10s margin
	if s.IsExpired(signedToken(t, time.Now().Add(time.Minute))) {
		t.Fatalf("fresh token reported expired")
	}
	// inside the margin counts as expired even though technically valid
	if !s.IsExpired(signedToken(t, time.Now().Add(5*time.Second))) {
		t.Fatalf("token within margin reported valid")
	}
	if !s.IsExpired(signedToken(t, time.Now().Add(-time.Minute))) {
		t.Fatalf("expired token reported valid")
	}
}

func TestIsExpired_MalformedToken(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if !s.IsExpired(tok) {
			t.Fatalf("malformed token %q reported valid", tok)
		}
	}
}

func TestExpiresAt_DerivedFresh(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(42 * time.Minute).Truncate(time.Second)
	got, err := ExpiresAt(signedToken(t, exp))
	require.NoError(t, err)
	require.WithinDuration(t, exp, got, time.Second)

	_, err = ExpiresAt("broken")
	require.Error(t, err)
}
