// Package tokenstore holds the client's credential pair and decides expiry.
//
// The access credential lives in process memory only; the refresh credential
// persists in an encrypted vault under the user config dir. A restart forgets
// the access token and keeps the refresh token.
package tokenstore

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ExpiryMargin is added to "now" when evaluating token expiry, so a token
// about to expire mid-flight is treated as already expired.
const ExpiryMargin = 10 * time.Second

var errNoClaims = errors.New("token has no expiry claim")

// Store is the process-wide credential cache. Mutations are last-write-wins;
// the mutex keeps reads consistent under concurrent gateway refreshes.
type Store struct {
	mu      sync.Mutex
	access  string
	refresh string
	vault   *Vault
	log     *zap.Logger
}

// New creates a Store backed by vault. The stored refresh credential, if any,
// is loaded eagerly; a corrupted vault is treated as absent (fail-safe) and
// wiped so the next login starts clean.
func New(vault *Vault, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{vault: vault, log: log}
	refresh, err := vault.Load()
	if err != nil {
		log.Warn("refresh vault unreadable, clearing", zap.Error(err))
		_ = vault.Clear()
		return s
	}
	s.refresh = refresh
	return s
}

// Get returns the in-memory access credential.
func (s *Store) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access, s.access != ""
}

// RefreshToken returns the current refresh credential, "" if none.
func (s *Store) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh
}

// Set stores the access credential in memory and, when refresh is non-empty,
// persists it to the vault. An access-only update retains the existing
// refresh credential.
func (s *Store) Set(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	if refresh == "" {
		return nil
	}
	s.refresh = refresh
	return s.vault.Store(refresh)
}

// Clear erases both credentials, in memory and on disk.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = ""
	s.refresh = ""
	return s.vault.Clear()
}

// IsExpired reports whether the access token's claimed expiry is within
// ExpiryMargin of now. A malformed token is treated as already expired.
func (s *Store) IsExpired(access string) bool {
	exp, err := ExpiresAt(access)
	if err != nil {
		return true
	}
	return !exp.After(time.Now().Add(ExpiryMargin))
}

// ExpiresAt derives the expiry from the token's claims. The claims are read
// fresh on every call and the signature is not verified; only the server
// validates tokens, the client just schedules around them.
func ExpiresAt(access string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(access, &claims)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errNoClaims
	}
	return claims.ExpiresAt.Time, nil
}
