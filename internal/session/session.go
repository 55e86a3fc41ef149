// Package session owns the current-user identity and its lifecycle.
package session

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/vkarpenko/apphub-cli/internal/errs"
	"github.com/vkarpenko/apphub-cli/internal/model"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticating  Status = "authenticating"
	StatusAuthenticated   Status = "authenticated"
	StatusError           Status = "error"
)

// AuthAPI is the slice of the REST surface the manager needs.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (model.Token, error)
	Refresh(ctx context.Context, refreshToken string) (model.Token, error)
	Signup(ctx context.Context, email, password, fullName string) (model.User, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context) (model.User, error)
	ChangePassword(ctx context.Context, current, newPassword string) error
}

// Tokens is the credential storage slice the manager needs.
type Tokens interface {
	Get() (string, bool)
	RefreshToken() string
	Set(access, refresh string) error
	Clear() error
	IsExpired(access string) bool
}

// Manager drives the Unauthenticated -> Authenticating -> Authenticated
// state machine and owns the current identity.
//
// The mutex guards status and user only and is never held across network
// I/O: the gateway's session-invalid callback re-enters through Invalidate
// while an API call made by this manager is still in flight.
type Manager struct {
	mu     sync.Mutex
	api    AuthAPI
	tokens Tokens
	log    *zap.Logger

	status Status
	user   *model.User
}

// NewManager constructs a Manager in the Unauthenticated state.
func NewManager(api AuthAPI, tokens Tokens, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{api: api, tokens: tokens, log: log, status: StatusUnauthenticated}
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// User returns a copy of the authenticated identity, or nil.
func (m *Manager) User() *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// IsAdmin is a pure projection of the identity's role, never cached apart
// from the identity itself.
func (m *Manager) IsAdmin() bool {
	u := m.User()
	return u != nil && u.IsAdmin()
}

// IsDeveloper reports whether the identity carries the developer role.
func (m *Manager) IsDeveloper() bool {
	u := m.User()
	return u != nil && u.IsDeveloper()
}

// Bootstrap restores the session at startup from stored credentials.
// With no credentials it stays Unauthenticated. With a live access token it
// verifies the identity. With only a refresh credential (or an expired access
// token) it refreshes first, avoiding a guaranteed-failing identity call.
// Any failure along the way clears all credentials.
func (m *Manager) Bootstrap(ctx context.Context) error {
	access, haveAccess := m.tokens.Get()
	refresh := m.tokens.RefreshToken()
	if !haveAccess && refresh == "" {
		m.setState(StatusUnauthenticated, nil)
		return nil
	}

	m.setStatus(StatusAuthenticating)

	if !haveAccess || m.tokens.IsExpired(access) {
		if refresh == "" {
			return m.reset(fmt.Errorf("%w: access token expired, no refresh credential", errs.ErrUnauthorized))
		}
		tok, err := m.api.Refresh(ctx, refresh)
		if err != nil {
			return m.reset(err)
		}
		if err := m.tokens.Set(tok.AccessToken, tok.RefreshToken); err != nil {
			return m.reset(err)
		}
	}

	u, err := m.api.Me(ctx)
	if err != nil {
		return m.reset(err)
	}
	m.setState(StatusAuthenticated, &u)
	m.log.Debug("session restored", zap.String("role", string(u.Role)))
	return nil
}

// Login authenticates and loads the identity. A rejected login leaves stored
// credentials untouched.
func (m *Manager) Login(ctx context.Context, email, password string) (model.User, error) {
	if email == "" || password == "" {
		return model.User{}, fmt.Errorf("%w: email and password are required", errs.ErrValidation)
	}

	prev := m.Status()
	m.setStatus(StatusAuthenticating)

	tok, err := m.api.Login(ctx, email, password)
	if err != nil {
		m.setStatus(prev)
		return model.User{}, err
	}
	if err := m.tokens.Set(tok.AccessToken, tok.RefreshToken); err != nil {
		return model.User{}, m.reset(err)
	}

	u, err := m.api.Me(ctx)
	if err != nil {
		// tokens are stored and likely valid; the identity fetch failed
		m.setStatus(StatusError)
		return model.User{}, err
	}
	m.setState(StatusAuthenticated, &u)
	return u, nil
}

// Signup registers and then logs in with the same credentials; registration
// alone does not produce an authenticated session.
func (m *Manager) Signup(ctx context.Context, email, password, fullName string) (model.User, error) {
	if email == "" || password == "" {
		return model.User{}, fmt.Errorf("%w: email and password are required", errs.ErrValidation)
	}
	if err := ValidatePassword(password); err != nil {
		return model.User{}, err
	}
	if _, err := m.api.Signup(ctx, email, password, fullName); err != nil {
		return model.User{}, err
	}
	return m.Login(ctx, email, password)
}

// Logout revokes the refresh credential server-side (best effort) and always
// clears local state.
func (m *Manager) Logout(ctx context.Context) {
	if rt := m.tokens.RefreshToken(); rt != "" {
		if err := m.api.Logout(ctx, rt); err != nil {
			m.log.Debug("server-side logout failed", zap.Error(err))
		}
	}
	_ = m.reset(nil)
}

// ChangePassword rotates the password. The server revokes every refresh
// token on success, so the manager immediately re-authenticates with the new
// password to obtain a fresh pair.
func (m *Manager) ChangePassword(ctx context.Context, current, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return errs.ErrUnauthorized
	}
	email := m.user.Email
	m.mu.Unlock()

	if err := m.api.ChangePassword(ctx, current, newPassword); err != nil {
		return err
	}
	_, err := m.Login(ctx, email, newPassword)
	return err
}

// Invalidate drops the session after the gateway reports an unrefreshable
// credential. Wired to the gateway's session-invalidated callback.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = nil
	m.status = StatusUnauthenticated
}

// reset clears credentials and identity and returns err unchanged.
func (m *Manager) reset(err error) error {
	_ = m.tokens.Clear()
	m.setState(StatusUnauthenticated, nil)
	return err
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) setState(s Status, u *model.User) {
	m.mu.Lock()
	m.status = s
	m.user = u
	m.mu.Unlock()
}

var (
	reUpper   = regexp.MustCompile(`[A-Z]`)
	reLower   = regexp.MustCompile(`[a-z]`)
	reDigit   = regexp.MustCompile(`\d`)
	reSpecial = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

// ValidatePassword mirrors the server's complexity rules so a hopeless
// signup or password change is rejected before dispatch.
func ValidatePassword(pw string) error {
	switch {
	case len(pw) < 8:
		return fmt.Errorf("%w: password must be at least 8 characters", errs.ErrValidation)
	case !reUpper.MatchString(pw):
		return fmt.Errorf("%w: password must contain an uppercase letter", errs.ErrValidation)
	case !reLower.MatchString(pw):
		return fmt.Errorf("%w: password must contain a lowercase letter", errs.ErrValidation)
	case !reDigit.MatchString(pw):
		return fmt.Errorf("%w: password must contain a digit", errs.ErrValidation)
	case !reSpecial.MatchString(pw):
		return fmt.Errorf("%w: password must contain a special character", errs.ErrValidation)
	}
	return nil
}
