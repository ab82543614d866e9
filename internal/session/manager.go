package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/ManuPunk16/CG-Front-sub000/internal/audit"
	"github.com/ManuPunk16/CG-Front-sub000/internal/auth"
	"github.com/ManuPunk16/CG-Front-sub000/internal/gateway"
	"github.com/ManuPunk16/CG-Front-sub000/internal/inactivity"
	"github.com/ManuPunk16/CG-Front-sub000/internal/obs"
	"github.com/ManuPunk16/CG-Front-sub000/internal/route"
	"github.com/ManuPunk16/CG-Front-sub000/internal/tokencache"
)

// Gateway is the credential service the manager depends on.
// *gateway.Client implements it.
type Gateway interface {
	Login(ctx context.Context, username, password string) (gateway.LoginResult, error)
	Logout(ctx context.Context, token string) error
	Refresh(ctx context.Context, refreshToken string) (gateway.RefreshResult, error)
	Validate(ctx context.Context, token string) (bool, error)
}

// Reasons passed to ExpireSession and reported on the login screen.
const (
	ReasonExpired    = route.ReasonExpired
	ReasonInactivity = "inactivity"
	ReasonMalformed  = "malformed"
)

// Manager drives the token lifecycle: login, logout, refresh and
// forced expiry. It is the only writer of tokens to the cache.
type Manager struct {
	store     *Store
	cache     tokencache.Cache
	gw        Gateway
	nav       route.Navigator
	loginPath string
	log       logr.Logger

	flight     singleflight.Group
	refreshing atomic.Int32
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithNavigator sets where login redirects are sent.
func WithNavigator(n route.Navigator) ManagerOption {
	return func(m *Manager) {
		if n != nil {
			m.nav = n
		}
	}
}

// WithLoginPath overrides route.DefaultLoginPath.
func WithLoginPath(p string) ManagerOption {
	return func(m *Manager) {
		if p != "" {
			m.loginPath = p
		}
	}
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(l logr.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// NewManager wires the manager around an existing store and cache.
func NewManager(store *Store, cache tokencache.Cache, gw Gateway, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		cache:     cache,
		gw:        gw,
		nav:       route.Discard,
		loginPath: route.DefaultLoginPath,
		log:       logr.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the session store the manager writes to.
func (m *Manager) Store() *Store { return m.store }

// LoginPath returns the configured login route.
func (m *Manager) LoginPath() string { return m.loginPath }

// Login authenticates against the gateway, persists the token pair and
// user, and marks the session authenticated.
func (m *Manager) Login(ctx context.Context, username, password string) (*auth.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", auth.ErrInvalidInput)
	}
	res, err := m.gw.Login(ctx, username, password)
	if err != nil {
		_ = audit.LogEvent(ctx, "session.login.failed", map[string]any{
			"username": username,
			"status":   gateway.StatusOf(err),
		})
		return nil, err
	}
	user := res.User
	if !user.Identified() {
		user.Username = username
	}

	rawUser, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("encode user: %w", err)
	}
	if err := m.cache.Set(ctx, tokencache.KeyToken, res.AccessToken); err != nil {
		return nil, fmt.Errorf("store access token: %w", err)
	}
	if err := m.cache.Set(ctx, tokencache.KeyUser, string(rawUser)); err != nil {
		return nil, fmt.Errorf("store user: %w", err)
	}
	if res.RefreshToken != "" {
		if err := m.cache.Set(ctx, tokencache.KeyRefreshToken, res.RefreshToken); err != nil {
			return nil, fmt.Errorf("store refresh token: %w", err)
		}
	}

	m.store.SetCurrentUser(&user)
	m.store.SetAuthenticated(ctx, true)

	st := m.store.Snapshot()
	ctx = audit.WithSessionID(auth.ContextWithUser(ctx, &user), st.SessionID)
	_ = audit.LogEvent(ctx, "session.login", map[string]any{"username": user.Username})
	if !user.Role.Known() {
		m.log.Info("user logged in with unrecognized role", "username", user.Username, "area", string(user.Area))
	}
	return &user, nil
}

// Logout ends the session. The remote call is best effort: the local
// cache and store are always cleared and nil is always returned.
func (m *Manager) Logout(ctx context.Context) error {
	token := tokencache.Lookup(ctx, m.cache, tokencache.KeyToken)
	st := m.store.Snapshot()
	if token != "" {
		if err := m.gw.Logout(ctx, token); err != nil {
			m.log.Info("remote logout failed, continuing locally", "error", err.Error())
		}
	}
	m.clearLocal(ctx)
	m.store.Reset()

	ctx = audit.WithSessionID(auth.ContextWithUser(ctx, st.User), st.SessionID)
	_ = audit.LogEvent(ctx, "session.logout", nil)
	m.nav.Navigate(ctx, m.loginPath)
	return nil
}

// ExpireSession terminates the session without calling the server and
// sends the client to the login screen with reason.
func (m *Manager) ExpireSession(ctx context.Context, reason string) {
	st := m.store.Snapshot()
	m.clearLocal(ctx)
	m.store.Reset()

	ctx = audit.WithSessionID(auth.ContextWithUser(ctx, st.User), st.SessionID)
	_ = audit.LogEvent(ctx, "session.expired", map[string]any{"reason": reason})
	m.log.Info("session expired", "reason", reason)
	m.nav.Navigate(ctx, route.ExpiredRedirect(m.loginPath, reason))
}

// EndForInactivity is the inactivity.LogoutFunc of the console. An
// explicit "log out" answer is a normal logout; a timeout or a dismissed
// prompt expires the session with ReasonInactivity.
func (m *Manager) EndForInactivity(ctx context.Context, reason string) {
	if reason == inactivity.ReasonUser {
		_ = m.Logout(ctx)
		return
	}
	m.ExpireSession(ctx, ReasonInactivity)
}

func (m *Manager) clearLocal(ctx context.Context) {
	if err := tokencache.Clear(ctx, m.cache); err != nil {
		m.log.Error(err, "clear token cache")
	}
}

// Refresh mints a new access token. Concurrent callers share one
// in-flight gateway call and receive the same token or error. On
// success the token is cached and the store marked authenticated.
// Errors from a rejected refresh token wrap ErrRefreshUnrecoverable.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	ch := m.flight.DoChan("refresh", func() (any, error) {
		m.refreshing.Add(1)
		defer m.refreshing.Add(-1)
		return m.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	stored := tokencache.Lookup(ctx, m.cache, tokencache.KeyRefreshToken)
	res, err := m.gw.Refresh(ctx, stored)
	if err != nil {
		result := "failure"
		if gateway.StatusOf(err) == 0 {
			result = "unreachable"
		}
		obs.RefreshTotal.WithLabelValues(result).Inc()
		m.log.Info("token refresh failed", "status", gateway.StatusOf(err), "error", err.Error())
		return "", fmt.Errorf("%w: %v", ErrRefreshUnrecoverable, err)
	}
	if err := m.cache.Set(ctx, tokencache.KeyToken, res.AccessToken); err != nil {
		obs.RefreshTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("store refreshed token: %w", err)
	}
	if res.RefreshToken != "" {
		if err := m.cache.Set(ctx, tokencache.KeyRefreshToken, res.RefreshToken); err != nil {
			m.log.Error(err, "store rotated refresh token")
		}
	}
	m.store.SetAuthenticated(ctx, true)
	obs.RefreshTotal.WithLabelValues("success").Inc()
	m.log.V(1).Info("access token refreshed")
	return res.AccessToken, nil
}

// Refreshing reports whether a refresh is in flight.
func (m *Manager) Refreshing() bool { return m.refreshing.Load() > 0 }

// Validate asks the server whether the cached token is still accepted.
// A 401 starts one refresh; a rejected refresh expires the session.
func (m *Manager) Validate(ctx context.Context) (bool, error) {
	token := tokencache.Lookup(ctx, m.cache, tokencache.KeyToken)
	if token == "" {
		return false, nil
	}
	ok, err := m.gw.Validate(ctx, token)
	if !gateway.IsUnauthorized(err) {
		return ok, err
	}
	fresh, rerr := m.Refresh(ctx)
	if rerr != nil {
		if errors.Is(rerr, ErrRefreshUnrecoverable) {
			m.ExpireSession(ctx, ReasonExpired)
		}
		return false, err
	}
	return m.gw.Validate(ctx, fresh)
}
