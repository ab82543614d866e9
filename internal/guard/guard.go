// Package guard admits or denies navigation to protected routes.
package guard

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/ManuPunk16/CG-Front-sub000/internal/auth"
	"github.com/ManuPunk16/CG-Front-sub000/internal/obs"
	"github.com/ManuPunk16/CG-Front-sub000/internal/route"
	"github.com/ManuPunk16/CG-Front-sub000/internal/session"
	"github.com/ManuPunk16/CG-Front-sub000/internal/tokencache"
)

// Decision is the outcome of one guard evaluation.
type Decision struct {
	Allow    bool
	Redirect string
	Reason   string
}

// Deny reasons.
const (
	ReasonUnauthenticated = "unauthenticated"
	ReasonAreaDenied      = "area_denied"
	ReasonPermission      = "permission_denied"
)

// Sessions is the view of the session store the guards read.
// *session.Store implements it.
type Sessions interface {
	IsAuthenticated(ctx context.Context) bool
	Reload(ctx context.Context) session.State
	CurrentUser() *auth.User
}

// Guard is the authentication gate.
type Guard struct {
	sessions  Sessions
	cache     tokencache.Cache
	loginPath string
	log       logr.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithLoginPath overrides route.DefaultLoginPath.
func WithLoginPath(p string) Option {
	return func(g *Guard) {
		if p != "" {
			g.loginPath = p
		}
	}
}

// WithLogger sets the guard logger.
func WithLogger(l logr.Logger) Option {
	return func(g *Guard) { g.log = l }
}

// New returns an authentication Guard.
func New(sessions Sessions, cache tokencache.Cache, opts ...Option) *Guard {
	g := &Guard{
		sessions:  sessions,
		cache:     cache,
		loginPath: route.DefaultLoginPath,
		log:       logr.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check evaluates navigation to requestedURL. A cached token the store
// has not picked up forces a reload before deciding.
func (g *Guard) Check(ctx context.Context, requestedURL string) Decision {
	token := tokencache.Lookup(ctx, g.cache, tokencache.KeyToken)
	authenticated := g.sessions.IsAuthenticated(ctx)
	if token != "" && !authenticated {
		g.log.V(1).Info("session drifted from token cache, reloading")
		authenticated = g.sessions.Reload(ctx).Authenticated
	}
	if authenticated {
		obs.GuardDecisions.WithLabelValues("auth", "allow").Inc()
		return Decision{Allow: true}
	}
	obs.GuardDecisions.WithLabelValues("auth", "deny").Inc()
	return Decision{
		Redirect: route.LoginRedirect(g.loginPath, requestedURL),
		Reason:   ReasonUnauthenticated,
	}
}

// Middleware redirects unauthenticated requests to the login route and
// attaches the session user to admitted ones.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := g.Check(r.Context(), r.URL.RequestURI())
		if !d.Allow {
			deny(w, r, d)
			return
		}
		ctx := auth.ContextWithUser(r.Context(), g.sessions.CurrentUser())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// deny redirects browsers and answers API callers with a JSON error
// carrying the redirect target.
func deny(w http.ResponseWriter, r *http.Request, d Decision) {
	status := http.StatusForbidden
	if d.Reason == ReasonUnauthenticated {
		status = http.StatusUnauthorized
	}
	if wantsJSON(r) {
		writeJSON(w, status, map[string]any{
			"error":    d.Reason,
			"redirect": d.Redirect,
		})
		return
	}
	http.Redirect(w, r, d.Redirect, http.StatusFound)
}
