package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	"github.com/ManuPunk16/CG-Front-sub000/internal/auth"
	"github.com/ManuPunk16/CG-Front-sub000/internal/obs"
	"github.com/ManuPunk16/CG-Front-sub000/internal/route"
)

// AreaGuard layers area scope on top of authentication.
type AreaGuard struct {
	sessions    Sessions
	resolver    *auth.Resolver
	defaultPath string
	log         logr.Logger
}

// NewAreaGuard returns an AreaGuard that sends denied navigation to
// defaultPath (route.DefaultHomePath when empty).
func NewAreaGuard(sessions Sessions, resolver *auth.Resolver, defaultPath string, log logr.Logger) *AreaGuard {
	if defaultPath == "" {
		defaultPath = route.DefaultHomePath
	}
	return &AreaGuard{sessions: sessions, resolver: resolver, defaultPath: defaultPath, log: log}
}

// Check decides access to target. Routes without a target area
// (ok false or empty) are admitted.
func (g *AreaGuard) Check(ctx context.Context, target auth.Area, ok bool) Decision {
	target = target.Normalize()
	if !ok || target == "" {
		obs.GuardDecisions.WithLabelValues("area", "allow").Inc()
		return Decision{Allow: true}
	}
	user := g.sessions.CurrentUser()
	if g.resolver.HasAccessFor(user, target) {
		obs.GuardDecisions.WithLabelValues("area", "allow").Inc()
		return Decision{Allow: true}
	}
	obs.GuardDecisions.WithLabelValues("area", "deny").Inc()
	if user != nil {
		g.log.Info("area access denied", "user", user.Username, "role", user.Role.String(), "area", string(user.Area), "target", string(target))
	}
	return Decision{Redirect: g.defaultPath, Reason: ReasonAreaDenied}
}

// TargetFunc extracts the target area of a request.
type TargetFunc func(r *http.Request) (auth.Area, bool)

// FromPathValue reads a {name} wildcard of the matched ServeMux pattern.
func FromPathValue(name string) TargetFunc {
	return func(r *http.Request) (auth.Area, bool) {
		v := strings.TrimSpace(r.PathValue(name))
		return auth.Area(v), v != ""
	}
}

// FromQuery reads a query parameter.
func FromQuery(name string) TargetFunc {
	return func(r *http.Request) (auth.Area, bool) {
		v := strings.TrimSpace(r.URL.Query().Get(name))
		return auth.Area(v), v != ""
	}
}

// FromRouteMetadata looks the request up in static route configuration,
// first by matched pattern and then by path.
func FromRouteMetadata(meta map[string]auth.Area) TargetFunc {
	return func(r *http.Request) (auth.Area, bool) {
		for _, key := range []string{r.Pattern, r.URL.Path} {
			if key == "" {
				continue
			}
			if a, ok := meta[key]; ok && a.Normalize() != "" {
				return a, true
			}
		}
		return "", false
	}
}

// FirstOf returns the first target any extractor finds.
func FirstOf(fns ...TargetFunc) TargetFunc {
	return func(r *http.Request) (auth.Area, bool) {
		for _, fn := range fns {
			if a, ok := fn(r); ok {
				return a, true
			}
		}
		return "", false
	}
}

// Middleware gates next on the area target extracts.
func (g *AreaGuard) Middleware(target TargetFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := target(r)
			if d := g.Check(r.Context(), a, ok); !d.Allow {
				deny(w, r, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission gates next on an action of the permission table.
func (g *AreaGuard) RequirePermission(action auth.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := g.sessions.CurrentUser()
			if user == nil || !g.resolver.HasPermission(user.Role, action) {
				obs.GuardDecisions.WithLabelValues("permission", "deny").Inc()
				deny(w, r, Decision{Redirect: g.defaultPath, Reason: ReasonPermission})
				return
			}
			obs.GuardDecisions.WithLabelValues("permission", "allow").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
