package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/ManuPunk16/CG-Front-sub000/internal/auth"
	"github.com/ManuPunk16/CG-Front-sub000/internal/guard"
	"github.com/ManuPunk16/CG-Front-sub000/internal/inactivity"
	"github.com/ManuPunk16/CG-Front-sub000/internal/obs"
	"github.com/ManuPunk16/CG-Front-sub000/internal/route"
	"github.com/ManuPunk16/CG-Front-sub000/internal/session"
)

// Deps are the collaborators of the console API.
type Deps struct {
	Manager  *session.Manager
	Guard    *guard.Guard
	Areas    *guard.AreaGuard
	Resolver *auth.Resolver
	Monitor  *inactivity.Monitor
	// Navigator must be the navigator the Manager writes to; pending
	// redirects are handed to the browser on its next call.
	Navigator *route.Recorder

	// Backend is the upstream API reached through /backend/. Transport
	// carries the token attach and refresh-on-401 logic.
	Backend   *url.URL
	Transport http.RoundTripper

	// RouteAreas binds console paths to the area they expose.
	RouteAreas  map[string]auth.Area
	DefaultPath string
	Version     string
	Log         logr.Logger
}

// API is the HTTP layer of the console.
type API struct {
	Deps

	store *session.Store
	proxy http.Handler

	loginBurst  int
	loginPerSec int
}

// New returns the console API.
func New(d Deps) *API {
	if d.DefaultPath == "" {
		d.DefaultPath = route.DefaultHomePath
	}
	if d.Navigator == nil {
		d.Navigator = route.NewRecorder()
	}
	if d.Log.GetSink() == nil {
		d.Log = logr.Discard()
	}
	a := &API{
		Deps:        d,
		store:       d.Manager.Store(),
		loginBurst:  5,
		loginPerSec: 1,
	}
	if d.Backend != nil {
		a.proxy = http.StripPrefix("/backend", newBackendProxy(d.Backend, d.Transport, d.Log))
	}
	return a
}

// Handler returns the routed and wrapped console handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.Healthz)
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/login", a.handleLoginPage)

	mux.Handle("/api/auth/login", RateLimit(http.HandlerFunc(a.handleLogin), a.loginBurst, a.loginPerSec))
	mux.HandleFunc("/api/auth/logout", a.handleLogout)
	mux.HandleFunc("/api/session", a.handleSession)
	mux.Handle("/api/session/activity", a.Guard.Middleware(http.HandlerFunc(a.handleActivity)))
	mux.Handle("/api/session/extend", a.Guard.Middleware(http.HandlerFunc(a.handleExtend)))
	mux.Handle("/api/session/dismiss", a.Guard.Middleware(http.HandlerFunc(a.handleDismiss)))

	mux.Handle("/areas/{area}", a.Guard.Middleware(
		a.Areas.Middleware(guard.FromPathValue("area"))(http.HandlerFunc(a.handleArea))))

	if a.proxy != nil {
		target := guard.FirstOf(guard.FromQuery("area"), guard.FromRouteMetadata(a.RouteAreas))
		mux.Handle("/backend/", a.Guard.Middleware(a.Areas.Middleware(target)(a.proxy)))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	var h http.Handler = obs.Instrument(mux)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// TrackSession runs the inactivity monitor while the session is
// authenticated. It returns when ctx is done.
func (a *API) TrackSession(ctx context.Context) {
	for st := range a.store.Subscribe(ctx) {
		if st.Authenticated {
			a.Monitor.Start()
		} else {
			a.Monitor.Stop()
		}
	}
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "control-gestion-console",
		"version": a.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleLoginPage is the login route guards redirect to. An already
// authenticated session goes straight to its return URL.
func (a *API) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	returnURL := route.SafeReturnURL(q.Get(route.ReturnURLParam), "")
	if a.store.IsAuthenticated(r.Context()) {
		http.Redirect(w, r, route.SafeReturnURL(returnURL, a.DefaultPath), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "login_required",
		"returnUrl": returnURL,
		"reason":    q.Get(route.ReasonParam),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
