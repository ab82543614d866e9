package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/ManuPunk16/CG-Front-sub000/internal/auth"
	"github.com/ManuPunk16/CG-Front-sub000/internal/gateway"
	"github.com/ManuPunk16/CG-Front-sub000/internal/inactivity"
	"github.com/ManuPunk16/CG-Front-sub000/internal/route"
)

type loginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	ReturnURL string `json:"returnUrl,omitempty"`
}

type activityRequest struct {
	Event string `json:"event"`
}

type inactivityView struct {
	Phase       string `json:"phase"`
	RemainingMS int64  `json:"remainingMs"`
}

type sessionView struct {
	Authenticated bool                 `json:"authenticated"`
	SessionID     string               `json:"sessionId,omitempty"`
	User          *auth.User           `json:"user,omitempty"`
	Areas         *auth.AreaSet        `json:"areas,omitempty"`
	Permissions   map[auth.Action]bool `json:"permissions,omitempty"`
	Inactivity    inactivityView       `json:"inactivity"`
	Redirect      string               `json:"redirect,omitempty"`
}

func (a *API) countdown() inactivityView {
	return inactivityView{
		Phase:       a.Monitor.Phase().String(),
		RemainingMS: a.Monitor.Remaining().Milliseconds(),
	}
}

func (a *API) sessionView(ctx context.Context) sessionView {
	authenticated := a.store.IsAuthenticated(ctx)
	st := a.store.Snapshot()
	v := sessionView{
		Authenticated: authenticated,
		Inactivity:    a.countdown(),
	}
	if authenticated {
		v.SessionID = st.SessionID
		v.User = st.User
	}
	if v.User != nil {
		areas := a.Resolver.AllowedAreasFor(v.User)
		v.Areas = &areas
		v.Permissions = a.Resolver.Permissions(v.User.Role)
	}
	if next, ok := a.Navigator.Take(); ok {
		v.Redirect = next
	}
	return v
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, a.sessionView(r.Context()))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	_, err := a.Manager.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.writeLoginError(w, r, err)
		return
	}
	// A redirect queued by the previous session is stale now.
	a.Navigator.Take()
	a.Monitor.Start()

	v := a.sessionView(r.Context())
	v.Redirect = route.SafeReturnURL(req.ReturnURL, a.DefaultPath)
	writeJSON(w, http.StatusOK, v)
}

func (a *API) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrInvalidInput) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	switch status := gateway.StatusOf(err); {
	case status == 0:
		a.Log.Error(err, "login request failed")
		writeError(w, r, http.StatusBadGateway, "authentication service unavailable")
	case status == http.StatusTooManyRequests:
		writeError(w, r, status, gateway.MessageOf(err))
	case status < http.StatusInternalServerError:
		msg := gateway.MessageOf(err)
		if msg == "" {
			msg = "invalid credentials"
		}
		writeError(w, r, http.StatusUnauthorized, msg)
	default:
		a.Log.Error(err, "login rejected by server", "status", status)
		writeError(w, r, http.StatusBadGateway, "authentication service error")
	}
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.Monitor.Stop()
	_ = a.Manager.Logout(r.Context())

	next, ok := a.Navigator.Take()
	if !ok {
		next = a.Manager.LoginPath()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": false,
		"redirect":      next,
	})
}

func (a *API) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req activityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ev, ok := inactivity.ParseEvent(req.Event)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unsupported activity event")
		return
	}
	recorded := a.Monitor.Record(ev)
	writeJSON(w, http.StatusOK, map[string]any{
		"recorded":   recorded,
		"inactivity": a.countdown(),
	})
}

func (a *API) handleExtend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.Monitor.Extend() {
		writeError(w, r, http.StatusConflict, "no inactivity countdown running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inactivity": a.countdown()})
}

// handleDismiss closes the inactivity prompt without an answer, which
// ends the session.
func (a *API) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.Monitor.Dismiss(r.Context()) {
		writeError(w, r, http.StatusConflict, "no inactivity warning showing")
		return
	}
	next, ok := a.Navigator.Take()
	if !ok {
		next = route.ExpiredRedirect(a.Manager.LoginPath(), inactivity.ReasonDismissed)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": false,
		"redirect":      next,
	})
}
