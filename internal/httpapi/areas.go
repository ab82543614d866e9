package httpapi

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-logr/logr"

	"github.com/ManuPunk16/CG-Front-sub000/internal/auth"
	"github.com/ManuPunk16/CG-Front-sub000/internal/interceptor"
)

// handleArea describes an area the session may open. The guards in
// front of it have already admitted the request.
func (a *API) handleArea(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	area := auth.Area(r.PathValue("area")).Normalize()
	children := a.Resolver.Hierarchy().Children(area)
	if children == nil {
		children = []auth.Area{}
	}
	resp := map[string]any{
		"area":     area,
		"children": children,
	}
	if u, ok := auth.UserFromContext(r.Context()); ok {
		resp["permissions"] = a.Resolver.Permissions(u.Role)
	}
	writeJSON(w, http.StatusOK, resp)
}

// newBackendProxy forwards console requests to the API. The browser's
// own credentials are dropped; rt attaches the session token.
func newBackendProxy(target *url.URL, rt http.RoundTripper, log logr.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if q := pr.In.URL.Query(); q.Has("area") {
				q.Del("area")
				pr.Out.URL.RawQuery = q.Encode()
			}
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("Cookie")
			if rid := RequestIDFromContext(pr.In.Context()); rid != "" {
				pr.Out.Header.Set(interceptor.RequestIDHeader, rid)
			}
		},
		Transport: rt,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error(err, "backend request failed", "path", r.URL.Path)
			writeError(w, r, http.StatusBadGateway, "backend unavailable")
		},
	}
}
