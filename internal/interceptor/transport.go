// Package interceptor attaches the cached access token to outgoing
// requests and recovers from expired tokens with one refresh and one
// retry.
package interceptor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/ManuPunk16/CG-Front-sub000/internal/auth"
	"github.com/ManuPunk16/CG-Front-sub000/internal/clock"
	"github.com/ManuPunk16/CG-Front-sub000/internal/gateway"
	"github.com/ManuPunk16/CG-Front-sub000/internal/route"
	"github.com/ManuPunk16/CG-Front-sub000/internal/tokencache"
)

// Session is the part of the session manager the transport needs.
// *session.Manager implements it.
type Session interface {
	// Refresh returns a new access token, coalescing concurrent calls.
	Refresh(ctx context.Context) (string, error)
	// ExpireSession resets the session and redirects to login.
	ExpireSession(ctx context.Context, reason string)
}

// RequestIDHeader is set on every outgoing request that lacks one.
const RequestIDHeader = "X-Request-ID"

// Transport is an http.RoundTripper implementing attach, dispatch and
// refresh-on-401. The request handed to RoundTrip is never modified.
type Transport struct {
	base    http.RoundTripper
	cache   tokencache.Cache
	session Session
	header  string
	scheme  string
	skip    []string
	clock   clock.Clock
	skew    time.Duration
	log     logr.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithBase sets the underlying transport. Defaults to http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) {
		if rt != nil {
			t.base = rt
		}
	}
}

// WithAuthHeader overrides the "Authorization: Bearer" contract.
func WithAuthHeader(header, scheme string) Option {
	return func(t *Transport) {
		if header != "" {
			t.header = header
		}
		t.scheme = scheme
	}
}

// WithSkipPaths lists path suffixes whose 401s never trigger a
// refresh, such as the login and refresh endpoints themselves.
func WithSkipPaths(suffixes ...string) Option {
	return func(t *Transport) { t.skip = append(t.skip, suffixes...) }
}

// WithClock sets the clock used to decide proactive refreshes.
func WithClock(c clock.Clock) Option {
	return func(t *Transport) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithExpirySkew refreshes a JWT this long before its exp claim.
// Zero disables proactive refresh.
func WithExpirySkew(d time.Duration) Option {
	return func(t *Transport) { t.skew = d }
}

// WithLogger sets the transport logger.
func WithLogger(l logr.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// New returns a Transport reading tokens from cache.
func New(cache tokencache.Cache, s Session, opts ...Option) *Transport {
	t := &Transport{
		base:    http.DefaultTransport,
		cache:   cache,
		session: s,
		header:  "Authorization",
		scheme:  "Bearer",
		skip:    []string{gateway.PathLogin, gateway.PathRefresh},
		clock:   clock.Real(),
		skew:    30 * time.Second,
		log:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Client returns an http.Client using t.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	skip := t.skipped(req)
	token := tokencache.Lookup(ctx, t.cache, tokencache.KeyToken)

	// At most one refresh per request: a request that refreshed before
	// dispatch returns its response as is, 401 included.
	refreshed := false
	if token != "" && !skip && t.skew > 0 && auth.TokenExpired(token, t.clock.Now(), t.skew) {
		refreshed = true
		fresh, err := t.session.Refresh(ctx)
		switch {
		case err == nil:
			token = fresh
		case canceled(err):
			return nil, err
		default:
			t.log.Info("refresh of expired token failed, ending session", "path", req.URL.Path, "error", err.Error())
			t.session.ExpireSession(ctx, route.ReasonExpired)
			token = ""
		}
	}

	first, err := t.prepare(req, token, false)
	if err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || skip || refreshed {
		return resp, err
	}
	if !replayable(req) {
		t.log.Info("401 on a request whose body cannot be replayed", "method", req.Method, "path", req.URL.Path)
		return resp, nil
	}

	// Another request may already have refreshed while this one was in
	// flight; reuse that token instead of refreshing again.
	retryToken := tokencache.Lookup(ctx, t.cache, tokencache.KeyToken)
	if retryToken == "" || retryToken == token {
		fresh, rerr := t.session.Refresh(ctx)
		if rerr != nil {
			if canceled(rerr) {
				return resp, nil
			}
			t.log.Info("refresh after 401 failed, ending session", "path", req.URL.Path, "error", rerr.Error())
			t.session.ExpireSession(ctx, route.ReasonExpired)
			return resp, nil
		}
		retryToken = fresh
	}

	retry, err := t.prepare(req, retryToken, true)
	if err != nil {
		return resp, nil
	}
	drain(resp)
	retry.Header.Set(RequestIDHeader, first.Header.Get(RequestIDHeader))
	return t.base.RoundTrip(retry)
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (t *Transport) prepare(req *http.Request, token string, replay bool) (*http.Request, error) {
	out := req.Clone(req.Context())
	if replay && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	if token != "" {
		out.Header.Set(t.header, gateway.AuthValue(t.scheme, token))
	} else {
		out.Header.Del(t.header)
	}
	if out.Header.Get(RequestIDHeader) == "" {
		out.Header.Set(RequestIDHeader, uuid.NewString())
	}
	return out, nil
}

func (t *Transport) skipped(req *http.Request) bool {
	path := strings.TrimSuffix(req.URL.Path, "/")
	for _, s := range t.skip {
		if s != "" && strings.HasSuffix(path, "/"+strings.Trim(s, "/")) {
			return true
		}
	}
	return false
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// ErrorFromResponse turns a non-2xx response into a *gateway.Failure
// so screens see the same error shape as the credential calls.
func ErrorFromResponse(resp *http.Response) error {
	if resp == nil || (resp.StatusCode >= 200 && resp.StatusCode <= 299) {
		return nil
	}
	return &gateway.Failure{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
}
