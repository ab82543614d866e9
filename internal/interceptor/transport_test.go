package interceptor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ManuPunk16/CG-Front-sub000/internal/clock"
	"github.com/ManuPunk16/CG-Front-sub000/internal/gateway"
	"github.com/ManuPunk16/CG-Front-sub000/internal/route"
	"github.com/ManuPunk16/CG-Front-sub000/internal/tokencache"
)

type fakeSession struct {
	mu        sync.Mutex
	cache     tokencache.Cache
	next      string
	err       error
	refreshes int
	expired   []string
}

func (s *fakeSession) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if s.err != nil {
		return "", s.err
	}
	_ = s.cache.Set(ctx, tokencache.KeyToken, s.next)
	return s.next, nil
}

func (s *fakeSession) ExpireSession(ctx context.Context, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = append(s.expired, reason)
	_ = tokencache.Clear(ctx, s.cache)
}

type backend struct {
	mu     sync.Mutex
	valid  map[string]bool
	seen   []string
	bodies []string
	reqIDs []string
	srv    *httptest.Server
}

func newBackend(t *testing.T, valid ...string) *backend {
	t.Helper()
	b := &backend{valid: map[string]bool{}}
	for _, v := range valid {
		b.valid[v] = true
	}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		h := r.Header.Get("Authorization")
		b.seen = append(b.seen, h)
		b.bodies = append(b.bodies, string(body))
		b.reqIDs = append(b.reqIDs, r.Header.Get(RequestIDHeader))
		ok := b.valid[strings.TrimPrefix(h, "Bearer ")]
		b.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"original 401"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"auth":"` + h + `"}`))
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.seen))
	copy(out, b.seen)
	return out
}

func setup(t *testing.T, token string, sess *fakeSession) (*http.Client, tokencache.Cache) {
	t.Helper()
	cache := tokencache.NewMemory()
	if token != "" {
		_ = cache.Set(context.Background(), tokencache.KeyToken, token)
	}
	sess.cache = cache
	return New(cache, sess).Client(5 * time.Second), cache
}

func TestAttachesCachedToken(t *testing.T) {
	b := newBackend(t, "T1")
	client, _ := setup(t, "T1", &fakeSession{})

	resp, err := client.Get(b.srv.URL + "/oficios")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := b.calls(); len(got) != 1 || got[0] != "Bearer T1" {
		t.Fatalf("backend saw %v", got)
	}
	if b.reqIDs[0] == "" {
		t.Fatal("expected a request id header")
	}
}

func TestSendsUnauthenticatedWithoutToken(t *testing.T) {
	b := newBackend(t)
	b.valid[""] = true
	client, _ := setup(t, "", &fakeSession{})

	resp, err := client.Get(b.srv.URL + "/public")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if got := b.calls(); got[0] != "" {
		t.Fatalf("expected no authorization header, got %q", got[0])
	}
}

func TestRefreshAndRetryOnce(t *testing.T) {
	b := newBackend(t, "T2")
	sess := &fakeSession{next: "T2"}
	client, cache := setup(t, "T1", sess)

	req, _ := http.NewRequest(http.MethodPost, b.srv.URL+"/oficios", strings.NewReader(`{"folio":"A-1"}`))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "Bearer T2") {
		t.Fatalf("final response = %d %s", resp.StatusCode, body)
	}
	if sess.refreshes != 1 {
		t.Fatalf("refreshes = %d", sess.refreshes)
	}
	calls := b.calls()
	if len(calls) != 2 || calls[0] != "Bearer T1" || calls[1] != "Bearer T2" {
		t.Fatalf("backend saw %v", calls)
	}
	if b.bodies[1] != `{"folio":"A-1"}` {
		t.Fatalf("retried body = %q", b.bodies[1])
	}
	if b.reqIDs[0] != b.reqIDs[1] {
		t.Fatal("retry should keep the request id")
	}
	if tokencache.Lookup(context.Background(), cache, tokencache.KeyToken) != "T2" {
		t.Fatal("refreshed token not cached")
	}
	if req.Header.Get("Authorization") != "" {
		t.Fatal("caller's request was modified")
	}
}

func TestRefreshFailureSurfacesOriginal401(t *testing.T) {
	b := newBackend(t)
	sess := &fakeSession{err: errors.New("refresh rejected")}
	client, cache := setup(t, "T1", sess)

	resp, err := client.Get(b.srv.URL + "/oficios")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(string(body), "original 401") {
		t.Fatalf("expected the original 401, got %d %s", resp.StatusCode, body)
	}
	if len(sess.expired) != 1 || sess.expired[0] != route.ReasonExpired {
		t.Fatalf("expire calls = %v", sess.expired)
	}
	if tokencache.Lookup(context.Background(), cache, tokencache.KeyToken) != "" {
		t.Fatal("token should be cleared")
	}
	if len(b.calls()) != 1 {
		t.Fatalf("no retry expected, backend saw %v", b.calls())
	}
	var f *gateway.Failure
	if !errors.As(ErrorFromResponse(resp), &f) || f.Status != http.StatusUnauthorized {
		t.Fatalf("ErrorFromResponse = %v", ErrorFromResponse(resp))
	}
}

func TestSecond401DoesNotRecurse(t *testing.T) {
	b := newBackend(t)
	sess := &fakeSession{next: "T2"}
	client, _ := setup(t, "T1", sess)

	resp, err := client.Get(b.srv.URL + "/oficios")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if sess.refreshes != 1 {
		t.Fatalf("refreshes = %d, want exactly one", sess.refreshes)
	}
	if n := len(b.calls()); n != 2 {
		t.Fatalf("backend calls = %d, want 2", n)
	}
}

func TestNon401PassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	sess := &fakeSession{next: "T2"}
	client, _ := setup(t, "T1", sess)

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden || sess.refreshes != 0 {
		t.Fatalf("status = %d refreshes = %d", resp.StatusCode, sess.refreshes)
	}
}

func TestSkipPathsNeverRefresh(t *testing.T) {
	b := newBackend(t)
	sess := &fakeSession{next: "T2"}
	client, _ := setup(t, "T1", sess)

	resp, err := client.Post(b.srv.URL+"/api/auth/login", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()
	if sess.refreshes != 0 {
		t.Fatal("login endpoint must not trigger a refresh")
	}
}

func TestReusesTokenRefreshedByAnotherRequest(t *testing.T) {
	b := newBackend(t, "T2")
	sess := &fakeSession{next: "T3"}
	cache := tokencache.NewMemory()
	sess.cache = cache
	_ = cache.Set(context.Background(), tokencache.KeyToken, "T1")

	// Simulates a refresh that lands while the first attempt is in flight.
	swap := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Header.Get("Authorization") == "Bearer T1" {
			_ = cache.Set(r.Context(), tokencache.KeyToken, "T2")
		}
		return http.DefaultTransport.RoundTrip(r)
	})
	client := New(cache, sess, WithBase(swap)).Client(5 * time.Second)

	resp, err := client.Get(b.srv.URL + "/oficios")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if sess.refreshes != 0 {
		t.Fatalf("refreshes = %d, want 0", sess.refreshes)
	}
}

func expiredJWT(t *testing.T, now time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
	}).SignedString([]byte("server-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func setupExpired(t *testing.T, sess *fakeSession) (*http.Client, tokencache.Cache) {
	t.Helper()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cache := tokencache.NewMemory()
	sess.cache = cache
	_ = cache.Set(context.Background(), tokencache.KeyToken, expiredJWT(t, now))
	return New(cache, sess, WithClock(clock.Fake(now))).Client(5 * time.Second), cache
}

func TestProactiveRefreshOfExpiredJWT(t *testing.T) {
	b := newBackend(t, "T2")
	sess := &fakeSession{next: "T2"}
	client, _ := setupExpired(t, sess)

	resp, err := client.Get(b.srv.URL + "/oficios")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if calls := b.calls(); len(calls) != 1 || calls[0] != "Bearer T2" {
		t.Fatalf("expected a single request with the fresh token, got %v", calls)
	}
}

func TestProactiveRefreshCountsAsTheOnlyRefresh(t *testing.T) {
	b := newBackend(t)
	sess := &fakeSession{next: "T2"}
	client, _ := setupExpired(t, sess)

	resp, err := client.Get(b.srv.URL + "/oficios")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(string(body), "original 401") {
		t.Fatalf("response = %d %s", resp.StatusCode, body)
	}
	if sess.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", sess.refreshes)
	}
	if calls := b.calls(); len(calls) != 1 || calls[0] != "Bearer T2" {
		t.Fatalf("backend saw %v", calls)
	}
	if len(sess.expired) != 0 {
		t.Fatalf("session expired after a successful refresh: %v", sess.expired)
	}
}

func TestFailedProactiveRefreshEndsSessionOnce(t *testing.T) {
	b := newBackend(t)
	sess := &fakeSession{err: errors.New("refresh rejected")}
	client, cache := setupExpired(t, sess)

	resp, err := client.Get(b.srv.URL + "/oficios")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if sess.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", sess.refreshes)
	}
	if len(sess.expired) != 1 || sess.expired[0] != route.ReasonExpired {
		t.Fatalf("expire calls = %v", sess.expired)
	}
	if calls := b.calls(); len(calls) != 1 || calls[0] != "" {
		t.Fatalf("expected one unauthenticated request, got %v", calls)
	}
	if tokencache.Lookup(context.Background(), cache, tokencache.KeyToken) != "" {
		t.Fatal("token should be cleared")
	}
}

func TestCustomHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Access-Token")
	}))
	defer srv.Close()
	cache := tokencache.NewMemory()
	_ = cache.Set(context.Background(), tokencache.KeyToken, "T1")
	client := New(cache, &fakeSession{cache: cache}, WithAuthHeader("X-Access-Token", "")).Client(time.Second)

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if got != "T1" {
		t.Fatalf("custom header = %q", got)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
