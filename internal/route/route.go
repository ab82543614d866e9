// Package route holds the navigation contract shared by the guards, the
// request interceptor and the inactivity monitor.
package route

import (
	"context"
	"net/url"
	"strings"
	"sync"
)

const (
	// DefaultLoginPath is where unauthenticated navigation is sent.
	DefaultLoginPath = "/login"
	// DefaultHomePath is the safe screen for denied area access.
	DefaultHomePath = "/"
	// ReturnURLParam carries the originally requested URL to the login screen.
	ReturnURLParam = "returnUrl"
	// ReasonParam tells the login screen why the session ended.
	ReasonParam = "reason"
	// ReasonExpired reports a session whose tokens could not be renewed.
	ReasonExpired = "expired"
)

// Navigator moves the client to another screen.
type Navigator interface {
	Navigate(ctx context.Context, path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, path string)

func (f NavigatorFunc) Navigate(ctx context.Context, path string) { f(ctx, path) }

// Discard ignores navigation.
var Discard Navigator = NavigatorFunc(func(context.Context, string) {})

// LoginRedirect builds the login URL carrying returnURL when it is a
// safe local path.
func LoginRedirect(loginPath, returnURL string) string {
	return withParam(loginPath, ReturnURLParam, SafeReturnURL(returnURL, ""))
}

// ExpiredRedirect builds the login URL used when the session ends on its own.
func ExpiredRedirect(loginPath, reason string) string {
	return withParam(loginPath, ReasonParam, reason)
}

func withParam(base, key, value string) string {
	if base == "" {
		base = DefaultLoginPath
	}
	if value == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + key + "=" + url.QueryEscape(value)
}

// SafeReturnURL accepts only local absolute paths so a return URL
// cannot send the user to another host. Anything else yields fallback.
func SafeReturnURL(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return raw
}

// Recorder is a Navigator that remembers the last requested screen.
// The console server reports it to the browser on the next poll.
type Recorder struct {
	mu      sync.Mutex
	history []string
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Navigate(_ context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, path)
}

// Last returns the most recent navigation without consuming it.
func (r *Recorder) Last() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return "", false
	}
	return r.history[len(r.history)-1], true
}

// Take returns and clears the most recent navigation.
func (r *Recorder) Take() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return "", false
	}
	last := r.history[len(r.history)-1]
	r.history = nil
	return last, true
}

// History returns a copy of every recorded navigation.
func (r *Recorder) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.history))
	copy(out, r.history)
	return out
}
