// Package gateway is the HTTP client for the credential endpoints of
// the Control de Gestión API: login, logout, refresh and validate.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ManuPunk16/CG-Front-sub000/internal/auth"
)

// Endpoint paths relative to the API base URL.
const (
	PathLogin    = "auth/login"
	PathLogout   = "auth/logout"
	PathRefresh  = "auth/refresh-token"
	PathValidate = "auth/validate-token"
)

// LoginResult is the body of a successful login.
type LoginResult struct {
	AccessToken string `json:"accessToken"`
	// RefreshToken is present only when the server hands it to the
	// client instead of setting an HTTP-only cookie.
	RefreshToken string    `json:"refreshToken,omitempty"`
	User         auth.User `json:"user"`
}

// RefreshResult is the body of a successful refresh.
type RefreshResult struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Client talks to the credential endpoints. The embedded cookie jar
// carries an HTTP-only refresh cookie between login and refresh.
type Client struct {
	base   *url.URL
	http   *http.Client
	header string
	scheme string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client. A client without a
// cookie jar cannot use cookie-borne refresh tokens.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAuthHeader overrides the "Authorization: Bearer" header contract.
func WithAuthHeader(header, scheme string) Option {
	return func(c *Client) {
		if header != "" {
			c.header = header
		}
		c.scheme = scheme
	}
}

// New returns a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gateway: base url %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	jar, _ := cookiejar.New(nil)
	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: 20 * time.Second, Jar: jar},
		header: "Authorization",
		scheme: "Bearer",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Login exchanges credentials for an access token and the user record.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var out LoginResult
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, PathLogin, "", body, &out); err != nil {
		return LoginResult{}, err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return LoginResult{}, &Failure{Status: http.StatusBadGateway, Message: "login response carried no access token"}
	}
	return out, nil
}

// Logout tells the server to revoke the session. Callers treat the
// local logout as complete whatever this returns.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, PathLogout, token, struct{}{}, nil)
}

// Refresh mints a new access token. An empty refreshToken relies on
// the cookie set at login.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	var body any = struct{}{}
	if refreshToken != "" {
		body = map[string]string{"refreshToken": refreshToken}
	}
	var out RefreshResult
	if err := c.do(ctx, http.MethodPost, PathRefresh, "", body, &out); err != nil {
		return RefreshResult{}, err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return RefreshResult{}, &Failure{Status: http.StatusBadGateway, Message: "refresh response carried no access token"}
	}
	return out, nil
}

// Validate asks the server whether token is still accepted. A 401 is
// returned as a *Failure so callers can start the refresh flow.
func (c *Client) Validate(ctx context.Context, token string) (bool, error) {
	var out struct {
		IsValid bool `json:"isValid"`
	}
	if err := c.do(ctx, http.MethodGet, PathValidate, token, nil, &out); err != nil {
		return false, err
	}
	return out.IsValid, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	endpoint := c.base.ResolveReference(&url.URL{Path: path})

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gateway: encode %s body: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("gateway: build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(c.header, AuthValue(c.scheme, token))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Failure{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Failure{Status: resp.StatusCode, Message: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failureFromBody(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Failure{Status: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// AuthValue formats a header value as "<scheme> <token>", or the bare
// token when scheme is empty.
func AuthValue(scheme, token string) string {
	if scheme == "" {
		return token
	}
	return scheme + " " + token
}

// Failure is a non-2xx answer or a transport error (Status 0).
type Failure struct {
	Status  int
	Message string
	Err     error
}

func (f *Failure) Error() string {
	switch {
	case f.Status == 0 && f.Err != nil:
		return fmt.Sprintf("gateway: %s: %v", f.Message, f.Err)
	case f.Err != nil:
		return fmt.Sprintf("gateway: status %d: %s: %v", f.Status, f.Message, f.Err)
	default:
		return fmt.Sprintf("gateway: status %d: %s", f.Status, f.Message)
	}
}

func (f *Failure) Unwrap() error { return f.Err }

func failureFromBody(status int, data []byte) *Failure {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := http.StatusText(status)
	if err := json.Unmarshal(data, &body); err == nil {
		switch {
		case body.Message != "":
			msg = body.Message
		case body.Error != "":
			msg = body.Error
		}
	}
	return &Failure{Status: status, Message: msg}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var f *Failure
	if errors.As(err, &f) {
		return f.Status
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 answer.
func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}

// MessageOf returns the server message carried by err, or err.Error().
func MessageOf(err error) string {
	var f *Failure
	if errors.As(err, &f) && f.Message != "" {
		return f.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
