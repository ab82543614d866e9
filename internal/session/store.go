// Package session keeps the authoritative authentication state of the
// running client and the token lifecycle around it.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-logr/logr"

	"github.com/ManuPunk16/CG-Front-sub000/internal/auth"
	"github.com/ManuPunk16/CG-Front-sub000/internal/ids"
	"github.com/ManuPunk16/CG-Front-sub000/internal/obs"
	"github.com/ManuPunk16/CG-Front-sub000/internal/tokencache"
)

// State is a snapshot of the session. Authenticated implies User is
// set once any Store operation has returned.
type State struct {
	Authenticated bool       `json:"authenticated"`
	User          *auth.User `json:"user"`
	// SessionID is stamped on every transition into the authenticated
	// state and cleared on reset.
	SessionID string `json:"sessionId,omitempty"`
}

func (s State) clone() State {
	s.User = s.User.Clone()
	return s
}

// Store holds the process-wide session. It never talks to the network;
// it only reads the token cache to hydrate and self-heal.
type Store struct {
	mu    sync.Mutex
	cache tokencache.Cache
	state State
	log   logr.Logger

	subMu sync.Mutex
	subs  map[int]chan State
	next  int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger for malformed-cache warnings.
func WithStoreLogger(l logr.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// NewStore builds the store and hydrates it from cache once.
func NewStore(ctx context.Context, cache tokencache.Cache, opts ...StoreOption) *Store {
	s := &Store{
		cache: cache,
		log:   logr.Discard(),
		subs:  make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Reload(ctx)
	return s
}

// Reload re-derives the state from the token cache. A token with a
// readable, identified user authenticates; a token with a missing or
// unreadable user is malformed, so the cache is cleared and the state
// reset. No token means unauthenticated.
func (s *Store) Reload(ctx context.Context) State {
	token := tokencache.Lookup(ctx, s.cache, tokencache.KeyToken)
	rawUser := tokencache.Lookup(ctx, s.cache, tokencache.KeyUser)

	if token == "" {
		if rawUser != "" {
			s.log.Info("cached user without token, clearing", "reason", "malformed_cache")
			_ = s.cache.Remove(ctx, tokencache.KeyUser)
		}
		return s.apply(State{})
	}

	user, err := decodeUser(rawUser)
	if err != nil {
		s.log.Info("cached session is malformed, clearing", "reason", "malformed_cache", "error", err.Error())
		if cerr := tokencache.Clear(ctx, s.cache); cerr != nil {
			s.log.Error(cerr, "clear token cache")
		}
		return s.apply(State{})
	}
	return s.apply(State{Authenticated: true, User: user})
}

func decodeUser(raw string) (*auth.User, error) {
	if raw == "" {
		return nil, errMissingUser
	}
	var u auth.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, err
	}
	if !u.Identified() {
		return nil, errMissingUser
	}
	return &u, nil
}

// SetAuthenticated sets the flag only. Marking a session without a
// user as authenticated re-derives the user from the cache within the
// same call, resetting when none is readable.
func (s *Store) SetAuthenticated(ctx context.Context, authenticated bool) {
	s.mu.Lock()
	next := s.state.clone()
	next.Authenticated = authenticated
	needsUser := authenticated && next.User == nil
	s.mu.Unlock()

	if needsUser {
		s.Reload(ctx)
		return
	}
	s.apply(next)
}

// SetCurrentUser replaces the user record and notifies subscribers.
func (s *Store) SetCurrentUser(u *auth.User) {
	s.mu.Lock()
	next := s.state.clone()
	next.User = u.Clone()
	s.mu.Unlock()
	s.apply(next)
}

// Reset returns the session to {false, nil}.
func (s *Store) Reset() {
	s.apply(State{})
}

// IsAuthenticated reports the flag after reconciling it with the cache:
// a token appearing or disappearing behind the store's back, or an
// authenticated state that lost its user, triggers a Reload.
func (s *Store) IsAuthenticated(ctx context.Context) bool {
	hasToken := tokencache.Lookup(ctx, s.cache, tokencache.KeyToken) != ""

	s.mu.Lock()
	cur := s.state
	s.mu.Unlock()

	if hasToken != cur.Authenticated || (cur.Authenticated && cur.User == nil) {
		return s.Reload(ctx).Authenticated
	}
	return cur.Authenticated
}

// CurrentUser returns a copy of the session user, or nil.
func (s *Store) CurrentUser() *auth.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.User.Clone()
}

// Snapshot returns the in-memory state without consulting the cache.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Store) apply(next State) State {
	s.mu.Lock()
	prev := s.state
	switch {
	case !next.Authenticated && next.User == nil:
		next.SessionID = ""
	case next.Authenticated && !prev.Authenticated:
		next.SessionID = ids.New()
	case next.SessionID == "":
		next.SessionID = prev.SessionID
	}
	s.state = next.clone()
	out := s.state.clone()
	s.mu.Unlock()

	if prev.Authenticated != next.Authenticated {
		to := "anonymous"
		if next.Authenticated {
			to = "authenticated"
		}
		obs.SessionTransitions.WithLabelValues(to).Inc()
		s.log.V(1).Info("session transition", "to", to, "session_id", next.SessionID)
	}
	if changed(prev, next) {
		s.publish(out)
	}
	return out
}

func changed(a, b State) bool {
	if a.Authenticated != b.Authenticated || a.SessionID != b.SessionID {
		return true
	}
	if (a.User == nil) != (b.User == nil) {
		return true
	}
	return a.User != nil && *a.User != *b.User
}

// Subscribe returns a channel that first receives the current state
// and then every change. Only the latest undelivered state is kept for
// a slow subscriber. The channel is closed when ctx ends.
func (s *Store) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	s.subMu.Lock()
	ch <- s.Snapshot()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, id)
		close(ch)
		s.subMu.Unlock()
	}()
	return ch
}

func (s *Store) publish(st State) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- st.clone():
			continue
		default:
		}
		// Replace the stale pending value with the newest one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st.clone():
		default:
		}
	}
}
