// Package tokencache is the durable key/value storage that survives a
// process restart and holds the access token, refresh token and the
// serialized session user.
package tokencache

import (
	"context"
	"errors"
)

// Keys used by the session components.
const (
	KeyToken        = "token"
	KeyUser         = "user"
	KeyRefreshToken = "refresh-token"
)

// ErrUnavailable wraps backend failures (I/O, network).
var ErrUnavailable = errors.New("tokencache: backend unavailable")

// Cache is a last-write-wins key/value store without transactions. A
// Get issued after a Set from the same goroutine observes that Set.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Lookup is Get that folds errors into absence, for callers that treat
// an unreadable cache as empty.
func Lookup(ctx context.Context, c Cache, key string) string {
	if c == nil {
		return ""
	}
	v, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return ""
	}
	return v
}

// Clear removes every session key, returning the first error seen.
func Clear(ctx context.Context, c Cache) error {
	var first error
	for _, key := range []string{KeyToken, KeyUser, KeyRefreshToken} {
		if err := c.Remove(ctx, key); err != nil && first == nil {
			first = err
		}
	}
	return first
}
