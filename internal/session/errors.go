package session

import "errors"

var (
	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrRefreshUnrecoverable means the refresh token was rejected; the
	// session has been terminated.
	ErrRefreshUnrecoverable = errors.New("session: refresh unrecoverable")

	errMissingUser = errors.New("cached user missing or unidentified")
)
