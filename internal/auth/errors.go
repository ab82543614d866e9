package auth

import "errors"

var (
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrUnauthorized    = errors.New("auth: unauthorized")
	ErrInvalidInput    = errors.New("auth: invalid input")
)
