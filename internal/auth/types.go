package auth

import (
	"strings"
	"time"
)

// User is the identity record returned by the login endpoint and kept
// in the session. Area and Role fully determine its authorization scope.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Area      Area      `json:"area"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Identified reports whether the record carries an identity. Cached
// records without one are treated as malformed.
func (u *User) Identified() bool {
	if u == nil {
		return false
	}
	return strings.TrimSpace(u.ID) != "" || strings.TrimSpace(u.Username) != ""
}

// Clone returns a copy safe to hand out to other goroutines.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
