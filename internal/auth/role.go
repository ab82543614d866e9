package auth

import "strings"

// Role is the closed set of user categories. Every comparison goes
// through ParseRole so no caller folds case on its own.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleDirectorGeneral
	RoleDirector
	RoleEnlace
	// RoleReadOnly is a marker role that may read but never edit.
	RoleReadOnly
)

var roleNames = map[Role]string{
	RoleAdmin:           "ADMIN",
	RoleDirectorGeneral: "DIRECTOR_GENERAL",
	RoleDirector:        "DIRECTOR",
	RoleEnlace:          "ENLACE",
	RoleReadOnly:        "READONLY",
}

var rolesByName = func() map[string]Role {
	m := make(map[string]Role, len(roleNames))
	for r, name := range roleNames {
		m[name] = r
	}
	return m
}()

// ParseRole maps a raw role string onto the enumeration. Matching
// ignores case and surrounding whitespace, and treats spaces and
// hyphens as underscores. Anything else yields RoleUnknown.
func ParseRole(raw string) Role {
	key := strings.ToUpper(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if r, ok := rolesByName[key]; ok {
		return r
	}
	return RoleUnknown
}

// String returns the canonical upper-case name, or "UNKNOWN".
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// Known reports whether r is one of the enumerated roles.
func (r Role) Known() bool {
	_, ok := roleNames[r]
	return ok
}

// MarshalText encodes the canonical name; unknown roles encode as "".
func (r Role) MarshalText() ([]byte, error) {
	if !r.Known() {
		return []byte{}, nil
	}
	return []byte(roleNames[r]), nil
}

// UnmarshalText never fails: unrecognized values decode to RoleUnknown
// and resolve to no access.
func (r *Role) UnmarshalText(text []byte) error {
	*r = ParseRole(string(text))
	return nil
}
