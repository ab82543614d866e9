package auth

import (
	"strings"

	"github.com/go-logr/logr"
)

type scope uint8

const (
	scopeNone scope = iota
	scopeOwn
	scopeOwnAndChildren
	scopeAll
)

// scopeByRole is the area rule table. Roles absent from it, including
// RoleUnknown and RoleReadOnly, get no areas.
var scopeByRole = map[Role]scope{
	RoleAdmin:           scopeAll,
	RoleDirectorGeneral: scopeOwnAndChildren,
	RoleDirector:        scopeOwn,
	RoleEnlace:          scopeOwn,
}

// Action is an operation gated by role.
type Action string

const (
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
)

// ParseAction folds case and whitespace; unknown actions are returned
// as-is and are never permitted.
func ParseAction(raw string) Action {
	return Action(strings.ToLower(strings.TrimSpace(raw)))
}

// Actions lists the action vocabulary in a stable order.
func Actions() []Action {
	return []Action{ActionCreate, ActionEdit, ActionDelete, ActionExport}
}

// permissionByAction is the action rule table.
var permissionByAction = map[Action]func(Role) bool{
	ActionCreate: rolesIn(RoleAdmin, RoleDirectorGeneral, RoleDirector),
	ActionEdit:   func(r Role) bool { return r != RoleReadOnly },
	ActionDelete: rolesIn(RoleAdmin),
	ActionExport: func(Role) bool { return true },
}

func rolesIn(roles ...Role) func(Role) bool {
	return func(r Role) bool {
		for _, allowed := range roles {
			if r == allowed {
				return true
			}
		}
		return false
	}
}

// Resolver answers area and permission questions for a (role, area)
// pair. It holds no session state and performs no I/O.
type Resolver struct {
	hierarchy Hierarchy
	log       logr.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger that receives unrecognized-role warnings.
func WithResolverLogger(l logr.Logger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

// NewResolver returns a Resolver over h.
func NewResolver(h Hierarchy, opts ...ResolverOption) *Resolver {
	r := &Resolver{hierarchy: h, log: logr.Discard()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hierarchy returns the area hierarchy the resolver consults.
func (r *Resolver) Hierarchy() Hierarchy { return r.hierarchy }

// AllowedAreas returns the areas role may act on when assigned to area.
func (r *Resolver) AllowedAreas(role Role, area Area) AreaSet {
	area = area.Normalize()
	switch scopeByRole[role] {
	case scopeAll:
		return AllAreas
	case scopeOwnAndChildren:
		return NewAreaSet(append([]Area{area}, r.hierarchy.Children(area)...)...)
	case scopeOwn:
		return NewAreaSet(area)
	default:
		if !role.Known() {
			r.log.Info("unrecognized role resolves to no areas", "role", role.String(), "area", string(area))
		}
		return NewAreaSet()
	}
}

// HasAccess reports whether role assigned to area may act on target.
func (r *Resolver) HasAccess(role Role, area, target Area) bool {
	return r.AllowedAreas(role, area).Contains(target)
}

// HasPermission reports whether role may perform action.
func (r *Resolver) HasPermission(role Role, action Action) bool {
	rule, ok := permissionByAction[action]
	if !ok {
		return false
	}
	return rule(role)
}

// Permissions returns the decision for every known action.
func (r *Resolver) Permissions(role Role) map[Action]bool {
	out := make(map[Action]bool, len(permissionByAction))
	for _, a := range Actions() {
		out[a] = r.HasPermission(role, a)
	}
	return out
}

// FilterAreas keeps the candidates role assigned to area may act on,
// preserving order.
func (r *Resolver) FilterAreas(role Role, area Area, candidates []Area) []Area {
	allowed := r.AllowedAreas(role, area)
	out := make([]Area, 0, len(candidates))
	for _, c := range candidates {
		if allowed.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

// AllowedAreasFor is AllowedAreas for a user record. A nil user gets
// no areas.
func (r *Resolver) AllowedAreasFor(u *User) AreaSet {
	if u == nil {
		return NewAreaSet()
	}
	return r.AllowedAreas(u.Role, u.Area)
}

// HasAccessFor is HasAccess for a user record.
func (r *Resolver) HasAccessFor(u *User, target Area) bool {
	return r.AllowedAreasFor(u).Contains(target)
}
