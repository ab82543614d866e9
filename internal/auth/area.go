package auth

import (
	"encoding/json"
	"sort"
	"strings"
)

// Area is an organizational unit that owns documents.
type Area string

// Normalize trims surrounding whitespace. Area values are otherwise
// compared exactly.
func (a Area) Normalize() Area {
	return Area(strings.TrimSpace(string(a)))
}

// AreaSet is either the unrestricted AllAreas sentinel or a finite,
// deduplicated set of areas.
type AreaSet struct {
	all     bool
	members map[Area]struct{}
}

// AllAreas is the unrestricted scope.
var AllAreas = AreaSet{all: true}

// NewAreaSet builds a finite set, dropping blanks and duplicates.
func NewAreaSet(areas ...Area) AreaSet {
	s := AreaSet{members: make(map[Area]struct{}, len(areas))}
	for _, a := range areas {
		a = a.Normalize()
		if a == "" {
			continue
		}
		s.members[a] = struct{}{}
	}
	return s
}

// IsAll reports whether the set is the unrestricted sentinel.
func (s AreaSet) IsAll() bool { return s.all }

// IsEmpty reports whether the set grants nothing.
func (s AreaSet) IsEmpty() bool { return !s.all && len(s.members) == 0 }

// Len returns the number of finite members. It is zero for AllAreas.
func (s AreaSet) Len() int { return len(s.members) }

// Contains reports whether target is permitted by the set.
func (s AreaSet) Contains(target Area) bool {
	if s.all {
		return true
	}
	_, ok := s.members[target.Normalize()]
	return ok
}

// List returns the finite members sorted. It is nil for AllAreas.
func (s AreaSet) List() []Area {
	if s.all || len(s.members) == 0 {
		return nil
	}
	out := make([]Area, 0, len(s.members))
	for a := range s.members {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Equal reports whether both sets grant the same scope.
func (s AreaSet) Equal(other AreaSet) bool {
	if s.all || other.all {
		return s.all == other.all
	}
	if len(s.members) != len(other.members) {
		return false
	}
	for a := range s.members {
		if _, ok := other.members[a]; !ok {
			return false
		}
	}
	return true
}

type areaSetJSON struct {
	All   bool   `json:"all"`
	Areas []Area `json:"areas"`
}

// MarshalJSON encodes the set as {"all":bool,"areas":[...]}.
func (s AreaSet) MarshalJSON() ([]byte, error) {
	areas := s.List()
	if areas == nil {
		areas = []Area{}
	}
	return json.Marshal(areaSetJSON{All: s.all, Areas: areas})
}
