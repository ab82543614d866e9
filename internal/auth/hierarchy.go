package auth

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Hierarchy maps a direction area to the subordinate areas it
// oversees. It is fixed configuration; lookups of areas without an
// entry return an empty list.
type Hierarchy struct {
	children map[Area][]Area
}

// NewHierarchy copies m, normalizing names and dropping blank or
// duplicate children.
func NewHierarchy(m map[Area][]Area) Hierarchy {
	h := Hierarchy{children: make(map[Area][]Area, len(m))}
	for parent, kids := range m {
		parent = parent.Normalize()
		if parent == "" {
			continue
		}
		seen := make(map[Area]struct{}, len(kids))
		list := h.children[parent]
		for _, kid := range list {
			seen[kid] = struct{}{}
		}
		for _, kid := range kids {
			kid = kid.Normalize()
			if kid == "" {
				continue
			}
			if _, ok := seen[kid]; ok {
				continue
			}
			seen[kid] = struct{}{}
			list = append(list, kid)
		}
		h.children[parent] = list
	}
	return h
}

// NewHierarchyFromStrings is NewHierarchy for config-decoded data.
func NewHierarchyFromStrings(m map[string][]string) Hierarchy {
	conv := make(map[Area][]Area, len(m))
	for parent, kids := range m {
		list := make([]Area, 0, len(kids))
		for _, k := range kids {
			list = append(list, Area(k))
		}
		conv[Area(parent)] = append(conv[Area(parent)], list...)
	}
	return NewHierarchy(conv)
}

// LoadHierarchy decodes a YAML document mapping each parent area to a
// list of children. An empty document yields an empty hierarchy.
func LoadHierarchy(r io.Reader) (Hierarchy, error) {
	var m map[string][]string
	if err := yaml.NewDecoder(r).Decode(&m); err != nil && err != io.EOF {
		return Hierarchy{}, fmt.Errorf("decode hierarchy: %w", err)
	}
	return NewHierarchyFromStrings(m), nil
}

// Children returns a copy of the areas overseen by parent.
func (h Hierarchy) Children(parent Area) []Area {
	kids := h.children[parent.Normalize()]
	if len(kids) == 0 {
		return nil
	}
	out := make([]Area, len(kids))
	copy(out, kids)
	return out
}

// Len returns the number of parent entries.
func (h Hierarchy) Len() int { return len(h.children) }

// DefaultHierarchy is the built-in direction map used when no
// configuration file overrides it.
func DefaultHierarchy() Hierarchy {
	return NewHierarchy(map[Area][]Area{
		"DIRECCIÓN GENERAL DE ADMINISTRACIÓN": {
			"DIRECCIÓN DE RECURSOS HUMANOS",
			"DIRECCIÓN DE RECURSOS MATERIALES",
			"DIRECCIÓN DE RECURSOS FINANCIEROS",
		},
		"DIRECCIÓN GENERAL JURÍDICA": {
			"DIRECCIÓN DE LO CONTENCIOSO",
			"DIRECCIÓN DE LEGISLACIÓN Y NORMATIVIDAD",
		},
		"DIRECCIÓN GENERAL DE TECNOLOGÍAS DE LA INFORMACIÓN": {
			"DIRECCIÓN DE DESARROLLO DE SISTEMAS",
			"DIRECCIÓN DE INFRAESTRUCTURA TECNOLÓGICA",
		},
		"SECRETARÍA PARTICULAR": {
			"OFICIALÍA DE PARTES",
			"UNIDAD DE CONTROL DE GESTIÓN",
		},
	})
}
