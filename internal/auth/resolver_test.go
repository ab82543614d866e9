package auth

import (
	"strings"
	"testing"

	"github.com/go-logr/logr/funcr"
)

var testAreas = []Area{
	"DIRECCIÓN GENERAL JURÍDICA",
	"DIRECCIÓN DE LO CONTENCIOSO",
	"DIRECCIÓN DE RECURSOS HUMANOS",
	"OFICIALÍA DE PARTES",
	"ÁREA SIN JERARQUÍA",
}

func TestAllowedAreasAdminIsUnrestricted(t *testing.T) {
	r := NewResolver(DefaultHierarchy())
	for _, a := range testAreas {
		if got := r.AllowedAreas(RoleAdmin, a); !got.IsAll() {
			t.Fatalf("AllowedAreas(ADMIN, %q) = %v, want AllAreas", a, got.List())
		}
	}
	if !r.HasAccess(RoleAdmin, "", "cualquier área") {
		t.Fatal("admin without area should still have access")
	}
}

func TestAllowedAreasDirectorIsSingleton(t *testing.T) {
	r := NewResolver(DefaultHierarchy())
	for _, role := range []Role{RoleDirector, RoleEnlace} {
		for _, x := range testAreas {
			got := r.AllowedAreas(role, x)
			if !got.Equal(NewAreaSet(x)) {
				t.Fatalf("AllowedAreas(%s, %q) = %v", role, x, got.List())
			}
			if !r.HasAccess(role, x, x) {
				t.Fatalf("HasAccess(%s, %q, %q) = false", role, x, x)
			}
			for _, y := range testAreas {
				if y != x && r.HasAccess(role, x, y) {
					t.Fatalf("HasAccess(%s, %q, %q) = true", role, x, y)
				}
			}
		}
	}
}

func TestAllowedAreasDirectorGeneralIncludesChildren(t *testing.T) {
	h := DefaultHierarchy()
	r := NewResolver(h)
	for _, x := range testAreas {
		got := r.AllowedAreas(RoleDirectorGeneral, x)
		if !got.Contains(x) {
			t.Fatalf("AllowedAreas(DIRECTOR_GENERAL, %q) misses own area", x)
		}
		want := NewAreaSet(append([]Area{x}, h.Children(x)...)...)
		if !got.Equal(want) {
			t.Fatalf("AllowedAreas(DIRECTOR_GENERAL, %q) = %v, want %v", x, got.List(), want.List())
		}
		if len(h.Children(x)) == 0 && got.Len() != 1 {
			t.Fatalf("area without children should yield singleton, got %v", got.List())
		}
	}

	juridica := r.AllowedAreas(RoleDirectorGeneral, "DIRECCIÓN GENERAL JURÍDICA")
	if juridica.Len() != 3 {
		t.Fatalf("expected own area plus two children, got %v", juridica.List())
	}
	if !juridica.Contains("DIRECCIÓN DE LO CONTENCIOSO") {
		t.Fatal("expected child area to be permitted")
	}
	if juridica.Contains("DIRECCIÓN DE RECURSOS HUMANOS") {
		t.Fatal("child of another direction must not be permitted")
	}
}

func TestDirectorGeneralDeduplicatesSelfReference(t *testing.T) {
	h := NewHierarchy(map[Area][]Area{"A": {"A", "B", "B", " C "}})
	got := NewResolver(h).AllowedAreas(RoleDirectorGeneral, "A")
	if !got.Equal(NewAreaSet("A", "B", "C")) {
		t.Fatalf("unexpected set: %v", got.List())
	}
}

func TestRoleMatchingIsCaseInsensitive(t *testing.T) {
	r := NewResolver(DefaultHierarchy())
	for _, raw := range []string{"director", "DIRECTOR", " Director ", "dIrEcToR"} {
		if r.HasAccess(ParseRole(raw), "X", "X") != r.HasAccess(RoleDirector, "X", "X") {
			t.Fatalf("ParseRole(%q) should match DIRECTOR", raw)
		}
	}
	for _, raw := range []string{"director_general", "Director General", "director-general"} {
		if ParseRole(raw) != RoleDirectorGeneral {
			t.Fatalf("ParseRole(%q) = %s", raw, ParseRole(raw))
		}
	}
}

func TestUnknownRoleHasNoAccessAndWarns(t *testing.T) {
	var lines []string
	log := funcr.New(func(prefix, args string) {
		lines = append(lines, args)
	}, funcr.Options{})
	r := NewResolver(DefaultHierarchy(), WithResolverLogger(log))

	for _, raw := range []string{"", "superuser"} {
		role := ParseRole(raw)
		if got := r.AllowedAreas(role, "X"); !got.IsEmpty() {
			t.Fatalf("AllowedAreas(%q) = %v, want empty", raw, got.List())
		}
		for _, target := range testAreas {
			if r.HasAccess(role, target, target) {
				t.Fatalf("HasAccess(%q, %q) = true", raw, target)
			}
		}
	}
	if len(lines) == 0 {
		t.Fatal("expected an unrecognized-role warning")
	}
	if !strings.Contains(lines[0], "unrecognized role") {
		t.Fatalf("unexpected log line: %s", lines[0])
	}
}

func TestReadOnlyRoleHasNoAreasWithoutWarning(t *testing.T) {
	var lines []string
	log := funcr.New(func(prefix, args string) {
		lines = append(lines, args)
	}, funcr.Options{})
	r := NewResolver(DefaultHierarchy(), WithResolverLogger(log))

	role := ParseRole("readonly")
	if role != RoleReadOnly {
		t.Fatalf("ParseRole(readonly) = %v", role)
	}
	if got := r.AllowedAreas(role, "OFICIALÍA DE PARTES"); !got.IsEmpty() {
		t.Fatalf("AllowedAreas = %v, want empty", got.List())
	}
	if r.HasAccess(role, "OFICIALÍA DE PARTES", "OFICIALÍA DE PARTES") {
		t.Fatal("READONLY must not open areas")
	}
	if len(lines) != 0 {
		t.Fatalf("READONLY is a known role, got warnings %v", lines)
	}
}

func TestHasPermissionTable(t *testing.T) {
	r := NewResolver(DefaultHierarchy())
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionCreate, true},
		{RoleDirectorGeneral, ActionCreate, true},
		{RoleDirector, ActionCreate, true},
		{RoleEnlace, ActionCreate, false},
		{RoleReadOnly, ActionCreate, false},
		{RoleUnknown, ActionCreate, false},

		{RoleAdmin, ActionEdit, true},
		{RoleEnlace, ActionEdit, true},
		{RoleUnknown, ActionEdit, true},
		{RoleReadOnly, ActionEdit, false},

		{RoleAdmin, ActionDelete, true},
		{RoleDirectorGeneral, ActionDelete, false},
		{RoleDirector, ActionDelete, false},
		{RoleEnlace, ActionDelete, false},

		{RoleEnlace, ActionExport, true},
		{RoleReadOnly, ActionExport, true},
		{RoleUnknown, ActionExport, true},

		{RoleAdmin, Action("archive"), false},
		{RoleAdmin, Action(""), false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.role.String()+"/"+string(tc.action), func(t *testing.T) {
			if got := r.HasPermission(tc.role, tc.action); got != tc.want {
				t.Fatalf("HasPermission(%s, %q) = %v, want %v", tc.role, tc.action, got, tc.want)
			}
		})
	}
}

func TestDeleteOnlyForAdmin(t *testing.T) {
	r := NewResolver(DefaultHierarchy())
	for _, role := range []Role{RoleUnknown, RoleAdmin, RoleDirectorGeneral, RoleDirector, RoleEnlace, RoleReadOnly} {
		if got := r.HasPermission(role, ActionDelete); got != (role == RoleAdmin) {
			t.Fatalf("HasPermission(%s, delete) = %v", role, got)
		}
	}
}

func TestParseActionFoldsCase(t *testing.T) {
	r := NewResolver(DefaultHierarchy())
	if !r.HasPermission(RoleAdmin, ParseAction(" DELETE ")) {
		t.Fatal("expected DELETE to parse as delete")
	}
}

func TestFilterAreas(t *testing.T) {
	r := NewResolver(DefaultHierarchy())
	got := r.FilterAreas(RoleDirectorGeneral, "DIRECCIÓN GENERAL JURÍDICA", testAreas)
	want := []Area{"DIRECCIÓN GENERAL JURÍDICA", "DIRECCIÓN DE LO CONTENCIOSO"}
	if len(got) != len(want) {
		t.Fatalf("FilterAreas() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FilterAreas()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if n := len(r.FilterAreas(RoleAdmin, "", testAreas)); n != len(testAreas) {
		t.Fatalf("admin filter kept %d of %d", n, len(testAreas))
	}
}

func TestAllowedAreasForNilUser(t *testing.T) {
	r := NewResolver(DefaultHierarchy())
	if !r.AllowedAreasFor(nil).IsEmpty() {
		t.Fatal("nil user must have no areas")
	}
	u := &User{ID: "u1", Role: RoleDirector, Area: "OFICIALÍA DE PARTES"}
	if !r.HasAccessFor(u, "OFICIALÍA DE PARTES") {
		t.Fatal("expected access to own area")
	}
}
